package hardware

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

const (
	CMD_VERSION   = "V"
	CMD_TELEMETRY = "T"
	CMD_CONTROL   = "C"
	CMD_GAINS     = "G"

	CMD_MAX_RETRIES = 5
	CMD_TIMEOUT     = 5 * time.Millisecond

	DEFAULT_BAUD = 230400
)

var (
	ErrMaxRetries = errors.New("CMD_MAX_RETRIES reached while attempting to send")
	ErrBadReply   = errors.New("malformed reply from device")

	errTimeout = errors.New("read timed out")
)

// SerialAdapter discovers actuators on serial ports matching Patterns.
type SerialAdapter struct {
	Patterns []string
	Baud     int
	Timeout  time.Duration
}

func NewSerialAdapter(patterns ...string) *SerialAdapter {
	if len(patterns) == 0 {
		patterns = []string{"/dev/ttyACM*"}
	}
	return &SerialAdapter{
		Patterns: patterns,
		Baud:     DEFAULT_BAUD,
		Timeout:  CMD_TIMEOUT,
	}
}

// DiscoverPorts returns the matching device paths in sorted order.
func (a *SerialAdapter) DiscoverPorts() (ports []string, err error) {
	for _, pattern := range a.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports, nil
}

func (a *SerialAdapter) Open(port string) (Device, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        a.Baud,
		ReadTimeout: a.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	return NewSerialDevice(port, p), nil
}

// SerialDevice speaks the line protocol of the actuator firmware. Every request
// is one line "#<seq> <cmd> ..."; the reply echoes the tag and then carries the
// same command letter, "OK" or "ERR <reason>". Requests that time out are
// resent with the same tag up to CMD_MAX_RETRIES times. Lines carrying any
// other tag answer an earlier request and are discarded.
type SerialDevice struct {
	port    string
	rw      io.ReadWriteCloser
	reader  *bufio.Reader
	pending string
	seq     uint32
	lock    sync.Mutex
	closed  bool
}

func NewSerialDevice(port string, rw io.ReadWriteCloser) *SerialDevice {
	return &SerialDevice{
		port:   port,
		rw:     rw,
		reader: bufio.NewReader(rw),
	}
}

func (d *SerialDevice) Port() string {
	return d.port
}

func (d *SerialDevice) FirmwareVersion() (string, error) {
	fields, err := d.transact(CMD_VERSION)
	if err != nil {
		return "", err
	}
	if len(fields) != 2 {
		return "", ErrBadReply
	}
	return fields[1], nil
}

func (d *SerialDevice) ReadTelemetry() (t Telemetry, err error) {
	fields, err := d.transact(CMD_TELEMETRY)
	if err != nil {
		return t, err
	}
	if len(fields) != 23 {
		return t, fmt.Errorf("%w: telemetry has %d fields", ErrBadReply, len(fields)-1)
	}

	vals := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		if vals[i], err = strconv.ParseFloat(f, 64); err != nil {
			return t, fmt.Errorf("%w: %v", ErrBadReply, err)
		}
	}

	t.BatteryVoltage = vals[0]
	t.BatteryCurrent = vals[1]
	t.MotorVoltage = vals[2]
	t.MotorCurrent = vals[3]
	t.MotorAngle = int32(vals[4])
	t.MotorVelocity = vals[5]
	t.MotorAcceleration = vals[6]
	t.JointAngle = int32(vals[7])
	t.JointVelocity = vals[8]
	t.Temperature = vals[9]
	copy(t.Genvar[:], vals[10:16])
	copy(t.Accel[:], vals[16:19])
	copy(t.Gyro[:], vals[19:22])
	return t, nil
}

func (d *SerialDevice) SetGains(g Gains) error {
	_, err := d.transact(fmt.Sprintf("%s %d %d %d %d %d %d", CMD_GAINS, g.Kp, g.Ki, g.Kd, g.K, g.B, g.FF))
	return err
}

func (d *SerialDevice) WriteCommand(cmd Command) error {
	_, err := d.transact(fmt.Sprintf("%s %d %d", CMD_CONTROL, cmd.Mode, cmd.Value))
	return err
}

func (d *SerialDevice) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.rw.Close()
}

// transact sends req and waits for its reply, retrying on timeout.
func (d *SerialDevice) transact(req string) (fields []string, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	d.seq++
	tag := "#" + strconv.FormatUint(uint64(d.seq), 10)

	for i := 0; i < CMD_MAX_RETRIES; i++ {
		if _, err = io.WriteString(d.rw, tag+" "+req+"\n"); err != nil {
			return nil, err
		}

		fields, err = d.awaitReply(tag, req)
		if err == errTimeout {
			continue
		}
		return fields, err
	}

	// we have exhausted CMD_MAX_RETRIES
	return nil, ErrMaxRetries
}

// awaitReply reads lines until one carries tag, skipping late replies to
// earlier requests.
func (d *SerialDevice) awaitReply(tag, req string) ([]string, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != tag {
			continue
		}
		fields = fields[1:]

		switch {
		case len(fields) == 0:
			return nil, ErrBadReply
		case fields[0] == "ERR":
			return nil, fmt.Errorf("device %s rejected %q: %s", d.port, req, strings.Join(fields[1:], " "))
		case fields[0] == "OK", fields[0] == req[:1]:
			return fields, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadReply, line)
		}
	}
}

// readLine returns one reply line. A read that returns no data maps to
// errTimeout; partial lines are kept for the next attempt.
func (d *SerialDevice) readLine() (string, error) {
	chunk, err := d.reader.ReadString('\n')
	d.pending += chunk
	if err != nil {
		if err == io.EOF || err == io.ErrNoProgress {
			return "", errTimeout
		}
		return "", err
	}
	line := strings.TrimSpace(d.pending)
	d.pending = ""
	return line, nil
}
