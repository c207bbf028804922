package hardware

import (
	"fmt"
	"sync"
)

const (
	SIM_VERSION       = "7.2.0"
	SIM_STEP_COUNTS   = 64     // motor counts travelled per telemetry read while driven
	SIM_SPEED         = 180.0  // deg/s reported while driven
	SIM_STALL_CURRENT = 6000.0 // mA reported against a hard stop
	SIM_RUN_CURRENT   = 800.0  // mA reported while driven freely
	SIM_TEMPERATURE   = 30.0
)

// SimAdapter serves SimDevices on a fixed list of ports.
type SimAdapter struct {
	mu      sync.Mutex
	ports   []string
	devices map[string]*SimDevice
	openErr map[string]error
}

func NewSimAdapter(ports ...string) *SimAdapter {
	return &SimAdapter{
		ports:   ports,
		devices: make(map[string]*SimDevice),
		openErr: make(map[string]error),
	}
}

func (a *SimAdapter) DiscoverPorts() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ports...), nil
}

// Open returns the device registered on port, creating one on first use.
func (a *SimAdapter) Open(port string) (Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.openErr[port]; err != nil {
		return nil, err
	}
	found := false
	for _, p := range a.ports {
		if p == port {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("no simulated device on %s", port)
	}

	dev, ok := a.devices[port]
	if !ok {
		dev = NewSimDevice(port)
		a.devices[port] = dev
	}
	dev.reopen()
	return dev, nil
}

// Device returns the simulated device on port, creating it if needed so tests
// can configure it before the joint opens it.
func (a *SimAdapter) Device(port string) *SimDevice {
	a.mu.Lock()
	defer a.mu.Unlock()
	dev, ok := a.devices[port]
	if !ok {
		dev = NewSimDevice(port)
		a.devices[port] = dev
	}
	return dev
}

// FailOpen makes Open on port return err.
func (a *SimAdapter) FailOpen(port string, err error) {
	a.mu.Lock()
	a.openErr[port] = err
	a.mu.Unlock()
}

// SimDevice is an in-memory actuator. With Dynamics enabled voltage commands
// drive the motor until it reaches a limit and position commands move it
// straight to the target.
type SimDevice struct {
	mu        sync.Mutex
	port      string
	version   string
	telemetry Telemetry
	readErr   error
	writeErr  error
	gainErr   error
	commands  []Command
	gains     []Gains
	closed    bool

	Dynamics   bool
	LowerLimit int32
	UpperLimit int32
	// JointMap derives the joint encoder reading from the motor angle.
	JointMap func(motorCounts int32) int32
}

func NewSimDevice(port string) *SimDevice {
	return &SimDevice{
		port:       port,
		version:    SIM_VERSION,
		telemetry:  Telemetry{Temperature: SIM_TEMPERATURE, BatteryVoltage: 24000},
		LowerLimit: -1 << 20,
		UpperLimit: 1 << 20,
	}
}

func (d *SimDevice) Port() string { return d.port }

func (d *SimDevice) FirmwareVersion() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version, nil
}

func (d *SimDevice) ReadTelemetry() (Telemetry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Telemetry{}, ErrClosed
	}
	if d.readErr != nil {
		return Telemetry{}, d.readErr
	}
	d.step()
	return d.telemetry, nil
}

func (d *SimDevice) SetGains(g Gains) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.gainErr != nil {
		return d.gainErr
	}
	d.gains = append(d.gains, g)
	return nil
}

func (d *SimDevice) WriteCommand(cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	d.commands = append(d.commands, cmd)
	return nil
}

func (d *SimDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *SimDevice) reopen() {
	d.mu.Lock()
	d.closed = false
	d.mu.Unlock()
}

func (d *SimDevice) step() {
	if !d.Dynamics || len(d.commands) == 0 {
		return
	}
	t := &d.telemetry
	last := d.commands[len(d.commands)-1]

	switch last.Mode {
	case ModeVoltage:
		if last.Value == 0 {
			t.MotorVelocity = 0
			t.MotorCurrent = 0
			break
		}
		dir := int32(1)
		if last.Value < 0 {
			dir = -1
		}
		next := t.MotorAngle + dir*SIM_STEP_COUNTS
		if next <= d.LowerLimit || next >= d.UpperLimit {
			if next <= d.LowerLimit {
				t.MotorAngle = d.LowerLimit
			} else {
				t.MotorAngle = d.UpperLimit
			}
			t.MotorVelocity = 0
			t.MotorCurrent = float64(dir) * SIM_STALL_CURRENT
		} else {
			t.MotorAngle = next
			t.MotorVelocity = float64(dir) * SIM_SPEED
			t.MotorCurrent = float64(dir) * SIM_RUN_CURRENT
		}
	case ModePosition, ModeImpedance:
		t.MotorAngle = last.Value
		t.MotorVelocity = 0
	}

	if d.JointMap != nil {
		t.JointAngle = d.JointMap(t.MotorAngle)
	} else {
		t.JointAngle = t.MotorAngle
	}
}

// SetTelemetry mutates the next telemetry sample.
func (d *SimDevice) SetTelemetry(fn func(t *Telemetry)) {
	d.mu.Lock()
	fn(&d.telemetry)
	d.mu.Unlock()
}

func (d *SimDevice) SetVersion(v string) {
	d.mu.Lock()
	d.version = v
	d.mu.Unlock()
}

// FailReads makes ReadTelemetry return err until cleared with nil.
func (d *SimDevice) FailReads(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

func (d *SimDevice) FailWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

func (d *SimDevice) FailGains(err error) {
	d.mu.Lock()
	d.gainErr = err
	d.mu.Unlock()
}

func (d *SimDevice) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

// LastCommand returns the most recent command and false if none was written.
func (d *SimDevice) LastCommand() (Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.commands) == 0 {
		return Command{}, false
	}
	return d.commands[len(d.commands)-1], true
}

func (d *SimDevice) Gains() []Gains {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Gains(nil), d.gains...)
}

func (d *SimDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
