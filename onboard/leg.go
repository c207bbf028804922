package onboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodedInternet/osl/datalog"
	"github.com/CodedInternet/osl/logging"
	"github.com/CodedInternet/osl/onboard/hardware"
	"github.com/CodedInternet/osl/onboard/loadcell"
	"github.com/CodedInternet/osl/onboard/statemachine"
	"github.com/CodedInternet/osl/onboard/strainamp"
	"github.com/CodedInternet/osl/units"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	instanceMu sync.Mutex
	instance   *Leg
)

// BusOpener opens the I2C bus carrying a stand-alone load cell amplifier.
type BusOpener func(bus int) (strainamp.Bus, error)

// Leg composes up to two joints, a load cell and a state machine and runs them
// in a fixed-rate control loop. Only one Leg may be live in a process.
type Leg struct {
	cfg        LegConfig
	adapter    hardware.Adapter
	openBus    BusOpener
	log        logging.Logger
	store      CalibrationStore
	recorder   *datalog.Recorder
	registerer prometheus.Registerer
	metrics    *Metrics
	clock      Clock
	units      units.Definition

	// cycleMu is held for every operation touching hardware
	cycleMu  sync.Mutex
	knee     *Joint
	ankle    *Joint
	loadCell *loadcell.LoadCell
	lcCloser io.Closer
	sm       *statemachine.Machine[*Leg]
	claimed  map[string]bool

	logData    bool
	registered bool
	timestamp  time.Time
	cycles     uint64
	overruns   atomic.Uint64

	estop   atomic.Bool
	halted  atomic.Bool
	running atomic.Bool
	events  chan statemachine.Event

	opMu     sync.Mutex
	opCancel context.CancelFunc

	snapshot atomic.Pointer[Snapshot]
	closed   bool
}

type Option func(*Leg)

func WithAdapter(a hardware.Adapter) Option {
	return func(l *Leg) { l.adapter = a }
}

func WithLoadCellBus(open BusOpener) Option {
	return func(l *Leg) { l.openBus = open }
}

func WithLogger(log logging.Logger) Option {
	return func(l *Leg) { l.log = log }
}

func WithStore(s CalibrationStore) Option {
	return func(l *Leg) { l.store = s }
}

func WithRecorder(r *datalog.Recorder) Option {
	return func(l *Leg) { l.recorder = r }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Leg) { l.registerer = reg }
}

func WithClock(c Clock) Option {
	return func(l *Leg) { l.clock = c }
}

// New constructs the process's Leg. While another Leg is live it returns that
// instance together with ErrInstanceExists.
func New(cfg LegConfig, opts ...Option) (*Leg, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, ErrInstanceExists
	}

	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Leg{
		cfg:     cfg,
		log:     logging.Noop(),
		clock:   realClock{},
		units:   units.Default(),
		claimed: make(map[string]bool),
		events:  make(chan statemachine.Event, 16),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.adapter == nil {
		l.adapter = hardware.NewSerialAdapter()
	}
	if l.openBus == nil {
		l.openBus = openI2CBus
	}
	for q, u := range cfg.Units {
		if err := l.units.Set(units.Quantity(q), u); err != nil {
			return nil, &ConfigError{"units", err}
		}
	}

	var err error
	if l.metrics, err = NewMetrics(l.registerer); err != nil {
		return nil, err
	}

	instance = l
	return l, nil
}

func openI2CBus(n int) (strainamp.Bus, error) {
	bus, err := strainamp.OpenBus(n)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// Instance returns the live Leg, or nil if none has been constructed.
func Instance() *Leg {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// Close stops the leg, releases every device and clears the live instance.
func (l *Leg) Close() error {
	stopErr := l.Stop()

	l.cycleMu.Lock()
	var errs []error
	if !l.closed {
		for _, j := range l.joints() {
			if err := j.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if l.lcCloser != nil {
			if err := l.lcCloser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if l.recorder != nil {
			if err := l.recorder.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		l.closed = true
	}
	l.cycleMu.Unlock()

	instanceMu.Lock()
	if instance == l {
		instance = nil
	}
	instanceMu.Unlock()

	if stopErr != nil {
		errs = append([]error{stopErr}, errs...)
	}
	return errors.Join(errs...)
}

// AddJoint attaches the named joint on its configured port, or on the last
// discovered port not already claimed. Unknown names are configuration errors;
// missing hardware leaves the joint unattached and returns a
// ConnectivityError.
func (l *Leg) AddJoint(name string) error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	if !knownJoint(name) {
		l.log.Warnf("[OSL] Joint name is not recognized.")
		return &ConfigError{"add joint", fmt.Errorf("joint name %q is not recognized", name)}
	}
	if l.joint(name) != nil {
		return &ConfigError{"add joint", fmt.Errorf("%s is already attached", name)}
	}

	cfg := l.cfg.Joints[name]
	ports, err := l.adapter.DiscoverPorts()
	if err != nil || len(ports) == 0 {
		l.log.Warnf("No active ports found, please ensure that the joint is connected and powered on.")
		if err == nil {
			err = hardware.ErrNoPorts
		}
		return &ConnectivityError{Component: name, Err: err}
	}

	port := cfg.Port
	if port == "" {
		for i := len(ports) - 1; i >= 0; i-- {
			if !l.claimed[ports[i]] {
				port = ports[i]
				break
			}
		}
		if port == "" {
			l.log.Warnf("[OSL] All active ports are claimed; %s is not attached.", name)
			return &ConnectivityError{Component: name, Err: hardware.ErrPortClaimed}
		}
	} else if l.claimed[port] {
		l.log.Warnf("[OSL] Port %s is already claimed; %s is not attached.", port, name)
		return &ConnectivityError{Component: name, Port: port, Err: hardware.ErrPortClaimed}
	}

	dev, err := l.adapter.Open(port)
	if err != nil {
		l.log.Warnf("[OSL] Unable to open %s for %s: %v", port, name, err)
		return &ConnectivityError{Component: name, Port: port, Err: err}
	}

	version, err := dev.FirmwareVersion()
	if err == nil {
		err = hardware.CheckFirmware(version, l.cfg.Firmware)
	}
	if err != nil {
		dev.Close()
		l.log.Warnf("[OSL] %s firmware rejected: %v", name, err)
		return &ConnectivityError{Component: name, Port: port, Err: err}
	}

	j := NewJoint(name, cfg, dev, l.log.With("joint", name))
	j.store = l.store
	j.clock = l.clock

	l.claimed[port] = true
	switch name {
	case KNEE:
		l.knee = j
	case ANKLE:
		l.ankle = j
	}
	l.registered = false
	l.log.Infof("[OSL] %s attached on %s (firmware %s).", j.label(), port, version)
	return nil
}

// AddLoadCell attaches the load cell, coupled to a joint's auxiliary channels
// when configured, otherwise on its I2C bus.
func (l *Leg) AddLoadCell() error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	if l.loadCell != nil {
		return &ConfigError{"add load cell", errors.New("load cell is already attached")}
	}

	cfg := l.cfg.LoadCell
	settings := cfg.LoadCellSettings()

	if cfg.Joint != "" {
		j := l.joint(cfg.Joint)
		if j == nil {
			l.log.Warnf("[OSL] Loadcell cannot be coupled: %s is not connected.", jointLabel(cfg.Joint))
			return &ConnectivityError{Component: "loadcell", Err: fmt.Errorf("%s is not attached", cfg.Joint)}
		}
		l.loadCell = loadcell.NewCoupled(settings, cfg.Joint, loadcell.SourceFunc(j.AuxChannels))
	} else {
		bus, err := l.openBus(cfg.Bus)
		if err != nil {
			l.log.Warnf("[OSL] Loadcell is not connected: %v", err)
			return &ConnectivityError{Component: "loadcell", Port: fmt.Sprintf("i2c-%d", cfg.Bus), Err: err}
		}
		amp := strainamp.New(bus, cfg.Address)
		l.loadCell = loadcell.New(settings, amp)
		l.lcCloser = amp
	}

	l.registered = false
	l.log.Infof("[OSL] Loadcell attached.")
	return nil
}

// AddStateMachine returns the leg's state machine, creating it on first use.
func (l *Leg) AddStateMachine() *statemachine.Machine[*Leg] {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	if l.sm == nil {
		l.sm = statemachine.New(l)
		l.sm.SetClock(l.clock.Now)
		l.registered = false
	}
	return l.sm
}

func (l *Leg) joint(name string) *Joint {
	switch name {
	case KNEE:
		return l.knee
	case ANKLE:
		return l.ankle
	}
	return nil
}

// joints returns the attached joints in homing order.
func (l *Leg) joints() (out []*Joint) {
	if l.knee != nil {
		out = append(out, l.knee)
	}
	if l.ankle != nil {
		out = append(out, l.ankle)
	}
	return
}

// Knee returns the knee joint, logging a warning when it is not attached.
func (l *Leg) Knee() *Joint {
	if l.knee == nil {
		l.log.Warnf("[OSL] Knee is not connected.")
	}
	return l.knee
}

func (l *Leg) Ankle() *Joint {
	if l.ankle == nil {
		l.log.Warnf("[OSL] Ankle is not connected.")
	}
	return l.ankle
}

func (l *Leg) LoadCell() *loadcell.LoadCell {
	if l.loadCell == nil {
		l.log.Warnf("[OSL] Loadcell is not connected.")
	}
	return l.loadCell
}

func (l *Leg) StateMachine() *statemachine.Machine[*Leg] {
	if l.sm == nil {
		l.log.Warnf("[OSL] State machine is not connected.")
	}
	return l.sm
}

func (l *Leg) HasKnee() bool         { return l.knee != nil }
func (l *Leg) HasAnkle() bool        { return l.ankle != nil }
func (l *Leg) HasLoadCell() bool     { return l.loadCell != nil }
func (l *Leg) HasStateMachine() bool { return l.sm != nil }

// IsHomed reports whether every attached joint is homed.
func (l *Leg) IsHomed() bool {
	js := l.joints()
	for _, j := range js {
		if !j.IsHomed() {
			return false
		}
	}
	return len(js) > 0
}

func (l *Leg) IsSMRunning() bool {
	return l.sm != nil && l.sm.Running()
}

func (l *Leg) Frequency() float64          { return l.cfg.Frequency }
func (l *Leg) Config() LegConfig           { return l.cfg }
func (l *Leg) Units() units.Definition     { return l.units }
func (l *Leg) Timestamp() time.Time        { return l.timestamp }
func (l *Leg) Halted() bool                { return l.halted.Load() }
func (l *Leg) Logger() logging.Logger      { return l.log }
func (l *Leg) Recorder() *datalog.Recorder { return l.recorder }

// Post queues an event for the state machine on the next cycle.
func (l *Leg) Post(ev statemachine.Event) bool {
	select {
	case l.events <- ev:
		return true
	default:
		l.log.Warnf("[OSL] Event queue full, dropping %s.", ev)
		return false
	}
}

// Setup attaches every configured component: joints in homing order, the load
// cell when enabled and the declared state machine. A component whose hardware
// cannot be reached is left unattached and the rest are still tried; only
// configuration errors are returned.
func (l *Leg) Setup() error {
	for _, name := range JointNames {
		if _, ok := l.cfg.Joints[name]; !ok {
			continue
		}
		if err := l.skipUnreachable(l.AddJoint(name)); err != nil {
			return err
		}
	}
	if l.cfg.LoadCell.Enabled {
		if err := l.skipUnreachable(l.AddLoadCell()); err != nil {
			return err
		}
	}
	if l.cfg.StateMachine != nil {
		if _, err := l.BuildStateMachine(*l.cfg.StateMachine); err != nil {
			return err
		}
	}
	return nil
}

func (l *Leg) skipUnreachable(err error) error {
	var conn *ConnectivityError
	if errors.As(err, &conn) {
		l.log.Warnf("[OSL] %s is not attached: %v", conn.Component, conn.Err)
		return nil
	}
	return err
}
