package onboard

import (
	"fmt"
	"strings"

	"github.com/CodedInternet/osl/calcs"
	"github.com/CodedInternet/osl/logging"
	"github.com/CodedInternet/osl/onboard/hardware"
)

// CalibrationStore persists encoder maps between runs. LoadEncoderMap returns
// nil without error when the joint has never been calibrated.
type CalibrationStore interface {
	LoadEncoderMap(joint string) (*calcs.Polynomial, error)
	SaveEncoderMap(joint string, p calcs.Polynomial) error
}

// Joint is one actuated degree of freedom. It is not safe for concurrent use;
// the Leg serialises access.
type Joint struct {
	name  string
	cfg   JointConfig
	dev   hardware.Device
	log   logging.Logger
	store CalibrationStore
	clock Clock

	mode        Mode
	gains       *hardware.Gains
	lastCommand hardware.Command
	committed   bool

	telemetry    hardware.Telemetry
	hasTelemetry bool
	thermal      bool

	homed      bool
	encoderMap *calcs.Polynomial
	motorZero  int32
	jointZero  int32

	// set-point mirror of the active mode
	voltage     float64
	current     float64
	position    float64
	stiffness   float64
	damping     float64
	equilibrium float64

	motorPosition        float64
	motorVelocity        float64
	jointEncoderPosition float64
	jointEncoderVelocity float64
	outputPosition       float64
	outputVelocity       float64
	jointTorque          float64
}

func NewJoint(name string, cfg JointConfig, dev hardware.Device, log logging.Logger) *Joint {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	j := &Joint{
		name:      name,
		cfg:       cfg,
		dev:       dev,
		log:       log,
		clock:     realClock{},
		stiffness: cfg.Stiffness,
		damping:   cfg.Damping,
	}
	j.mode = VoltageMode(j, 0)
	return j
}

func (j *Joint) Name() string        { return j.name }
func (j *Joint) Port() string        { return j.dev.Port() }
func (j *Joint) Config() JointConfig { return j.cfg }
func (j *Joint) GearRatio() float64  { return j.cfg.GearRatio }
func (j *Joint) IsHomed() bool       { return j.homed }
func (j *Joint) Mode() Mode          { return j.mode }

// LastCommand returns the last command written and false before the first.
func (j *Joint) LastCommand() (hardware.Command, bool) {
	return j.lastCommand, j.committed
}

func (j *Joint) Telemetry() hardware.Telemetry { return j.telemetry }

func (j *Joint) EncoderMap() *calcs.Polynomial { return j.encoderMap }

// SetEncoderMap installs p for output position conversion; nil reverts to the
// gear ratio.
func (j *Joint) SetEncoderMap(p *calcs.Polynomial) {
	j.encoderMap = p
	j.derive()
}

func (j *Joint) MotorPosition() float64        { return j.motorPosition }
func (j *Joint) MotorVelocity() float64        { return j.motorVelocity }
func (j *Joint) JointEncoderPosition() float64 { return j.jointEncoderPosition }
func (j *Joint) JointEncoderVelocity() float64 { return j.jointEncoderVelocity }
func (j *Joint) OutputPosition() float64       { return j.outputPosition }
func (j *Joint) OutputVelocity() float64       { return j.outputVelocity }
func (j *Joint) JointTorque() float64          { return j.jointTorque }
func (j *Joint) MotorCurrent() float64         { return j.telemetry.MotorCurrent / 1000 }
func (j *Joint) MotorVoltage() float64         { return j.telemetry.MotorVoltage / 1000 }
func (j *Joint) Temperature() float64          { return j.telemetry.Temperature }
func (j *Joint) ThermalTripped() bool          { return j.thermal }

func (j *Joint) Voltage() float64     { return j.voltage }
func (j *Joint) Current() float64     { return j.current }
func (j *Joint) Position() float64    { return j.position }
func (j *Joint) Stiffness() float64   { return j.stiffness }
func (j *Joint) Damping() float64     { return j.damping }
func (j *Joint) Equilibrium() float64 { return j.equilibrium }

// SetMode installs m. Gains are written first when the mode needs a set that
// differs from the one last written; if that fails the old mode stays active.
func (j *Joint) SetMode(m Mode) error {
	if m.joint != j {
		return fmt.Errorf("mode %s is bound to another joint", m)
	}

	if g, ok := m.Gains(j); ok {
		if j.gains == nil || *j.gains != g {
			if err := j.dev.SetGains(g); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrGainWrite, j.name, err)
			}
			j.gains = &g
		}
	} else {
		// firmware drops gains when leaving a closed loop mode
		j.gains = nil
	}

	j.mode = m
	switch m.kind {
	case hardware.ModeVoltage:
		j.voltage = m.setpoint
	case hardware.ModeCurrent:
		j.current = m.setpoint
	case hardware.ModePosition:
		j.position = m.setpoint
	case hardware.ModeImpedance:
		j.equilibrium = m.setpoint
		j.stiffness = m.stiffness
		j.damping = m.damping
	}
	return nil
}

func (j *Joint) SetVoltage(volts float64) error {
	return j.SetMode(VoltageMode(j, volts))
}

func (j *Joint) SetCurrent(amps float64) error {
	return j.SetMode(CurrentMode(j, amps))
}

func (j *Joint) SetOutputPosition(position float64) error {
	return j.SetMode(PositionMode(j, position))
}

func (j *Joint) SetJointImpedance(equilibrium, stiffness, damping float64) error {
	return j.SetMode(ImpedanceMode(j, equilibrium, stiffness, damping))
}

// Commit writes the active mode's command. A joint over its thermal limit
// only ever writes voltage zero.
func (j *Joint) Commit() error {
	if j.thermal && !j.mode.IsSafe() {
		j.mode = VoltageMode(j, 0)
		j.gains = nil
	}
	cmd := j.mode.Apply(j)
	if err := j.dev.WriteCommand(cmd); err != nil {
		return fmt.Errorf("write %s command: %w", j.name, err)
	}
	j.lastCommand = cmd
	j.committed = true
	return nil
}

// SafeStop switches to voltage zero and writes it immediately.
func (j *Joint) SafeStop() error {
	if err := j.SetMode(VoltageMode(j, 0)); err != nil {
		return err
	}
	return j.Commit()
}

// UpdateTelemetry reads a sample and refreshes the derived values. On a read
// failure the previous values are kept and an ErrTelemetry error returned. The
// first sample at or above the thermal limit forces voltage zero and returns
// ErrThermalLimit; the trip clears once the temperature falls below the limit.
func (j *Joint) UpdateTelemetry() error {
	t, err := j.dev.ReadTelemetry()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTelemetry, j.name, err)
	}
	j.telemetry = t
	j.hasTelemetry = true
	j.derive()

	if t.Temperature < j.cfg.MaxTemperature {
		j.thermal = false
		return nil
	}
	if j.thermal {
		return nil
	}

	j.thermal = true
	j.log.Errorf("[%s] Thermal limit %.1f reached. Stopping motor.", strings.ToUpper(j.name), j.cfg.MaxTemperature)
	if err := j.SafeStop(); err != nil {
		j.log.Errorf("[%s] Unable to stop motor: %v", strings.ToUpper(j.name), err)
	}
	return fmt.Errorf("%w: %s at %.1f C", ErrThermalLimit, j.name, t.Temperature)
}

// AuxChannels returns the six general purpose channels of the last sample.
func (j *Joint) AuxChannels() ([6]float64, error) {
	if !j.hasTelemetry {
		return [6]float64{}, fmt.Errorf("%w: %s has no sample yet", ErrTelemetry, j.name)
	}
	return j.telemetry.Genvar, nil
}

// Close stops the motor and releases the device.
func (j *Joint) Close() error {
	stopErr := j.SafeStop()
	if err := j.dev.Close(); err != nil {
		return err
	}
	return stopErr
}

func (j *Joint) derive() {
	t := j.telemetry
	gear := j.cfg.GearRatio

	j.motorPosition = float64(t.MotorAngle-j.motorZero) * RAD_PER_COUNT
	j.motorVelocity = t.MotorVelocity * RAD_PER_DEG
	j.jointEncoderPosition = float64(t.JointAngle-j.jointZero) * RAD_PER_COUNT
	j.jointEncoderVelocity = t.JointVelocity * RAD_PER_DEG

	if j.encoderMap != nil {
		j.outputPosition = j.encoderMap.Eval(j.jointEncoderPosition)
	} else {
		j.outputPosition = j.motorPosition / gear
	}
	j.outputVelocity = j.motorVelocity / gear
	j.jointTorque = t.MotorCurrent / 1000 * NM_PER_AMP * gear
}

// motorCounts converts an output angle to an absolute motor encoder target.
func (j *Joint) motorCounts(output float64) int32 {
	return j.motorZero + toInt32(output*j.cfg.GearRatio/RAD_PER_COUNT)
}

func (j *Joint) label() string {
	return jointLabel(j.name)
}

func jointLabel(name string) string {
	if name == "" {
		return "Joint"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (j *Joint) String() string {
	return fmt.Sprintf("%s(%s, %s)", j.label(), j.dev.Port(), j.mode)
}
