package hardware

import (
	"errors"
	"fmt"
)

// ControlMode is the firmware's mode tag.
type ControlMode int32

const (
	ModePosition  ControlMode = 0
	ModeVoltage   ControlMode = 1
	ModeCurrent   ControlMode = 2
	ModeImpedance ControlMode = 3
)

func (m ControlMode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeVoltage:
		return "voltage"
	case ModeCurrent:
		return "current"
	case ModeImpedance:
		return "impedance"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

var (
	ErrNoPorts     = errors.New("no active ports found")
	ErrPortClaimed = errors.New("port already claimed")
	ErrClosed      = errors.New("device closed")
)

// Command is one set-point sent to the actuator. Value is in the firmware's
// unit for the mode: mV, mA or motor encoder counts.
type Command struct {
	Mode  ControlMode `json:"mode"`
	Value int32       `json:"value"`
}

func (c Command) String() string {
	return fmt.Sprintf("mode=%d(%s) value=%d", int32(c.Mode), c.Mode, c.Value)
}

// Gains is the firmware gain set. K and B are only used in impedance mode.
type Gains struct {
	Kp int32 `json:"kp"`
	Ki int32 `json:"ki"`
	Kd int32 `json:"kd"`
	K  int32 `json:"k"`
	B  int32 `json:"b"`
	FF int32 `json:"ff"`
}

// Telemetry is a raw actuator sample in firmware units.
type Telemetry struct {
	BatteryVoltage    float64    `json:"batt_volt"`   // mV
	BatteryCurrent    float64    `json:"batt_curr"`   // mA
	MotorVoltage      float64    `json:"mot_volt"`    // mV
	MotorCurrent      float64    `json:"mot_cur"`     // mA
	MotorAngle        int32      `json:"mot_ang"`     // counts
	MotorVelocity     float64    `json:"mot_vel"`     // deg/s
	MotorAcceleration float64    `json:"mot_acc"`     // rad/s^2
	JointAngle        int32      `json:"ank_ang"`     // counts
	JointVelocity     float64    `json:"ank_vel"`     // deg/s
	Temperature       float64    `json:"temperature"` // degC
	Genvar            [6]float64 `json:"genvar"`
	Accel             [3]float64 `json:"accel"`
	Gyro              [3]float64 `json:"gyro"`
}

// Adapter finds and opens actuator devices.
type Adapter interface {
	DiscoverPorts() ([]string, error)
	Open(port string) (Device, error)
}

// Device is an exclusive handle on one actuator.
type Device interface {
	Port() string
	FirmwareVersion() (string, error)
	ReadTelemetry() (Telemetry, error)
	SetGains(g Gains) error
	WriteCommand(cmd Command) error
	Close() error
}
