package onboard

import (
	"fmt"
	"math"

	"github.com/CodedInternet/osl/onboard/hardware"
)

const (
	RAD_PER_COUNT = 2 * math.Pi / 16384
	RAD_PER_DEG   = math.Pi / 180
	NM_PER_AMP    = 0.146

	// firmware impedance scaling
	IMPEDANCE_A = 0.00028444
	IMPEDANCE_C = 0.0007812

	NM_PER_RAD_TO_K   = RAD_PER_COUNT / IMPEDANCE_C * 1e3 / NM_PER_AMP
	NM_S_PER_RAD_TO_B = RAD_PER_DEG / IMPEDANCE_A * 1e3 / NM_PER_AMP
)

// Firmware gain sets used for each mode.
var (
	CurrentGains   = hardware.Gains{Kp: 40, Ki: 400, FF: 128}
	PositionGains  = hardware.Gains{Kp: 50}
	ImpedanceGains = hardware.Gains{Kp: 40, Ki: 400, FF: 128}
)

// Mode is one control strategy bound to a joint. Values are immutable; change
// strategy by installing a new Mode with Joint.SetMode.
type Mode struct {
	kind      hardware.ControlMode
	joint     *Joint
	setpoint  float64 // V, A or output rad
	stiffness float64 // N*m/rad at the joint
	damping   float64 // N*m*s/rad at the joint
}

func VoltageMode(j *Joint, volts float64) Mode {
	return Mode{kind: hardware.ModeVoltage, joint: j, setpoint: volts}
}

func CurrentMode(j *Joint, amps float64) Mode {
	return Mode{kind: hardware.ModeCurrent, joint: j, setpoint: amps}
}

func PositionMode(j *Joint, position float64) Mode {
	return Mode{kind: hardware.ModePosition, joint: j, setpoint: position}
}

func ImpedanceMode(j *Joint, equilibrium, stiffness, damping float64) Mode {
	return Mode{
		kind:      hardware.ModeImpedance,
		joint:     j,
		setpoint:  equilibrium,
		stiffness: stiffness,
		damping:   damping,
	}
}

func (m Mode) Kind() hardware.ControlMode { return m.kind }
func (m Mode) Joint() *Joint              { return m.joint }
func (m Mode) Setpoint() float64          { return m.setpoint }
func (m Mode) Stiffness() float64         { return m.stiffness }
func (m Mode) Damping() float64           { return m.damping }

// Equal compares variant and bound joint only.
func (m Mode) Equal(o Mode) bool {
	return m.kind == o.kind && m.joint == o.joint
}

// IsSafe reports whether m is voltage mode at zero.
func (m Mode) IsSafe() bool {
	return m.kind == hardware.ModeVoltage && m.setpoint == 0
}

func (m Mode) String() string {
	switch m.kind {
	case hardware.ModeImpedance:
		return fmt.Sprintf("impedance(eq=%.4f k=%.2f b=%.2f)", m.setpoint, m.stiffness, m.damping)
	default:
		return fmt.Sprintf("%s(%.4f)", m.kind, m.setpoint)
	}
}

// Apply encodes the device command for j.
func (m Mode) Apply(j *Joint) hardware.Command {
	switch m.kind {
	case hardware.ModeVoltage:
		return hardware.Command{Mode: m.kind, Value: toInt32(m.setpoint * 1000)}
	case hardware.ModeCurrent:
		return hardware.Command{Mode: m.kind, Value: toInt32(m.setpoint * 1000)}
	case hardware.ModePosition, hardware.ModeImpedance:
		return hardware.Command{Mode: m.kind, Value: j.motorCounts(m.setpoint)}
	}
	return hardware.Command{Mode: hardware.ModeVoltage}
}

// Gains returns the firmware gain set the mode needs on j. Voltage mode needs
// none.
func (m Mode) Gains(j *Joint) (hardware.Gains, bool) {
	switch m.kind {
	case hardware.ModeCurrent:
		return CurrentGains, true
	case hardware.ModePosition:
		return PositionGains, true
	case hardware.ModeImpedance:
		g := ImpedanceGains
		g.K, g.B = ImpedanceToGains(m.stiffness, m.damping, j.GearRatio())
		return g, true
	}
	return hardware.Gains{}, false
}

// ImpedanceToGains converts joint-space stiffness and damping to firmware K and
// B through the gear ratio.
func ImpedanceToGains(stiffness, damping, gearRatio float64) (k, b int32) {
	g2 := gearRatio * gearRatio
	k = toInt32(stiffness / g2 * NM_PER_RAD_TO_K)
	b = toInt32(damping / g2 * NM_S_PER_RAD_TO_B)
	return
}

func toInt32(v float64) int32 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}
