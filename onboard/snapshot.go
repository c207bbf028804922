package onboard

import (
	"time"

	"github.com/CodedInternet/osl/calcs"
	"github.com/CodedInternet/osl/onboard/hardware"
	"github.com/CodedInternet/osl/units"
)

// JointSnapshot is a joint's state in the leg's display units.
type JointSnapshot struct {
	Name           string  `json:"name"`
	Port           string  `json:"port"`
	Mode           string  `json:"mode"`
	Homed          bool    `json:"homed"`
	ThermalTripped bool    `json:"thermal_tripped"`
	OutputPosition float64 `json:"output_position"`
	OutputVelocity float64 `json:"output_velocity"`
	JointTorque    float64 `json:"joint_torque"`
	MotorCurrent   float64 `json:"motor_current"`
	MotorVoltage   float64 `json:"motor_voltage"`
	Temperature    float64 `json:"temperature"`
	Equilibrium    float64 `json:"equilibrium,omitempty"`
	Stiffness      float64 `json:"stiffness,omitempty"`
	Damping        float64 `json:"damping,omitempty"`
}

type LoadCellSnapshot struct {
	Forces  [6]float64 `json:"forces"` // Fx Fy Fz Mx My Mz
	Zeroed  bool       `json:"zeroed"`
	Contact bool       `json:"contact"`
	CopX    float64    `json:"cop_x,omitempty"` // metres
	CopY    float64    `json:"cop_y,omitempty"`
}

// Snapshot is published at the end of every cycle and on lifecycle changes.
// Readers get a consistent copy without taking the cycle lock.
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Cycles    uint64            `json:"cycles"`
	Overruns  uint64            `json:"overruns"`
	State     string            `json:"state,omitempty"`
	Running   bool              `json:"running"`
	Halted    bool              `json:"halted"`
	Knee      *JointSnapshot    `json:"knee,omitempty"`
	Ankle     *JointSnapshot    `json:"ankle,omitempty"`
	LoadCell  *LoadCellSnapshot `json:"loadcell,omitempty"`
	Units     units.Definition  `json:"units"`
}

// Snapshot returns the most recently published state.
func (l *Leg) Snapshot() Snapshot {
	if s := l.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{Units: l.units}
}

func (l *Leg) publish() {
	s := &Snapshot{
		Timestamp: l.timestamp,
		Cycles:    l.cycles,
		Overruns:  l.overruns.Load(),
		Running:   l.running.Load(),
		Halted:    l.halted.Load(),
		Knee:      l.jointSnapshot(l.knee),
		Ankle:     l.jointSnapshot(l.ankle),
		Units:     l.units,
	}
	if l.sm != nil {
		s.State = l.sm.Current()
	}
	if lc := l.loadCell; lc != nil {
		snap := &LoadCellSnapshot{Zeroed: lc.Zeroed()}
		forces := lc.Forces()
		for i, v := range forces {
			q := units.Force
			if i >= 3 {
				q = units.Torque
			}
			snap.Forces[i] = l.units.FromSI(q, v)
		}
		x, y, ok := calcs.PressureCentroid(forces[2], forces[3], forces[4], l.cfg.LoadCell.MinContact)
		if ok {
			snap.Contact = true
			snap.CopX = x
			snap.CopY = y
		}
		s.LoadCell = snap
	}
	l.snapshot.Store(s)
}

func (l *Leg) jointSnapshot(j *Joint) *JointSnapshot {
	if j == nil {
		return nil
	}
	u := l.units
	s := &JointSnapshot{
		Name:           j.name,
		Port:           j.Port(),
		Mode:           j.mode.String(),
		Homed:          j.homed,
		ThermalTripped: j.thermal,
		OutputPosition: u.FromSI(units.Position, j.OutputPosition()),
		OutputVelocity: u.FromSI(units.Velocity, j.OutputVelocity()),
		JointTorque:    u.FromSI(units.Torque, j.JointTorque()),
		MotorCurrent:   u.FromSI(units.Current, j.MotorCurrent()),
		MotorVoltage:   u.FromSI(units.Voltage, j.MotorVoltage()),
		Temperature:    u.FromSI(units.Temperature, j.Temperature()),
	}
	if j.mode.Kind() == hardware.ModeImpedance {
		s.Equilibrium = u.FromSI(units.Position, j.Equilibrium())
		s.Stiffness = u.FromSI(units.Stiffness, j.Stiffness())
		s.Damping = u.FromSI(units.Damping, j.Damping())
	}
	return s
}
