package onboard

import (
	"github.com/CodedInternet/osl/datalog"
	"github.com/CodedInternet/osl/units"
)

// setLogging enables or disables per-cycle data logging, registering the data
// log columns for every attached component first.
func (l *Leg) setLogging(on bool) {
	l.logData = on && l.recorder != nil
	if l.logData && !l.registered {
		l.registerAttributes()
	}
}

func (l *Leg) registerAttributes() {
	r := l.recorder
	u := l.units

	r.RegisterAttributes("osl",
		datalog.Attribute{Name: "timestamp", Value: func() interface{} {
			return float64(l.timestamp.UnixNano()) / 1e9
		}},
		datalog.Attribute{Name: "state", Value: func() interface{} {
			if l.sm == nil {
				return ""
			}
			return l.sm.Current()
		}},
	)

	for _, name := range JointNames {
		j := l.joint(name)
		if j == nil {
			r.RegisterAttributes(name)
			continue
		}
		r.RegisterAttributes(name,
			quantity("output_position", u, units.Position, j.OutputPosition),
			quantity("output_velocity", u, units.Velocity, j.OutputVelocity),
			quantity("joint_torque", u, units.Torque, j.JointTorque),
			quantity("motor_current", u, units.Current, j.MotorCurrent),
			quantity("motor_voltage", u, units.Voltage, j.MotorVoltage),
			quantity("temperature", u, units.Temperature, j.Temperature),
			datalog.Attribute{Name: "mode", Value: func() interface{} { return j.Mode().String() }},
		)
	}

	if lc := l.loadCell; lc != nil {
		r.RegisterAttributes("loadcell",
			quantity("fx", u, units.Force, lc.Fx),
			quantity("fy", u, units.Force, lc.Fy),
			quantity("fz", u, units.Force, lc.Fz),
			quantity("mx", u, units.Torque, lc.Mx),
			quantity("my", u, units.Torque, lc.My),
			quantity("mz", u, units.Torque, lc.Mz),
		)
	} else {
		r.RegisterAttributes("loadcell")
	}

	l.registered = true
}

func quantity(name string, u units.Definition, q units.Quantity, get func() float64) datalog.Attribute {
	return datalog.Attribute{Name: name, Value: func() interface{} { return u.FromSI(q, get()) }}
}

// LogData turns per-cycle data logging on or off for callers driving Step
// themselves. It has no effect without a recorder.
func (l *Leg) LogData(on bool) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	l.setLogging(on)
}
