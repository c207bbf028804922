package onboard

import (
	"github.com/CodedInternet/osl/onboard/statemachine"
)

// ImpedanceParameters returns a state action that holds the knee and ankle at
// the given impedance set points. Nil set points and missing joints are
// skipped.
func ImpedanceParameters(knee, ankle *JointImpedance) statemachine.Action[*Leg] {
	return func(l *Leg) {
		for _, p := range []struct {
			j   *Joint
			imp *JointImpedance
		}{{l.knee, knee}, {l.ankle, ankle}} {
			if p.j == nil || p.imp == nil {
				continue
			}
			if err := p.j.SetJointImpedance(p.imp.Equilibrium, p.imp.Stiffness, p.imp.Damping); err != nil {
				l.log.Warnf("[OSL] %v", err)
			}
		}
	}
}

// BuildStateMachine creates the leg's state machine from a declarative
// definition. Each state applies its impedance set points on entry and, when
// parameters are applied every cycle, while it is current.
func (l *Leg) BuildStateMachine(def StateMachineConfig) (*statemachine.Machine[*Leg], error) {
	sm := l.AddStateMachine()

	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	for _, s := range def.States {
		act := ImpedanceParameters(s.Knee, s.Ankle)
		err := sm.AddState(statemachine.State[*Leg]{
			Name:        s.Name,
			Entry:       act,
			Apply:       act,
			MinDuration: s.MinDuration,
		})
		if err != nil {
			return nil, &ConfigError{"state machine", err}
		}
	}
	if def.Initial != "" {
		if err := sm.SetInitial(def.Initial); err != nil {
			return nil, &ConfigError{"state machine", err}
		}
	}
	for _, t := range def.Transitions {
		var opts []statemachine.TransitionOption[*Leg]
		if !t.When.IsZero() {
			opts = append(opts, statemachine.WithCriteria(t.When.criteria()))
		}
		if _, err := sm.AddTransition(t.From, t.To, statemachine.Event(t.Event), opts...); err != nil {
			return nil, &ConfigError{"state machine", err}
		}
	}
	return sm, nil
}

// criteria holds when every configured bound holds. Bounds on a missing
// component never hold.
func (c CriteriaConfig) criteria() func(l *Leg) bool {
	return func(l *Leg) bool {
		if c.After > 0 && l.sm.TimeInState() < c.After {
			return false
		}
		if c.FzAbove != nil || c.FzBelow != nil {
			if l.loadCell == nil {
				return false
			}
			fz := l.loadCell.Fz()
			if c.FzAbove != nil && fz <= *c.FzAbove {
				return false
			}
			if c.FzBelow != nil && fz >= *c.FzBelow {
				return false
			}
		}
		if c.KneeAbove != nil || c.KneeBelow != nil {
			if l.knee == nil {
				return false
			}
			pos := l.knee.OutputPosition()
			if c.KneeAbove != nil && pos <= *c.KneeAbove {
				return false
			}
			if c.KneeBelow != nil && pos >= *c.KneeBelow {
				return false
			}
		}
		return true
	}
}
