package statemachine

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type joint struct {
	mode  string
	calls []string
	load  float64
}

func record(name string) Action[*joint] {
	return func(j *joint) { j.calls = append(j.calls, name) }
}

func newGait(j *joint) *Machine[*joint] {
	m := New(j)
	So(m.AddState(State[*joint]{Name: "stance", Entry: record("enter stance"), Exit: record("exit stance")}), ShouldBeNil)
	So(m.AddState(State[*joint]{
		Name:  "swing",
		Entry: func(j *joint) { j.calls = append(j.calls, "enter swing"); j.mode = "impedance" },
		Exit:  record("exit swing"),
	}), ShouldBeNil)
	return m
}

func TestRegistration(t *testing.T) {
	Convey("Given a machine with two states", t, func() {
		m := newGait(&joint{})

		Convey("duplicate states and events are rejected", func() {
			err := m.AddState(State[*joint]{Name: "stance"})
			So(errors.Is(err, ErrDuplicateState), ShouldBeTrue)

			So(m.AddEvent("toe_off"), ShouldBeNil)
			So(errors.Is(m.AddEvent("toe_off"), ErrDuplicateEvent), ShouldBeTrue)
		})

		Convey("replacing a state keeps its order", func() {
			So(m.ReplaceState(State[*joint]{Name: "stance", Entry: record("new stance")}), ShouldBeNil)
			So(m.States(), ShouldResemble, []string{"stance", "swing"})
		})

		Convey("transitions need known states", func() {
			_, err := m.AddTransition("stance", "flight", "toe_off")
			So(errors.Is(err, ErrUnknownState), ShouldBeTrue)
		})

		Convey("events are registered with their transition", func() {
			tr, err := m.AddTransition("stance", "swing", "toe_off")
			So(err, ShouldBeNil)
			So(tr.Destination, ShouldEqual, "swing")
			So(m.Events(), ShouldResemble, []Event{"toe_off"})
		})

		Convey("an identical transition returns the existing handle", func() {
			a, _ := m.AddTransition("stance", "swing", "toe_off")
			b, err := m.AddTransition("stance", "swing", "toe_off")
			So(err, ShouldBeNil)
			So(b, ShouldEqual, a)
			So(len(m.Transitions()), ShouldEqual, 1)
		})

		Convey("a conflicting destination is a configuration error", func() {
			_, _ = m.AddTransition("stance", "swing", "toe_off")
			_, err := m.AddTransition("stance", "stance", "toe_off")
			So(errors.Is(err, ErrDuplicateTransition), ShouldBeTrue)
		})

		Convey("eventless transitions need criteria", func() {
			_, err := m.AddTransition("stance", "swing", "")
			So(err, ShouldEqual, ErrNoTrigger)
		})

		Convey("the initial state must exist", func() {
			So(errors.Is(m.SetInitial("flight"), ErrUnknownState), ShouldBeTrue)
		})
	})

	Convey("An empty machine cannot start", t, func() {
		m := New(&joint{})
		So(m.Start(), ShouldEqual, ErrNoStates)
		So(m.Update(""), ShouldEqual, ErrNoStates)
	})
}

func TestUpdate(t *testing.T) {
	Convey("Given a started machine", t, func() {
		j := &joint{}
		m := newGait(j)
		_, err := m.AddTransition("stance", "swing", "toe_off")
		So(err, ShouldBeNil)

		So(m.Update(""), ShouldBeNil)
		So(m.Current(), ShouldEqual, "stance")
		So(m.Running(), ShouldBeTrue)
		So(j.calls, ShouldResemble, []string{"enter stance"})

		Convey("unregistered events leave the machine in place", func() {
			So(m.Update("heel_strike"), ShouldBeNil)
			So(m.Update("unknown"), ShouldBeNil)
			So(m.Update(""), ShouldBeNil)
			So(m.Current(), ShouldEqual, "stance")
			So(j.calls, ShouldResemble, []string{"enter stance"})
		})

		Convey("a registered event runs exit then entry", func() {
			So(m.Update("toe_off"), ShouldBeNil)
			So(m.Current(), ShouldEqual, "swing")
			So(j.calls, ShouldResemble, []string{"enter stance", "exit stance", "enter swing"})
			So(j.mode, ShouldEqual, "impedance")
		})

		Convey("exit clears the current state", func() {
			m.Exit()
			So(m.Current(), ShouldEqual, "")
			So(m.Running(), ShouldBeFalse)
			So(m.Exited(), ShouldBeTrue)
			So(j.calls[len(j.calls)-1], ShouldEqual, "exit stance")

			Convey("and a later update restarts it", func() {
				So(m.Update(""), ShouldBeNil)
				So(m.Current(), ShouldEqual, "stance")
				So(m.Exited(), ShouldBeFalse)
			})
		})
	})

	Convey("Exit on an idle machine still marks it exited", t, func() {
		m := newGait(&joint{})
		m.Exit()
		So(m.Exited(), ShouldBeTrue)
	})

	Convey("The designated initial state wins over registration order", t, func() {
		m := newGait(&joint{})
		So(m.SetInitial("swing"), ShouldBeNil)
		So(m.Start(), ShouldBeNil)
		So(m.Current(), ShouldEqual, "swing")
	})

	Convey("Criteria gate transitions", t, func() {
		j := &joint{}
		m := newGait(j)
		heavy := func(j *joint) bool { return j.load > 100 }
		_, err := m.AddTransition("swing", "stance", "", WithCriteria(heavy), WithAction(record("landed")))
		So(err, ShouldBeNil)
		_, err = m.AddTransition("stance", "swing", "toe_off", WithCriteria(func(j *joint) bool { return j.load < 10 }))
		So(err, ShouldBeNil)

		So(m.SetInitial("swing"), ShouldBeNil)
		So(m.Start(), ShouldBeNil)

		So(m.Update(""), ShouldBeNil)
		So(m.Current(), ShouldEqual, "swing")

		j.load = 500
		So(m.Update(""), ShouldBeNil)
		So(m.Current(), ShouldEqual, "stance")
		So(j.calls, ShouldContain, "landed")

		So(m.Update("toe_off"), ShouldBeNil)
		So(m.Current(), ShouldEqual, "stance")

		j.load = 0
		So(m.Update("toe_off"), ShouldBeNil)
		So(m.Current(), ShouldEqual, "swing")
	})

	Convey("A minimum duration holds the current state", t, func() {
		now := time.Unix(0, 0)
		m := New(&joint{})
		m.SetClock(func() time.Time { return now })
		So(m.AddState(State[*joint]{Name: "stance", MinDuration: 100 * time.Millisecond}), ShouldBeNil)
		So(m.AddState(State[*joint]{Name: "swing"}), ShouldBeNil)
		_, err := m.AddTransition("stance", "swing", "toe_off")
		So(err, ShouldBeNil)
		So(m.Start(), ShouldBeNil)

		now = now.Add(50 * time.Millisecond)
		So(m.Update("toe_off"), ShouldBeNil)
		So(m.Current(), ShouldEqual, "stance")
		So(m.TimeInState(), ShouldEqual, 50*time.Millisecond)

		now = now.Add(50 * time.Millisecond)
		So(m.Update("toe_off"), ShouldBeNil)
		So(m.Current(), ShouldEqual, "swing")
	})

	Convey("ApplyCurrent runs only the current state's action", t, func() {
		j := &joint{}
		m := New(j)
		So(m.AddState(State[*joint]{Name: "stance", Apply: record("apply stance")}), ShouldBeNil)
		So(m.AddState(State[*joint]{Name: "swing", Apply: record("apply swing")}), ShouldBeNil)

		m.ApplyCurrent()
		So(j.calls, ShouldBeEmpty)

		So(m.Start(), ShouldBeNil)
		m.ApplyCurrent()
		So(j.calls, ShouldResemble, []string{"apply stance"})
	})

	Convey("Actions can be invoked directly", t, func() {
		j := &joint{}
		m := newGait(j)
		tr, err := m.AddTransition("stance", "swing", "toe_off", WithAction(record("direct")))
		So(err, ShouldBeNil)
		tr.Action(m.Target())
		So(j.calls, ShouldResemble, []string{"direct"})
	})
}
