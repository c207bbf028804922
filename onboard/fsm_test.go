package onboard

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/osl/onboard/hardware"
	"github.com/CodedInternet/osl/onboard/statemachine"
)

func TestStateMachineDefinition(t *testing.T) {
	Convey("Given a machine driven by guards", t, func() {
		cfg := LegConfig{
			SkipHoming: true,
			Joints:     map[string]JointConfig{KNEE: {GearRatio: 10}},
			StateMachine: &StateMachineConfig{
				Initial: "swing",
				States: []StateConfig{
					{Name: "stance", Knee: &JointImpedance{Stiffness: 200, Damping: 400}},
					{Name: "swing", MinDuration: 10 * time.Millisecond},
				},
				Transitions: []TransitionConfig{
					{From: "swing", To: "stance", When: CriteriaConfig{KneeAbove: floatPtr(0.05)}},
					{From: "stance", To: "swing", When: CriteriaConfig{FzBelow: floatPtr(-10)}},
				},
			},
		}
		r := newRig(cfg, "COM1")
		l := r.leg
		Reset(func() { l.Close() })
		So(l.Setup(), ShouldBeNil)
		dev := r.adapter.Device("COM1")

		So(l.Step("", false), ShouldBeNil)
		So(l.StateMachine().Current(), ShouldEqual, "swing")

		dev.SetTelemetry(func(t *hardware.Telemetry) { t.MotorAngle = 16384 })

		Convey("the minimum duration holds the state", func() {
			So(l.Step("", false), ShouldBeNil)
			So(l.StateMachine().Current(), ShouldEqual, "swing")
		})

		Convey("a satisfied guard fires once the duration has passed", func() {
			So(r.clock.Sleep(context.Background(), 20*time.Millisecond), ShouldBeNil)
			So(l.Step("", false), ShouldBeNil)
			So(l.StateMachine().Current(), ShouldEqual, "stance")
			So(l.Knee().Mode().Kind(), ShouldEqual, hardware.ModeImpedance)

			Convey("and a guard on a missing load cell never holds", func() {
				So(l.Step("", false), ShouldBeNil)
				So(l.StateMachine().Current(), ShouldEqual, "stance")
			})
		})

		Convey("applying parameters re-asserts the current state's impedance", func() {
			So(r.clock.Sleep(context.Background(), 20*time.Millisecond), ShouldBeNil)
			So(l.Step("", false), ShouldBeNil)
			So(l.Knee().SetVoltage(0), ShouldBeNil)

			So(l.Step("", true), ShouldBeNil)
			So(l.Knee().Mode().Kind(), ShouldEqual, hardware.ModeImpedance)
		})
	})

	Convey("Definitions naming unknown states are configuration errors", t, func() {
		r := newRig(LegConfig{})
		Reset(func() { r.leg.Close() })

		_, err := r.leg.BuildStateMachine(StateMachineConfig{
			States:      []StateConfig{{Name: "a"}},
			Transitions: []TransitionConfig{{From: "a", To: "b", Event: "go"}},
		})
		var ce *ConfigError
		So(errors.As(err, &ce), ShouldBeTrue)
		So(errors.Is(err, statemachine.ErrUnknownState), ShouldBeTrue)
	})

	Convey("Duplicate states are configuration errors", t, func() {
		r := newRig(LegConfig{})
		Reset(func() { r.leg.Close() })

		_, err := r.leg.BuildStateMachine(StateMachineConfig{
			States: []StateConfig{{Name: "a"}, {Name: "a"}},
		})
		So(errors.Is(err, statemachine.ErrDuplicateState), ShouldBeTrue)
	})
}
