package onboard

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/osl/datalog"
	"github.com/CodedInternet/osl/onboard/hardware"
)

func twoStateMachine() *StateMachineConfig {
	return &StateMachineConfig{
		States: []StateConfig{
			{Name: "idle"},
			{Name: "stance", Knee: &JointImpedance{Equilibrium: 0, Stiffness: 200, Damping: 400}},
		},
		Transitions: []TransitionConfig{
			{From: "idle", To: "stance", Event: "E"},
		},
	}
}

func kneeLeg() LegConfig {
	return LegConfig{
		SkipHoming:   true,
		Joints:       map[string]JointConfig{KNEE: {GearRatio: 10}},
		StateMachine: twoStateMachine(),
	}
}

type rowSink struct{ rows []datalog.Row }

func (s *rowSink) Write(r datalog.Row) error { s.rows = append(s.rows, r); return nil }
func (s *rowSink) Close() error              { return nil }

func TestControlCycle(t *testing.T) {
	Convey("Given a knee driven by a two state machine", t, func() {
		r := newRig(kneeLeg(), "COM1")
		l := r.leg
		Reset(func() { l.Close() })
		So(l.Setup(), ShouldBeNil)
		dev := r.adapter.Device("COM1")

		Convey("the first cycle enters the initial state", func() {
			So(l.Step("", false), ShouldBeNil)
			So(l.StateMachine().Current(), ShouldEqual, "idle")
			cmd, _ := dev.LastCommand()
			So(cmd, ShouldResemble, hardware.Command{Mode: hardware.ModeVoltage})

			Convey("an event switches the knee to impedance", func() {
				So(l.Step("E", false), ShouldBeNil)
				So(l.StateMachine().Current(), ShouldEqual, "stance")

				cmd, _ := dev.LastCommand()
				So(cmd, ShouldResemble, hardware.Command{Mode: hardware.ModeImpedance, Value: 0})
				gains := dev.Gains()
				So(gains, ShouldNotBeEmpty)
				So(gains[len(gains)-1], ShouldResemble, hardware.Gains{Kp: 40, Ki: 400, Kd: 0, K: 6725, B: 1681101, FF: 128})
			})

			Convey("posted events are consumed by the next cycle", func() {
				So(l.Post("E"), ShouldBeTrue)
				So(l.Update(false), ShouldBeNil)
				So(l.StateMachine().Current(), ShouldEqual, "stance")
			})

			Convey("unregistered events leave the state alone", func() {
				So(l.Step("X", false), ShouldBeNil)
				So(l.StateMachine().Current(), ShouldEqual, "idle")
			})

			Convey("reset forces voltage zero without leaving the state", func() {
				So(l.Step("E", false), ShouldBeNil)
				So(l.Reset(), ShouldBeNil)
				cmd, _ := dev.LastCommand()
				So(cmd, ShouldResemble, hardware.Command{Mode: hardware.ModeVoltage})
				So(l.StateMachine().Current(), ShouldEqual, "stance")
			})
		})

		Convey("a telemetry failure skips the rest of the cycle", func() {
			So(l.Step("", false), ShouldBeNil)
			n := len(dev.Commands())

			dev.FailReads(errors.New("timeout"))
			err := l.Step("", false)
			So(errors.Is(err, ErrTelemetry), ShouldBeTrue)
			So(SeverityOf(err), ShouldEqual, SeverityWarning)
			So(dev.Commands(), ShouldHaveLength, n)
			So(l.Snapshot().Cycles, ShouldEqual, 1)
			So(r.log.Contains("warn", "skipping cycle"), ShouldBeTrue)
		})

		Convey("snapshots describe the last cycle", func() {
			dev.SetTelemetry(func(t *hardware.Telemetry) { t.Temperature = 42 })
			So(l.Step("", false), ShouldBeNil)

			s := l.Snapshot()
			So(s.Cycles, ShouldEqual, 1)
			So(s.State, ShouldEqual, "idle")
			So(s.Knee, ShouldNotBeNil)
			So(s.Knee.Port, ShouldEqual, "COM1")
			So(s.Knee.Temperature, ShouldEqual, 42)
			So(s.Ankle, ShouldBeNil)
			So(s.LoadCell, ShouldBeNil)
		})

		Convey("each cycle appends a data log row", func() {
			sink := &rowSink{}
			l.recorder = datalog.NewRecorder(sink)
			l.LogData(true)

			So(l.Step("", false), ShouldBeNil)
			So(l.Step("E", false), ShouldBeNil)

			So(sink.rows, ShouldHaveLength, 2)
			So(sink.rows[0].Columns, ShouldContain, "knee:output_position")
			So(sink.rows[0].Columns, ShouldContain, "osl:state")
			So(sink.rows[1].Values[1], ShouldEqual, "stance")
		})
	})

	Convey("Joint values are reported in the configured units", t, func() {
		cfg := kneeLeg()
		cfg.Units = map[string]string{"position": "deg"}
		r := newRig(cfg, "COM1")
		Reset(func() { r.leg.Close() })
		So(r.leg.Setup(), ShouldBeNil)

		r.adapter.Device("COM1").SetTelemetry(func(t *hardware.Telemetry) { t.MotorAngle = 16384 })
		So(r.leg.Update(false), ShouldBeNil)
		So(r.leg.Snapshot().Knee.OutputPosition, ShouldAlmostEqual, 36, 1e-9)
	})
}

func TestRun(t *testing.T) {
	Convey("Given a leg ready to run", t, func() {
		r := newRig(kneeLeg(), "COM1")
		l := r.leg
		Reset(func() { l.Close() })
		So(l.Setup(), ShouldBeNil)
		dev := r.adapter.Device("COM1")
		ctx := context.Background()

		lastIsSafe := func() {
			cmd, ok := dev.LastCommand()
			So(ok, ShouldBeTrue)
			So(cmd, ShouldResemble, hardware.Command{Mode: hardware.ModeVoltage})
			So(l.StateMachine().Exited(), ShouldBeTrue)
		}

		Convey("a bounded run leaves the managed scope safely", func() {
			So(l.Run(ctx, RunOptions{Cycles: 3}), ShouldBeNil)
			So(l.Snapshot().Cycles, ShouldEqual, 3)
			So(l.Running(), ShouldBeFalse)
			So(r.clock.sleeps, ShouldEqual, 3)
			lastIsSafe()
		})

		Convey("events posted during a run reach the state machine", func() {
			r.clock.onSleep = func(n int) {
				if n == 1 {
					l.Post("E")
				}
			}
			So(l.Run(ctx, RunOptions{Cycles: 3}), ShouldBeNil)

			var impedance bool
			for _, c := range dev.Commands() {
				impedance = impedance || c.Mode == hardware.ModeImpedance
			}
			So(impedance, ShouldBeTrue)
			lastIsSafe()
		})

		Convey("cancelling the context ends the run cleanly", func() {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			r.clock.onSleep = func(n int) {
				if n == 2 {
					cancel()
				}
			}
			So(l.Run(ctx, RunOptions{}), ShouldBeNil)
			So(l.Snapshot().Cycles, ShouldEqual, 2)
			lastIsSafe()
		})

		Convey("an emergency stop halts the loop", func() {
			r.clock.onSleep = func(n int) {
				if n == 2 {
					l.RequestEstop()
				}
			}
			So(l.Run(ctx, RunOptions{}), ShouldEqual, ErrEmergencyStop)
			So(l.Halted(), ShouldBeTrue)
			So(r.log.Contains("error", "[OSL] Emergency stop activated."), ShouldBeTrue)
			lastIsSafe()
		})

		Convey("a thermal breach ends the run", func() {
			r.clock.onSleep = func(n int) {
				if n == 2 {
					dev.SetTelemetry(func(t *hardware.Telemetry) { t.Temperature = 95 })
				}
			}
			err := l.Run(ctx, RunOptions{})
			So(errors.Is(err, ErrThermalLimit), ShouldBeTrue)
			So(l.Halted(), ShouldBeTrue)
			So(r.log.Contains("error", "[KNEE] Thermal limit 80.0 reached. Stopping motor."), ShouldBeTrue)
			lastIsSafe()
		})

		Convey("only one run is active at a time", func() {
			var inner error
			r.clock.onSleep = func(n int) {
				if n == 1 {
					inner = l.Run(ctx, RunOptions{Cycles: 1})
				}
			}
			So(l.Run(ctx, RunOptions{Cycles: 2}), ShouldBeNil)
			So(inner, ShouldEqual, ErrLoopRunning)
		})

		Convey("hardware routines are refused while the loop runs", func() {
			var home, zero, encoders, start error
			r.clock.onSleep = func(n int) {
				if n == 1 {
					home = l.Home(ctx)
					zero = l.CalibrateLoadCell(ctx)
					encoders = l.CalibrateEncoders(ctx)
					start = l.Start(ctx)
				}
			}
			So(l.Run(ctx, RunOptions{Cycles: 2}), ShouldBeNil)
			So(home, ShouldEqual, ErrLoopRunning)
			So(zero, ShouldEqual, ErrLoopRunning)
			So(encoders, ShouldEqual, ErrLoopRunning)
			So(start, ShouldEqual, ErrLoopRunning)
			So(l.Snapshot().Cycles, ShouldEqual, 2)

			Convey("and accepted again once it ends", func() {
				So(l.Running(), ShouldBeFalse)
				So(l.CalibrateLoadCell(ctx), ShouldEqual, ErrNoLoadCell)
			})
		})

		Convey("overruns are counted and not made up", func() {
			r.clock.tick = 10 * time.Millisecond
			So(l.Run(ctx, RunOptions{Cycles: 3}), ShouldBeNil)
			So(l.Snapshot().Overruns, ShouldEqual, 3)
			So(r.clock.sleeps, ShouldEqual, 0)
		})

		Convey("a panic inside the managed scope still stops the leg", func() {
			So(func() {
				l.Managed(ctx, func(context.Context) error {
					l.Step("", false)
					l.Step("E", false)
					panic("boom")
				})
			}, ShouldPanic)
			lastIsSafe()
		})

		Convey("a homing failure surfaces as a startup error", func() {
			l.cfg.SkipHoming = false
			dev.SetTelemetry(func(t *hardware.Telemetry) { t.MotorVelocity = 90 })

			err := l.Run(ctx, RunOptions{Cycles: 1})
			var se *StartupError
			So(errors.As(err, &se), ShouldBeTrue)
			So(errors.Is(err, ErrHomingTimeout), ShouldBeTrue)
			So(l.Snapshot().Cycles, ShouldEqual, 0)
			lastIsSafe()
		})
	})

	Convey("An estop request on an idle leg acts at once", t, func() {
		r := newRig(kneeLeg(), "COM1")
		Reset(func() { r.leg.Close() })
		So(r.leg.Setup(), ShouldBeNil)

		So(r.leg.Step("", false), ShouldBeNil)
		So(r.leg.Step("E", false), ShouldBeNil)
		r.leg.RequestEstop()

		So(r.leg.Halted(), ShouldBeTrue)
		cmd, _ := r.adapter.Device("COM1").LastCommand()
		So(cmd, ShouldResemble, hardware.Command{Mode: hardware.ModeVoltage})
	})
}
