package onboard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodedInternet/osl/onboard/statemachine"
)

type RunOptions struct {
	Frequency       float64 // Hz; the configured frequency when zero
	LogData         bool
	ApplyParameters bool // run the current state's Apply action every cycle
	Cycles          int  // stop after this many cycles; zero runs until stopped
}

// Update runs one control cycle without an explicit event.
func (l *Leg) Update(apply bool) error {
	return l.Step("", apply)
}

// Step runs one control cycle: joint telemetry, load cell, state machine, data
// log, then one command per joint. A telemetry failure skips the rest of the
// cycle and is returned wrapped in ErrTelemetry. A thermal breach triggers the
// emergency stop and returns ErrThermalLimit.
func (l *Leg) Step(ev statemachine.Event, apply bool) error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	return l.stepLocked(ev, apply)
}

func (l *Leg) stepLocked(ev statemachine.Event, apply bool) error {
	start := l.clock.Now()

	if l.estop.Load() {
		l.estopLocked("operator")
		return ErrEmergencyStop
	}

	for _, j := range l.joints() {
		if err := j.UpdateTelemetry(); err != nil {
			if errors.Is(err, ErrThermalLimit) {
				l.estopLocked("thermal")
				return err
			}
			l.metrics.telemetryError(j.name)
			l.log.Warnf("[OSL] %v; skipping cycle.", err)
			return err
		}
	}

	if l.loadCell != nil {
		if err := l.loadCell.Update(); err != nil {
			l.metrics.telemetryError("loadcell")
			l.log.Warnf("[OSL] Loadcell read failed: %v; skipping cycle.", err)
			return fmt.Errorf("%w: loadcell: %v", ErrTelemetry, err)
		}
	}

	if l.sm != nil {
		if ev == "" {
			select {
			case ev = <-l.events:
			default:
			}
		}
		var err error
		if !l.sm.Running() {
			err = l.sm.Start()
		} else {
			err = l.sm.Update(ev)
		}
		if err != nil {
			l.log.Warnf("[OSL] State machine: %v", err)
		}
		if apply {
			l.sm.ApplyCurrent()
		}
	}

	if l.logData {
		if !l.registered {
			l.registerAttributes()
		}
		if err := l.recorder.AppendRow(); err != nil {
			l.log.Warnf("[OSL] Unable to append data log row: %v", err)
		}
	}

	var errs []error
	for _, j := range l.joints() {
		if err := j.Commit(); err != nil {
			l.log.Warnf("[OSL] %v", err)
			errs = append(errs, err)
		}
	}

	l.timestamp = l.clock.Now()
	l.cycles++
	l.metrics.observeCycle(l.timestamp.Sub(start), l)
	l.publish()
	return errors.Join(errs...)
}

// Run executes the control loop at a fixed period inside the managed scope:
// joints are homed and the load cell zeroed first, and every joint is left at
// voltage zero with the state machine exited however the loop ends. SIGINT and
// SIGTERM end the loop cleanly. A cycle that overruns its period is followed
// immediately by the next one; missed periods are counted, not made up.
func (l *Leg) Run(ctx context.Context, opts RunOptions) (err error) {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	freq := opts.Frequency
	if freq <= 0 {
		freq = l.cfg.Frequency
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if l.cfg.Realtime {
		release, rerr := enterRealtime()
		if rerr != nil {
			l.log.Warnf("[OSL] Unable to enter realtime mode: %v", rerr)
		} else {
			defer release()
		}
	}

	l.halted.Store(false)
	l.cycleMu.Lock()
	l.setLogging(opts.LogData)
	l.cycleMu.Unlock()

	err = l.managed(ctx, func(ctx context.Context) error {
		return l.loop(ctx, freq, opts)
	})
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		l.log.Infof("[OSL] Interrupted.")
		return nil
	}
	return err
}

func (l *Leg) loop(ctx context.Context, freq float64, opts RunOptions) error {
	period := time.Duration(float64(time.Second) / freq)

	for n := 0; opts.Cycles <= 0 || n < opts.Cycles; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if l.halted.Load() {
			return ErrEmergencyStop
		}

		start := l.clock.Now()
		if err := l.Step("", opts.ApplyParameters); err != nil && SeverityOf(err) == SeverityFatal {
			return err
		}

		remaining := period - l.clock.Now().Sub(start)
		if remaining <= 0 {
			l.overruns.Add(1)
			l.metrics.overrun()
			continue
		}
		if err := l.clock.Sleep(ctx, remaining); err != nil {
			return nil
		}
	}
	return nil
}

// Running reports whether Run is active.
func (l *Leg) Running() bool {
	return l.running.Load()
}

// Start enters managed operation: joints are homed (unless configured
// otherwise) and the load cell zeroed. Failures come back as a StartupError
// with every joint at voltage zero. It is refused while Run is active.
func (l *Leg) Start(ctx context.Context) error {
	if l.running.Load() {
		return ErrLoopRunning
	}
	return l.start(ctx)
}

func (l *Leg) start(ctx context.Context) error {
	err := l.exclusive(ctx, func(ctx context.Context) error {
		if !l.cfg.SkipHoming {
			if err := l.homeLocked(ctx); err != nil {
				return &StartupError{"home", err}
			}
		}
		if l.loadCell != nil {
			if err := l.calibrateLoadCellLocked(ctx); err != nil {
				return &StartupError{"zero load cell", err}
			}
		}
		return nil
	})
	if err != nil {
		l.log.Errorf("[OSL] %v", err)
	}
	return err
}

// Stop leaves managed operation: every joint is forced to voltage zero and the
// state machine exited. Safe to call repeatedly.
func (l *Leg) Stop() error {
	l.cancelOperation()

	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	if l.closed {
		return nil
	}

	var errs []error
	for _, j := range l.joints() {
		if err := j.SafeStop(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.sm != nil {
		l.sm.Exit()
	}
	l.publish()
	return errors.Join(errs...)
}

// Managed runs fn between Start and Stop. Stop runs on every exit path of fn,
// including a panic.
func (l *Leg) Managed(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.running.Load() {
		return ErrLoopRunning
	}
	return l.managed(ctx, fn)
}

func (l *Leg) managed(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if serr := l.Stop(); serr != nil && err == nil {
			err = serr
		}
	}()

	if err = l.start(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Reset forces every joint to voltage zero, bypassing the state machine.
func (l *Leg) Reset() error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	return l.resetLocked()
}

func (l *Leg) resetLocked() error {
	var errs []error
	for _, j := range l.joints() {
		if err := j.SafeStop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Estop stops every joint and halts the control loop. It waits for a cycle in
// progress to finish; use RequestEstop from contexts that must not block.
func (l *Leg) Estop() {
	l.cancelOperation()
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	l.estopLocked("operator")
}

// RequestEstop flags an emergency stop. It acts immediately when the leg is
// idle and otherwise at the next cycle boundary.
func (l *Leg) RequestEstop() {
	l.estop.Store(true)
	l.cancelOperation()
	if l.cycleMu.TryLock() {
		if l.estop.Load() {
			l.estopLocked("operator")
		}
		l.cycleMu.Unlock()
	}
}

func (l *Leg) estopLocked(reason string) {
	l.estop.Store(false)
	l.log.Errorf("[OSL] Emergency stop activated.")
	if err := l.resetLocked(); err != nil {
		l.log.Errorf("[OSL] Unable to stop joints: %v", err)
	}
	l.halted.Store(true)
	l.metrics.emergencyStop(reason)
	l.publish()
}

// Home homes every attached joint, knee first.
func (l *Leg) Home(ctx context.Context) error {
	return l.operation(ctx, l.homeLocked)
}

func (l *Leg) homeLocked(ctx context.Context) error {
	for _, j := range l.joints() {
		l.log.Infof("[OSL] Homing %s joint.", j.name)
		if err := j.Home(ctx); err != nil {
			l.log.Errorf("[OSL] Homing %s failed: %v", j.name, err)
			return fmt.Errorf("home %s: %w", j.name, err)
		}
	}
	l.publish()
	return nil
}

// CalibrateLoadCell tares the load cell on the mean of the configured number of
// samples.
func (l *Leg) CalibrateLoadCell(ctx context.Context) error {
	return l.operation(ctx, l.calibrateLoadCellLocked)
}

func (l *Leg) calibrateLoadCellLocked(ctx context.Context) error {
	if l.loadCell == nil {
		l.log.Warnf("[OSL] Loadcell is not connected.")
		return ErrNoLoadCell
	}

	l.log.Infof("[OSL] Calibrating loadcell.")
	l.log.Infof("[LOADCELL] Initiating zeroing routine, please ensure that there is no ground contact force.")

	period := time.Duration(float64(time.Second) / l.cfg.Frequency)
	coupled := l.joint(l.loadCell.Coupled())
	err := l.loadCell.Tare(l.cfg.LoadCell.ZeroSamples, func() error {
		if err := l.clock.Sleep(ctx, period); err != nil {
			return err
		}
		if coupled != nil {
			return coupled.UpdateTelemetry()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("zero load cell: %w", err)
	}

	l.log.Infof("[LOADCELL] Zeroing routine complete.")
	l.publish()
	return nil
}

// CalibrateEncoders fits the encoder map of every attached joint.
func (l *Leg) CalibrateEncoders(ctx context.Context) error {
	return l.operation(ctx, func(ctx context.Context) error {
		l.log.Infof("[OSL] Calibrating encoders.")
		for _, j := range l.joints() {
			if err := j.CalibrateEncoderMap(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// operation runs a long hardware routine under the cycle lock. Estop requests
// cancel it and are honoured before it returns. Routines are refused while Run
// owns the joints.
func (l *Leg) operation(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.running.Load() {
		return ErrLoopRunning
	}
	return l.exclusive(ctx, fn)
}

func (l *Leg) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.opMu.Lock()
	l.opCancel = cancel
	l.opMu.Unlock()
	defer func() {
		l.opMu.Lock()
		l.opCancel = nil
		l.opMu.Unlock()
	}()

	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	err := fn(ctx)
	if l.estop.Load() {
		l.estopLocked("operator")
		return ErrEmergencyStop
	}
	return err
}

func (l *Leg) cancelOperation() {
	l.opMu.Lock()
	if l.opCancel != nil {
		l.opCancel()
	}
	l.opMu.Unlock()
}
