package onboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/CodedInternet/osl/calcs"
)

// Home drives the joint against its end stop at the homing voltage until the
// motor stalls, then takes the stop as the zero reference. Re-homing repeats
// the same bounded sequence. The joint is left at voltage zero on every path.
func (j *Joint) Home(ctx context.Context) (err error) {
	h := j.cfg.Homing
	period := time.Duration(float64(time.Second) / h.Frequency)
	settle := int(h.Settle.Seconds() * h.Frequency)
	budget := int(h.Timeout.Seconds() * h.Frequency)

	j.homed = false
	defer func() {
		if err != nil {
			if serr := j.SafeStop(); serr != nil {
				j.log.Errorf("[%s] Unable to stop motor after homing failure: %v", strings.ToUpper(j.name), serr)
			}
		}
	}()

	if err = j.SetVoltage(h.Direction * h.Voltage); err != nil {
		return err
	}
	if err = j.Commit(); err != nil {
		return err
	}

	for i := 0; i < budget; i++ {
		if err = j.clock.Sleep(ctx, period); err != nil {
			return err
		}
		if err = j.UpdateTelemetry(); err != nil {
			if errors.Is(err, ErrThermalLimit) {
				return err
			}
			j.log.Warnf("[%s] %v", strings.ToUpper(j.name), err)
			err = nil
			continue
		}
		if i < settle {
			continue
		}

		if math.Abs(j.motorVelocity) <= h.VelocityThreshold || math.Abs(j.MotorCurrent()) >= h.CurrentThreshold {
			if err = j.SafeStop(); err != nil {
				return err
			}
			j.motorZero = j.telemetry.MotorAngle
			j.jointZero = j.telemetry.JointAngle
			j.homed = true
			j.loadEncoderMap()
			j.derive()
			return nil
		}
	}

	return fmt.Errorf("%w: %s after %v", ErrHomingTimeout, j.name, h.Timeout)
}

func (j *Joint) loadEncoderMap() {
	if j.store == nil {
		return
	}
	p, err := j.store.LoadEncoderMap(j.name)
	if err != nil {
		j.log.Warnf("[%s] Unable to load encoder map: %v", strings.ToUpper(j.name), err)
		return
	}
	if p != nil {
		j.encoderMap = p
		j.log.Debugf("[%s] Loaded encoder map %v", strings.ToUpper(j.name), p.Coefficients)
	}
}

// CalibrateEncoderMap steps the output away from the home stop in position
// mode, pairing the joint encoder reading with the motor-derived output angle
// at each step, and fits the encoder map to those pairs.
func (j *Joint) CalibrateEncoderMap(ctx context.Context) (err error) {
	if !j.homed {
		return fmt.Errorf("%w: %s", ErrNotHomed, j.name)
	}

	e := j.cfg.EncoderMap
	dir := -math.Copysign(1, j.cfg.Homing.Direction)
	steps := int(math.Round(e.Range / e.Step))

	previous := j.encoderMap
	j.encoderMap = nil
	defer func() {
		if serr := j.SafeStop(); serr != nil && err == nil {
			err = serr
		}
		if err != nil {
			j.encoderMap = previous
			j.derive()
		}
	}()

	xs := make([]float64, 0, steps+1)
	ys := make([]float64, 0, steps+1)
	for i := 0; i <= steps; i++ {
		if err = j.SetOutputPosition(dir * float64(i) * e.Step); err != nil {
			return err
		}
		if err = j.Commit(); err != nil {
			return err
		}
		if err = j.clock.Sleep(ctx, e.Settle); err != nil {
			return err
		}
		if err = j.UpdateTelemetry(); err != nil {
			if errors.Is(err, ErrThermalLimit) {
				return err
			}
			j.log.Warnf("[%s] %v", strings.ToUpper(j.name), err)
			err = nil
			continue
		}
		xs = append(xs, j.jointEncoderPosition)
		ys = append(ys, j.motorPosition/j.cfg.GearRatio)
	}

	p, err := calcs.PolyFit(xs, ys, e.Degree)
	if err != nil {
		return fmt.Errorf("encoder map for %s: %w", j.name, err)
	}
	j.encoderMap = p
	j.derive()

	if j.store != nil {
		if serr := j.store.SaveEncoderMap(j.name, *p); serr != nil {
			j.log.Warnf("[%s] Unable to save encoder map: %v", strings.ToUpper(j.name), serr)
		}
	}
	j.log.Infof("[%s] Encoder map calibrated from %d samples.", strings.ToUpper(j.name), len(xs))
	return nil
}
