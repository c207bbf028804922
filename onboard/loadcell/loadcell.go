// Package loadcell decouples the six strain-gauge channels of a force/torque
// sensor into forces and moments.
package loadcell

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	DefaultAmpGain    = 125.0
	DefaultExcitation = 5.0
	DefaultADCRange   = 4095.0
	DefaultOffset     = 2048.0
	DefaultBus        = 1
	DefaultAddress    = 0x66
)

// DefaultMatrix is the factory decoupling matrix of the stock sensor. Rows are
// Fx, Fy, Fz, Mx, My, Mz.
var DefaultMatrix = [6][6]float64{
	{-38.72600, -1817.74700, 9.84900, 43.37400, -44.54000, 1824.67000},
	{-8.61600, 1041.14900, 18.86100, -2098.82200, 31.79400, 1058.6230},
	{-1047.16800, 8.63900, -1047.28200, -20.70000, -1073.08800, -8.92300},
	{20.57600, -0.04000, -0.24600, 0.55400, -21.40800, -0.47600},
	{-12.13400, -1.10800, 24.36100, 0.02300, -12.14100, 0.79200},
	{-0.65100, -28.28700, 0.02200, -25.23000, 0.47300, -27.3070},
}

var (
	ErrNoSource = errors.New("load cell has no raw channel source")
	ErrNoSample = errors.New("load cell has not been read")
)

type Config struct {
	AmpGain    float64
	Excitation float64
	ADCRange   float64
	Offset     float64
	Matrix     [6][6]float64
}

func DefaultConfig() Config {
	return Config{
		AmpGain:    DefaultAmpGain,
		Excitation: DefaultExcitation,
		ADCRange:   DefaultADCRange,
		Offset:     DefaultOffset,
		Matrix:     DefaultMatrix,
	}
}

// Source supplies the six raw ADC channels.
type Source interface {
	ReadRaw() ([6]float64, error)
}

type SourceFunc func() ([6]float64, error)

func (f SourceFunc) ReadRaw() ([6]float64, error) { return f() }

type LoadCell struct {
	cfg     Config
	matrix  *mgl64.MatMxN
	source  Source
	coupled string

	raw       [6]float64
	decoupled [6]float64
	output    [6]float64
	previous  [6]float64
	zero      [6]float64
	zeroed    bool
	valid     bool
}

// New builds a load cell; the calibration matrix is fixed from here on.
func New(cfg Config, src Source) *LoadCell {
	m := mgl64.NewMatrix(6, 6)
	for r := 0; r < 6; r++ {
		for c := 0; c < 6; c++ {
			m.Set(r, c, cfg.Matrix[r][c])
		}
	}
	return &LoadCell{cfg: cfg, matrix: m, source: src}
}

// NewCoupled builds a load cell whose channels come from the named joint.
func NewCoupled(cfg Config, joint string, src Source) *LoadCell {
	lc := New(cfg, src)
	lc.coupled = joint
	return lc
}

// Read converts one raw sample, stores it as the current output and returns it.
func (lc *LoadCell) Read(raw [6]float64) [6]float64 {
	lc.previous = lc.output
	lc.raw = raw
	lc.decoupled = lc.decouple(raw)
	for i := range lc.output {
		lc.output[i] = lc.decoupled[i] - lc.zero[i]
	}
	lc.valid = true
	return lc.output
}

func (lc *LoadCell) decouple(raw [6]float64) (out [6]float64) {
	c := lc.cfg
	coupled := make([]float64, 6)
	for i, v := range raw {
		coupled[i] = ((v - c.Offset) / c.ADCRange * c.Excitation) * 1000 / (c.Excitation * c.AmpGain)
	}
	res := lc.matrix.MulNx1(nil, mgl64.NewVecNFromData(coupled))
	for i := range out {
		out[i] = res.Get(i)
	}
	return
}

// Update pulls a sample from the source.
func (lc *LoadCell) Update() error {
	if lc.source == nil {
		return ErrNoSource
	}
	raw, err := lc.source.ReadRaw()
	if err != nil {
		return err
	}
	lc.Read(raw)
	return nil
}

// Zero tares on the latest sample, reading one first if none was taken.
func (lc *LoadCell) Zero() error {
	if !lc.valid {
		if err := lc.Update(); err != nil {
			return err
		}
	}
	lc.setZero(lc.decoupled)
	return nil
}

// ZeroAveraged tares on the mean of n fresh samples.
func (lc *LoadCell) ZeroAveraged(n int) error {
	return lc.Tare(n, nil)
}

// Tare is ZeroAveraged with a hook run before every sample, used to pace the
// reads or refresh a coupled joint's telemetry.
func (lc *LoadCell) Tare(n int, before func() error) error {
	if n < 1 {
		n = 1
	}
	var sum [6]float64
	for i := 0; i < n; i++ {
		if before != nil {
			if err := before(); err != nil {
				return err
			}
		}
		if err := lc.Update(); err != nil {
			return err
		}
		for j := range sum {
			sum[j] += lc.decoupled[j]
		}
	}
	for j := range sum {
		sum[j] /= float64(n)
	}
	lc.setZero(sum)
	return nil
}

func (lc *LoadCell) setZero(z [6]float64) {
	lc.zero = z
	lc.zeroed = true
	for i := range lc.output {
		lc.output[i] = lc.decoupled[i] - lc.zero[i]
	}
}

// Reset clears the tare.
func (lc *LoadCell) Reset() {
	lc.zero = [6]float64{}
	lc.zeroed = false
	if lc.valid {
		lc.output = lc.decoupled
	}
}

func (lc *LoadCell) Fx() float64 { return lc.output[0] }
func (lc *LoadCell) Fy() float64 { return lc.output[1] }
func (lc *LoadCell) Fz() float64 { return lc.output[2] }
func (lc *LoadCell) Mx() float64 { return lc.output[3] }
func (lc *LoadCell) My() float64 { return lc.output[4] }
func (lc *LoadCell) Mz() float64 { return lc.output[5] }

func (lc *LoadCell) Forces() [6]float64   { return lc.output }
func (lc *LoadCell) Previous() [6]float64 { return lc.previous }
func (lc *LoadCell) Raw() [6]float64      { return lc.raw }
func (lc *LoadCell) ZeroVector() [6]float64 {
	return lc.zero
}

func (lc *LoadCell) Zeroed() bool { return lc.zeroed }
func (lc *LoadCell) Valid() bool  { return lc.valid }

// Coupled returns the joint supplying the raw channels, or "" for a bus sensor.
func (lc *LoadCell) Coupled() string { return lc.coupled }

func (lc *LoadCell) Config() Config { return lc.cfg }
