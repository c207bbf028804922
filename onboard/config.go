package onboard

import (
	"fmt"
	"time"

	"github.com/CodedInternet/osl/onboard/loadcell"
	"github.com/CodedInternet/osl/units"
)

const (
	KNEE  = "knee"
	ANKLE = "ankle"

	DEFAULT_FREQUENCY       = 200.0
	DEFAULT_GEAR_RATIO      = 1.0
	DEFAULT_MAX_TEMPERATURE = 80.0
	DEFAULT_STIFFNESS       = 200.0
	DEFAULT_DAMPING         = 400.0
)

// JointNames lists the joints a leg can carry, in homing order.
var JointNames = []string{KNEE, ANKLE}

type LegConfig struct {
	Frequency  float64                `yaml:"frequency"`
	SkipHoming bool                   `yaml:"skip_homing"`
	Realtime   bool                   `yaml:"realtime"`
	Firmware   string                 `yaml:"firmware"`
	Units      map[string]string      `yaml:"units"`
	Joints     map[string]JointConfig `yaml:"joints"`
	LoadCell   LoadCellConfig         `yaml:"loadcell"`
	// StateMachine is optional; a nil value leaves the machine to code.
	StateMachine *StateMachineConfig `yaml:"state_machine"`
}

type JointConfig struct {
	Port           string           `yaml:"port"`
	GearRatio      float64          `yaml:"gear_ratio"`
	MaxTemperature float64          `yaml:"max_temperature"`
	Stiffness      float64          `yaml:"stiffness"`
	Damping        float64          `yaml:"damping"`
	Homing         HomingConfig     `yaml:"homing"`
	EncoderMap     EncoderMapConfig `yaml:"encoder_map"`
}

type HomingConfig struct {
	Voltage           float64       `yaml:"voltage"`            // V
	Direction         float64       `yaml:"direction"`          // -1 or 1
	Frequency         float64       `yaml:"frequency"`          // Hz
	VelocityThreshold float64       `yaml:"velocity_threshold"` // rad/s
	CurrentThreshold  float64       `yaml:"current_threshold"`  // A
	Settle            time.Duration `yaml:"settle"`
	Timeout           time.Duration `yaml:"timeout"`
}

type EncoderMapConfig struct {
	Degree int           `yaml:"degree"`
	Step   float64       `yaml:"step"`  // rad of output travel per sample
	Range  float64       `yaml:"range"` // rad of output travel in total
	Settle time.Duration `yaml:"settle"`
}

type LoadCellConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Joint       string   `yaml:"joint"` // couple to this joint's aux channels
	Bus         int      `yaml:"bus"`
	Address     uint8    `yaml:"address"`
	AmpGain     float64  `yaml:"amp_gain"`
	Excitation  float64  `yaml:"excitation"`
	ADCRange    float64  `yaml:"adc_range"`
	Offset      float64  `yaml:"offset"`
	Matrix      *Matrix6 `yaml:"matrix"`
	ZeroSamples int      `yaml:"zero_samples"`
	MinContact  float64  `yaml:"min_contact"` // N of Fz counted as ground contact
}

// Matrix6 is a 6x6 matrix written in YAML as six rows of six numbers.
type Matrix6 [6][6]float64

func (m Matrix6) MarshalYAML() (interface{}, error) {
	rows := make([][]float64, 6)
	for i := range m {
		rows[i] = m[i][:]
	}
	return rows, nil
}

func (m *Matrix6) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var rows [][]float64
	if err := unmarshal(&rows); err != nil {
		return err
	}
	if len(rows) != 6 {
		return fmt.Errorf("matrix needs 6 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if len(row) != 6 {
			return fmt.Errorf("matrix row %d needs 6 values, got %d", i, len(row))
		}
		copy(m[i][:], row)
	}
	return nil
}

type StateMachineConfig struct {
	Initial     string             `yaml:"initial"`
	States      []StateConfig      `yaml:"states"`
	Transitions []TransitionConfig `yaml:"transitions"`
}

type StateConfig struct {
	Name        string          `yaml:"name"`
	MinDuration time.Duration   `yaml:"min_duration"`
	Knee        *JointImpedance `yaml:"knee"`
	Ankle       *JointImpedance `yaml:"ankle"`
}

// JointImpedance is a joint-space impedance set point.
type JointImpedance struct {
	Equilibrium float64 `yaml:"equilibrium"` // rad
	Stiffness   float64 `yaml:"stiffness"`   // N*m/rad
	Damping     float64 `yaml:"damping"`     // N*m*s/rad
}

type TransitionConfig struct {
	From  string         `yaml:"from"`
	To    string         `yaml:"to"`
	Event string         `yaml:"event"`
	When  CriteriaConfig `yaml:"when"`
}

// CriteriaConfig guards a transition. Zero fields are ignored.
type CriteriaConfig struct {
	After     time.Duration `yaml:"after"`
	FzAbove   *float64      `yaml:"fz_above"`
	FzBelow   *float64      `yaml:"fz_below"`
	KneeAbove *float64      `yaml:"knee_above"`
	KneeBelow *float64      `yaml:"knee_below"`
}

func (c CriteriaConfig) IsZero() bool {
	return c.After == 0 && c.FzAbove == nil && c.FzBelow == nil && c.KneeAbove == nil && c.KneeBelow == nil
}

// DefaultJointConfig returns the stock settings for an unconfigured joint.
func DefaultJointConfig() JointConfig {
	var jc JointConfig
	jc.applyDefaults()
	return jc
}

func (jc *JointConfig) applyDefaults() {
	if jc.GearRatio == 0 {
		jc.GearRatio = DEFAULT_GEAR_RATIO
	}
	if jc.MaxTemperature == 0 {
		jc.MaxTemperature = DEFAULT_MAX_TEMPERATURE
	}
	if jc.Stiffness == 0 {
		jc.Stiffness = DEFAULT_STIFFNESS
	}
	if jc.Damping == 0 {
		jc.Damping = DEFAULT_DAMPING
	}

	h := &jc.Homing
	if h.Voltage == 0 {
		h.Voltage = 2.0
	}
	if h.Direction == 0 {
		h.Direction = -1
	}
	if h.Frequency == 0 {
		h.Frequency = DEFAULT_FREQUENCY
	}
	if h.VelocityThreshold == 0 {
		h.VelocityThreshold = 0.001
	}
	if h.CurrentThreshold == 0 {
		h.CurrentThreshold = 5.0
	}
	if h.Settle == 0 {
		h.Settle = 100 * time.Millisecond
	}
	if h.Timeout == 0 {
		h.Timeout = 30 * time.Second
	}

	e := &jc.EncoderMap
	if e.Degree == 0 {
		e.Degree = 3
	}
	if e.Step == 0 {
		e.Step = 0.05
	}
	if e.Range == 0 {
		e.Range = 1.0
	}
	if e.Settle == 0 {
		e.Settle = 50 * time.Millisecond
	}
}

// Defaults fills every unset field with the stock value.
func (c *LegConfig) Defaults() {
	if c.Frequency == 0 {
		c.Frequency = DEFAULT_FREQUENCY
	}
	if c.Joints == nil {
		c.Joints = make(map[string]JointConfig)
	}
	for name, jc := range c.Joints {
		jc.applyDefaults()
		c.Joints[name] = jc
	}

	lc := &c.LoadCell
	if lc.Bus == 0 {
		lc.Bus = loadcell.DefaultBus
	}
	if lc.Address == 0 {
		lc.Address = loadcell.DefaultAddress
	}
	if lc.AmpGain == 0 {
		lc.AmpGain = loadcell.DefaultAmpGain
	}
	if lc.Excitation == 0 {
		lc.Excitation = loadcell.DefaultExcitation
	}
	if lc.ADCRange == 0 {
		lc.ADCRange = loadcell.DefaultADCRange
	}
	if lc.Offset == 0 {
		lc.Offset = loadcell.DefaultOffset
	}
	if lc.ZeroSamples == 0 {
		lc.ZeroSamples = 10
	}
	if lc.MinContact == 0 {
		lc.MinContact = 20
	}
}

// Validate reports the first configuration problem found.
func (c *LegConfig) Validate() error {
	if c.Frequency <= 0 {
		return &ConfigError{"frequency", fmt.Errorf("must be positive, got %v", c.Frequency)}
	}
	for name, jc := range c.Joints {
		if !knownJoint(name) {
			return &ConfigError{"joints", fmt.Errorf("joint name %q is not recognized", name)}
		}
		if jc.GearRatio <= 0 {
			return &ConfigError{name, fmt.Errorf("gear ratio must be positive")}
		}
		if jc.EncoderMap.Degree < 1 || jc.EncoderMap.Degree > 3 {
			return &ConfigError{name, fmt.Errorf("encoder map degree must be 1-3")}
		}
	}
	if j := c.LoadCell.Joint; j != "" && !knownJoint(j) {
		return &ConfigError{"loadcell", fmt.Errorf("joint name %q is not recognized", j)}
	}
	for q, u := range c.Units {
		if !units.Valid(units.Quantity(q), u) {
			return &ConfigError{"units", units.UnknownUnitError{Quantity: units.Quantity(q), Unit: u}}
		}
	}
	return nil
}

// LoadCellSettings converts the YAML section into load cell settings.
func (c LoadCellConfig) LoadCellSettings() loadcell.Config {
	cfg := loadcell.Config{
		AmpGain:    c.AmpGain,
		Excitation: c.Excitation,
		ADCRange:   c.ADCRange,
		Offset:     c.Offset,
		Matrix:     loadcell.DefaultMatrix,
	}
	if c.Matrix != nil {
		cfg.Matrix = *c.Matrix
	}
	return cfg
}

func knownJoint(name string) bool {
	for _, n := range JointNames {
		if n == name {
			return true
		}
	}
	return false
}
