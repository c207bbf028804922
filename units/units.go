// Package units converts between the SI values used internally by the control
// core and the unit system an operator chooses for display and data logs.
package units

import (
	"fmt"
	"math"
	"sort"
)

type Quantity string

const (
	Position    Quantity = "position"
	Velocity    Quantity = "velocity"
	Torque      Quantity = "torque"
	Force       Quantity = "force"
	Current     Quantity = "current"
	Voltage     Quantity = "voltage"
	Temperature Quantity = "temperature"
	Stiffness   Quantity = "stiffness"
	Damping     Quantity = "damping"
)

// factors hold the SI value of one display unit. Temperature has an offset and
// is handled separately.
var factors = map[Quantity]map[string]float64{
	Position: {
		"rad": 1,
		"deg": math.Pi / 180,
	},
	Velocity: {
		"rad/s": 1,
		"deg/s": math.Pi / 180,
		"rpm":   2 * math.Pi / 60,
	},
	Torque: {
		"N*m":    1,
		"N*mm":   0.001,
		"lbf*in": 0.1129848290276167,
	},
	Force: {
		"N":   1,
		"kN":  1000,
		"lbf": 4.4482216152605,
		"kgf": 9.80665,
	},
	Current: {
		"A":  1,
		"mA": 0.001,
	},
	Voltage: {
		"V":  1,
		"mV": 0.001,
	},
	Stiffness: {
		"N*m/rad": 1,
		"N*m/deg": 180 / math.Pi,
	},
	Damping: {
		"N*m*s/rad": 1,
		"N*m*s/deg": 180 / math.Pi,
	},
}

var temperatures = []string{"C", "F", "K"}

// Definition maps each quantity to the unit it is presented in.
type Definition map[Quantity]string

// Default presents everything in SI, temperatures in Celsius.
func Default() Definition {
	return Definition{
		Position:    "rad",
		Velocity:    "rad/s",
		Torque:      "N*m",
		Force:       "N",
		Current:     "A",
		Voltage:     "V",
		Temperature: "C",
		Stiffness:   "N*m/rad",
		Damping:     "N*m*s/rad",
	}
}

type UnknownUnitError struct {
	Quantity Quantity
	Unit     string
}

func (err UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown %s unit %q", err.Quantity, err.Unit)
}

// Set changes the display unit for a quantity.
func (d Definition) Set(q Quantity, unit string) error {
	if !Valid(q, unit) {
		return UnknownUnitError{q, unit}
	}
	d[q] = unit
	return nil
}

// Unit returns the display unit for q, falling back to the SI default.
func (d Definition) Unit(q Quantity) string {
	if u, ok := d[q]; ok {
		return u
	}
	return Default()[q]
}

// FromSI converts an internal SI value for display.
func (d Definition) FromSI(q Quantity, value float64) float64 {
	unit := d.Unit(q)
	if q == Temperature {
		switch unit {
		case "F":
			return value*9/5 + 32
		case "K":
			return value + 273.15
		}
		return value
	}
	if f, ok := factors[q][unit]; ok {
		return value / f
	}
	return value
}

// ToSI converts a value expressed in the display unit back to SI.
func (d Definition) ToSI(q Quantity, value float64) float64 {
	unit := d.Unit(q)
	if q == Temperature {
		switch unit {
		case "F":
			return (value - 32) * 5 / 9
		case "K":
			return value - 273.15
		}
		return value
	}
	if f, ok := factors[q][unit]; ok {
		return value * f
	}
	return value
}

// Valid reports whether unit is known for q.
func Valid(q Quantity, unit string) bool {
	if q == Temperature {
		for _, t := range temperatures {
			if t == unit {
				return true
			}
		}
		return false
	}
	_, ok := factors[q][unit]
	return ok
}

// Available lists the units known for q in sorted order.
func Available(q Quantity) []string {
	if q == Temperature {
		return append([]string(nil), temperatures...)
	}
	out := make([]string, 0, len(factors[q]))
	for u := range factors[q] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
