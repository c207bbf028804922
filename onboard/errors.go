package onboard

import (
	"errors"
	"fmt"
)

var (
	ErrInstanceExists = errors.New("a leg instance is already live")
	ErrTelemetry      = errors.New("telemetry read failed")
	ErrThermalLimit   = errors.New("thermal limit reached")
	ErrEmergencyStop  = errors.New("emergency stop")
	ErrHomingTimeout  = errors.New("homing did not complete")
	ErrNotHomed       = errors.New("joint is not homed")
	ErrNoLoadCell     = errors.New("no load cell attached")
	ErrLoopRunning    = errors.New("control loop already running")
	ErrGainWrite      = errors.New("gain write failed")
)

// Severity orders the error classes by how far they stop the leg.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ConfigError is raised at registration time for invalid wiring: unknown joint
// names, duplicate attachments or a malformed state machine.
type ConfigError struct {
	Op  string
	Err error
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("[%s] configuration: %s: %v", SeverityError, err.Op, err.Err)
}

func (err *ConfigError) Unwrap() error { return err.Err }

// ConnectivityError leaves the requested component unattached.
type ConnectivityError struct {
	Component string
	Port      string
	Err       error
}

func (err *ConnectivityError) Error() string {
	if err.Port != "" {
		return fmt.Sprintf("[%s] %s on %s: %v", SeverityWarning, err.Component, err.Port, err.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", SeverityWarning, err.Component, err.Err)
}

func (err *ConnectivityError) Unwrap() error { return err.Err }

// StartupError wraps failures while entering managed operation.
type StartupError struct {
	Op  string
	Err error
}

func (err *StartupError) Error() string {
	return fmt.Sprintf("[%s] startup: %s: %v", SeverityFatal, err.Op, err.Err)
}

func (err *StartupError) Unwrap() error { return err.Err }

// SeverityOf classifies err for logging and loop decisions.
func SeverityOf(err error) Severity {
	var ce *ConnectivityError
	var se *StartupError
	switch {
	case err == nil:
		return SeverityWarning
	case errors.Is(err, ErrThermalLimit), errors.Is(err, ErrEmergencyStop), errors.As(err, &se):
		return SeverityFatal
	case errors.Is(err, ErrTelemetry), errors.As(err, &ce):
		return SeverityWarning
	default:
		return SeverityError
	}
}
