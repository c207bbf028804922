package onboard

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the control loop's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	Cycles          prometheus.Counter
	Overruns        prometheus.Counter
	CycleDuration   prometheus.Histogram
	TelemetryErrors *prometheus.CounterVec
	EmergencyStops  *prometheus.CounterVec
	Temperature     *prometheus.GaugeVec
	OutputPosition  *prometheus.GaugeVec
	JointTorque     *prometheus.GaugeVec
	VerticalForce   prometheus.Gauge
}

// NewMetrics registers the loop collectors against reg, defaulting to the
// global registry when nil. Collectors already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		m   Metrics
		err error
	)
	if m.Cycles, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "osl_cycles_total",
		Help: "Completed control cycles.",
	}), "osl_cycles_total"); err != nil {
		return nil, err
	}
	if m.Overruns, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "osl_cycle_overruns_total",
		Help: "Control cycles that exceeded the loop period.",
	}), "osl_cycle_overruns_total"); err != nil {
		return nil, err
	}
	if m.CycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "osl_cycle_duration_seconds",
		Help:    "Time spent in one control cycle.",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.003, 0.005, 0.0075, 0.01, 0.02, 0.05},
	}), "osl_cycle_duration_seconds"); err != nil {
		return nil, err
	}
	if m.TelemetryErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osl_telemetry_errors_total",
		Help: "Failed telemetry reads, labeled by component.",
	}, []string{"component"}), "osl_telemetry_errors_total"); err != nil {
		return nil, err
	}
	if m.EmergencyStops, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "osl_emergency_stops_total",
		Help: "Emergency stops, labeled by reason.",
	}, []string{"reason"}), "osl_emergency_stops_total"); err != nil {
		return nil, err
	}
	if m.Temperature, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "osl_joint_temperature_celsius",
		Help: "Actuator temperature.",
	}, []string{"joint"}), "osl_joint_temperature_celsius"); err != nil {
		return nil, err
	}
	if m.OutputPosition, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "osl_joint_output_position_radians",
		Help: "Joint output position.",
	}, []string{"joint"}), "osl_joint_output_position_radians"); err != nil {
		return nil, err
	}
	if m.JointTorque, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "osl_joint_torque_newton_meters",
		Help: "Estimated joint output torque.",
	}, []string{"joint"}), "osl_joint_torque_newton_meters"); err != nil {
		return nil, err
	}
	if m.VerticalForce, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "osl_loadcell_fz_newtons",
		Help: "Tared vertical load cell force.",
	}), "osl_loadcell_fz_newtons"); err != nil {
		return nil, err
	}
	return &m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeCycle(d time.Duration, l *Leg) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
	for _, j := range l.joints() {
		m.Temperature.WithLabelValues(j.name).Set(j.Temperature())
		m.OutputPosition.WithLabelValues(j.name).Set(j.OutputPosition())
		m.JointTorque.WithLabelValues(j.name).Set(j.JointTorque())
	}
	if l.loadCell != nil {
		m.VerticalForce.Set(l.loadCell.Fz())
	}
}

func (m *Metrics) overrun() {
	if m == nil {
		return
	}
	m.Overruns.Inc()
}

func (m *Metrics) telemetryError(component string) {
	if m == nil {
		return
	}
	m.TelemetryErrors.WithLabelValues(component).Inc()
}

func (m *Metrics) emergencyStop(reason string) {
	if m == nil {
		return
	}
	m.EmergencyStops.WithLabelValues(reason).Inc()
}
