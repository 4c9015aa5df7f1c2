// Package alert derives safety alerts and an overall status from a worker's
// latest readings.
package alert

import (
	"strconv"
)

// Severity grades an alert.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is the overall worker state shown to operators.
type Status string

const (
	StatusActive    Status = "active"
	StatusEmergency Status = "emergency"
)

// Alert types.
const (
	TypeTemperature = "temperature"
	TypeGas         = "gas"
	TypeFall        = "fall"
)

// Alert is one active condition.
type Alert struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Reading is the subset of a worker record the rules inspect. Nil means the
// sensor value is unknown.
type Reading struct {
	Temperature  *float64
	GasLevel     *float64
	FallDetected bool
}

// Thresholds are the trigger limits. A reading must strictly exceed a limit.
type Thresholds struct {
	TemperatureC float64
	GasPPM       float64
}

// DefaultThresholds are 40°C and 300 ppm.
var DefaultThresholds = Thresholds{TemperatureC: 40, GasPPM: 300}

// Rule fires when Check returns a message.
type Rule struct {
	Type     string
	Severity Severity
	Check    func(r Reading, t Thresholds) (string, bool)
}

// DefaultRules are evaluated in order; a record may trigger several.
var DefaultRules = []Rule{
	{
		Type:     TypeTemperature,
		Severity: SeverityHigh,
		Check: func(r Reading, t Thresholds) (string, bool) {
			if r.Temperature == nil || *r.Temperature <= t.TemperatureC {
				return "", false
			}
			return "High temperature: " + formatNumber(*r.Temperature) + "°C", true
		},
	},
	{
		Type:     TypeGas,
		Severity: SeverityCritical,
		Check: func(r Reading, t Thresholds) (string, bool) {
			if r.GasLevel == nil || *r.GasLevel <= t.GasPPM {
				return "", false
			}
			return "Dangerous gas level: " + formatNumber(*r.GasLevel) + " ppm", true
		},
	},
	{
		Type:     TypeFall,
		Severity: SeverityCritical,
		Check: func(r Reading, _ Thresholds) (string, bool) {
			if !r.FallDetected {
				return "", false
			}
			return "Fall detected!", true
		},
	},
}

// Engine evaluates a fixed rule set. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	thresholds Thresholds
	rules      []Rule
}

// NewEngine creates an Engine with DefaultRules. Non-positive limits fall
// back to DefaultThresholds.
func NewEngine(t Thresholds) *Engine {
	if t.TemperatureC <= 0 {
		t.TemperatureC = DefaultThresholds.TemperatureC
	}
	if t.GasPPM <= 0 {
		t.GasPPM = DefaultThresholds.GasPPM
	}
	return &Engine{thresholds: t, rules: DefaultRules}
}

// Thresholds returns the limits the engine was built with.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Derive returns the active alerts (never nil) and the resulting status. Any
// critical alert escalates the status to emergency.
func (e *Engine) Derive(r Reading) ([]Alert, Status) {
	alerts := []Alert{}
	status := StatusActive
	for _, rule := range e.rules {
		msg, ok := rule.Check(r, e.thresholds)
		if !ok {
			continue
		}
		alerts = append(alerts, Alert{Type: rule.Type, Message: msg, Severity: rule.Severity})
		if rule.Severity == SeverityCritical {
			status = StatusEmergency
		}
	}
	return alerts, status
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
