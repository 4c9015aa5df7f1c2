package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestDerive_NoAlerts(t *testing.T) {
	e := NewEngine(DefaultThresholds)

	alerts, status := e.Derive(Reading{Temperature: ptr(36.6), GasLevel: ptr(120)})
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
	assert.Equal(t, StatusActive, status)

	alerts, status = e.Derive(Reading{})
	assert.Empty(t, alerts)
	assert.Equal(t, StatusActive, status)
}

func TestDerive_TemperatureDoesNotEscalate(t *testing.T) {
	e := NewEngine(DefaultThresholds)

	alerts, status := e.Derive(Reading{Temperature: ptr(41)})
	require.Len(t, alerts, 1)
	assert.Equal(t, TypeTemperature, alerts[0].Type)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "High temperature: 41°C", alerts[0].Message)
	assert.Equal(t, StatusActive, status)
}

func TestDerive_ThresholdIsExclusive(t *testing.T) {
	e := NewEngine(DefaultThresholds)

	alerts, _ := e.Derive(Reading{Temperature: ptr(40), GasLevel: ptr(300)})
	assert.Empty(t, alerts)
}

func TestDerive_GasEscalates(t *testing.T) {
	e := NewEngine(DefaultThresholds)

	alerts, status := e.Derive(Reading{GasLevel: ptr(350)})
	require.Len(t, alerts, 1)
	assert.Equal(t, TypeGas, alerts[0].Type)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, StatusEmergency, status)
}

func TestDerive_FallEscalates(t *testing.T) {
	e := NewEngine(DefaultThresholds)

	alerts, status := e.Derive(Reading{FallDetected: true})
	require.Len(t, alerts, 1)
	assert.Equal(t, TypeFall, alerts[0].Type)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, StatusEmergency, status)
}

func TestDerive_MultipleRulesInOrder(t *testing.T) {
	e := NewEngine(DefaultThresholds)

	alerts, status := e.Derive(Reading{Temperature: ptr(45.5), GasLevel: ptr(500), FallDetected: true})
	require.Len(t, alerts, 3)
	assert.Equal(t, TypeTemperature, alerts[0].Type)
	assert.Equal(t, TypeGas, alerts[1].Type)
	assert.Equal(t, TypeFall, alerts[2].Type)
	assert.Equal(t, StatusEmergency, status)
}

func TestDerive_Pure(t *testing.T) {
	e := NewEngine(DefaultThresholds)
	r := Reading{Temperature: ptr(42), FallDetected: true}

	a1, s1 := e.Derive(r)
	a2, s2 := e.Derive(r)
	assert.Equal(t, a1, a2)
	assert.Equal(t, s1, s2)
}

func TestDerive_CustomThresholds(t *testing.T) {
	e := NewEngine(Thresholds{TemperatureC: 37.5, GasPPM: 100})
	assert.Equal(t, 37.5, e.Thresholds().TemperatureC)

	alerts, status := e.Derive(Reading{Temperature: ptr(38), GasLevel: ptr(150)})
	require.Len(t, alerts, 2)
	assert.Equal(t, StatusEmergency, status)
}

func TestNewEngine_UnsetThresholdsUseDefaults(t *testing.T) {
	e := NewEngine(Thresholds{GasPPM: -1})
	assert.Equal(t, DefaultThresholds, e.Thresholds())

	alerts, _ := e.Derive(Reading{Temperature: ptr(39), GasLevel: ptr(250)})
	assert.Empty(t, alerts)
}
