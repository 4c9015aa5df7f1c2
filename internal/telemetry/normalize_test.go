package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestNormalize_CanonicalKeys(t *testing.T) {
	r, err := Normalize(Payload{
		"workerId":     "001",
		"temperature":  38.5,
		"humidity":     65.2,
		"gasLevel":     250.0,
		"accelX":       0.12,
		"accelY":       -0.5,
		"accelZ":       9.81,
		"fallDetected": false,
		"mpuStatus":    "ok",
		"timestamp":    "2025-03-14T09:00:00Z",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, "001", r.WorkerID)
	assert.Equal(t, 38.5, r.Temperature)
	assert.Equal(t, 65.2, r.Humidity)
	assert.Equal(t, 250.0, r.GasLevel)
	assert.Equal(t, 0.12, r.AccelX)
	assert.Equal(t, -0.5, r.AccelY)
	assert.Equal(t, 9.81, r.AccelZ)
	assert.False(t, r.FallDetected)
	assert.Equal(t, "ok", r.MPUStatus)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), r.Timestamp)
}

func TestNormalize_AlternateSpellings(t *testing.T) {
	r, err := Normalize(Payload{
		"worker_id": 7.0,
		"Temp":      "41.25",
		"hum":       "30",
		"gas_level": 310,
		"ax":        "1",
		"isFallen":  1.0,
		"mpu":       "calibrating",
		"date":      "2025-03-14 08:00:00",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, "7", r.WorkerID)
	assert.Equal(t, 41.25, r.Temperature)
	assert.Equal(t, 30.0, r.Humidity)
	assert.Equal(t, 310.0, r.GasLevel)
	assert.Equal(t, 1.0, r.AccelX)
	assert.True(t, r.FallDetected)
	assert.Equal(t, "calibrating", r.MPUStatus)
	assert.Equal(t, time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), r.Timestamp)
}

func TestNormalize_MissingWorkerID(t *testing.T) {
	payloads := []Payload{
		{},
		{"temperature": 30.0},
		{"workerId": ""},
		{"workerId": nil, "id": "5"},
		{"ID": 0.0},
		{"worker_id": false},
		{"workerId": []any{}},
		{"workerId": map[string]any{"x": 1.0}},
	}
	for _, p := range payloads {
		_, err := Normalize(p, testNow)
		assert.ErrorIs(t, err, ErrMissingWorkerID, "%v", p)
	}
}

func TestNormalize_FirstPresentAliasWins(t *testing.T) {
	r, err := Normalize(Payload{"workerId": "a", "id": "b", "temp": 20.0, "temperature": "garbage"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "a", r.WorkerID)
	assert.Equal(t, 0.0, r.Temperature, "temperature is looked up before temp")
}

func TestNormalize_GarbageNumbersBecomeZero(t *testing.T) {
	r, err := Normalize(Payload{
		"id":          "9",
		"temperature": "hot",
		"humidity":    map[string]any{"v": 1},
		"gasLevel":    math.NaN(),
		"accelX":      math.Inf(1),
		"accelY":      "NaN",
		"accelZ":      nil,
	}, testNow)
	require.NoError(t, err)

	for _, v := range []float64{r.Temperature, r.Humidity, r.GasLevel, r.AccelX, r.AccelY, r.AccelZ} {
		assert.False(t, math.IsNaN(v))
		assert.Equal(t, 0.0, v)
	}
}

func TestNormalize_DefaultsForMissingOptionalFields(t *testing.T) {
	r, err := Normalize(Payload{"workerId": "1"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, UnknownMPUStatus, r.MPUStatus)
	assert.Equal(t, testNow, r.Timestamp)
	assert.False(t, r.FallDetected)
}

func TestToBool(t *testing.T) {
	trueish := []any{true, "true", "1", 1.0, 1, int64(1)}
	for _, v := range trueish {
		assert.True(t, ToBool(v), "%#v", v)
	}
	falseish := []any{nil, false, "false", "yes", "TRUE", 0.0, 2.0, "0", map[string]any{}}
	for _, v := range falseish {
		assert.False(t, ToBool(v), "%#v", v)
	}
}

func TestToTimestamp(t *testing.T) {
	assert.Equal(t, testNow, ToTimestamp(nil, testNow))
	assert.Equal(t, testNow, ToTimestamp("", testNow))
	assert.Equal(t, testNow, ToTimestamp("yesterday", testNow))
	assert.Equal(t, testNow, ToTimestamp(0.0, testNow))

	ms := float64(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli())
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ToTimestamp(ms, testNow))

	withZone := ToTimestamp("2024-06-01T12:00:00+03:00", testNow)
	assert.Equal(t, time.UTC, withZone.Location())
	assert.Equal(t, 9, withZone.Hour())
}

func TestToID(t *testing.T) {
	id, ok := ToID(42.0)
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	id, ok = ToID(1.5)
	assert.True(t, ok)
	assert.Equal(t, "1.5", id)

	_, ok = ToID("")
	assert.False(t, ok)

	for _, v := range []any{[]any{}, []any{"7"}, map[string]any{}, map[string]any{"x": 1.0}} {
		_, ok = ToID(v)
		assert.False(t, ok, "%v", v)
	}
}

func TestAliases_ResolveWorkerID(t *testing.T) {
	id, ok := DefaultAliases.ResolveWorkerID(Payload{"ID": "helmet-3"})
	assert.True(t, ok)
	assert.Equal(t, "helmet-3", id)

	_, ok = DefaultAliases.ResolveWorkerID(Payload{"name": "x"})
	assert.False(t, ok)
}

func TestPositiveAndNonZero(t *testing.T) {
	assert.Nil(t, Positive(0))
	assert.Nil(t, Positive(-3))
	require.NotNil(t, Positive(2))
	assert.Equal(t, 2.0, *Positive(2))

	assert.Nil(t, NonZero(0))
	require.NotNil(t, NonZero(-0.2))
	assert.Equal(t, -0.2, *NonZero(-0.2))
}
