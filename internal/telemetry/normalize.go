// Package telemetry turns loosely-typed helmet payloads into typed readings.
//
// Embedded senders are inconsistent about key spelling and value types, so
// every logical field is looked up through an ordered alias list and coerced
// to a safe default instead of failing.
package telemetry

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingWorkerID is returned when no identifier alias yields a value.
var ErrMissingWorkerID = errors.New("workerId is required")

// Payload is an inbound body decoded without a schema.
type Payload map[string]any

// Aliases lists the accepted keys for each logical field, in lookup order.
type Aliases struct {
	WorkerID     []string
	Temperature  []string
	Humidity     []string
	GasLevel     []string
	AccelX       []string
	AccelY       []string
	AccelZ       []string
	FallDetected []string
	MPUStatus    []string
	Timestamp    []string
}

// DefaultAliases are the spellings observed from deployed helmet firmware.
var DefaultAliases = Aliases{
	WorkerID:     []string{"workerId", "worker_id", "id", "ID"},
	Temperature:  []string{"temperature", "temp", "Temp", "bodyTemperature", "bodyTemp"},
	Humidity:     []string{"humidity", "humid", "Humidity", "hum"},
	GasLevel:     []string{"gasLevel", "gas", "Gas", "gas_level"},
	AccelX:       []string{"accelX", "accel_x", "ax", "accelerationX"},
	AccelY:       []string{"accelY", "accel_y", "ay", "accelerationY"},
	AccelZ:       []string{"accelZ", "accel_z", "az", "accelerationZ"},
	FallDetected: []string{"fallDetected", "fall", "fall_detected", "isFallen"},
	MPUStatus:    []string{"mpuStatus", "mpu_status", "mpu", "status"},
	Timestamp:    []string{"timestamp", "time", "Time", "date"},
}

// UnknownMPUStatus is used when the sender omits the motion sensor status.
const UnknownMPUStatus = "unknown"

// Reading is a normalized helmet sample. Numeric fields are 0 when absent or
// malformed; callers decide whether 0 means "unknown".
type Reading struct {
	WorkerID     string
	Temperature  float64
	Humidity     float64
	GasLevel     float64
	AccelX       float64
	AccelY       float64
	AccelZ       float64
	FallDetected bool
	MPUStatus    string
	Timestamp    time.Time
}

// Normalize resolves p against DefaultAliases.
func Normalize(p Payload, now time.Time) (Reading, error) {
	return DefaultAliases.Normalize(p, now)
}

// Normalize resolves p against a. now substitutes for a missing or
// unparseable timestamp.
func (a Aliases) Normalize(p Payload, now time.Time) (Reading, error) {
	pick := func(keys []string) any {
		v, _ := PickFirst(p, keys)
		return v
	}

	id, ok := ToID(pick(a.WorkerID))
	if !ok {
		return Reading{}, ErrMissingWorkerID
	}

	mpu := UnknownMPUStatus
	if v := pick(a.MPUStatus); truthy(v) {
		mpu = toString(v)
	}

	return Reading{
		WorkerID:     id,
		Temperature:  ToNumber(pick(a.Temperature)),
		Humidity:     ToNumber(pick(a.Humidity)),
		GasLevel:     ToNumber(pick(a.GasLevel)),
		AccelX:       ToNumber(pick(a.AccelX)),
		AccelY:       ToNumber(pick(a.AccelY)),
		AccelZ:       ToNumber(pick(a.AccelZ)),
		FallDetected: ToBool(pick(a.FallDetected)),
		MPUStatus:    mpu,
		Timestamp:    ToTimestamp(pick(a.Timestamp), now),
	}, nil
}

// ResolveWorkerID resolves only the identifier of p.
func (a Aliases) ResolveWorkerID(p Payload) (string, bool) {
	v, _ := PickFirst(p, a.WorkerID)
	return ToID(v)
}

// PickFirst returns the value of the first key present in p. A present key
// wins even when its value is empty.
func PickFirst(p Payload, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// ToNumber coerces v to a finite float64, returning 0 for anything that is
// absent, non-numeric, NaN or infinite.
func ToNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case bool:
		if n {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case interface{ Float64() (float64, error) }:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ToBool reports a fall flag: boolean true, the string "true", or 1 / "1".
func ToBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	case float64:
		return b == 1
	case int:
		return b == 1
	case int64:
		return b == 1
	}
	return false
}

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ToTimestamp parses v as an instant. Numbers are epoch milliseconds. Missing
// or unparseable input yields now. The result is always UTC.
func ToTimestamp(v any, now time.Time) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
	case float64:
		if t != 0 && !math.IsNaN(t) && !math.IsInf(t, 0) {
			return time.UnixMilli(int64(t)).UTC()
		}
	case int64:
		if t != 0 {
			return time.UnixMilli(t).UTC()
		}
	case time.Time:
		if !t.IsZero() {
			return t.UTC()
		}
	}
	return now.UTC()
}

// ToID stringifies a non-empty scalar identifier. Objects and arrays have no
// identifier form and are rejected.
func ToID(v any) (string, bool) {
	if !truthy(v) {
		return "", false
	}
	id := toString(v)
	if id == "" {
		return "", false
	}
	return id, true
}

// truthy mirrors the loose "has a value" test embedded senders rely on:
// nil, false, 0, NaN and "" count as absent.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case interface{ String() string }:
		return t.String()
	}
	return ""
}

// Positive returns &v when v > 0 and nil otherwise. Helmet firmware reports 0
// for sensors it could not read, so non-positive readings are stored as unknown.
func Positive(v float64) *float64 {
	if v > 0 {
		return &v
	}
	return nil
}

// NonZero returns &v unless v is exactly 0.
func NonZero(v float64) *float64 {
	if v != 0 {
		return &v
	}
	return nil
}
