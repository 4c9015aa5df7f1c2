package ingest

import (
	"time"

	"github.com/ssd-technologies/hardhat/internal/telemetry"
)

// Registration is a request to register a worker.
type Registration struct {
	WorkerID       string `json:"workerId"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	EmergencyPhone string `json:"emergencyPhone,omitempty"`
	Address        string `json:"address,omitempty"`
}

// Location is a phone position fix.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Timestamp time.Time
	Source    string
}

// RegistrationFromPayload reads a registration from a loosely typed body.
// Numeric identifiers are stringified.
func RegistrationFromPayload(p telemetry.Payload) Registration {
	str := func(key string) string {
		s, _ := telemetry.ToID(p[key])
		return s
	}
	return Registration{
		WorkerID:       str("workerId"),
		Name:           str("name"),
		Phone:          str("phone"),
		EmergencyPhone: str("emergencyPhone"),
		Address:        str("address"),
	}
}

// LocationFromPayload reads a location fix. Missing or malformed numbers
// become 0 and a missing timestamp becomes now.
func LocationFromPayload(p telemetry.Payload, now time.Time) Location {
	pick := func(keys ...string) any {
		v, _ := telemetry.PickFirst(p, keys)
		return v
	}
	source, _ := telemetry.ToID(pick("source"))
	return Location{
		Latitude:  telemetry.ToNumber(pick("latitude", "lat")),
		Longitude: telemetry.ToNumber(pick("longitude", "lng", "lon")),
		Accuracy:  telemetry.ToNumber(pick("accuracy")),
		Timestamp: telemetry.ToTimestamp(pick("timestamp"), now),
		Source:    source,
	}
}
