package state

import (
	"time"

	"github.com/ssd-technologies/hardhat/internal/alert"
)

// WorkerRecord is the merged live view of one worker. Records handed out by
// the Store are copies; pointer fields are replaced, never written through, so
// copies may be shared freely.
type WorkerRecord struct {
	WorkerID string `json:"workerId"`

	// Identity, read through from the registry on every merge.
	Name           *string `json:"name"`
	Phone          *string `json:"phone"`
	EmergencyPhone *string `json:"emergencyPhone"`
	Address        *string `json:"address"`

	// Helmet sensors. Nil means unknown.
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	GasLevel     *float64 `json:"gasLevel"`
	AccelX       *float64 `json:"accelX"`
	AccelY       *float64 `json:"accelY"`
	AccelZ       *float64 `json:"accelZ"`
	FallDetected bool     `json:"fallDetected"`
	MPUStatus    string   `json:"mpuStatus,omitempty"`

	// Phone location.
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	GPSAccuracy *float64 `json:"gpsAccuracy"`
	GPSSource   *string  `json:"gpsSource"`

	// Connectivity.
	HelmetConnected    bool       `json:"helmetConnected"`
	HelmetLastUpdate   *time.Time `json:"helmetLastUpdate"`
	PhoneConnected     bool       `json:"phoneConnected"`
	PhoneLastUpdate    *time.Time `json:"phoneLastUpdate"`
	PhoneLastHeartbeat *time.Time `json:"phoneLastHeartbeat"`

	// Derived on every merge.
	Status     alert.Status  `json:"status"`
	Alerts     []alert.Alert `json:"alerts"`
	LastUpdate time.Time     `json:"lastUpdate"`
}

// Identity is the registration data copied into a record.
type Identity struct {
	Name           *string
	Phone          *string
	EmergencyPhone *string
	Address        *string
}

// Directory resolves registration identity for a worker.
type Directory interface {
	Identity(workerID string) (Identity, bool)
}

// Update mutates a working copy of a record during a merge.
type Update func(r *WorkerRecord)

// reading extracts the inputs of the alert rules.
func (r *WorkerRecord) reading() alert.Reading {
	return alert.Reading{
		Temperature:  r.Temperature,
		GasLevel:     r.GasLevel,
		FallDetected: r.FallDetected,
	}
}

func (r *WorkerRecord) applyIdentity(id Identity) {
	r.Name = id.Name
	r.Phone = id.Phone
	r.EmergencyPhone = id.EmergencyPhone
	r.Address = id.Address
}
