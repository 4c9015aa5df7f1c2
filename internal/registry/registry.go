// Package registry keeps durable worker registration details.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/ssd-technologies/hardhat/internal/state"
)

// Info is the registration record for one worker.
type Info struct {
	WorkerID       string    `json:"workerId"`
	Name           string    `json:"name"`
	Phone          *string   `json:"phone"`
	EmergencyPhone *string   `json:"emergencyPhone"`
	Address        *string   `json:"address"`
	RegisteredAt   time.Time `json:"registeredAt"`
}

// Persister stores the full registration set.
type Persister interface {
	// Load returns previously saved registrations. A missing backing store is
	// not an error and yields an empty slice.
	Load() ([]Info, error)
	// Save replaces the stored set with infos.
	Save(infos []Info) error
}

// Registry is the in-memory authority for registrations. Every write is
// persisted synchronously; a persistence failure never rolls back memory.
type Registry struct {
	mu        sync.RWMutex
	infos     map[string]Info
	order     []string
	persister Persister
}

// New creates an empty Registry. A nil persister keeps registrations in
// memory only.
func New(p Persister) *Registry {
	return &Registry{
		infos:     make(map[string]Info),
		persister: p,
	}
}

// Load replaces the in-memory set with the persisted one and returns the
// number of registrations loaded.
func (r *Registry) Load() (int, error) {
	if r.persister == nil {
		return 0, nil
	}
	infos, err := r.persister.Load()
	if err != nil {
		return 0, fmt.Errorf("load registrations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = make(map[string]Info, len(infos))
	r.order = r.order[:0]
	for _, info := range infos {
		if info.WorkerID == "" {
			continue
		}
		if _, seen := r.infos[info.WorkerID]; !seen {
			r.order = append(r.order, info.WorkerID)
		}
		r.infos[info.WorkerID] = info
	}
	return len(r.infos), nil
}

// Register creates or overwrites the registration for info.WorkerID and
// persists the set. The returned Info is always the stored value; a non-nil
// error reports only a persistence failure.
func (r *Registry) Register(info Info) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.infos[info.WorkerID]; !exists {
		r.order = append(r.order, info.WorkerID)
	}
	r.infos[info.WorkerID] = info

	if r.persister == nil {
		return info, nil
	}
	// Saving under the lock keeps the persisted order equal to the write order.
	if err := r.persister.Save(r.listLocked()); err != nil {
		return info, fmt.Errorf("persist registration %s: %w", info.WorkerID, err)
	}
	return info, nil
}

// Lookup returns the registration for workerID.
func (r *Registry) Lookup(workerID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[workerID]
	return info, ok
}

// List returns all registrations in first-registered order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.infos[id])
	}
	return out
}

// Identity implements state.Directory.
func (r *Registry) Identity(workerID string) (state.Identity, bool) {
	info, ok := r.Lookup(workerID)
	if !ok {
		return state.Identity{}, false
	}
	name := info.Name
	return state.Identity{
		Name:           &name,
		Phone:          info.Phone,
		EmergencyPhone: info.EmergencyPhone,
		Address:        info.Address,
	}, true
}

// OptionalString returns nil for an empty string.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
