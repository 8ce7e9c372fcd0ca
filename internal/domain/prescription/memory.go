package prescription

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a prescription id does not resolve.
var ErrNotFound = errors.New("prescription not found")

// MemoryDirectory is an in-memory Directory, used in tests and when the
// service runs without a doctor-module endpoint.
type MemoryDirectory struct {
	mu            sync.RWMutex
	prescriptions map[string]*Prescription
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{prescriptions: make(map[string]*Prescription)}
}

// Add stores or replaces a prescription.
func (d *MemoryDirectory) Add(p *Prescription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	d.prescriptions[p.ID] = &cp
}

// Get implements Directory.
func (d *MemoryDirectory) Get(_ context.Context, id string) (*Prescription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.prescriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListIssued implements Directory.
func (d *MemoryDirectory) ListIssued(_ context.Context) ([]*Prescription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Prescription, 0, len(d.prescriptions))
	for _, p := range d.prescriptions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}
