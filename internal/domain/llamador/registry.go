package llamador

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry holds every call record of the process lifetime in arrival
// order. Records are never removed, so memory grows with traffic until the
// process restarts.
//
// Callers only ever see copies. Mutate is the single write path and runs
// under the registry lock, which makes a check-then-set on one record atomic
// with respect to every other caller.
type Registry struct {
	mu      sync.RWMutex
	records []*CallRecord
	byID    map[string]*CallRecord
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*CallRecord)}
}

// Append stores rec, generating an id when rec.ID is empty, and returns the
// stored copy.
func (r *Registry) Append(rec CallRecord) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
		for r.byID[rec.ID] != nil {
			rec.ID = uuid.New().String()
		}
	} else if r.byID[rec.ID] != nil {
		return CallRecord{}, fmt.Errorf("append %s: %w", rec.ID, ErrDuplicateID)
	}

	stored := rec
	r.records = append(r.records, &stored)
	r.byID[stored.ID] = &stored
	return stored, nil
}

func (r *Registry) FindByID(id string) (CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return CallRecord{}, fmt.Errorf("find %s: %w", id, ErrNotFound)
	}
	return *rec, nil
}

// All returns every record in insertion order.
func (r *Registry) All() []CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CallRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// ByBranch returns the records of one branch in insertion order.
func (r *Registry) ByBranch(branch string) []CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CallRecord, 0)
	for _, rec := range r.records {
		if rec.Branch == branch {
			out = append(out, *rec)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Mutate applies fn to a copy of the record and, if fn returns nil, stores
// the call-state fields (Called, Locked, AssignedBox) back. Every other field
// is immutable and changes made to it by fn are discarded. An error from fn
// aborts the mutation and is returned as is.
func (r *Registry) Mutate(id string, fn func(rec *CallRecord) error) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return CallRecord{}, fmt.Errorf("mutate %s: %w", id, ErrNotFound)
	}

	working := *stored
	if err := fn(&working); err != nil {
		return *stored, err
	}

	stored.Called = working.Called
	stored.Locked = working.Locked
	stored.AssignedBox = working.AssignedBox
	return *stored, nil
}
