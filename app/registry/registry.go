// Package registry keeps job records in an ordered in-memory list.
// Records are open-ended JSON objects; the registry assigns each one an integer id
// equal to its 1-based insertion position.
package registry

import (
	"encoding/json"
	"errors"
	"maps"
	"math"
	"sync"
)

// IDField is the key of the server-assigned identifier inside a job record
const IDField = "id"

// ErrNilJob returned by Add for a nil record
var ErrNilJob = errors.New("job record is nil")

// Job is a caller-supplied record with arbitrary JSON-compatible values
type Job map[string]any

// ID returns the server-assigned id, 0 if not assigned.
// Records decoded from json keep the id as json.Number or float64.
func (j Job) ID() int {
	switch id := j[IDField].(type) {
	case int:
		return id
	case int64:
		return int(id)
	case float64:
		if id != math.Trunc(id) {
			return 0
		}
		return int(id)
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

// Registry is an append-only ordered list of jobs, safe for concurrent use
type Registry struct {
	mu   sync.RWMutex
	jobs []Job
}

// New makes an empty Registry
func New() *Registry {
	return &Registry{jobs: []Job{}}
}

// Add stores a copy of the job with id set to the current length + 1, overwriting any
// caller-supplied id. Returns the stored copy.
func (r *Registry) Add(job Job) (Job, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	stored := maps.Clone(job)

	r.mu.Lock()
	defer r.mu.Unlock()
	stored[IDField] = len(r.jobs) + 1
	r.jobs = append(r.jobs, stored)
	return maps.Clone(stored), nil
}

// List returns copies of all jobs in insertion order, never nil
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		res = append(res, maps.Clone(j))
	}
	return res
}

// Len returns number of stored jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
