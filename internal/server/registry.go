package server

import (
	"sync"

	"github.com/quay/pipeline-results/internal/step"
)

type buildKey struct {
	job    string
	number int
}

// registry holds the runs still being recorded. Completed runs leave it
// and are read back from the database.
type registry struct {
	mu     sync.Mutex
	builds map[buildKey]*step.Build
}

func newRegistry() *registry {
	return &registry{builds: make(map[buildKey]*step.Build)}
}

func (r *registry) get(job string, number int) (*step.Build, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.builds[buildKey{job, number}]
	return b, ok
}

// getOrCreate returns the build for job/number, calling create when there
// is none yet.
func (r *registry) getOrCreate(job string, number int, create func() *step.Build) *step.Build {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := buildKey{job, number}
	if b, ok := r.builds[k]; ok {
		return b
	}
	b := create()
	r.builds[k] = b
	return b
}

func (r *registry) remove(job string, number int) {
	r.mu.Lock()
	delete(r.builds, buildKey{job, number})
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.builds)
}
