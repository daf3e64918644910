package recording

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrAlreadyRegistered is returned by [Registry.Register] when the user already
// has a pipeline.
var ErrAlreadyRegistered = errors.New("recording: user already has an active pipeline")

// Active describes one running pipeline.
type Active struct {
	UserID    string
	Username  string
	FilePath  string
	StartedAt time.Time
}

// Registry maps user IDs to their running capture pipeline. A user present in
// the registry has an encoder that is running or gracefully closing.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

// Register adds p under its user ID. The previous pipeline for that user must
// have been unregistered first.
func (r *Registry) Register(p *Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.userID]; ok {
		return ErrAlreadyRegistered
	}
	r.pipelines[p.userID] = p
	return nil
}

// Unregister removes userID. It is a no-op for unknown users.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipelines, userID)
}

// remove unregisters p only if it is still the pipeline registered for its
// user, so a late exit notification cannot evict a newer pipeline.
func (r *Registry) remove(p *Pipeline) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipelines[p.userID] != p {
		return false
	}
	delete(r.pipelines, p.userID)
	return true
}

// Get returns the pipeline for userID, or nil.
func (r *Registry) Get(userID string) *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines[userID]
}

// Len returns the number of registered pipelines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}

// ListActive returns a snapshot of all registered pipelines, oldest first.
func (r *Registry) ListActive() []Active {
	r.mu.Lock()
	out := make([]Active, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p.info())
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Active) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.UserID < b.UserID {
			return -1
		}
		if a.UserID > b.UserID {
			return 1
		}
		return 0
	})
	return out
}
