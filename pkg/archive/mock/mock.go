// Package mock provides an in-memory [archive.Store] for tests.
//
// Search ranks by cosine distance like the real store, so tests can assert on
// ordering without a database.
package mock

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/scryer/pkg/archive"
)

// Compile-time interface check.
var _ archive.Store = (*Store)(nil)

// Store is a configurable test double for [archive.Store].
type Store struct {
	mu sync.Mutex

	// SaveErr is returned by [Store.Save] when non-nil.
	SaveErr error

	// SearchErr is returned by [Store.Search] when non-nil.
	SearchErr error

	// PingErr is returned by [Store.Ping].
	PingErr error

	sessions []archive.Session
}

// Save implements [archive.Store].
func (s *Store) Save(_ context.Context, sess archive.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	i := slices.IndexFunc(s.sessions, func(x archive.Session) bool { return x.ID == sess.ID })
	if i >= 0 {
		s.sessions[i] = sess
	} else {
		s.sessions = append(s.sessions, sess)
	}
	return nil
}

// Search implements [archive.Store].
func (s *Store) Search(_ context.Context, embedding []float32, topK int) ([]archive.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	matches := []archive.Match{}
	for _, sess := range s.sessions {
		if len(sess.Embedding) == 0 {
			continue
		}
		matches = append(matches, archive.Match{Session: sess, Distance: cosineDistance(embedding, sess.Embedding)})
	}
	slices.SortStableFunc(matches, func(a, b archive.Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if topK < len(matches) {
		matches = matches[:max(topK, 0)]
	}
	return matches, nil
}

// Ping implements [archive.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Sessions returns a copy of every saved session in insertion order.
func (s *Store) Sessions() []archive.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sessions)
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
