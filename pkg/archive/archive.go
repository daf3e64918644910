// Package archive defines long-term storage of finished sessions.
//
// Every session that stops successfully is archived with its summary, its full
// transcript and an embedding of the summary. The embedding powers semantic
// recall ("when did we fight the lich?") across all past sessions.
//
// Every implementation must be safe for concurrent use.
package archive

import (
	"context"
	"time"
)

// Session is one archived recording session.
type Session struct {
	// ID is a unique identifier assigned by the caller (a UUID in practice).
	ID string

	// Name is the session name chosen by the operator. Names are not unique
	// across the archive; the same name may be recorded twice.
	Name string

	Summary    string
	Transcript string

	// TranscriptionFile is the on-disk transcript the row was built from.
	TranscriptionFile string

	// Embedding is the vector of Summary. Its length must match the
	// dimension the store was created with.
	Embedding []float32

	CreatedAt time.Time
}

// Match is a search result.
type Match struct {
	Session Session

	// Distance is the cosine distance to the query; lower is more similar.
	Distance float64
}

// Store persists and searches archived sessions.
type Store interface {
	// Save inserts s, replacing an existing row with the same ID.
	Save(ctx context.Context, s Session) error

	// Search returns up to topK sessions ordered by ascending cosine distance
	// of their embedding to the query embedding.
	Search(ctx context.Context, embedding []float32, topK int) ([]Match, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
