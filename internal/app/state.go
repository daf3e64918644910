package app

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/scryer/pkg/audio"
)

var (
	// ErrSessionActive is returned when starting a session while one is live.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when stopping without an active session.
	ErrNoSession = errors.New("app: no active session")

	// ErrStopInProgress is returned when a second stop races the first.
	ErrStopInProgress = errors.New("app: a stop is already in progress")
)

// Info is a snapshot of the current session.
type Info struct {
	Name      string
	Active    bool
	Stopping  bool
	GuildID   string
	ChannelID string
	StartedAt time.Time
	StartedBy string
}

// State is the single current-session record: the session name, the active
// flag and the voice connection. The three are set up and torn down together.
//
// State has a single writer at a time (the starter or the stop orchestrator)
// and is read by everyone. All methods are safe for concurrent use and never
// expose a partial update.
type State struct {
	mu        sync.RWMutex
	name      string
	active    bool
	stopping  bool
	conn      audio.Connection
	startedAt time.Time
	startedBy string
	now       func() time.Time

	// gen identifies the session claimed by the latest Begin.
	gen uint64
}

// NewState returns an idle State.
func NewState() *State {
	return &State{now: time.Now}
}

// Begin claims the state for a new session: it sets the name and the active
// flag atomically. It fails with [ErrSessionActive] while another session is
// live or still stopping.
//
// The returned generation identifies this session to [State.Attach] and
// [State.Abort].
func (s *State) Begin(name, startedBy string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.name != "" {
		return 0, ErrSessionActive
	}
	s.gen++
	s.name = name
	s.active = true
	s.startedAt = s.now()
	s.startedBy = startedBy
	return s.gen, nil
}

// Attach stores conn as the connection of session gen. It refuses, and
// stores nothing, when that session has ended or a stop has begun; the caller
// then owns conn.
func (s *State) Attach(gen uint64, conn audio.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.active || s.stopping {
		return false
	}
	s.conn = conn
	return true
}

// Abort rolls back session gen after a failed start. It does nothing and
// returns false when that session has ended or a stop has begun, since the
// stop then owns the teardown.
func (s *State) Abort(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.active || s.stopping {
		return false
	}
	s.clear()
	return true
}

// BeginStop marks the active session as stopping and returns its name. Only
// one caller wins; the others get [ErrNoSession] or [ErrStopInProgress].
func (s *State) BeginStop() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.active:
		return "", ErrNoSession
	case s.stopping:
		return "", ErrStopInProgress
	}
	s.stopping = true
	return s.name, nil
}

// End clears the whole record and returns the connection that was held, if
// any. The caller is responsible for disconnecting it.
func (s *State) End() audio.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.clear()
	return conn
}

func (s *State) clear() {
	s.name = ""
	s.active = false
	s.stopping = false
	s.conn = nil
	s.startedAt = time.Time{}
	s.startedBy = ""
}

// SetConnection stores the voice connection of the current session.
func (s *State) SetConnection(conn audio.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// Connection returns the stored connection if it belongs to guildID, and nil
// otherwise.
func (s *State) Connection(guildID string) audio.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil || s.conn.GuildID() != guildID {
		return nil
	}
	return s.conn
}

// ClearConnection forgets the stored connection and returns it.
func (s *State) ClearConnection() audio.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	return conn
}

// SetSessionName sets the session name.
func (s *State) SetSessionName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// SessionName returns the current session name, or "" when idle.
func (s *State) SessionName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetActive sets the active flag.
func (s *State) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// IsActive reports whether a session is live. A stopping session is still
// active until its orchestration finishes.
func (s *State) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Recording reports whether membership changes should drive pipelines: a
// session is active and not being stopped. Together with SessionName it
// satisfies recording.Session.
func (s *State) Recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active && !s.stopping
}

// Info returns a consistent snapshot of the record.
func (s *State) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		Name:      s.name,
		Active:    s.active,
		Stopping:  s.stopping,
		StartedAt: s.startedAt,
		StartedBy: s.startedBy,
	}
	if s.conn != nil {
		info.GuildID = s.conn.GuildID()
		info.ChannelID = s.conn.ChannelID()
	}
	return info
}
