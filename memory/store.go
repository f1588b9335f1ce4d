package memory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/poiesic/ragchat/core"
)

// DefaultCapacity is the number of turns kept per session.
const DefaultCapacity = 5

// Store keeps the most recent question/answer turns of each chat session.
// Sessions are created lazily on first append and live for the lifetime
// of the Store. Appends to different sessions never contend.
type Store struct {
	capacity int
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*ring
}

// Option configures a Store.
type Option func(*Store) error

// WithCapacity sets how many turns each session keeps.
func WithCapacity(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("%w: memory capacity must be positive, got %d", core.ErrInvalidConfiguration, n)
		}
		s.capacity = n
		return nil
	}
}

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "memory")
		return nil
	}
}

// NewStore creates an empty session memory.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		capacity: DefaultCapacity,
		logger:   slog.Default().With("component", "memory"),
		sessions: make(map[string]*ring),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Capacity returns the per-session turn limit.
func (s *Store) Capacity() int {
	return s.capacity
}

// History returns a copy of the session's turns, oldest first.
// Unknown sessions have an empty history.
func (s *Store) History(sessionID string) []core.SessionTurn {
	s.mu.RLock()
	r, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return []core.SessionTurn{}
	}
	return r.snapshot()
}

// Append records a turn, evicting the oldest one when the session is full.
func (s *Store) Append(sessionID, question, answer string) {
	s.session(sessionID).push(core.SessionTurn{Question: question, Answer: answer})
	s.logger.Debug("recorded turn", "session", sessionID)
}

// Len returns the number of turns held for the session.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	r, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.len()
}

// Sessions returns the known session IDs, sorted.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) session(sessionID string) *ring {
	s.mu.RLock()
	r, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another writer may have created it between the two locks
	if r, ok = s.sessions[sessionID]; !ok {
		r = newRing(s.capacity)
		s.sessions[sessionID] = r
	}
	return r
}
