package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// MemoryStore keeps sessions in process memory. Expiry uses a lazily-checked
// timestamp on every access plus one periodic sweep over the whole store;
// there is never a timer per session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	ttl      time.Duration
	done     chan struct{}
	closeOne sync.Once
}

// NewMemoryStore creates an in-memory session store and starts its sweeper.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := applyOptions(opts)
	s := &MemoryStore{
		sessions: make(map[string]*models.Session),
		ttl:      cfg.TTL,
		done:     make(chan struct{}),
	}
	go s.sweep(cfg.SweepInterval)
	slog.Debug("MemoryStore created", "ttl", cfg.TTL, "sweep_interval", cfg.SweepInterval)
	return s
}

// GetOrCreate returns a copy of the live session or creates a fresh one at
// entryState. An expired session is replaced as if it never existed.
func (s *MemoryStore) GetOrCreate(ctx context.Context, sessionID, phoneNumber, entryState string) (*models.Session, bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok && !existing.Expired(s.ttl, now) {
		slog.Debug("MemoryStore.GetOrCreate: session found", "sessionID", sessionID, "state", existing.CurrentState)
		return existing.Clone(), false, nil
	}

	created := models.NewSession(sessionID, phoneNumber, entryState)
	s.sessions[sessionID] = created.Clone()
	slog.Debug("MemoryStore.GetOrCreate: session created", "sessionID", sessionID, "entry_state", entryState)
	return created, true, nil
}

// Save persists a copy of the session and refreshes its activity timestamp.
func (s *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	session.LastActivity = time.Now()

	s.mu.Lock()
	s.sessions[session.ID] = session.Clone()
	s.mu.Unlock()

	slog.Debug("MemoryStore.Save succeeded", "sessionID", session.ID, "state", session.CurrentState, "input_count", session.InputCount)
	return nil
}

// Delete removes the session if present.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	slog.Debug("MemoryStore.Delete succeeded", "sessionID", sessionID)
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the sweeper goroutine.
func (s *MemoryStore) Close() error {
	s.closeOne.Do(func() { close(s.done) })
	return nil
}

// sweep evicts expired sessions on a fixed cadence until Close.
func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			evicted := 0
			for id, sess := range s.sessions {
				if sess.Expired(s.ttl, now) {
					delete(s.sessions, id)
					evicted++
				}
			}
			remaining := len(s.sessions)
			s.mu.Unlock()
			if evicted > 0 {
				slog.Debug("MemoryStore sweep evicted expired sessions", "evicted", evicted, "remaining", remaining)
			}
		}
	}
}
