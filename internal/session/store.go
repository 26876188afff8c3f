// Package session provides storage backends for UssdPipe dialogue sessions.
//
// Stores hand out defensive copies and make expired sessions
// indistinguishable from absent ones, so a lapsed dialogue restarts cleanly
// at the entry state.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// Default expiry configuration
const (
	// DefaultTTL is the inactivity window after which a session expires.
	DefaultTTL = 120 * time.Second
	// DefaultSweepInterval is how often the in-memory store evicts expired
	// sessions. Expiry is also checked lazily on every access, so the sweep
	// only bounds memory, never correctness.
	DefaultSweepInterval = 30 * time.Second
)

// Store is the session storage contract consumed by the dispatch engine.
type Store interface {
	// GetOrCreate returns the live session for sessionID or atomically
	// creates a fresh one positioned at entryState. The bool reports
	// whether a new session was created.
	GetOrCreate(ctx context.Context, sessionID, phoneNumber, entryState string) (*models.Session, bool, error)

	// Save persists the session and refreshes its last-activity timestamp.
	Save(ctx context.Context, session *models.Session) error

	// Delete removes the session if present.
	Delete(ctx context.Context, sessionID string) error

	// Close releases store resources.
	Close() error
}

// Opts holds configuration options shared by the store backends.
type Opts struct {
	TTL           time.Duration
	SweepInterval time.Duration
	KeyPrefix     string
	RedisAddr     string
}

// Option defines a configuration option for a session store.
type Option func(*Opts)

// WithTTL overrides the session inactivity window.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithSweepInterval overrides the in-memory eviction cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = interval }
}

// WithKeyPrefix overrides the Redis key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// WithRedisAddr selects the Redis backend at the given address.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// New creates the session store backend matching the options: Redis when an
// address is configured, in-memory otherwise.
func New(opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	if cfg.RedisAddr == "" {
		slog.Debug("No Redis address configured, using in-memory session store")
		return NewMemoryStore(opts...), nil
	}
	slog.Debug("Using Redis session store", "addr", cfg.RedisAddr)
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), opts...)
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{TTL: DefaultTTL, SweepInterval: DefaultSweepInterval, KeyPrefix: "ussdpipe:session:"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
