package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/z-tavern/relay/internal/metrics"
	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
)

var (
	ErrKeyRequired     = errors.New("session key is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Factory builds the opening system message of a new transcript. It runs
// while the key is still absent from the registry; an error leaves it absent.
type Factory func() (chat.Message, error)

// InitFunc runs with exclusive access to a freshly created session, before
// any other accessor can reach it.
type InitFunc func(s *Session)

// Session is the live transcript for one key. Its methods are only safe to
// call from inside Registry.Do or an InitFunc.
type Session struct {
	mu        sync.Mutex
	key       string
	messages  []chat.Message
	createdAt time.Time
	removed   atomic.Bool
}

func newSession(key string, first chat.Message) *Session {
	messages := make([]chat.Message, 1, 16)
	messages[0] = first
	return &Session{
		key:       key,
		messages:  messages,
		createdAt: time.Now().UTC(),
	}
}

// Key returns the registry key the session is stored under.
func (s *Session) Key() string { return s.key }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Len returns the transcript length.
func (s *Session) Len() int { return len(s.messages) }

// Messages returns a copy of the transcript.
func (s *Session) Messages() []chat.Message {
	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Append adds messages to the end of the transcript in order.
func (s *Session) Append(messages ...chat.Message) {
	s.messages = append(s.messages, messages...)
}

// Options configures a Registry.
type Options struct {
	// Capacity bounds the number of live sessions. Zero keeps every session
	// for the life of the process; a positive value evicts the least recently
	// used session when a new one is added.
	Capacity int
	Logger   *slog.Logger
}

// Registry maps session keys to transcripts. Access to a single transcript is
// serialized; different keys proceed independently.
type Registry struct {
	mu       sync.Mutex
	sessions store
	log      *slog.Logger
}

// NewRegistry builds a registry with the capacity strategy described by opts.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("invalid session capacity %d", opts.Capacity)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{log: logger.With("component", "registry")}

	if opts.Capacity == 0 {
		r.sessions = newUnboundedStore()
		return r, nil
	}

	bounded, err := newLRUStore(opts.Capacity, r.evicted)
	if err != nil {
		return nil, err
	}
	r.sessions = bounded
	return r, nil
}

// GetOrCreate returns the session stored under key, creating it from factory
// when absent. created reports whether this call created it; onCreate, when set,
// runs only in that case.
func (r *Registry) GetOrCreate(key string, factory Factory, onCreate InitFunc) (session *Session, created bool, err error) {
	if key == "" {
		return nil, false, ErrKeyRequired
	}

	r.mu.Lock()
	if existing, ok := r.sessions.Get(key); ok {
		r.mu.Unlock()
		return existing, false, nil
	}

	first, err := factory()
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}

	session = newSession(key, first)
	// Lock before publishing so onCreate completes ahead of any Do on this key.
	session.mu.Lock()
	r.sessions.Add(key, session)
	size := r.sessions.Len()
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(size))
	metrics.SessionsCreated.Inc()
	r.log.Debug("session created", "key", key, "sessions", size)

	defer session.mu.Unlock()
	if onCreate != nil {
		onCreate(session)
	}
	return session, true, nil
}

// Do runs fn with exclusive access to the session stored under key.
func (r *Registry) Do(key string, fn func(s *Session) error) error {
	r.mu.Lock()
	session, ok := r.sessions.Get(key)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	// The session may have been evicted while this caller waited.
	if session.removed.Load() {
		return ErrSessionNotFound
	}
	return fn(session)
}

// Append adds message to the end of the transcript stored under key.
func (r *Registry) Append(key string, message chat.Message) error {
	return r.Do(key, func(s *Session) error {
		s.Append(message)
		return nil
	})
}

// Snapshot returns a copy of the transcript stored under key.
func (r *Registry) Snapshot(key string) ([]chat.Message, error) {
	var messages []chat.Message
	err := r.Do(key, func(s *Session) error {
		messages = s.Messages()
		return nil
	})
	return messages, err
}

// Remove drops the session stored under key. It reports whether one existed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	session, ok := r.sessions.Get(key)
	if ok {
		session.removed.Store(true)
		r.sessions.Remove(key)
	}
	size := r.sessions.Len()
	r.mu.Unlock()

	if ok {
		metrics.SessionsActive.Set(float64(size))
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}

// evicted is called by the bounded store with r.mu held.
func (r *Registry) evicted(key string, session *Session) {
	session.removed.Store(true)
	metrics.SessionsEvicted.Inc()
	r.log.Info("session evicted", "key", key, "age", time.Since(session.createdAt).Round(time.Second))
}
