// Package session caches tool-provider sessions per (user, conversation)
// key with a TTL. Expired entries are discarded and recreated, never
// refreshed in place. The cache is the only resource shared across
// concurrently running conversations; lookups for different keys never
// block each other.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loopkit/loopkit/core"
	"github.com/loopkit/loopkit/logging"
	"github.com/loopkit/loopkit/provider"
)

// DefaultTTL is the default session lifetime.
const DefaultTTL = time.Hour

// Options configure a Manager.
type Options struct {
	TTL    time.Duration
	Logger logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type cacheKey struct {
	userID         string
	conversationID string
}

// entry guards one key's session with its own lock so that creation for one
// key never blocks lookups for another.
type entry struct {
	mu   sync.Mutex
	sess *core.Session
}

// Manager creates, caches and invalidates tool-provider sessions. Safe for
// concurrent use.
type Manager struct {
	provider provider.ToolProvider
	ttl      time.Duration
	logger   logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]*entry
}

// NewManager constructs a Manager over the given tool provider.
func NewManager(tp provider.ToolProvider, optFns ...func(o *Options)) *Manager {
	opts := Options{
		TTL:    DefaultTTL,
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		provider: tp,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      opts.Now,
		entries:  map[cacheKey]*entry{},
	}
}

// Get returns a valid session for the key, creating one on miss or expiry.
// The provider call is made at most once per concurrent miss on the same
// key; no retry happens at this layer — retries belong to the recovery
// policy wrapping the call site. If creation fails or is cancelled, no
// partial entry is left behind.
func (m *Manager) Get(ctx context.Context, userID, conversationID string) (*core.Session, error) {
	e := m.entryFor(cacheKey{userID, conversationID})

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil && !e.sess.Expired(m.now(), m.ttl) {
		m.logger.Debug("session.cache.hit", "session_id", e.sess.ID, "user_id", userID)
		return e.sess, nil
	}

	// Discard the stale handle before asking the provider for a new one.
	if e.sess != nil {
		m.logger.Debug("session.cache.expired", "session_id", e.sess.ID, "user_id", userID)
		e.sess = nil
	}

	sess, err := m.provider.CreateSession(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = m.now()
	}

	e.sess = sess
	m.logger.Info("session.created", "session_id", sess.ID, "user_id", userID, "conversation_id", conversationID)
	return sess, nil
}

// Invalidate removes the cached entry unconditionally. Used when the
// provider reports the session is no longer valid mid-conversation.
func (m *Manager) Invalidate(userID, conversationID string) {
	m.mu.Lock()
	delete(m.entries, cacheKey{userID, conversationID})
	m.mu.Unlock()
	m.logger.Debug("session.invalidated", "user_id", userID, "conversation_id", conversationID)
}

// Sweep prunes expired entries. Correctness does not depend on calling it;
// expiry is also checked lazily on Get.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		// TryLock: an entry busy creating a session is by definition not stale.
		if !e.mu.TryLock() {
			continue
		}
		// Empty entries are left alone: a concurrent Get may already hold a
		// reference and be about to commit its session into it. Deleting it
		// here would orphan that session and duplicate the next creation.
		expired := e.sess != nil && e.sess.Expired(now, m.ttl)
		e.mu.Unlock()
		if expired {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// entryFor returns the entry for key, allocating it under the map lock. The
// map lock is held only for the lookup so distinct keys proceed in parallel.
func (m *Manager) entryFor(k cacheKey) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok {
		e = &entry{}
		m.entries[k] = e
	}
	return e
}
