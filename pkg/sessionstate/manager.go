package sessionstate

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Manager maps session IDs to their stores. Each browser session owns an
// independent Store; the only state shared between sessions is the global
// cache the stores are created with. Sessions expire after sitting idle for
// the configured TTL, which destroys the identity held by the store.
type Manager struct {
	sessions *gocache.Cache
	global   Cache
	clock    Clock
	logger   *zap.Logger
}

// NewManager creates a session manager whose sessions expire after
// sessionTTL of inactivity. A nil clock means time.Now.
func NewManager(global Cache, sessionTTL time.Duration, clock Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		sessions: gocache.New(sessionTTL, 10*time.Minute),
		global:   global,
		clock:    clock,
		logger:   logger,
	}
}

// Session returns the store for id. Access refreshes the idle expiry.
func (m *Manager) Session(id string) (*Store, bool) {
	storeIface, found := m.sessions.Get(id)
	if !found {
		return nil, false
	}
	store, ok := storeIface.(*Store)
	if !ok {
		// Can't happen unless someone writes to the cache directly.
		m.logger.Error("Session cache held an unexpected type", zap.String("sessionID", id))
		return nil, false
	}
	// Sliding expiry: touching the session keeps it alive.
	m.sessions.SetDefault(id, store)
	return store, true
}

// Create starts a new session and returns its ID and store.
func (m *Manager) Create() (string, *Store) {
	id := uuid.New().String()
	store := NewStore(m.global, m.clock)
	m.sessions.SetDefault(id, store)
	m.logger.Debug("Created session", zap.String("sessionID", id))
	return id, store
}

// Delete tears down a session. Absence is not an error.
func (m *Manager) Delete(id string) {
	m.sessions.Delete(id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.sessions.ItemCount()
}
