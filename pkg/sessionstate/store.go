// Package sessionstate holds the per-session state of one browser session:
// the authenticated identity, transient UI selections and a read-through TTL
// cache for external service responses.
//
// Cache scoping policy: non-personalized responses (trending, search,
// details) go through the process-wide Cache shared by all sessions, while
// personalized data (watchlist, AI results) lives in a per-session region
// that ClearOnSignOut wipes. Per-user data must never leak into another
// identity's session.
package sessionstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/cinebase/cinebase/pkg/media"
)

// Clock returns the current time. It's injected so tests can simulate
// elapsed time deterministically.
type Clock func() time.Time

// FetchFunc performs the real network call on a cache miss.
type FetchFunc func() (interface{}, error)

// Field is one of the recognized transient UI selection fields.
type Field string

const (
	FieldCurrentPage   Field = "current_page"
	FieldSelectedMedia Field = "selected_media"
	FieldIdentity      Field = "identity"
	FieldLastAIResult  Field = "last_ai_result"
)

func validField(f Field) bool {
	switch f {
	case FieldCurrentPage, FieldSelectedMedia, FieldIdentity, FieldLastAIResult:
		return true
	}
	return false
}

// Entry is one cached response with its creation time. An entry is valid
// only while now-Created is below the TTL the reader passes; once invalid
// it's treated as absent and lazily overwritten on the next fetch.
type Entry struct {
	Value   interface{}
	Created time.Time
}

// Cache is the process-wide cache for non-personalized responses. It holds
// at most one Entry per key; Set replaces. Implementations must be safe for
// concurrent use by independent sessions.
type Cache interface {
	Get(key string) (Entry, bool)
	Set(key string, entry Entry)
	Delete(key string)
}

// Store is the session state of one browser session. The render flow within
// a session is effectively sequential, but a browser can issue overlapping
// requests, so access is still guarded.
type Store struct {
	mu         sync.RWMutex
	global     Cache
	user       map[string]Entry
	selections map[Field]string
	identity   *media.Identity
	clock      Clock
}

// NewStore creates a session store on top of the shared global cache.
// A nil clock means time.Now.
func NewStore(global Cache, clock Clock) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		global:     global,
		user:       map[string]Entry{},
		selections: map[Field]string{},
		clock:      clock,
	}
}

// GetOrFetch returns the globally cached value for key if it's younger than
// ttl, otherwise it invokes fetch. A successful fetch replaces any prior
// entry for key; a failed fetch caches nothing and the error propagates
// unchanged to the caller.
func (s *Store) GetOrFetch(key string, ttl time.Duration, fetch FetchFunc) (interface{}, error) {
	if entry, found := s.global.Get(key); found && s.clock().Sub(entry.Created) < ttl {
		return entry.Value, nil
	}
	value, err := fetch()
	if err != nil {
		return nil, err
	}
	s.global.Set(key, Entry{Value: value, Created: s.clock()})
	return value, nil
}

// GetOrFetchUser is GetOrFetch against the per-session user-scoped region,
// which ClearOnSignOut wipes. Expired entries are purged on read.
func (s *Store) GetOrFetchUser(key string, ttl time.Duration, fetch FetchFunc) (interface{}, error) {
	s.mu.Lock()
	if entry, found := s.user[key]; found {
		if s.clock().Sub(entry.Created) < ttl {
			s.mu.Unlock()
			return entry.Value, nil
		}
		delete(s.user, key)
	}
	s.mu.Unlock()

	value, err := fetch()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.user[key] = Entry{Value: value, Created: s.clock()}
	s.mu.Unlock()
	return value, nil
}

// InvalidateUser drops one user-scoped entry, for example the cached
// watchlist after an add or remove.
func (s *Store) InvalidateUser(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.user, key)
}

// SetSelection writes one transient UI selection field.
func (s *Store) SetSelection(field Field, value string) error {
	if !validField(field) {
		return fmt.Errorf("Unrecognized selection field: %q", field)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[field] = value
	return nil
}

// Selection reads one transient UI selection field. found is false when the
// field was never set (or was cleared on sign-out).
func (s *Store) Selection(field Field) (value string, found bool, err error) {
	if !validField(field) {
		return "", false, fmt.Errorf("Unrecognized selection field: %q", field)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, found = s.selections[field]
	return value, found, nil
}

// SetIdentity stores the authenticated identity and mirrors its opaque
// UserID into the identity selection field.
func (s *Store) SetIdentity(identity *media.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	if identity == nil {
		delete(s.selections, FieldIdentity)
	} else {
		s.selections[FieldIdentity] = identity.UserID
	}
}

// Identity returns the authenticated identity, or nil when signed out.
func (s *Store) Identity() *media.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// ClearOnSignOut removes the identity, all user-scoped cached entries and
// the per-user selections. The global cache and the current_page selection
// are kept: trending-style data isn't tied to a user, and the page the
// browser sits on is navigation, not user data.
func (s *Store) ClearOnSignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.user = map[string]Entry{}
	delete(s.selections, FieldIdentity)
	delete(s.selections, FieldSelectedMedia)
	delete(s.selections, FieldLastAIResult)
}

// UserEntryCount returns the number of user-scoped cache entries, expired
// ones included. Used by the status endpoint.
func (s *Store) UserEntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.user)
}
