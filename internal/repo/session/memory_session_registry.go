package session

import (
	"context"
	"sync"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
)

// MemorySessionRegistry implements Registry with an in-process map. All state
// is lost on restart, which is the required behavior for session endpoints.
type MemorySessionRegistry struct {
	sessions map[domain.UserID]domain.ActiveSession
	m        sync.Mutex
	log      logging.Logger

	userLocks map[domain.UserID]*sync.Mutex
	lockM     sync.Mutex
}

var _ Registry = (*MemorySessionRegistry)(nil)

// NewMemorySessionRegistry creates an empty registry.
func NewMemorySessionRegistry() *MemorySessionRegistry {
	return &MemorySessionRegistry{
		sessions:  make(map[domain.UserID]domain.ActiveSession),
		log:       logging.GetLogger("repo.session.memory_session_registry"),
		userLocks: make(map[domain.UserID]*sync.Mutex),
	}
}

// Register implements Registry.Register. The check and the insert happen under
// one mutex hold, so two concurrent logins for the same user cannot both
// succeed.
func (r *MemorySessionRegistry) Register(
	ctx context.Context,
	userID domain.UserID,
	username string,
	endpoint string,
) (domain.ActiveSession, error) {
	r.m.Lock()
	defer r.m.Unlock()

	if existing, ok := r.sessions[userID]; ok {
		r.log.WarnContext(ctx, "duplicate login rejected", logging.Group("session",
			"user", int64(userID),
			"endpoint", existing.Endpoint,
		))

		return domain.ActiveSession{}, domain.ErrSessionExists
	}

	session := domain.ActiveSession{
		UserID:   userID,
		Username: username,
		Endpoint: endpoint,
	}
	r.sessions[userID] = session

	r.log.DebugContext(ctx, "session registered", logging.Group("session",
		"user", int64(userID),
		"endpoint", endpoint,
	))

	return session, nil
}

// Lookup implements Registry.Lookup.
func (r *MemorySessionRegistry) Lookup(ctx context.Context, userID domain.UserID) (string, error) {
	r.m.Lock()
	defer r.m.Unlock()

	session, ok := r.sessions[userID]
	if !ok {
		return "", domain.ErrSessionNotFound
	}

	return session.Endpoint, nil
}

// Remove implements Registry.Remove.
func (r *MemorySessionRegistry) Remove(ctx context.Context, userID domain.UserID) error {
	r.m.Lock()
	defer r.m.Unlock()

	if _, ok := r.sessions[userID]; !ok {
		return domain.ErrSessionNotFound
	}

	delete(r.sessions, userID)

	r.log.DebugContext(ctx, "session removed", logging.Group("session",
		"user", int64(userID),
	))

	return nil
}

// LockUser implements Registry.LockUser with one lazily created mutex per
// user identity. Locks are never reclaimed; the map grows with the number of
// distinct users seen, which is bounded by the user table.
func (r *MemorySessionRegistry) LockUser(userID domain.UserID) func() {
	r.lockM.Lock()

	lock, ok := r.userLocks[userID]
	if !ok {
		lock = new(sync.Mutex)
		r.userLocks[userID] = lock
	}

	r.lockM.Unlock()

	lock.Lock()

	return lock.Unlock
}
