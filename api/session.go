package api

import (
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// sessionState is the position of a session in the login state machine.
// Transitions only move forward (Anonymous -> PendingMFA -> Authenticated);
// logout and explicit resets destroy the session instead of rewinding it.
type sessionState string

const (
	stateAnonymous     sessionState = "anonymous"
	statePendingMFA    sessionState = "pending_mfa"
	stateAuthenticated sessionState = "authenticated"
)

// session is the server-side record behind one session cookie. The zero
// value is not valid; newSession stamps the lifetime fields.
type session struct {
	State sessionState

	// CandidateSubject is set after a successful provider callback and
	// promoted to Subject only once an MFA factor verifies.
	CandidateSubject string
	Subject          string
	MFAMethod        string
	AuthenticatedAt  time.Time

	// Transient OIDC transaction fields, cleared by the callback.
	OIDCState    string
	OIDCNonce    string
	PKCEVerifier string

	// WebAuthn ceremony state, bound server-side so the challenge is
	// never accepted from the client.
	WebAuthnSession *webauthn.SessionData
	WebAuthnExpiry  time.Time

	CSRFToken string

	CreatedAt time.Time
	// ExpiresAt is fixed at creation; the cookie lifetime never slides.
	ExpiresAt time.Time
}

const (
	sessionTTL          = 12 * time.Hour
	sessionSweepEvery   = 5 * time.Minute
	webauthnCeremonyTTL = 5 * time.Minute
)

func newSession(now time.Time) session {
	return session{
		State:     stateAnonymous,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
}

// sessionStore abstracts session CRUD so tests can observe and seed state
// directly.
type sessionStore interface {
	// Get retrieves a session by token. Returns false if the session
	// does not exist or has expired.
	Get(token string) (session, bool)
	// Put creates or updates a session for the given token.
	Put(token string, s session)
	// Delete removes a session by token.
	Delete(token string)
}

// memorySessionStore is a thread-safe in-memory sessionStore. Sessions are
// lost on restart, which is the intended single-instance behavior.
type memorySessionStore struct {
	mu   sync.RWMutex
	data map[string]session

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ sessionStore = (*memorySessionStore)(nil)

func newMemorySessionStore() *memorySessionStore {
	s := &memorySessionStore{
		data:   make(map[string]session),
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *memorySessionStore) Get(token string) (session, bool) {
	s.mu.RLock()
	sess, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return session{}, false
	}
	if time.Now().After(sess.ExpiresAt) {
		s.Delete(token)
		return session{}, false
	}
	return sess, true
}

func (s *memorySessionStore) Put(token string, sess session) {
	s.mu.Lock()
	s.data[token] = sess
	s.mu.Unlock()
}

func (s *memorySessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}

// Close stops the background expiry sweep.
func (s *memorySessionStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *memorySessionStore) sweepLoop() {
	ticker := time.NewTicker(sessionSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired(time.Now())
		}
	}
}

func (s *memorySessionStore) sweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.data {
		if now.After(sess.ExpiresAt) {
			delete(s.data, token)
		}
	}
}
