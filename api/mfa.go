package api

import (
	"net/http"
	"time"

	"github.com/mlindgren/vitrine/internal/uuid"
)

// mfaMethod tags which local factor completed authentication. The session
// records exactly one; there is no untagged authenticated state.
type mfaMethod string

const (
	mfaMethodWebAuthn mfaMethod = "webauthn"
	mfaMethodTOTP     mfaMethod = "totp"
)

// completeAuthentication promotes a PendingMFA session to Authenticated.
// The old session token is destroyed and a fresh one issued so a token
// captured before login is worthless afterwards, and the CSRF token is
// rotated with it.
func (a *API) completeAuthentication(w http.ResponseWriter, r *http.Request, ref sessionRef, method mfaMethod) {
	now := time.Now()

	sess := ref.sess
	sess.State = stateAuthenticated
	sess.Subject = sess.CandidateSubject
	sess.CandidateSubject = ""
	sess.MFAMethod = string(method)
	sess.AuthenticatedAt = now
	sess.WebAuthnSession = nil
	sess.WebAuthnExpiry = time.Time{}
	sess.CSRFToken = uuid.New()

	newToken := uuid.New()
	a.sessions.Delete(ref.token)
	a.sessions.Put(newToken, sess)
	writeSessionCookie(w, r, newToken, sess.ExpiresAt)

	a.audit.logEvent(AuditMFASuccess, r, sess.Subject)

	resp := SessionInfoResponse{
		State:   string(stateAuthenticated),
		Subject: sess.Subject,
		Method:  sess.MFAMethod,
	}
	if rec, err := a.loadIdentity(sess.Subject); err == nil {
		resp.Name = rec.Name
		resp.Email = rec.Email
	}
	writeJSON(w, http.StatusOK, resp)
}
