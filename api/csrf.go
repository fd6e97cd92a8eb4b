package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/mlindgren/vitrine/internal/uuid"
)

const csrfHeaderName = "X-CSRF-Token"

// CSRFToken handles GET /auth/csrf-token. The token lives server-side on
// the session record only; the client echoes it back in a request header
// on every state-changing call. A session is created here if the caller
// does not have one yet.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	ref := a.ensureSession(w, r)
	if ref.sess.CSRFToken == "" {
		ref.sess.CSRFToken = uuid.New()
		a.sessions.Put(ref.token, ref.sess)
	}
	writeJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: ref.sess.CSRFToken})
}

// CSRFMiddleware validates the X-CSRF-Token header against the token
// bound to the caller's session. Tokens from another session never match;
// a rejected caller must fetch a fresh token rather than retry.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, ok := sessionFromContext(r.Context())
		if !ok || ref.sess.CSRFToken == "" {
			a.audit.logFailure(AuditCSRFRejected, r, "no token bound to session")
			writeError(w, http.StatusForbidden, codeCSRFInvalid)
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(ref.sess.CSRFToken), []byte(header)) != 1 {
			a.audit.logFailure(AuditCSRFRejected, r, "token mismatch")
			writeError(w, http.StatusForbidden, codeCSRFInvalid)
			return
		}
		next.ServeHTTP(w, r)
	})
}
