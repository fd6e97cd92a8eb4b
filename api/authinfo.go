package api

import "net/http"

// SessionInfo handles GET /auth/session. It reports the caller's position
// in the login flow without creating a session.
func (a *API) SessionInfo(w http.ResponseWriter, r *http.Request) {
	ref, ok := sessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, SessionInfoResponse{State: string(stateAnonymous)})
		return
	}

	resp := SessionInfoResponse{State: string(ref.sess.State)}
	if ref.sess.State == stateAuthenticated {
		resp.Subject = ref.sess.Subject
		resp.Method = ref.sess.MFAMethod
		if rec, err := a.loadIdentity(ref.sess.Subject); err == nil {
			resp.Name = rec.Name
			resp.Email = rec.Email
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout. The session is destroyed server-side
// regardless of its state; the handler is idempotent.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if ref, ok := sessionFromContext(r.Context()); ok {
		a.audit.logEvent(AuditLogout, r, ref.sess.Subject)
		a.sessions.Delete(ref.token)
	}
	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}
