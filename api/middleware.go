package api

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/mlindgren/vitrine/internal/uuid"
)

type contextKey int

const sessionKey contextKey = iota

const sessionCookieName = "vitrine_session"

// sessionRef ties a loaded session to the token it was looked up under,
// so handlers can write mutations back.
type sessionRef struct {
	token string
	sess  session
}

// SessionMiddleware resolves the session cookie into the request context.
// It never creates sessions; endpoints that need one call ensureSession.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, ok := a.sessions.Get(cookie.Value)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sessionRef{token: cookie.Value, sess: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (sessionRef, bool) {
	ref, ok := ctx.Value(sessionKey).(sessionRef)
	return ref, ok
}

// ensureSession returns the request's session, creating a fresh anonymous
// one (and setting its cookie) if none exists yet.
func (a *API) ensureSession(w http.ResponseWriter, r *http.Request) sessionRef {
	if ref, ok := sessionFromContext(r.Context()); ok {
		return ref
	}
	token := uuid.New()
	sess := newSession(time.Now())
	a.sessions.Put(token, sess)
	writeSessionCookie(w, r, token, sess.ExpiresAt)
	return sessionRef{token: token, sess: sess}
}

// RequireAuthenticated guards the editor surface. A missing session and a
// session that has not finished MFA are reported differently so the
// client knows whether to restart login or resume the factor step.
func (a *API) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, ok := sessionFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, codeLoginRequired)
			return
		}
		switch ref.sess.State {
		case stateAuthenticated:
			next.ServeHTTP(w, r)
		case statePendingMFA:
			writeError(w, http.StatusUnauthorized, codeMFARequired)
		default:
			writeError(w, http.StatusUnauthorized, codeLoginRequired)
		}
	})
}

// RequirePendingMFA guards the factor-verification endpoints. Anonymous
// callers are turned away before any secret is looked up.
func (a *API) RequirePendingMFA(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, ok := sessionFromContext(r.Context())
		if !ok || ref.sess.State != statePendingMFA {
			writeError(w, http.StatusUnauthorized, codeLoginRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// extractClientIP returns the client network identity used for admission
// control. Proxy headers are honored only when the direct peer falls
// inside an explicitly configured trusted CIDR; the fail-safe default is
// to use RemoteAddr alone, so untrusted clients cannot spoof their way
// past the per-IP limiters.
func (a *API) extractClientIP(r *http.Request) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(a.trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range a.trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	if remoteIP != "" {
		return remoteIP
	}
	return ""
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}
