package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/mlindgren/vitrine/counter"
	"github.com/mlindgren/vitrine/storage"
	"github.com/mlindgren/vitrine/upload"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo     storage.Repository
	sessions sessionStore
	stager   *upload.Stager
	counters *counter.Store

	idp      IdentityProvider
	webauthn *webauthn.WebAuthn

	logger *slog.Logger
	audit  *auditLogger

	loginLimiter     *fixedWindowLimiter
	mfaLimiter       *fixedWindowLimiter
	analyticsLimiter *fixedWindowLimiter

	trustedProxies []netip.Prefix
	alertFn        AlertFunc

	identityMu sync.Mutex
	identities map[string]identityRecord

	stopOnce sync.Once
	stopCh   chan struct{}
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request handling and audit
// events. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
		a.audit = newAuditLogger(logger)
	}
}

// WithIdentityProvider sets the upstream OIDC provider. Without one, the
// login endpoints answer 503.
func WithIdentityProvider(idp IdentityProvider) Option {
	return func(a *API) { a.idp = idp }
}

// WithWebAuthn sets the relying-party configuration for passkey logins.
// Without one, the WebAuthn endpoints answer 503.
func WithWebAuthn(wa *webauthn.WebAuthn) Option {
	return func(a *API) { a.webauthn = wa }
}

// WithTrustedProxies names the CIDRs whose forwarding headers are honored
// for client-IP extraction. Unset means no proxy is trusted.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithAlertFunc installs a callback fired on MFA-failure and CSRF spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// New creates a new API instance.
func New(repo storage.Repository, stager *upload.Stager, counters *counter.Store, opts ...Option) *API {
	a := &API{
		repo:             repo,
		sessions:         newMemorySessionStore(),
		stager:           stager,
		counters:         counters,
		loginLimiter:     newFixedWindowLimiter(loginLimit, loginWindow),
		mfaLimiter:       newFixedWindowLimiter(mfaLimit, mfaWindow),
		analyticsLimiter: newFixedWindowLimiter(analyticsLimit, analyticsStep),
		identities:       make(map[string]identityRecord),
		stopCh:           make(chan struct{}),
	}
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	a.audit = newAuditLogger(a.logger)
	for _, opt := range opts {
		opt(a)
	}
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	go a.housekeeping()
	return a
}

// housekeeping periodically drops stale limiter buckets.
func (a *API) housekeeping() {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			a.loginLimiter.sweep(now)
			a.mfaLimiter.sweep(now)
			a.analyticsLimiter.sweep(now)
		}
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.SessionMiddleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.With(a.rateLimit(a.loginLimiter)).Get("/auth/login", a.BeginLogin)
	r.With(a.rateLimit(a.loginLimiter)).Get("/auth/callback", a.Callback)
	r.Get("/auth/csrf-token", a.CSRFToken)
	r.Get("/auth/session", a.SessionInfo)
	r.With(a.CSRFMiddleware).Post("/auth/logout", a.Logout)

	// The factor-verification group: only a session that passed the
	// provider step gets this far, and every attempt spends CSRF and
	// rate-limit budget.
	r.Group(func(r chi.Router) {
		r.Use(a.rateLimit(a.mfaLimiter))
		r.Use(a.RequirePendingMFA)
		r.Use(a.CSRFMiddleware)
		r.Post("/auth/webauthn/challenge", a.WebAuthnChallenge)
		r.Post("/auth/webauthn/verify", a.WebAuthnVerify)
		r.Post("/auth/totp/verify", a.TOTPVerify)
	})

	r.Get("/analytics/downloads", a.DownloadCounts)
	r.With(a.rateLimit(a.analyticsLimiter)).Post("/analytics/downloads", a.RecordDownload)

	r.Route("/editor", func(r chi.Router) {
		r.Use(a.RequireAuthenticated)
		r.Get("/projects", a.ListProjects)
		r.Get("/projects/{id}", a.GetProject)

		// State-changing editor calls additionally need the CSRF header.
		r.Group(func(r chi.Router) {
			r.Use(a.CSRFMiddleware)
			r.Post("/uploads", a.StageUpload)
			r.Delete("/uploads/{id}", a.CancelUpload)
			r.Post("/projects", a.CreateProject)
			r.Put("/projects/{id}", a.UpdateProject)
			r.Delete("/projects/{id}", a.DeleteProject)
		})
	})

	return r
}

// Close releases background resources owned by the API.
func (a *API) Close() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if s, ok := a.sessions.(*memorySessionStore); ok {
		s.Close()
	}
}
