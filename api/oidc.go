package api

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mlindgren/vitrine/internal/util"
	"github.com/mlindgren/vitrine/internal/uuid"
)

// editorRole is the provider-asserted role required to reach any editor
// operation. Callbacks for identities without it fail closed.
const editorRole = "editor"

// Transaction holds the single-use values minted for one authorization
// round trip. The verifier and nonce never leave the server.
type Transaction struct {
	State    string
	Nonce    string
	Verifier string
	AuthURL  string
}

// Claims is what the provider asserted about the authenticated subject.
type Claims struct {
	Subject string
	Name    string
	Email   string
	Roles   []string
}

// IdentityProvider abstracts the upstream OIDC provider so handlers can
// be exercised without a live issuer.
type IdentityProvider interface {
	// Begin mints a fresh authorization transaction.
	Begin() (Transaction, error)
	// Exchange redeems an authorization code, validates the ID token
	// against the expected nonce, and returns the asserted claims.
	Exchange(ctx context.Context, code, verifier, nonce string) (Claims, error)
}

// OIDCConfig carries the provider settings for the code+PKCE flow.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type oidcProvider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

// NewOIDCProvider discovers the issuer's endpoints and returns a provider
// implementing the authorization-code flow with PKCE.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (IdentityProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc issuer %s: %w", cfg.IssuerURL, err)
	}
	return &oidcProvider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

func (p *oidcProvider) Begin() (Transaction, error) {
	state, err := util.RandomToken(32)
	if err != nil {
		return Transaction{}, err
	}
	nonce, err := util.RandomToken(32)
	if err != nil {
		return Transaction{}, err
	}
	verifier, err := util.RandomToken(32)
	if err != nil {
		return Transaction{}, err
	}

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	authURL := p.oauth.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return Transaction{State: state, Nonce: nonce, Verifier: verifier, AuthURL: authURL}, nil
}

func (p *oidcProvider) Exchange(ctx context.Context, code, verifier, nonce string) (Claims, error) {
	token, err := p.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Claims{}, fmt.Errorf("token response missing id_token")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Claims{}, fmt.Errorf("verifying id token: %w", err)
	}
	if idToken.Nonce != nonce {
		return Claims{}, fmt.Errorf("id token nonce mismatch")
	}

	var raw struct {
		Name  string   `json:"name"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	if err := idToken.Claims(&raw); err != nil {
		return Claims{}, fmt.Errorf("decoding id token claims: %w", err)
	}
	return Claims{
		Subject: idToken.Subject,
		Name:    raw.Name,
		Email:   raw.Email,
		Roles:   raw.Roles,
	}, nil
}

// BeginLogin handles GET /auth/login. An authenticated session must log
// out first; a session mid-MFA is reset to a fresh anonymous attempt so
// an abandoned ceremony cannot be resumed later.
func (a *API) BeginLogin(w http.ResponseWriter, r *http.Request) {
	if a.idp == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternalError)
		return
	}

	if ref, ok := sessionFromContext(r.Context()); ok {
		if ref.sess.State == stateAuthenticated {
			writeError(w, http.StatusConflict, codeInvalidRequest)
			return
		}
		// Discard any in-flight transaction or MFA progress.
		a.sessions.Delete(ref.token)
	}

	txn, err := a.idp.Begin()
	if err != nil {
		a.logger.Error("starting oidc transaction", "error", err)
		writeInternalError(w)
		return
	}

	token := uuid.New()
	sess := newSession(time.Now())
	sess.OIDCState = txn.State
	sess.OIDCNonce = txn.Nonce
	sess.PKCEVerifier = txn.Verifier
	a.sessions.Put(token, sess)
	writeSessionCookie(w, r, token, sess.ExpiresAt)

	a.audit.logEvent(AuditLoginBegin, r, "")
	http.Redirect(w, r, txn.AuthURL, http.StatusFound)
}

// Callback handles GET /auth/callback. On success the session becomes
// PendingMFA holding the candidate subject; nothing is granted until a
// local factor verifies.
func (a *API) Callback(w http.ResponseWriter, r *http.Request) {
	if a.idp == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternalError)
		return
	}

	ref, ok := sessionFromContext(r.Context())
	if !ok || ref.sess.OIDCState == "" {
		a.audit.logFailure(AuditCallbackFailure, r, "no pending transaction")
		writeError(w, http.StatusBadRequest, codeMissingOIDCSession)
		return
	}
	sess := ref.sess

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		a.sessions.Delete(ref.token)
		a.audit.logFailure(AuditCallbackFailure, r, "provider error: "+errCode)
		writeError(w, http.StatusBadRequest, codeInvalidState)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" || state != sess.OIDCState {
		a.sessions.Delete(ref.token)
		a.audit.logFailure(AuditCallbackFailure, r, "state mismatch")
		writeError(w, http.StatusBadRequest, codeInvalidState)
		return
	}

	claims, err := a.idp.Exchange(r.Context(), code, sess.PKCEVerifier, sess.OIDCNonce)
	if err != nil {
		a.sessions.Delete(ref.token)
		a.audit.logFailure(AuditCallbackFailure, r, "code exchange failed")
		a.logger.Error("oidc code exchange", "error", err)
		writeError(w, http.StatusBadRequest, codeInvalidState)
		return
	}

	if !containsRole(claims.Roles, editorRole) {
		a.sessions.Delete(ref.token)
		a.audit.logFailure(AuditCallbackFailure, r, "missing editor role")
		writeError(w, http.StatusForbidden, codeInsufficientScope)
		return
	}

	// Merge provider claims into the stored identity, preserving local
	// MFA enrollment.
	rec, err := a.loadIdentity(claims.Subject)
	if err != nil && !isNotFound(err) {
		a.logger.Error("loading identity", "subject", claims.Subject, "error", err)
		writeInternalError(w)
		return
	}
	rec.Subject = claims.Subject
	rec.Name = claims.Name
	rec.Email = claims.Email
	rec.Roles = claims.Roles
	if err := a.saveIdentity(rec); err != nil {
		a.logger.Error("saving identity", "subject", claims.Subject, "error", err)
		writeInternalError(w)
		return
	}

	sess.State = statePendingMFA
	sess.CandidateSubject = claims.Subject
	sess.OIDCState = ""
	sess.OIDCNonce = ""
	sess.PKCEVerifier = ""
	a.sessions.Put(ref.token, sess)

	a.audit.logEvent(AuditCallbackSuccess, r, claims.Subject)
	http.Redirect(w, r, "/editor/mfa", http.StatusFound)
}

func containsRole(roles []string, want string) bool {
	for _, role := range roles {
		if role == want {
			return true
		}
	}
	return false
}
