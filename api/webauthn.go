package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

const webauthnBodyLimit = 64 * 1024

// WebAuthnChallenge handles POST /auth/webauthn/challenge. It issues an
// assertion challenge over the candidate's registered credentials and
// binds the ceremony state to the session server-side.
func (a *API) WebAuthnChallenge(w http.ResponseWriter, r *http.Request) {
	if a.webauthn == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternalError)
		return
	}
	ref, _ := sessionFromContext(r.Context())

	identity, err := a.loadIdentity(ref.sess.CandidateSubject)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, codeNoCredentials)
			return
		}
		a.logger.Error("loading identity for webauthn", "error", err)
		writeInternalError(w)
		return
	}

	records, err := a.loadCredentials(identity.Subject)
	if err != nil {
		a.logger.Error("loading credentials", "subject", identity.Subject, "error", err)
		writeInternalError(w)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, codeNoCredentials)
		return
	}

	user := newWebAuthnUser(identity, records)
	assertion, sessionData, err := a.webauthn.BeginLogin(user)
	if err != nil {
		a.logger.Error("beginning webauthn assertion", "error", err)
		writeInternalError(w)
		return
	}

	sess := ref.sess
	sess.WebAuthnSession = sessionData
	sess.WebAuthnExpiry = time.Now().Add(webauthnCeremonyTTL)
	a.sessions.Put(ref.token, sess)

	writeJSON(w, http.StatusOK, assertion)
}

// WebAuthnVerify handles POST /auth/webauthn/verify. A valid assertion
// whose signature counter did not increase is rejected as a possible
// authenticator clone.
func (a *API) WebAuthnVerify(w http.ResponseWriter, r *http.Request) {
	if a.webauthn == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternalError)
		return
	}
	ref, _ := sessionFromContext(r.Context())
	sess := ref.sess

	if sess.WebAuthnSession == nil || time.Now().After(sess.WebAuthnExpiry) {
		a.audit.logFailure(AuditMFAFailure, r, "no active webauthn ceremony")
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(http.MaxBytesReader(w, r.Body, webauthnBodyLimit))
	if err != nil {
		a.audit.logFailure(AuditMFAFailure, r, "malformed assertion")
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	identity, err := a.loadIdentity(sess.CandidateSubject)
	if err != nil {
		a.logger.Error("loading identity for webauthn verify", "error", err)
		writeInternalError(w)
		return
	}
	records, err := a.loadCredentials(identity.Subject)
	if err != nil {
		a.logger.Error("loading credentials", "subject", identity.Subject, "error", err)
		writeInternalError(w)
		return
	}

	var stored *credentialRecord
	for i := range records {
		if bytes.Equal(records[i].Credential.ID, parsed.RawID) {
			stored = &records[i]
			break
		}
	}
	if stored == nil {
		a.audit.logFailure(AuditMFAFailure, r, "unknown credential")
		writeError(w, http.StatusNotFound, codeCredentialNotFound)
		return
	}

	// The counter gate runs before signature validation: a cloned
	// authenticator replaying a stale counter is rejected no matter what
	// its signature would have checked out as.
	if err := verifyCredentialCounter(stored.Credential.Authenticator.SignCount, parsed.Response.AuthenticatorData.Counter); err != nil {
		a.consumeCeremony(ref)
		a.audit.logFailure(AuditMFAFailure, r, "signature counter did not advance")
		writeError(w, http.StatusUnauthorized, codeVerificationFailed)
		return
	}

	user := newWebAuthnUser(identity, records)
	validated, err := a.webauthn.ValidateLogin(user, *sess.WebAuthnSession, parsed)
	if err != nil {
		a.consumeCeremony(ref)
		a.audit.logFailure(AuditMFAFailure, r, "assertion validation failed")
		writeError(w, http.StatusUnauthorized, codeVerificationFailed)
		return
	}

	stored.Credential.Authenticator.SignCount = validated.Authenticator.SignCount
	if err := a.saveCredential(*stored); err != nil {
		a.logger.Error("persisting credential counter", "error", err)
		writeInternalError(w)
		return
	}

	a.completeAuthentication(w, r, ref, mfaMethodWebAuthn)
}

// verifyCredentialCounter enforces a strictly increasing signature
// counter. Equal counters are rejected even though the signature checked
// out, since a cloned authenticator replays the last known value.
func verifyCredentialCounter(stored, reported uint32) error {
	if reported <= stored {
		return fmt.Errorf("signature counter %d did not advance past %d", reported, stored)
	}
	return nil
}

// consumeCeremony clears the one-shot challenge so a failed assertion
// cannot be retried against the same ceremony state.
func (a *API) consumeCeremony(ref sessionRef) {
	sess := ref.sess
	sess.WebAuthnSession = nil
	sess.WebAuthnExpiry = time.Time{}
	a.sessions.Put(ref.token, sess)
}
