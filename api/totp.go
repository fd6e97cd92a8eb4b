package api

import (
	"net/http"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpBodyLimit = 4 * 1024

// TOTPVerify handles POST /auth/totp/verify. The code is checked against
// the enrolled secret with one 30-second step of skew in each direction.
func (a *API) TOTPVerify(w http.ResponseWriter, r *http.Request) {
	ref, _ := sessionFromContext(r.Context())

	req, ok := decodeJSON[TOTPVerifyRequest](w, r, totpBodyLimit)
	if !ok {
		return
	}
	if !isTOTPCode(req.Token) {
		writeError(w, http.StatusBadRequest, codeInvalidToken)
		return
	}

	identity, err := a.loadIdentity(ref.sess.CandidateSubject)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, codeTOTPNotAvailable)
			return
		}
		a.logger.Error("loading identity for totp", "error", err)
		writeInternalError(w)
		return
	}
	if !identity.TOTPEnabled || identity.TOTPSecret == "" {
		writeError(w, http.StatusNotFound, codeTOTPNotAvailable)
		return
	}

	valid, err := totp.ValidateCustom(req.Token, identity.TOTPSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		a.audit.logFailure(AuditMFAFailure, r, "totp code rejected")
		writeError(w, http.StatusUnauthorized, codeVerificationFailed)
		return
	}

	a.completeAuthentication(w, r, ref, mfaMethodTOTP)
}

// isTOTPCode reports whether s looks like a six-digit code. Anything else
// is rejected before the secret is consulted.
func isTOTPCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
