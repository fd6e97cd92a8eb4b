package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mlindgren/vitrine/storage"
	"github.com/mlindgren/vitrine/upload"
)

// Machine-readable error codes carried in ErrorResponse bodies. Clients
// branch on these, so they are part of the wire contract.
const (
	codeMissingOIDCSession = "missing_oidc_session"
	codeInvalidState       = "invalid_state"
	codeInsufficientScope  = "insufficient_scope"
	codeLoginRequired      = "login_required"
	codeMFARequired        = "mfa_required"
	codeNoCredentials      = "no_credentials_registered"
	codeCredentialNotFound = "credential_not_found"
	codeVerificationFailed = "verification_failed"
	codeInvalidToken       = "invalid_token"
	codeTOTPNotAvailable   = "totp_not_available"
	codeCSRFInvalid        = "csrf_invalid"
	codeInvalidUpload      = "invalid_upload"
	codeInvalidFileType    = "invalid_file_type"
	codeUploadNotFound     = "upload_not_found"
	codeUploadMismatch     = "upload_mismatch"
	codeProjectNotFound    = "project_not_found"
	codeInvalidRequest     = "invalid_request"
	codeRateLimited        = "rate_limited"
	codeInternalError      = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, ErrorResponse{Error: code})
}

// writeInternalError hides the cause from the caller; the detail goes to
// the audit log at the call site.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, codeInternalError)
}

// mapUploadError translates upload package sentinels into wire errors for
// the staging endpoints.
func mapUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrInvalidKind),
		errors.Is(err, upload.ErrTooLarge),
		errors.Is(err, upload.ErrEmptyPayload):
		writeError(w, http.StatusBadRequest, codeInvalidUpload)
	case errors.Is(err, upload.ErrDisallowedType):
		writeError(w, http.StatusBadRequest, codeInvalidFileType)
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, codeUploadNotFound)
	case errors.Is(err, upload.ErrMismatch):
		writeError(w, http.StatusBadRequest, codeUploadMismatch)
	default:
		writeInternalError(w)
	}
}

// mapCommitError is mapUploadError for the catalog-write path, where an
// unknown or already-consumed id is the caller's mistake, not a missing
// resource.
func mapCommitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusBadRequest, codeUploadNotFound)
	case errors.Is(err, upload.ErrMismatch):
		writeError(w, http.StatusBadRequest, codeUploadMismatch)
	default:
		writeInternalError(w)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// decodeJSON reads a size-capped JSON body into T. On failure it writes a
// 400 invalid_request response and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	body := http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return v, false
	}
	// Reject trailing garbage.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, codeInvalidRequest)
		return v, false
	}
	return v, true
}
