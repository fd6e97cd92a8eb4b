package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlindgren/vitrine/storage/memory"
)

func TestVerifyCredentialCounter(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		reported uint32
		wantErr  bool
	}{
		{"advances by one", 5, 6, false},
		{"advances by many", 5, 500, false},
		{"equal is a replay", 5, 5, true},
		{"regression is a clone", 5, 4, true},
		{"zero never advances to zero", 0, 0, true},
		{"first use from zero", 0, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyCredentialCounter(tt.stored, tt.reported)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// assertionBody builds a parseable WebAuthn assertion response carrying the
// given credential ID and signature counter. The signature is garbage on
// purpose: a stale counter must be rejected before it is ever checked.
func assertionBody(t *testing.T, credentialID []byte, counter uint32) []byte {
	t.Helper()

	authData := make([]byte, 37)
	authData[32] = 0x01 // user present
	binary.BigEndian.PutUint32(authData[33:], counter)

	clientData := []byte(`{"type":"webauthn.get","challenge":"test-challenge","origin":"http://localhost"}`)

	body, err := json.Marshal(map[string]any{
		"id":    base64.RawURLEncoding.EncodeToString(credentialID),
		"rawId": base64.RawURLEncoding.EncodeToString(credentialID),
		"type":  "public-key",
		"response": map[string]any{
			"authenticatorData": base64.RawURLEncoding.EncodeToString(authData),
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(clientData),
			"signature":         base64.RawURLEncoding.EncodeToString([]byte("not-a-real-signature")),
		},
	})
	require.NoError(t, err)
	return body
}

func TestWebAuthnVerifyRejectsStaleCounter(t *testing.T) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Vitrine",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
	})
	require.NoError(t, err)

	var logBuf bytes.Buffer
	a := New(memory.NewRepository(), nil, nil,
		WithWebAuthn(wa),
		WithLogger(slog.New(slog.NewJSONHandler(&logBuf, nil))),
	)
	t.Cleanup(a.Close)

	credentialID := []byte("authenticator-1")
	require.NoError(t, a.saveIdentity(identityRecord{
		Subject: "op-1",
		Name:    "Operator One",
		Email:   "op1@example.com",
		Roles:   []string{"editor"},
	}))
	require.NoError(t, a.saveCredential(credentialRecord{
		Subject: "op-1",
		Credential: webauthn.Credential{
			ID:            credentialID,
			Authenticator: webauthn.Authenticator{SignCount: 5},
		},
	}))

	sess := newSession(time.Now())
	sess.State = statePendingMFA
	sess.CandidateSubject = "op-1"
	sess.WebAuthnSession = &webauthn.SessionData{
		Challenge: "test-challenge",
		UserID:    []byte("op-1"),
		Expires:   time.Now().Add(time.Minute),
	}
	sess.WebAuthnExpiry = time.Now().Add(time.Minute)
	a.sessions.Put("tok", sess)

	// Counter 3 against a stored 5: a cloned authenticator replaying an
	// old assertion state.
	r := httptest.NewRequest(http.MethodPost, "/auth/webauthn/verify",
		bytes.NewReader(assertionBody(t, credentialID, 3)))
	r = r.WithContext(context.WithValue(r.Context(), sessionKey, sessionRef{token: "tok", sess: sess}))
	w := httptest.NewRecorder()
	a.WebAuthnVerify(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, codeVerificationFailed, body.Error)
	assert.Contains(t, logBuf.String(), "signature counter did not advance",
		"rejection must come from the counter gate, not signature validation")

	records, err := a.loadCredentials("op-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint32(5), records[0].Credential.Authenticator.SignCount,
		"stored counter must not move on a rejected assertion")

	after, ok := a.sessions.Get("tok")
	require.True(t, ok)
	assert.Nil(t, after.WebAuthnSession, "ceremony must be consumed on rejection")
	assert.Equal(t, statePendingMFA, after.State)
}
