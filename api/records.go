package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/mlindgren/vitrine/storage"
)

// identityRecord is the persisted form of an operator identity. TOTP
// enrollment lives here so it survives restarts; registration of either
// factor happens out of band.
type identityRecord struct {
	Subject     string    `json:"subject"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	TOTPSecret  string    `json:"totp_secret,omitempty"`
	TOTPEnabled bool      `json:"totp_enabled,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// credentialRecord is one WebAuthn authenticator owned by an identity.
// Only a successful verification may replace the signature counter, and
// only with the larger value that verification reported.
type credentialRecord struct {
	Subject    string              `json:"subject"`
	Credential webauthn.Credential `json:"credential"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// projectRecord is one catalog entry. Asset paths are only ever written
// after the corresponding upload commit has published the file.
type projectRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Link         string    `json:"link,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Image        string    `json:"image,omitempty"`
	DownloadPath string    `json:"download_path,omitempty"`
	DownloadFile string    `json:"download_file,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func credentialKey(subject string, credentialID []byte) string {
	return subject + "/" + base64.RawURLEncoding.EncodeToString(credentialID)
}

// loadIdentity reads an identity through the in-process cache. The cache
// is authoritative between callbacks; storage backs it across restarts.
func (a *API) loadIdentity(subject string) (identityRecord, error) {
	a.identityMu.Lock()
	rec, ok := a.identities[subject]
	a.identityMu.Unlock()
	if ok {
		return rec, nil
	}

	data, err := a.repo.Get(storage.KindIdentity, subject)
	if err != nil {
		return identityRecord{}, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return identityRecord{}, fmt.Errorf("decoding identity %s: %w", subject, err)
	}

	a.identityMu.Lock()
	a.identities[subject] = rec
	a.identityMu.Unlock()
	return rec, nil
}

// saveIdentity persists an identity and refreshes the cache. Claims from
// a new callback overwrite the name/email/roles; local MFA enrollment
// fields are preserved by the caller.
func (a *API) saveIdentity(rec identityRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding identity %s: %w", rec.Subject, err)
	}
	if err := a.repo.Put(storage.KindIdentity, rec.Subject, data); err != nil {
		return err
	}
	a.identityMu.Lock()
	a.identities[rec.Subject] = rec
	a.identityMu.Unlock()
	return nil
}

// loadCredentials returns all WebAuthn credentials registered to subject.
func (a *API) loadCredentials(subject string) ([]credentialRecord, error) {
	keys, err := a.repo.ListPrefix(storage.KindCredential, subject+"/")
	if err != nil {
		return nil, err
	}
	records := make([]credentialRecord, 0, len(keys))
	for _, key := range keys {
		data, err := a.repo.Get(storage.KindCredential, key)
		if err != nil {
			return nil, err
		}
		var rec credentialRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decoding credential %s: %w", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *API) saveCredential(rec credentialRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	return a.repo.Put(storage.KindCredential, credentialKey(rec.Subject, rec.Credential.ID), data)
}

func (a *API) loadProject(id string) (projectRecord, error) {
	data, err := a.repo.Get(storage.KindProject, id)
	if err != nil {
		return projectRecord{}, err
	}
	var rec projectRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return projectRecord{}, fmt.Errorf("decoding project %s: %w", id, err)
	}
	return rec, nil
}

func (a *API) saveProject(rec projectRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding project %s: %w", rec.ID, err)
	}
	return a.repo.Put(storage.KindProject, rec.ID, data)
}

// webauthnUser adapts an identity plus its credentials to webauthn.User.
type webauthnUser struct {
	identity    identityRecord
	credentials []webauthn.Credential
}

func newWebAuthnUser(identity identityRecord, records []credentialRecord) *webauthnUser {
	creds := make([]webauthn.Credential, len(records))
	for i, rec := range records {
		creds[i] = rec.Credential
	}
	return &webauthnUser{identity: identity, credentials: creds}
}

func (u *webauthnUser) WebAuthnID() []byte                         { return []byte(u.identity.Subject) }
func (u *webauthnUser) WebAuthnName() string                       { return u.identity.Email }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.identity.Name }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
