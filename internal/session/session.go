// Package session owns the authentication session lifecycle: login, silent
// re-login at startup, idle timeout, logout, and single-flight refresh of
// the access token.
//
// The manager is the sole writer of session keys in the local store. Secrets
// (refresh token, remembered credentials) are encrypted through the secrets
// cipher before persisting; when the cipher is unavailable the manager
// refuses to persist or restore them and requires a fresh login.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orbitel/opsbridge/internal/audit"
	"github.com/orbitel/opsbridge/internal/config"
	"github.com/orbitel/opsbridge/internal/secrets"
	"github.com/orbitel/opsbridge/internal/store"
)

var (
	// ErrAuthentication is returned when the login endpoint rejects the
	// credentials or cannot be reached.
	ErrAuthentication = errors.New("authentication failed")

	// ErrIncompleteResponse is returned when an otherwise-ok login or
	// refresh response is missing the access token or the user object.
	ErrIncompleteResponse = errors.New("incomplete auth response")

	// ErrSessionExpired is returned when the refresh token is missing,
	// unreadable, or definitively rejected by the server. The session has
	// been cleared; a fresh login is required.
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshFailed is returned for transient refresh failures (server
	// or network trouble). The session is preserved for a later retry.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Credentials is an email/password pair.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// encryptedCredentials is the stored form of remembered credentials: both
// fields are base64 secretbox ciphertexts.
type encryptedCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Manager drives the session state machine.
type Manager struct {
	store  *store.Store
	cipher *secrets.Cipher
	conf   *config.Runtime
	client *http.Client
	audit  *audit.Logger
	logger *slog.Logger

	refresh singleflight.Group
	now     func() time.Time
}

// New creates a session manager. The audit logger may be nil.
func New(st *store.Store, cipher *secrets.Cipher, conf *config.Runtime, client *http.Client, auditLog *audit.Logger) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{
		store:  st,
		cipher: cipher,
		conf:   conf,
		client: client,
		audit:  auditLog,
		logger: slog.With("component", "session"),
		now:    time.Now,
	}
}

// AccessToken returns the stored access token, if any.
func (m *Manager) AccessToken() (string, bool, error) {
	return m.store.GetString(store.KeyAccessToken)
}

// Profile returns the stored user profile, if any.
func (m *Manager) Profile() (json.RawMessage, bool, error) {
	raw, ok, err := m.store.Get(store.KeyUser)
	return json.RawMessage(raw), ok, err
}

// LoggedIn reports whether a session is active.
func (m *Manager) LoggedIn() bool {
	_, ok, err := m.AccessToken()
	return err == nil && ok
}

// StampActivity records now as the last successful authenticated activity.
// The pipeline calls this on every 2xx response.
func (m *Manager) StampActivity() error {
	millis := m.now().UnixMilli()
	return m.store.SetString(store.KeyLastActivity, strconv.FormatInt(millis, 10))
}

// idleElapsed returns the time since the last recorded activity. With no
// recorded activity the elapsed time is treated as infinite.
func (m *Manager) idleElapsed() time.Duration {
	raw, ok, err := m.store.GetString(store.KeyLastActivity)
	if err != nil || !ok {
		return 1<<62 - 1
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 1<<62 - 1
	}
	return m.now().Sub(time.UnixMilli(millis))
}

// PrefillCredentials returns staged login-form prefill data and deletes it
// in the same operation, so it can be surfaced at most once.
func (m *Manager) PrefillCredentials() (*Credentials, bool, error) {
	raw, ok, err := m.store.Get(store.KeyPrefill)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := m.store.Delete(store.KeyPrefill); err != nil {
		return nil, false, err
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, false, nil
	}
	return &creds, true, nil
}

// HasPrefill reports whether prefill data is staged, without consuming it.
func (m *Manager) HasPrefill() bool {
	_, ok, err := m.store.Get(store.KeyPrefill)
	return err == nil && ok
}

// stagePrefill stores plaintext credentials for one-time consumption by the
// next login form.
func (m *Manager) stagePrefill(creds Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return m.store.Set(store.KeyPrefill, raw)
}

// rememberedCredentials decrypts the stored remember-me credentials. A
// corrupted entry is deleted and reported via secrets.ErrCorrupted.
func (m *Manager) rememberedCredentials() (*Credentials, bool, error) {
	raw, ok, err := m.store.Get(store.KeyCredentials)
	if err != nil || !ok {
		return nil, false, err
	}

	var enc encryptedCredentials
	if err := json.Unmarshal(raw, &enc); err != nil {
		m.discardRememberedCredentials(err)
		return nil, false, secrets.ErrCorrupted
	}

	email, err := m.cipher.DecryptString(enc.Email)
	if err != nil {
		if errors.Is(err, secrets.ErrCorrupted) {
			m.discardRememberedCredentials(err)
		}
		return nil, false, err
	}
	password, err := m.cipher.DecryptString(enc.Password)
	if err != nil {
		if errors.Is(err, secrets.ErrCorrupted) {
			m.discardRememberedCredentials(err)
		}
		return nil, false, err
	}

	return &Credentials{Email: email, Password: password}, true, nil
}

// discardRememberedCredentials deletes an unreadable userCredentials entry.
// Corrupted local secrets are cleaned up silently, never surfaced.
func (m *Manager) discardRememberedCredentials(cause error) {
	m.logger.Warn("discarding unreadable remembered credentials")
	if err := m.store.Delete(store.KeyCredentials); err != nil {
		m.logger.Error("deleting remembered credentials", "error", err)
		return
	}
	m.audit.Log(audit.Entry{Action: audit.ActionCredentialCleanup, Error: cause.Error()})
}

// storeRememberedCredentials encrypts and persists remember-me credentials.
func (m *Manager) storeRememberedCredentials(creds Credentials) error {
	email, err := m.cipher.EncryptToString(creds.Email)
	if err != nil {
		return err
	}
	password, err := m.cipher.EncryptToString(creds.Password)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(encryptedCredentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	return m.store.Set(store.KeyCredentials, raw)
}
