package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orbitel/opsbridge/internal/audit"
	"github.com/orbitel/opsbridge/internal/store"
)

// Login authenticates against the remote login endpoint and establishes a
// session. On success the access token, user profile, and activity stamp are
// persisted; the refresh token and remember-me credentials are persisted
// encrypted when the cipher is available.
//
// A login response without a refresh token clears any previously stored one:
// whether a refresh token exists is the server's decision, not the client's.
func (m *Manager) Login(ctx context.Context, email, password string, rememberMe bool) (json.RawMessage, error) {
	cfg := m.conf.Current()
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	status, resp, err := m.postAuth(ctx, m.endpoint("/auth/login"), Credentials{Email: email, Password: password})
	if err != nil {
		m.auditLogin(email, "failed", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if status < 200 || status > 299 {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("login rejected with status %d", status)
		}
		m.auditLogin(email, "failed", msg)
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, msg)
	}
	if resp.AccessToken == "" || len(resp.User) == 0 {
		m.auditLogin(email, "failed", "missing access token or user")
		return nil, fmt.Errorf("%w: missing access token or user", ErrIncompleteResponse)
	}

	if err := m.persistSession(resp.AccessToken, resp.User); err != nil {
		return nil, err
	}

	if resp.RefreshToken != "" {
		m.persistRefreshToken(resp.RefreshToken)
	} else {
		if err := m.store.Delete(store.KeyRefreshToken); err != nil {
			m.logger.Error("clearing refresh token", "error", err)
		}
	}

	if rememberMe && m.cipher.Available() {
		if err := m.storeRememberedCredentials(Credentials{Email: email, Password: password}); err != nil {
			m.logger.Error("storing remembered credentials", "error", err)
		}
	} else {
		if err := m.store.Delete(store.KeyCredentials); err != nil {
			m.logger.Error("clearing remembered credentials", "error", err)
		}
	}

	// Any staged prefill belongs to a previous session.
	if err := m.store.Delete(store.KeyPrefill); err != nil {
		m.logger.Error("clearing prefill data", "error", err)
	}

	m.auditLogin(email, "ok", "")
	m.logger.Info("login succeeded", "remember_me", rememberMe)
	return resp.User, nil
}

// SaveTokensParams bundles the persistence performed by the saveTokens verb.
type SaveTokensParams struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	RememberMe   bool            `json:"rememberMe"`
	User         json.RawMessage `json:"user"`
	Credentials  *Credentials    `json:"credentials,omitempty"`
}

// SaveTokens persists a token bundle in one call, so the caller observes the
// update atomically: access token, user, refresh token, and remember-me
// credentials.
func (m *Manager) SaveTokens(p SaveTokensParams) error {
	if p.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrIncompleteResponse)
	}

	if err := m.persistSession(p.AccessToken, p.User); err != nil {
		return err
	}

	if p.RefreshToken != "" {
		m.persistRefreshToken(p.RefreshToken)
	} else {
		if err := m.store.Delete(store.KeyRefreshToken); err != nil {
			return err
		}
	}

	if p.RememberMe && p.Credentials != nil && m.cipher.Available() {
		return m.storeRememberedCredentials(*p.Credentials)
	}
	return m.store.Delete(store.KeyCredentials)
}

// persistSession stores the access token, user profile (when present), and
// stamps activity.
func (m *Manager) persistSession(accessToken string, user json.RawMessage) error {
	if err := m.store.SetString(store.KeyAccessToken, accessToken); err != nil {
		return err
	}
	if len(user) > 0 {
		if err := m.store.Set(store.KeyUser, user); err != nil {
			return err
		}
	}
	return m.StampActivity()
}

// persistRefreshToken encrypts and stores a refresh token. With the cipher
// unavailable the token cannot be persisted safely; the stored entry is
// cleared so a stale one is never reused.
func (m *Manager) persistRefreshToken(token string) {
	if !m.cipher.Available() {
		m.logger.Warn("encryption unavailable, not persisting refresh token")
		if err := m.store.Delete(store.KeyRefreshToken); err != nil {
			m.logger.Error("clearing refresh token", "error", err)
		}
		return
	}
	encrypted, err := m.cipher.EncryptToString(token)
	if err != nil {
		m.logger.Error("encrypting refresh token", "error", err)
		return
	}
	if err := m.store.SetString(store.KeyRefreshToken, encrypted); err != nil {
		m.logger.Error("storing refresh token", "error", err)
	}
}

func (m *Manager) auditLogin(email, outcome, errMsg string) {
	m.audit.Log(audit.Entry{
		Action:  audit.ActionLogin,
		Email:   email,
		Outcome: outcome,
		Error:   errMsg,
	})
}
