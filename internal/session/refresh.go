package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/orbitel/opsbridge/internal/audit"
	"github.com/orbitel/opsbridge/internal/store"
)

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. Concurrent callers share a single in-flight exchange and all
// observe its outcome; the in-flight handle clears when the exchange
// settles, success or not.
//
// A 400/401/403 from the refresh endpoint is definitive invalidation: the
// session is cleared and ErrSessionExpired returned. Any other failure is
// transient (ErrRefreshFailed) and leaves the session untouched.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	token, err, _ := m.refresh.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	encrypted, ok, err := m.store.GetString(store.KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if !ok {
		if err := m.ForceLogoutAndClear(); err != nil {
			m.logger.Error("clearing session", "error", err)
		}
		return "", fmt.Errorf("%w: no refresh token", ErrSessionExpired)
	}

	refreshToken, err := m.cipher.DecryptString(encrypted)
	if err != nil {
		if clearErr := m.ForceLogoutAndClear(); clearErr != nil {
			m.logger.Error("clearing session", "error", clearErr)
		}
		m.audit.Log(audit.Entry{Action: audit.ActionRefresh, Outcome: "failed", Error: "refresh token unreadable"})
		return "", fmt.Errorf("%w: refresh token unreadable", ErrSessionExpired)
	}

	if err := m.exchangeRefreshToken(ctx, refreshToken); err != nil {
		m.audit.Log(audit.Entry{Action: audit.ActionRefresh, Outcome: "failed", Error: err.Error()})
		return "", err
	}

	newToken, _, err := m.AccessToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	m.audit.Log(audit.Entry{Action: audit.ActionRefresh})
	return newToken, nil
}

// exchangeRefreshToken calls the remote refresh endpoint and persists the
// result.
//
// The exchange runs on its own detached timeout: the waiting caller's
// context must not cancel an exchange that other single-flight waiters are
// sharing, and a hung exchange would otherwise hold the in-flight handle
// forever.
func (m *Manager) exchangeRefreshToken(ctx context.Context, refreshToken string) error {
	cfg := m.conf.Current()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.RefreshTimeout)
	defer cancel()

	status, resp, err := m.postAuth(callCtx, m.endpoint("/auth/refresh"), map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("refresh rejected with status %d", status)
		}
		if err := m.ForceLogoutAndClear(); err != nil {
			m.logger.Error("clearing session", "error", err)
		}
		return fmt.Errorf("%w: %s", ErrSessionExpired, msg)
	case status < 200 || status > 299:
		return fmt.Errorf("%w: refresh returned status %d", ErrRefreshFailed, status)
	}

	if resp.AccessToken == "" {
		return fmt.Errorf("%w: refresh response missing access token", ErrRefreshFailed)
	}

	if err := m.persistSession(resp.AccessToken, resp.User); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	// A refresh response without a new refresh token leaves the stored one
	// in place; rotation is the server's call.
	if resp.RefreshToken != "" {
		m.persistRefreshToken(resp.RefreshToken)
	}
	return nil
}
