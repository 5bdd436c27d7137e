package session

import (
	"context"
	"errors"

	"github.com/orbitel/opsbridge/internal/audit"
	"github.com/orbitel/opsbridge/internal/store"
)

// SilentLoginResult reports the outcome of the startup silent login.
type SilentLoginResult struct {
	// Success means a session was restored without user interaction.
	Success bool `json:"success"`

	// ReLoginRequired means the idle window lapsed but remembered
	// credentials were staged as prefill for the login form.
	ReLoginRequired bool `json:"reLoginRequired"`
}

// AttemptSilentLogin runs once at startup, after the connectivity warm-up.
//
// Outside the idle window no refresh is attempted; remembered credentials,
// when present and readable, are staged as login-form prefill instead.
// Within the window the stored refresh token is exchanged for a new access
// token; any failure on this path clears the session so the user starts from
// a clean login.
func (m *Manager) AttemptSilentLogin(ctx context.Context) SilentLoginResult {
	if !m.cipher.Available() {
		// Fail closed: no way to read stored secrets means no silent
		// login, and nothing half-usable should stay behind.
		m.logger.Warn("encryption unavailable, requiring fresh login")
		if err := m.ForceLogoutAndClear(); err != nil {
			m.logger.Error("clearing session", "error", err)
		}
		return SilentLoginResult{}
	}

	cfg := m.conf.Current()
	if m.idleElapsed() > cfg.IdleTimeout {
		return m.stalePrefillPath()
	}

	encrypted, ok, err := m.store.GetString(store.KeyRefreshToken)
	if err != nil || !ok {
		return SilentLoginResult{}
	}

	token, err := m.cipher.DecryptString(encrypted)
	if err != nil {
		m.logger.Warn("stored refresh token unreadable, clearing session")
		if err := m.ForceLogoutAndClear(); err != nil {
			m.logger.Error("clearing session", "error", err)
		}
		return SilentLoginResult{}
	}

	if err := m.exchangeRefreshToken(ctx, token); err != nil {
		// The refresh endpoint said no, or never answered. Either way
		// silent login is over; exchangeRefreshToken already cleared
		// the session where required.
		if !errors.Is(err, ErrSessionExpired) {
			if clearErr := m.ForceLogoutAndClear(); clearErr != nil {
				m.logger.Error("clearing session", "error", clearErr)
			}
		}
		m.audit.Log(audit.Entry{Action: audit.ActionSilentLogin, Outcome: "failed", Error: err.Error()})
		return SilentLoginResult{}
	}

	m.audit.Log(audit.Entry{Action: audit.ActionSilentLogin})
	m.logger.Info("silent login succeeded")
	return SilentLoginResult{Success: true}
}

// stalePrefillPath handles an expired idle window: no refresh attempt, but
// remembered credentials surface as prefill for the login form.
func (m *Manager) stalePrefillPath() SilentLoginResult {
	creds, ok, err := m.rememberedCredentials()
	if err != nil {
		// Corrupted entries were already discarded.
		return SilentLoginResult{}
	}
	if !ok {
		return SilentLoginResult{}
	}

	if err := m.stagePrefill(*creds); err != nil {
		m.logger.Error("staging prefill", "error", err)
		return SilentLoginResult{}
	}
	return SilentLoginResult{ReLoginRequired: true}
}
