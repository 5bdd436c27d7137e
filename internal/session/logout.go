package session

import (
	"github.com/orbitel/opsbridge/internal/audit"
	"github.com/orbitel/opsbridge/internal/store"
)

// sessionKeys are cleared by a forced logout; nothing survives.
var sessionKeys = []string{
	store.KeyAccessToken,
	store.KeyRefreshToken,
	store.KeyUser,
	store.KeyCredentials,
	store.KeyPrefill,
	store.KeyLastActivity,
}

// ForceLogoutAndClear unconditionally deletes all session state, including
// remembered credentials and prefill data. It is the canonical recovery
// action for unrecoverable auth failures and is idempotent.
func (m *Manager) ForceLogoutAndClear() error {
	hadSession := m.LoggedIn()

	var firstErr error
	for _, key := range sessionKeys {
		if err := m.store.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if hadSession {
		m.audit.Log(audit.Entry{Action: audit.ActionForcedLogout})
		m.logger.Info("session cleared")
	}
	return nil
}

// UserInitiatedLogout ends the session at the user's request. Unlike a
// forced logout it preserves remember-me state: remembered credentials are
// decrypted and staged as prefill for the next login form. An unreadable
// remembered-credentials entry is discarded without failing the logout.
func (m *Manager) UserInitiatedLogout() error {
	creds, ok, err := m.rememberedCredentials()
	if err != nil {
		// Corrupted entries were discarded inside rememberedCredentials;
		// keychain unavailability just means no prefill.
		m.logger.Warn("remembered credentials unavailable at logout", "error", err)
	} else if ok {
		if err := m.stagePrefill(*creds); err != nil {
			m.logger.Error("staging prefill", "error", err)
		}
	}

	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, store.KeyUser, store.KeyLastActivity} {
		if err := m.store.Delete(key); err != nil {
			return err
		}
	}

	m.audit.Log(audit.Entry{Action: audit.ActionLogout})
	m.logger.Info("logged out")
	return nil
}
