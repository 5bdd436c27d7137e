// Package audit provides append-only structured logging for auth events.
//
// Every session transition (login, silent login, logout, refresh, credential
// cleanup) is recorded to an audit log at ~/.opsbridge/audit.log as
// newline-delimited JSON. Secrets and tokens never appear in entries.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action describes what happened.
type Action string

const (
	ActionLogin             Action = "login"
	ActionSilentLogin       Action = "silent_login"
	ActionLogout            Action = "logout"
	ActionForcedLogout      Action = "forced_logout"
	ActionRefresh           Action = "refresh"
	ActionCredentialCleanup Action = "credential_cleanup"
)

// Entry is a single audit log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Email     string    `json:"email,omitempty"`
	Outcome   string    `json:"outcome"` // "ok" or "failed"
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an audit log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an audit entry. The entry ID and timestamp are filled in if
// unset.
func (l *Logger) Log(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = "ok"
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
