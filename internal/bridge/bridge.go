// Package bridge exposes the session and request pipeline to the UI layer
// as a narrow set of verbs, and nothing else.
//
// The UI process never touches the keychain or the key-value store; it only
// sees this surface, served over a Unix socket. That isolation is a security
// control: a compromised renderer can drive the verbs but cannot read
// stored secrets.
package bridge

import (
	"context"
	"encoding/json"
	"io"

	"github.com/orbitel/opsbridge/internal/pipeline"
	"github.com/orbitel/opsbridge/internal/session"
)

// LoginRequest carries login form input.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// State describes the session as the shell needs to see it.
type State struct {
	LoggedIn         bool            `json:"loggedIn"`
	User             json.RawMessage `json:"user,omitempty"`
	PrefillAvailable bool            `json:"prefillAvailable"`
}

// Bridge is the typed capability surface exposed to the UI layer.
type Bridge interface {
	Login(ctx context.Context, req LoginRequest) (json.RawMessage, error)
	Logout() error
	Profile() (json.RawMessage, bool, error)
	PrefillCredentials() (*session.Credentials, bool, error)
	SaveTokens(p session.SaveTokensParams) error
	State() State
	Request(ctx context.Context, method, endpoint string, body json.RawMessage) pipeline.Result
	Upload(ctx context.Context, endpoint, fieldName, filename string, r io.Reader) pipeline.Result
}

// Adapter implements Bridge over the session manager and request pipeline.
type Adapter struct {
	sessions *session.Manager
	api      *pipeline.Client
}

// NewAdapter creates the bridge adapter.
func NewAdapter(sessions *session.Manager, api *pipeline.Client) *Adapter {
	return &Adapter{sessions: sessions, api: api}
}

func (a *Adapter) Login(ctx context.Context, req LoginRequest) (json.RawMessage, error) {
	return a.sessions.Login(ctx, req.Email, req.Password, req.RememberMe)
}

func (a *Adapter) Logout() error {
	return a.sessions.UserInitiatedLogout()
}

func (a *Adapter) Profile() (json.RawMessage, bool, error) {
	return a.sessions.Profile()
}

func (a *Adapter) PrefillCredentials() (*session.Credentials, bool, error) {
	return a.sessions.PrefillCredentials()
}

func (a *Adapter) SaveTokens(p session.SaveTokensParams) error {
	return a.sessions.SaveTokens(p)
}

func (a *Adapter) State() State {
	st := State{
		LoggedIn:         a.sessions.LoggedIn(),
		PrefillAvailable: a.sessions.HasPrefill(),
	}
	if user, ok, err := a.sessions.Profile(); err == nil && ok {
		st.User = user
	}
	return st
}

func (a *Adapter) Request(ctx context.Context, method, endpoint string, body json.RawMessage) pipeline.Result {
	if len(body) == 0 {
		return a.api.Do(ctx, method, endpoint, nil, nil)
	}
	return a.api.Do(ctx, method, endpoint, []byte(body), map[string]string{"Content-Type": "application/json"})
}

func (a *Adapter) Upload(ctx context.Context, endpoint, fieldName, filename string, r io.Reader) pipeline.Result {
	return a.api.Upload(ctx, endpoint, fieldName, filename, r)
}
