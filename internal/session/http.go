package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// authResponse is the body shape of /auth/login and /auth/refresh.
type authResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	User         json.RawMessage `json:"user"`
	Message      string          `json:"message"`
}

// endpoint joins the configured API base URL with a path.
func (m *Manager) endpoint(path string) string {
	base := strings.TrimRight(m.conf.Current().APIBaseURL, "/")
	return base + path
}

// postAuth POSTs a JSON body to an auth endpoint and decodes the response.
// The HTTP status is returned alongside the parsed body; a transport-level
// failure returns a non-nil error instead.
func (m *Manager) postAuth(ctx context.Context, url string, body any) (int, *authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}

	parsed := &authResponse{}
	if len(raw) > 0 {
		// Tolerate non-JSON error bodies; the status code already tells
		// the caller what happened.
		_ = json.Unmarshal(raw, parsed)
	}
	return resp.StatusCode, parsed, nil
}
