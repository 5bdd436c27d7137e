// Package pipeline wraps outbound API calls with bearer-token injection,
// 401/403 interception, single-flight token refresh, and retry-once
// semantics.
//
// The pipeline never returns a Go error to its caller: every outcome,
// including network failure, is normalized into a Result. Auth endpoints
// (/auth/login, /auth/refresh) are owned by the session manager and never
// pass through here, so an intercepted 401 can never recurse into another
// interception.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/orbitel/opsbridge/internal/config"
	"github.com/orbitel/opsbridge/internal/session"
)

// Result is the normalized outcome of a pipeline request.
type Result struct {
	OK      bool            `json:"ok"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Client sends authenticated requests to the remote API.
type Client struct {
	sessions *session.Manager
	conf     *config.Runtime
	http     *http.Client
	logger   *slog.Logger
}

// New creates a pipeline client.
func New(sessions *session.Manager, conf *config.Runtime, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		sessions: sessions,
		conf:     conf,
		http:     httpClient,
		logger:   slog.With("component", "pipeline"),
	}
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, endpoint string) Result {
	return c.Do(ctx, http.MethodGet, endpoint, nil, nil)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) Result {
	return c.Do(ctx, http.MethodPost, endpoint, body, nil)
}

// Put issues an authenticated PUT with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) Result {
	return c.Do(ctx, http.MethodPut, endpoint, body, nil)
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, endpoint string) Result {
	return c.Do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Do sends one authenticated request. A JSON-serializable body is encoded
// with a JSON content type; an io.Reader body (multipart upload) is sent
// verbatim with whatever content type the headers carry.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, headers map[string]string) Result {
	token, ok, err := c.sessions.AccessToken()
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Message: "session store unavailable"}
	}
	if !ok {
		// No session at all: assert it client-side without touching the
		// network.
		if err := c.sessions.ForceLogoutAndClear(); err != nil {
			c.logger.Error("clearing session", "error", err)
		}
		return Result{Status: http.StatusUnauthorized, Message: "no active session"}
	}

	payload, contentType, ok := encodeBody(body, headers)
	if !ok {
		return Result{Status: http.StatusInternalServerError, Message: "unencodable request body"}
	}

	// Pre-flight: a JWT access token that is already past its exp claim
	// will be rejected anyway, so refresh first and save a round-trip.
	// Opaque tokens skip this and rely on 401 interception.
	if tokenExpired(token) {
		newToken, err := c.sessions.RefreshAccessToken(ctx)
		if err != nil {
			return Result{Status: http.StatusUnauthorized, Message: err.Error()}
		}
		token = newToken
	}

	status, respBody, err := c.send(ctx, method, endpoint, token, payload, contentType, headers)
	if err != nil {
		return Result{Status: http.StatusServiceUnavailable, Message: "cannot reach server: " + err.Error()}
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		newToken, err := c.sessions.RefreshAccessToken(ctx)
		if err != nil {
			return Result{Status: http.StatusUnauthorized, Message: err.Error()}
		}
		// Retry the original request exactly once with the new token.
		status, respBody, err = c.send(ctx, method, endpoint, newToken, payload, contentType, headers)
		if err != nil {
			return Result{Status: http.StatusServiceUnavailable, Message: "cannot reach server: " + err.Error()}
		}
	}

	return c.finish(status, respBody)
}

// send performs a single HTTP exchange and returns status and body.
func (c *Client) send(ctx context.Context, method, endpoint, token string, payload []byte, contentType string, headers map[string]string) (int, []byte, error) {
	cfg := c.conf.Current()
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	url := strings.TrimRight(cfg.APIBaseURL, "/") + endpoint

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// finish maps a settled HTTP exchange onto a Result.
func (c *Client) finish(status int, body []byte) Result {
	if status >= 200 && status <= 299 {
		if err := c.sessions.StampActivity(); err != nil {
			c.logger.Error("stamping activity", "error", err)
		}
		if status == http.StatusNoContent || len(body) == 0 {
			return Result{OK: true, Status: status, Data: json.RawMessage(`{}`)}
		}
		return Result{OK: true, Status: status, Data: body}
	}

	return Result{Status: status, Data: body, Message: serverMessage(body)}
}

// encodeBody turns the caller's body into wire bytes. io.Reader bodies are
// buffered so the request can be replayed after a token refresh; they keep
// the caller's content type. Structured bodies are JSON-encoded.
func encodeBody(body any, headers map[string]string) (payload []byte, contentType string, ok bool) {
	switch b := body.(type) {
	case nil:
		return nil, "", true
	case io.Reader:
		raw, err := io.ReadAll(b)
		if err != nil {
			return nil, "", false
		}
		return raw, headers["Content-Type"], true
	case []byte:
		return b, headers["Content-Type"], true
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", false
		}
		return raw, "application/json", true
	}
}

// serverMessage extracts the conventional {message} field from an error body.
func serverMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Message
}

// tokenExpired reports whether the token is a JWT whose exp claim has
// passed. The claim is read without signature verification: the client has
// no key and only needs a hint, the server remains the authority.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
