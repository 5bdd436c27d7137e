package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbitel/opsbridge/internal/activity"
	"github.com/orbitel/opsbridge/internal/config"
	"github.com/orbitel/opsbridge/internal/keychain"
	"github.com/orbitel/opsbridge/internal/pipeline"
	"github.com/orbitel/opsbridge/internal/secrets"
	"github.com/orbitel/opsbridge/internal/session"
	"github.com/orbitel/opsbridge/internal/store"
)

// upstream fakes the remote back-office API behind the bridge.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "bad credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "a1",
			"refreshToken": "r1",
			"user":         map[string]string{"email": body.Email},
		})
	})
	mux.HandleFunc("/widgets", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"widgets": "many", "q": r.URL.RawQuery})
	})
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("attachment")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		json.NewEncoder(w).Encode(map[string]string{"name": hdr.Filename, "content": string(data)})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupBridge(t *testing.T, limiter *rate.Limiter) (*http.Client, *activity.Ring) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	api := upstream(t)
	conf := config.NewRuntime(&config.Config{
		APIBaseURL:     api.URL,
		IdleTimeout:    8 * time.Hour,
		RequestTimeout: 5 * time.Second,
		RefreshTimeout: 2 * time.Second,
	})

	cipher := secrets.NewCipher(keychain.NewMemoryStore())
	sessions := session.New(st, cipher, conf, nil, nil)
	client := pipeline.New(sessions, conf, nil)
	ring := activity.New(64)

	srv := NewServer(NewAdapter(sessions, client), ring)
	if limiter == nil {
		// Most tests log in repeatedly; keep the limiter out of the way.
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	srv.loginLimiter = limiter

	sockPath := filepath.Join(t.TempDir(), "bridge.sock")
	go srv.ListenUnix(sockPath)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	for i := 0; i < 20; i++ {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sockPath)
			},
		},
	}

	return httpClient, ring
}

func doLogin(t *testing.T, client *http.Client, password string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Email: "ops@example.net", Password: password, RememberMe: true})
	resp, err := client.Post("http://bridge/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/auth/login: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	client, _ := setupBridge(t, nil)

	resp, err := client.Get("http://bridge/v1/health")
	if err != nil {
		t.Fatalf("GET /v1/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %q", result["status"])
	}
}

func TestLoginThenState(t *testing.T) {
	client, _ := setupBridge(t, nil)

	resp := doLogin(t, client, "hunter2")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	stateResp, err := client.Get("http://bridge/v1/auth/state")
	if err != nil {
		t.Fatalf("GET /v1/auth/state: %v", err)
	}
	defer stateResp.Body.Close()

	var st State
	json.NewDecoder(stateResp.Body).Decode(&st)
	if !st.LoggedIn {
		t.Error("expected loggedIn after login")
	}
	if !strings.Contains(string(st.User), "ops@example.net") {
		t.Errorf("expected user in state, got %s", st.User)
	}
}

func TestLoginRejected(t *testing.T) {
	client, _ := setupBridge(t, nil)

	resp := doLogin(t, client, "wrong")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)
	if !strings.Contains(result["error"], "bad credentials") {
		t.Errorf("expected server message in error, got %q", result["error"])
	}
}

func TestLoginRateLimited(t *testing.T) {
	client, _ := setupBridge(t, rate.NewLimiter(rate.Limit(1), 1))

	first := doLogin(t, client, "wrong")
	first.Body.Close()
	second := doLogin(t, client, "wrong")
	defer second.Body.Close()

	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 on burst, got %d", second.StatusCode)
	}
}

func TestProfileBeforeLogin(t *testing.T) {
	client, _ := setupBridge(t, nil)

	resp, err := client.Get("http://bridge/v1/auth/profile")
	if err != nil {
		t.Fatalf("GET /v1/auth/profile: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without session, got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	client, _ := setupBridge(t, nil)

	doLogin(t, client, "hunter2").Body.Close()

	resp, err := client.Post("http://bridge/v1/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/auth/logout: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	stateResp, err := client.Get("http://bridge/v1/auth/state")
	if err != nil {
		t.Fatalf("GET /v1/auth/state: %v", err)
	}
	defer stateResp.Body.Close()
	var st State
	json.NewDecoder(stateResp.Body).Decode(&st)
	if st.LoggedIn {
		t.Error("expected logged out")
	}
	if !st.PrefillAvailable {
		t.Error("expected prefill staged after remember-me logout")
	}
}

func TestPrefillReadOnce(t *testing.T) {
	client, _ := setupBridge(t, nil)

	doLogin(t, client, "hunter2").Body.Close()
	resp, _ := client.Post("http://bridge/v1/auth/logout", "application/json", nil)
	resp.Body.Close()

	first, err := client.Get("http://bridge/v1/auth/prefill")
	if err != nil {
		t.Fatalf("GET /v1/auth/prefill: %v", err)
	}
	defer first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.StatusCode)
	}
	var creds session.Credentials
	json.NewDecoder(first.Body).Decode(&creds)
	if creds.Email != "ops@example.net" || creds.Password != "hunter2" {
		t.Errorf("unexpected prefill: %+v", creds)
	}

	second, err := client.Get("http://bridge/v1/auth/prefill")
	if err != nil {
		t.Fatalf("GET /v1/auth/prefill: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second read, got %d", second.StatusCode)
	}
}

func TestSaveTokens(t *testing.T) {
	client, _ := setupBridge(t, nil)

	body, _ := json.Marshal(session.SaveTokensParams{
		AccessToken: "a9",
		User:        json.RawMessage(`{"email":"ops@example.net"}`),
	})
	resp, err := client.Post("http://bridge/v1/auth/tokens", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/auth/tokens: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	stateResp, err := client.Get("http://bridge/v1/auth/state")
	if err != nil {
		t.Fatalf("GET /v1/auth/state: %v", err)
	}
	defer stateResp.Body.Close()
	var st State
	json.NewDecoder(stateResp.Body).Decode(&st)
	if !st.LoggedIn {
		t.Error("expected loggedIn after saveTokens")
	}
}

func TestSaveTokensMissingAccessToken(t *testing.T) {
	client, _ := setupBridge(t, nil)

	resp, err := client.Post("http://bridge/v1/auth/tokens", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /v1/auth/tokens: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProxyGetPreservesQuery(t *testing.T) {
	client, ring := setupBridge(t, nil)

	doLogin(t, client, "hunter2").Body.Close()

	resp, err := client.Get("http://bridge/v1/api/widgets?page=2")
	if err != nil {
		t.Fatalf("GET /v1/api/widgets: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 transport status, got %d", resp.StatusCode)
	}

	var result pipeline.Result
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.OK || result.Status != http.StatusOK {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(string(result.Data), "page=2") {
		t.Errorf("expected query forwarded, got %s", result.Data)
	}

	entries := ring.Entries()
	found := false
	for _, e := range entries {
		if e.Verb == "get" && strings.HasPrefix(e.Endpoint, "/widgets") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected activity entry for proxy call, got %+v", entries)
	}
}

func TestProxyWithoutSession(t *testing.T) {
	client, _ := setupBridge(t, nil)

	resp, err := client.Get("http://bridge/v1/api/widgets")
	if err != nil {
		t.Fatalf("GET /v1/api/widgets: %v", err)
	}
	defer resp.Body.Close()

	// The bridge transport always answers 200; the normalized result
	// carries the auth failure.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 transport status, got %d", resp.StatusCode)
	}
	var result pipeline.Result
	json.NewDecoder(resp.Body).Decode(&result)
	if result.OK || result.Status != http.StatusUnauthorized {
		t.Errorf("expected normalized 401, got %+v", result)
	}
}

func TestUpload(t *testing.T) {
	client, _ := setupBridge(t, nil)

	doLogin(t, client, "hunter2").Body.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("endpoint", "/files")
	mw.WriteField("fieldName", "attachment")
	part, _ := mw.CreateFormFile("file", "report.csv")
	part.Write([]byte("id,name\n1,alpha\n"))
	mw.Close()

	resp, err := client.Post("http://bridge/v1/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result pipeline.Result
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.OK {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(string(result.Data), "report.csv") {
		t.Errorf("expected filename echoed, got %s", result.Data)
	}
}

func TestUploadMissingFields(t *testing.T) {
	client, _ := setupBridge(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("endpoint", "/files")
	mw.Close()

	resp, err := client.Post("http://bridge/v1/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestActivityEndpoint(t *testing.T) {
	client, _ := setupBridge(t, nil)

	doLogin(t, client, "hunter2").Body.Close()
	resp, _ := client.Get("http://bridge/v1/api/widgets")
	resp.Body.Close()

	actResp, err := client.Get("http://bridge/v1/activity?n=10")
	if err != nil {
		t.Fatalf("GET /v1/activity: %v", err)
	}
	defer actResp.Body.Close()

	var entries []activity.Entry
	json.NewDecoder(actResp.Body).Decode(&entries)
	if len(entries) < 2 {
		t.Fatalf("expected login and proxy entries, got %+v", entries)
	}
}

func TestLoginBodyTooLarge(t *testing.T) {
	client, _ := setupBridge(t, nil)

	// A body past the decode cap arrives truncated and fails to parse.
	req := LoginRequest{Email: "ops@example.net", Password: strings.Repeat("x", 2<<20)}
	body, _ := json.Marshal(req)
	resp, err := client.Post("http://bridge/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/auth/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", resp.StatusCode)
	}
}

func TestSaveTokensBodyTooLarge(t *testing.T) {
	client, _ := setupBridge(t, nil)

	p := session.SaveTokensParams{
		AccessToken: "a1",
		User:        json.RawMessage(`"` + strings.Repeat("u", 2<<20) + `"`),
	}
	body, _ := json.Marshal(p)
	resp, err := client.Post("http://bridge/v1/auth/tokens", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/auth/tokens: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", resp.StatusCode)
	}
}
