package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/orbitel/opsbridge/internal/config"
	"github.com/orbitel/opsbridge/internal/keychain"
	"github.com/orbitel/opsbridge/internal/secrets"
	"github.com/orbitel/opsbridge/internal/store"
)

// fakeAPI stands in for the remote back-office API.
type fakeAPI struct {
	mu           sync.Mutex
	refreshCalls int
	login        http.HandlerFunc
	refreshFn    http.HandlerFunc
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		a.mu.Lock()
		h := a.login
		a.mu.Unlock()
		if h == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		h(w, r)
	case "/auth/refresh":
		a.mu.Lock()
		a.refreshCalls++
		h := a.refreshFn
		a.mu.Unlock()
		if h == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		h(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *fakeAPI) RefreshCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type env struct {
	m      *Manager
	st     *store.Store
	ring   *keychain.MemoryStore
	cipher *secrets.Cipher
	api    *fakeAPI
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ring := keychain.NewMemoryStore()
	cipher := secrets.NewCipher(ring)

	cfg := &config.Config{
		APIBaseURL:     srv.URL,
		IdleTimeout:    8 * time.Hour,
		RequestTimeout: 5 * time.Second,
		RefreshTimeout: time.Second,
		WarmupTimeout:  time.Second,
		WarmupAttempts: 1,
	}

	m := New(st, cipher, config.NewRuntime(cfg), srv.Client(), nil)
	return &env{m: m, st: st, ring: ring, cipher: cipher, api: api}
}

// ok login handler returning the canonical a1/r1/u1 response.
func defaultLoginOK(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"accessToken":  "a1",
		"refreshToken": "r1",
		"user":         map[string]any{"id": "u1", "displayName": "Op One", "role": "admin"},
	})
}

// seedSession puts a logged-in session into the store: token a0, encrypted
// refresh token r0, user u1, fresh activity stamp.
func (e *env) seedSession(t *testing.T) {
	t.Helper()
	e.seedSessionIdle(t, 0)
}

// seedSessionIdle is seedSession with the activity stamp aged by idle.
func (e *env) seedSessionIdle(t *testing.T, idle time.Duration) {
	t.Helper()

	if err := e.st.SetString(store.KeyAccessToken, "a0"); err != nil {
		t.Fatal(err)
	}
	enc, err := e.cipher.EncryptToString("r0")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.st.SetString(store.KeyRefreshToken, enc); err != nil {
		t.Fatal(err)
	}
	if err := e.st.Set(store.KeyUser, []byte(`{"id":"u1","role":"admin"}`)); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-idle).UnixMilli()
	if err := e.st.SetString(store.KeyLastActivity, strconv.FormatInt(stamp, 10)); err != nil {
		t.Fatal(err)
	}
}

// seedRememberedCredentials stores encrypted remember-me credentials.
func (e *env) seedRememberedCredentials(t *testing.T, email, password string) {
	t.Helper()
	if err := e.m.storeRememberedCredentials(Credentials{Email: email, Password: password}); err != nil {
		t.Fatal(err)
	}
}

func (e *env) mustGet(t *testing.T, key string) string {
	t.Helper()
	val, ok, err := e.st.GetString(key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	if !ok {
		t.Fatalf("expected %s to be present", key)
	}
	return val
}

func (e *env) mustAbsent(t *testing.T, key string) {
	t.Helper()
	_, ok, err := e.st.GetString(key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	if ok {
		t.Fatalf("expected %s to be absent", key)
	}
}
