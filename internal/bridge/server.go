package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/orbitel/opsbridge/internal/activity"
	"github.com/orbitel/opsbridge/internal/session"
)

// Server serves the bridge verbs over a Unix socket.
type Server struct {
	bridge   Bridge
	ring     *activity.Ring
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger

	// loginLimiter damps brute-force attempts through the login verb.
	loginLimiter *rate.Limiter
}

// NewServer creates a bridge server.
func NewServer(b Bridge, ring *activity.Ring) *Server {
	s := &Server{
		bridge:       b,
		ring:         ring,
		logger:       slog.With("component", "bridge"),
		loginLimiter: rate.NewLimiter(rate.Limit(1), 5),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", s.login)
	mux.HandleFunc("POST /v1/auth/logout", s.logout)
	mux.HandleFunc("GET /v1/auth/profile", s.profile)
	mux.HandleFunc("GET /v1/auth/prefill", s.prefill)
	mux.HandleFunc("POST /v1/auth/tokens", s.saveTokens)
	mux.HandleFunc("GET /v1/auth/state", s.state)
	mux.HandleFunc("GET /v1/api/{endpoint...}", s.proxy(http.MethodGet))
	mux.HandleFunc("POST /v1/api/{endpoint...}", s.proxy(http.MethodPost))
	mux.HandleFunc("PUT /v1/api/{endpoint...}", s.proxy(http.MethodPut))
	mux.HandleFunc("DELETE /v1/api/{endpoint...}", s.proxy(http.MethodDelete))
	mux.HandleFunc("POST /v1/upload", s.upload)
	mux.HandleFunc("GET /v1/activity", s.activity)
	mux.HandleFunc("GET /v1/health", s.health)

	s.server = &http.Server{Handler: mux}
	return s
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("bridge listening", "socket", path)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the bridge server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) record(verb, endpoint string, status int) {
	if s.ring != nil {
		s.ring.Record(activity.Entry{Verb: verb, Endpoint: endpoint, Status: status})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.Allow() {
		s.record("login", "", http.StatusTooManyRequests)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many login attempts"})
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user, err := s.bridge.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, session.ErrIncompleteResponse) {
			status = http.StatusBadGateway
		}
		s.record("login", "", status)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	s.record("login", "", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"user": json.RawMessage(user)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Logout(); err != nil {
		s.record("logout", "", http.StatusInternalServerError)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.record("logout", "", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	user, ok, err := s.bridge.Profile()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no user profile"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": json.RawMessage(user)})
}

// prefill returns staged login-form credentials. Read-once: the entry is
// deleted as part of the same request.
func (s *Server) prefill(w http.ResponseWriter, r *http.Request) {
	creds, ok, err := s.bridge.PrefillCredentials()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no prefill data"})
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *Server) saveTokens(w http.ResponseWriter, r *http.Request) {
	var p session.SaveTokensParams
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.bridge.SaveTokens(p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.State())
}

// proxy forwards a business API call through the authenticated pipeline.
// The pipeline's normalized result is always a 200 at the bridge transport
// level; the embedded status tells the UI what the remote said.
func (s *Server) proxy(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := "/" + r.PathValue("endpoint")
		if r.URL.RawQuery != "" {
			endpoint += "?" + r.URL.RawQuery
		}

		var body json.RawMessage
		if method == http.MethodPost || method == http.MethodPut {
			raw, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body"})
				return
			}
			body = raw
		}

		result := s.bridge.Request(r.Context(), method, endpoint, body)
		s.record(verbFor(method), endpoint, result.Status)
		writeJSON(w, http.StatusOK, result)
	}
}

func verbFor(method string) string {
	switch method {
	case http.MethodGet:
		return "get"
	case http.MethodPost:
		return "post"
	case http.MethodPut:
		return "put"
	case http.MethodDelete:
		return "delete"
	default:
		return method
	}
}

// upload accepts a multipart form with "endpoint", "fieldName", and "file"
// parts and forwards the file through the pipeline.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	endpoint := r.FormValue("endpoint")
	fieldName := r.FormValue("fieldName")
	if endpoint == "" || fieldName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint and fieldName are required"})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file part is required"})
		return
	}
	defer file.Close()

	result := s.bridge.Upload(r.Context(), endpoint, fieldName, hdr.Filename, file)
	s.record("upload", endpoint, result.Status)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if s.ring == nil {
		writeJSON(w, http.StatusOK, []activity.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, s.ring.Last(n))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
