package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/logger"
)

const (
	RequestIDHeader = "X-Request-ID"

	defaultMaxUploadBytes = 20 << 20
	corsAllowMethods      = "DELETE, GET, HEAD, OPTIONS, PATCH, POST, PUT"
	corsMaxAge            = "600"
)

// ComponentStatus is one entry of the /health body.
type ComponentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthFunc reports component health for GET /health.
type HealthFunc func(ctx context.Context) map[string]ComponentStatus

type Options struct {
	CORSOrigins    []string
	MaxUploadBytes int64
	Health         HealthFunc
}

// Server exposes the ingress over HTTP.
type Server struct {
	ingress *Ingress
	opts    Options
	handler http.Handler
}

func NewServer(ingress *Ingress, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &Server{ingress: ingress, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /ask", s.handleAsk)

	s.handler = withRequestID(withCORS(opts.CORSOrigins, mux))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

type rootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	DocsURL string `json:"docs_url"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message: "MedTriage API is running!",
		Status:  "online",
		DocsURL: "/docs",
	})
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.opts.Health != nil {
		resp.Components = s.opts.Health(r.Context())
	}

	status := http.StatusOK
	for _, c := range resp.Components {
		if !c.Healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	req, err := ParseAskForm(r, s.opts.MaxUploadBytes)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if id := logger.GetTraceID(ctx); id != "" {
		req.ID = id
	}

	resp, err := s.ingress.Submit(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := triageErrors.HTTPStatus(err)
	log := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "status", status, "error", err)
	} else {
		log.Warn("Request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: triageErrors.Detail(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := NewRequestID()
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), id)))
	})
}

// withCORS echoes allowed origins with credentials and answers preflight
// requests itself.
func withCORS(origins []string, next http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")
	allowed := func(origin string) bool {
		return allowAll || slices.Contains(origins, origin)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		if !allowed(origin) {
			if preflight {
				http.Error(w, "Disallowed CORS origin", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")

		if preflight {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); strings.TrimSpace(reqHeaders) != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusOK)
			return
		}

		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		next.ServeHTTP(w, r)
	})
}
