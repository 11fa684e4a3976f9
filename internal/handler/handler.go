package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angeloszaimis/randdistri/internal/control"
	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/router"
)

const DefaultFailureSeconds = 10

type Handler struct {
	logger         *slog.Logger
	router         *router.Router
	control        *control.API
	metrics        http.Handler
	failureSeconds int
}

type Option func(*Handler)

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(hd *Handler) { hd.metrics = h }
}

// WithDefaultFailureSeconds sets the outage length used when simulate_failure omits seconds.
func WithDefaultFailureSeconds(n int) Option {
	return func(hd *Handler) {
		if n > 0 {
			hd.failureSeconds = n
		}
	}
}

func New(logger *slog.Logger, rt *router.Router, ctl *control.API, opts ...Option) *Handler {
	h := &Handler{
		logger:         logger.With(slog.String("component", "http")),
		router:         rt,
		control:        ctl,
		failureSeconds: DefaultFailureSeconds,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Routes returns the full mux wrapped in request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /generate", h.generate)
	mux.HandleFunc("GET /set_weight", h.setWeight)
	mux.HandleFunc("GET /start", h.start)
	mux.HandleFunc("GET /start_server", h.start)
	mux.HandleFunc("GET /stop", h.stop)
	mux.HandleFunc("GET /stop_server", h.stop)
	mux.HandleFunc("GET /toggle_server", h.toggle)
	mux.HandleFunc("GET /restart_all", h.restartAll)
	mux.HandleFunc("GET /simulate_failure", h.simulateFailure)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/clear_log", h.clearLog)
	mux.HandleFunc("POST /api/reset_stats", h.resetStats)
	mux.HandleFunc("GET /health", h.health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	return h.logRequests(mux)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		if r.URL.Path == "/api/status" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		h.logger.Log(r.Context(), level, "Handled request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	res, err := h.router.Route(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) setWeight(w http.ResponseWriter, r *http.Request) {
	id, err := requireServer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	weight, err := strconv.Atoi(r.URL.Query().Get("weight"))
	if err != nil {
		h.writeError(w, errs.Invalid("weight must be an integer"))
		return
	}

	change, err := h.control.SetWeight(id, weight)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("Weight: %d -> %d", change.Old, change.New),
		"server":     change.Server,
		"old_weight": change.Old,
		"new_weight": change.New,
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id, err := requireServer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.control.StartServer(r.Context(), id); err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": id + " started"})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	id, err := requireServer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.control.StopServer(r.Context(), id); err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": id + " stopped"})
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	id, err := requireServer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	healthy, err := h.control.ToggleHealth(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := "OFF"
	if healthy {
		status = "ON"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    fmt.Sprintf("%s is now %s", id, status),
		"new_status": status,
	})
}

func (h *Handler) restartAll(w http.ResponseWriter, r *http.Request) {
	results := h.control.RestartAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Restarted all servers",
		"results": results,
	})
}

func (h *Handler) simulateFailure(w http.ResponseWriter, r *http.Request) {
	id, err := requireServer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	seconds := h.failureSeconds
	if raw := r.URL.Query().Get("seconds"); raw != "" {
		seconds, err = strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, errs.Invalid("seconds must be an integer"))
			return
		}
	}

	if _, err := h.control.SimulateFailure(r.Context(), id, seconds); err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Failure simulated for %ds", seconds),
		"server":  id,
		"seconds": seconds,
	})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.control.Status())
}

func (h *Handler) clearLog(w http.ResponseWriter, _ *http.Request) {
	h.control.ClearLog()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Log cleared"})
}

func (h *Handler) resetStats(w http.ResponseWriter, _ *http.Request) {
	h.control.ResetCounters()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Counters reset"})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Server string `json:"server,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorStatus(w, err, errs.HTTPStatus(errs.KindOf(err)))
}

// writeLifecycleError reports an unknown server as 400 on start, stop and
// simulate_failure, alongside the other rejected lifecycle requests.
func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error) {
	if errs.KindOf(err) == errs.KindServerNotFound {
		h.writeErrorStatus(w, err, http.StatusBadRequest)
		return
	}
	h.writeError(w, err)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, err error, status int) {
	kind := errs.KindOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Request failed", slog.String("kind", string(kind)), slog.Any("err", err))
	}
	writeJSON(w, status, errorBody{
		Error:  err.Error(),
		Kind:   string(kind),
		Server: errs.ServerOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requireServer(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.URL.Query().Get("server"))
	if id == "" {
		return "", errs.Invalid("server is required")
	}
	return id, nil
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
