package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	"github.com/lukasbauer/voicerelay/internal/relay"
	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	// Static files served on GET / for non-websocket requests
	PublicDir string

	// Bearer key for /admin endpoints; empty disables them
	AdminAPIKey string

	// Session establishment parameters for every relayed connection
	Upstream upstream.Params

	// Options for the downstream (browser) connection
	Downstream wsconn.Options

	// Metrics source for /metrics; nil disables the route
	Gatherer prometheus.Gatherer
}

type Router struct {
	cfg    RouterConfig
	logger *log.Logger
	engine *relay.Engine
	static http.Handler
	mux    *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, engine *relay.Engine) http.Handler {
	r := &Router{
		cfg:    cfg,
		logger: logger,
		engine: engine,
		mux:    http.NewServeMux(),
	}
	if cfg.PublicDir != "" {
		r.static = http.FileServer(http.Dir(cfg.PublicDir))
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Realtime relay
	r.mux.HandleFunc("GET /realtime", r.handleRealtimeWS)

	if r.cfg.Gatherer != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Admin endpoints (requires ADMIN_API_KEY)
	r.mux.HandleFunc("GET /admin/sessions", r.withAdmin(r.handleAdminListSessions))
	r.mux.HandleFunc("DELETE /admin/sessions/{id}", r.withAdmin(r.handleAdminCloseSession))

	// Browser client: websocket upgrade on the root path, static files otherwise
	r.mux.HandleFunc("GET /", r.handleRoot)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.engine.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if websocket.IsWebSocketUpgrade(req) {
		r.handleRealtimeWS(w, req)
		return
	}
	if r.static == nil {
		http.NotFound(w, req)
		return
	}
	r.static.ServeHTTP(w, req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
