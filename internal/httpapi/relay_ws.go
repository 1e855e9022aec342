package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/voicerelay/internal/relay"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errNoCredential = errors.New("realtime relay not configured: missing upstream API key")

// handleRealtimeWS upgrades a browser connection and hands it to the relay
// engine. The handler returns as soon as the session is running.
func (r *Router) handleRealtimeWS(w http.ResponseWriter, req *http.Request) {
	if r.cfg.Upstream.APIKey == "" {
		r.logger.Printf("relay_ws: missing upstream API key")
		captureError(req, errNoCredential, "relay_ws: configuration error")
		http.Error(w, "realtime relay not configured", http.StatusServiceUnavailable)
		return
	}
	if r.engine.IsDraining() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("relay_ws: upgrade failed: %v", err)
		return
	}

	down := wsconn.New(conn, r.cfg.Downstream)
	s, err := r.engine.Accept(down, r.cfg.Upstream)
	if err != nil {
		// Accept closes the connection it refused.
		if !errors.Is(err, relay.ErrDraining) {
			captureError(req, err, "relay_ws: accept failed")
		}
		r.logger.Printf("relay_ws: rejected %s: %v", req.RemoteAddr, err)
		return
	}
	r.logger.Printf("relay_ws: session %s started for %s", s.ID(), req.RemoteAddr)
}
