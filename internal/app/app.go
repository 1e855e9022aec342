package app

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/voicerelay/internal/eventlog"
	"github.com/lukasbauer/voicerelay/internal/httpapi"
	"github.com/lukasbauer/voicerelay/internal/relay"
	"github.com/lukasbauer/voicerelay/internal/upstream"
	"github.com/lukasbauer/voicerelay/internal/wsconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	registry *prometheus.Registry
	engine   *relay.Engine
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var interceptor relay.Interceptor = relay.PassThrough{}
	if cfg.AutoRespond {
		responder, err := relay.NewCommitResponder(cfg.ResponseModalities)
		if err != nil {
			return nil, err
		}
		interceptor = responder
	}

	// Dedicated dialer for the realtime service. The handshake is bounded by
	// the session's connect timeout through the context.
	dialer := upstream.NewDialer(upstream.DialerConfig{
		Conn:   cfg.connOptions(),
		Logger: logger,
		Dialer: &websocket.Dialer{
			Proxy: http.ProxyFromEnvironment,
			NetDialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
	})

	engine := relay.NewEngine(relay.Config{
		Connector:      dialer,
		Interceptor:    interceptor,
		PendingLimit:   cfg.PendingLimit,
		ConnectTimeout: cfg.ConnectTimeout,
		Metrics:        relay.NewMetrics(reg),
		Events:         eventlog.New(logger),
		Logger:         logger,
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		engine:   engine,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicDir:   a.cfg.PublicDir,
		AdminAPIKey: a.cfg.AdminAPIKey,
		Upstream:    a.cfg.upstreamParams(),
		Downstream:  a.cfg.connOptions(),
		Gatherer:    a.registry,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.engine)
}

// StartDraining makes /readyz fail and rejects new sessions.
func (a *App) StartDraining() {
	a.engine.StartDraining()
}

// ActiveSessions returns the number of running sessions.
func (a *App) ActiveSessions() int {
	return a.engine.ActiveCount()
}

// Close ends every session, waiting at most until ctx is done.
func (a *App) Close(ctx context.Context) error {
	return a.engine.Shutdown(ctx)
}

func (c Config) upstreamParams() upstream.Params {
	return upstream.Params{
		URL:          c.RealtimeURL,
		Model:        c.RealtimeModel,
		APIKey:       c.OpenAIAPIKey,
		Beta:         c.OpenAIBeta,
		Modalities:   c.Modalities,
		Instructions: c.Instructions,
		Voice:        c.Voice,
	}
}

func (c Config) connOptions() wsconn.Options {
	return wsconn.Options{
		QueueSize:    c.OutboundQueueSize,
		WriteTimeout: c.WriteTimeout,
		CloseGrace:   c.CloseGrace,
		PingInterval: c.PingInterval,
		ReadLimit:    c.MaxMessageBytes,
	}
}
