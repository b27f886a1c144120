// Package api exposes the chat relay over HTTP.
//
// Routes:
//
//	POST /chat             one chat turn
//	GET  /chat/history     message log of one session
//	GET  /incidents        recent crisis escalations (admin token required)
//	GET  /healthz, /readyz liveness and readiness
//	GET  /metrics          Prometheus scrape endpoint
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/serene/internal/chat"
	"github.com/MrWong99/serene/internal/health"
	"github.com/MrWong99/serene/internal/incident"
	"github.com/MrWong99/serene/internal/observe"
	"github.com/MrWong99/serene/internal/session"
)

// Config wires the router.
type Config struct {
	Chat      *chat.Service
	Sessions  *session.Store
	Incidents incident.Store

	// Health serves /healthz and /readyz. Nil registers a handler without
	// readiness checks.
	Health *health.Handler

	// Metrics records request latency. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil uses the default Prometheus
	// registry.
	MetricsHandler http.Handler

	// AllowedOrigins lists the browser origins permitted by CORS.
	AllowedOrigins []string

	// AdminToken guards /incidents. Empty leaves the route unmounted.
	AdminToken string
}

// NewRouter returns a [gin.Engine] with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-Email"},
		ExposeHeaders:    []string{"Content-Length", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(observe.Middleware(cfg.Metrics))

	h := &chatHandler{chat: cfg.Chat, sessions: cfg.Sessions}
	r.POST("/chat", h.Send)
	r.GET("/chat/history", h.History)

	if cfg.AdminToken != "" && cfg.Incidents != nil {
		ih := &incidentHandler{store: cfg.Incidents}
		r.GET("/incidents", RequireBearer(cfg.AdminToken), ih.List)
	}

	cfg.Health.Register(r)
	r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	return r
}
