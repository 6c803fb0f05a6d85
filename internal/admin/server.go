// Package admin serves the gateway's local HTTP surface: health, status,
// Prometheus metrics and manual outbound injection.
package admin

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/serialgw/internal/auth"
	"github.com/danmuck/serialgw/internal/gateway"
	"github.com/danmuck/serialgw/internal/observability"
	"github.com/danmuck/serialgw/internal/outbound"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr        = "127.0.0.1:8081"
	DefaultSendTimeout = 2 * time.Second
	version            = "0.1.0"
)

// StatusSource is the part of the gateway the admin surface reads.
type StatusSource interface {
	Status() gateway.Status
}

type Config struct {
	Addr        string
	CORSOrigins []string
	SendTimeout time.Duration
	// Token, when set, is required as a bearer token on POST /outbound.
	Token string
}

type Server struct {
	cfg     Config
	status  StatusSource
	out     *outbound.Queue
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, status StatusSource, out *outbound.Queue) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/metrics", "/health"))
	r.Use(observability.RequestMetricsMiddleware("admin"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, status: status, out: out, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// outboundRequest carries either a text payload or a hex-encoded one.
type outboundRequest struct {
	Payload string `json:"payload"`
	Hex     string `json:"hex"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.status.Status()
		ready := st.State != gateway.StateIdle && st.State != gateway.StateStopped
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": ready, "state": st.State})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status.Status())
	})

	var guard []gin.HandlerFunc
	if s.cfg.Token != "" {
		guard = append(guard, auth.Require(auth.StaticToken{Token: s.cfg.Token}))
	}
	s.router.POST("/outbound", append(guard, func(c *gin.Context) {
		var req outboundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload := []byte(req.Payload)
		if req.Hex != "" {
			raw, err := hex.DecodeString(req.Hex)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hex: " + err.Error()})
				return
			}
			payload = raw
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.SendTimeout)
		defer cancel()
		err := s.out.Send(ctx, outbound.Packet{Topic: "admin", Payload: payload})
		switch {
		case err == nil:
			log.Info().Int("bytes", len(payload)).Msg("admin outbound packet queued")
			c.JSON(http.StatusAccepted, gin.H{"status": "queued", "bytes": len(payload)})
		case errors.Is(err, outbound.ErrPacketTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.Is(err, outbound.ErrEmptyPacket):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		}
	})...)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
