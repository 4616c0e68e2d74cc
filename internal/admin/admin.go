// Package admin serves the optional HTTP side channel of a running server:
// liveness, readiness and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/observability"
)

const (
	nodeName        = "ringwire"
	shutdownTimeout = 5 * time.Second
)

// Status is the view of the dispatcher the routes report on.
type Status interface {
	ActiveConnections() int
	Addrs() []net.Addr
}

type Admin struct {
	router  *gin.Engine
	status  Status
	started time.Time
	version string
}

// New builds the admin engine. Request lines go to logger.
func New(status Status, corsOrigins []string, version string, logger zerolog.Logger) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(nodeName))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{router: r, status: status, started: time.Now(), version: version}
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"service": nodeName,
			"version": a.version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		addrs := a.status.Addrs()
		listeners := make([]string, 0, len(addrs))
		for _, addr := range addrs {
			listeners = append(listeners, addr.String())
		}
		status := http.StatusOK
		if len(listeners) == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":       len(listeners) > 0,
			"listeners":   listeners,
			"connections": a.status.ActiveConnections(),
			"uptime":      time.Since(a.started).String(),
		})
	})
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logging.Errnof(logging.LevelError, err, "admin: listen %s", addr)
		return err
	}
	srv := &http.Server{Handler: a.router, ReadHeaderTimeout: 5 * time.Second}
	logging.Infof("admin: listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Infof("admin: stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
