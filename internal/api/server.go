package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/configstore"
	"github.com/warpstreamlabs/cdcengine/internal/orchestrator"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

// Config holds the control plane's own listen/CORS configuration, mirroring
// the teacher's lib/api server.NewConfig() shape.
type Config struct {
	Addr        string
	CORSEnabled bool
}

// Server wraps an http.Server exposing the control plane routes over the
// orchestrator, config store and registry.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds a Server. Routes are registered eagerly; nothing is dialed
// until Run is called.
func New(cfg Config, orch *orchestrator.Orchestrator, store configstore.Store, reg *registry.Registry, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	h := &handlers{orch: orch, store: store, reg: reg, log: log}
	h.register(router)

	var handler http.Handler = router
	if cfg.CORSEnabled {
		handler = cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}).Handler(router)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

// Run blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("control plane listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
