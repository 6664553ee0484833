package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/config"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
}

func New(cfg config.ServerConfig, asker Asker) *Server {
	return &Server{cfg: cfg, engine: SetupRouter(cfg, asker)}
}

// SetupRouter registers the chat, health and metrics routes.
func SetupRouter(cfg config.ServerConfig, asker Asker) *gin.Engine {
	metrics := NewMetrics("rag")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger())
	r.Use(CORS())
	r.Use(metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	chat := NewChatHandler(asker, time.Duration(cfg.RequestTimeoutSeconds)*time.Second, metrics)
	api := r.Group("/api")
	{
		api.POST("/chat", chat.Chat)
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
