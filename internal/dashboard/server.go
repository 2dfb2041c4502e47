// Package dashboard serves the HTTP control API: staged queues per group
// and operator-triggered flushes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/control"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/gin-gonic/gin"
)

// Backend is the read side of the dispatch engine.
type Backend interface {
	GroupNames() []string
	Staged(ctx context.Context, group string) ([]models.StagingRow, error)
}

// Schedule reports the next scheduled flush of a group.
type Schedule interface {
	Next(group string) (time.Time, bool)
}

// Server is the control API. Backend and schedule can be swapped on
// configuration reload.
type Server struct {
	mu       sync.RWMutex
	backend  Backend
	schedule Schedule

	listener *control.Listener
	log      logx.Logger
	router   *gin.Engine
}

// NewServer creates a Server. schedule may be nil.
func NewServer(b Backend, schedule Schedule, l *control.Listener, log logx.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{backend: b, schedule: schedule, listener: l, log: log, router: router}
	s.registerRoutes(router)
	return s
}

// Swap replaces the backend and schedule after a reload.
func (s *Server) Swap(b Backend, schedule Schedule) {
	s.mu.Lock()
	s.backend, s.schedule = b, schedule
	s.mu.Unlock()
}

func (s *Server) current() (Backend, Schedule) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend, s.schedule
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	if port <= 0 {
		return fmt.Errorf("dashboard: invalid port %d", port)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("control API listening", logx.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
