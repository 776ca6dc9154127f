// Package status serves the health check and the last cycle report over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"socialbot/internal/model"
)

// Holder keeps the most recent cycle report.
type Holder struct {
	mu      sync.RWMutex
	last    model.CycleReport
	has     bool
	started time.Time
}

// NewHolder creates an empty Holder.
func NewHolder() *Holder {
	return &Holder{started: time.Now()}
}

// Publish replaces the last report.
func (h *Holder) Publish(r model.CycleReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last, h.has = r, true
}

// Last returns the last report, if any cycle has finished.
func (h *Holder) Last() (model.CycleReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.has
}

// Info reports live process state alongside the stored report.
type Info interface {
	State() string
	Retained() int
}

// NewRouter builds the status HTTP handler.
func NewRouter(h *Holder, info Info, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	})

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":   "ok",
			"state":    info.State(),
			"uptime":   time.Since(h.started).Round(time.Second).String(),
			"retained": info.Retained(),
		}
		if last, ok := h.Last(); ok {
			body["last_cycle"] = last.FinishedAt.Format(time.RFC3339)
			body["next_run"] = last.NextRun.Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/status", func(c *gin.Context) {
		last, ok := h.Last()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has completed yet"})
			return
		}
		c.JSON(http.StatusOK, last)
	})

	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
