// Package dashboard serves a read-only JSON view of the shared state and the
// message bus, plus a server-sent event stream of new alerts.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/state"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Store *state.Store
	Bus   *messaging.Bus // optional; message routes return 503 without it
	Port  int
	Out   io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("dashboard: store is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(opts.Store, opts.Bus)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d/api/summary\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(store *state.Store, bus *messaging.Bus) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, store, bus)
	return router
}
