package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// StartOpts holds configuration for the labchat HTTP server.
type StartOpts struct {
	Service    *Service
	Addr       string              // defaults to ":8080"
	Gatherer   prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	SendBuffer int                 // outbound frames queued per websocket
	Out        io.Writer
}

// NewRouter builds the Gin engine serving the API, the websocket endpoint
// and metrics.
func NewRouter(opts StartOpts) *gin.Engine {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	registerRoutes(router, opts.Service, gatherer, opts.SendBuffer)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully and disconnects every realtime session.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Service == nil {
		return fmt.Errorf("api: service is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: NewRouter(opts),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		srv.Shutdown(context.Background())
		opts.Service.Gateway().Close()
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "labchat listening on %s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	// ListenAndServe returns as soon as Shutdown begins; wait for the
	// sessions to be closed too.
	<-done
	return nil
}
