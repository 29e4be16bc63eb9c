package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/linnemanlabs-assets/internal/health"
	"github.com/keithlinneman/linnemanlabs-assets/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

const DefaultPort = 9000

// NewHandler builds the ops router: /metrics, /-/healthy, /-/ready,
// /debug/assets and, when enabled, /debug/pprof.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.RequestID(""))
	if opts.UseRecoverMW {
		r.Use(httpmw.Recover(L, opts.OnPanic))
	}
	if opts.MetricsMW != nil {
		r.Use(opts.MetricsMW)
	}
	r.Use(httpmw.AccessLog(L))

	r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Stats != nil {
		r.Get("/debug/assets", statsHandler(L, opts.Stats))
	}

	// pprof (or shadow with 404s)
	if opts.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	} else {
		r.HandleFunc("/debug/pprof/*", http.NotFound)
	}
	return r
}

func statsHandler(L log.Logger, stats func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats()); err != nil {
			L.Error(r.Context(), err, "encode asset stats")
		}
	}
}

// Start admin HTTP server with /metrics, /-/healthy, /-/ready, asset stats
// and pprof debug endpoints.
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// pprof profile captures run for 30s by default
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
