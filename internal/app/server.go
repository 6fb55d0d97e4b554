package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/webtrap/internal/adapters/output"
)

// BuildHandler assembles the public listener: the edge filter wraps the
// whole router, so every request except those to the exempt internal
// endpoints (/health, /escalate, /analyze) pays the blocklist check before
// reaching any mount, and tarpit rewrites re-enter the same router.
func BuildHandler(rt *Runtime) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", output.HealthHandler())
	mux.Handle(rt.Cfg.Tarpit.RewritePath, rt.Tarpit)
	mux.Handle("/escalate", rt.Escalation)
	mux.Handle("/analyze", rt.Enforcement)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"service":"webtrap"}`))
			return
		}
		http.NotFound(w, r)
	})

	return recoverer(rt.Filter.Wrap(mux))
}

// recoverer turns panics into plain 500s. Expected failures never panic;
// this is the boundary for programmer errors only.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Request handler panicked")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Serve runs the public and metrics listeners until the context is
// cancelled or a termination signal arrives, then shuts down gracefully.
//
// WriteTimeout stays unset on the public server: tarpit streams are
// deliberately slower than any sane write deadline.
func Serve(ctx context.Context, rt *Runtime) error {
	rt.Start(ctx)

	server := &http.Server{
		Addr:              rt.Cfg.Server.Listen,
		Handler:           BuildHandler(rt),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	prom := output.NewPrometheusMetrics("webtrap", rt.Metrics)
	ready := output.NewReadyChecker(rt.Store, rt.Markov)
	if rt.Cfg.Server.MetricsListen != "" {
		if err := prom.StartServer(output.MetricsConfig{Addr: rt.Cfg.Server.MetricsListen}, ready); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		}
		defer prom.StopServer()
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Forcing server close after shutdown timeout")
		_ = server.Close()
	}

	rt.Close()
	log.Info().Msg("Shutdown complete")
	return nil
}

// NormalizeListen turns a bare port into a listen address.
func NormalizeListen(addr string) string {
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}
