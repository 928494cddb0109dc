// Package server exposes the HTTP JSON API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"perpscope/internal/ai"
	"perpscope/internal/alerting"
	"perpscope/internal/service"
)

// Options tune the listener.
type Options struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server wires the market pipeline behind HTTP handlers.
type Server struct {
	opts     Options
	market   *service.Market
	relay    *ai.Client
	notifier alerting.Notifier
	logger   zerolog.Logger
	http     *http.Server
}

// New constructs the server. The relay and notifier are optional; their
// endpoints answer 503 when unconfigured.
func New(opts Options, market *service.Market, relay *ai.Client, notifier alerting.Notifier, logger zerolog.Logger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		// Sentiment fans out to every venue plus ~100 kline calls; the write
		// deadline has to cover the slowest venue, not a typical handler.
		opts.WriteTimeout = 120 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		opts:     opts,
		market:   market,
		relay:    relay,
		notifier: notifier,
		logger:   logger.With().Str("component", "server").Logger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rates", s.handleRates).Methods(http.MethodGet)
	api.HandleFunc("/sentiment", s.handleSentiment).Methods(http.MethodGet)
	api.HandleFunc("/arbitrage", s.handleArbitrage).Methods(http.MethodGet)
	api.HandleFunc("/ai", s.handleAI).Methods(http.MethodPost)
	api.HandleFunc("/telegram", s.handleTelegram).Methods(http.MethodPost)
	router.Use(s.logRequests)

	s.http = &http.Server{
		Addr:         opts.Listen,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(started)).
			Msg("request handled")
	})
}
