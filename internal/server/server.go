// Package server exposes the transfer core over HTTP: one-time download
// tokens, ranged streaming, and chunked resumable uploads. Everything above
// it (auth, folder and share CRUD, UI) lives in the fronting application and
// reaches this API with a resolved requester identity.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MuhamedUsman/letstream/internal/artifact"
	"github.com/MuhamedUsman/letstream/internal/bgtask"
	"github.com/MuhamedUsman/letstream/internal/catalog"
	"github.com/MuhamedUsman/letstream/internal/config"
	"github.com/MuhamedUsman/letstream/internal/pool"
	"github.com/MuhamedUsman/letstream/internal/stream"
	"github.com/MuhamedUsman/letstream/internal/token"
	"github.com/MuhamedUsman/letstream/internal/upload"
	"github.com/justinas/alice"
)

type Server struct {
	Config    config.Config
	Tokens    *token.Store
	Uploads   *upload.Manager
	Pool      *pool.Pool
	Catalog   *catalog.Catalog
	Artifacts *artifact.Store
	// Every goroutine the server spawns runs through BT, Start drains it
	// before returning.
	BT *bgtask.BackgroundTask

	// derived from Config once, read-only afterwards
	tiers []stream.Tier
	cache stream.CachePolicy
}

// New wires the in-memory stores to the given config and artifact bucket.
// The stores start empty, state does not survive a restart (catalog entries
// included), a multi-instance deployment needs a shared store behind the
// same interfaces.
func New(cfg config.Config, artifacts *artifact.Store) *Server {
	rows := cfg.Stream.TierTable()
	tiers := make([]stream.Tier, len(rows))
	for i, row := range rows {
		tiers[i] = stream.Tier{MinSize: row.MinSize, Chunk: row.Chunk}
	}
	return &Server{
		Config:    cfg,
		Tokens:    token.NewStore(),
		Uploads:   upload.NewManager(cfg.Upload.MaxTotalChunks, cfg.Upload.IdleExpiry()),
		Pool:      pool.New(cfg.Pool.MaxPerResource, cfg.Pool.MaxPerRequester, cfg.Pool.Staleness()),
		Catalog:   catalog.New(),
		Artifacts: artifacts,
		BT:        bgtask.Get(),
		tiers:     tiers,
		cache: stream.CachePolicy{
			MediaMaxAge:               cfg.Stream.MediaCache(),
			MediaStaleWhileRevalidate: cfg.Stream.MediaStale(),
			DefaultMaxAge:             cfg.Stream.DefaultCache(),
		},
	}
}

// StartSweeps registers the periodic reapers for the three stores. Each runs
// on its own interval off the request path; failures are logged and retried
// on the next pass, never propagated.
func (s *Server) StartSweeps() {
	s.BT.RunEvery(s.Config.Token.SweepInterval(), func(context.Context) {
		if n := s.Tokens.Sweep(time.Now()); n > 0 {
			slog.Debug("expired download tokens swept", "count", n)
		}
	})
	s.BT.RunEvery(s.Config.Pool.SweepInterval(), func(context.Context) {
		if n := s.Pool.Sweep(time.Now()); n > 0 {
			slog.Debug("stale transfer admissions swept", "count", n)
		}
	})
	s.BT.RunEvery(s.Config.Upload.SweepInterval(), func(ctx context.Context) {
		reaped := s.Uploads.SweepIdle(time.Now())
		for _, uploadID := range reaped {
			if err := s.Artifacts.DeleteChunks(ctx, uploadID); err != nil {
				slog.Error("reaping chunk artifacts of idle upload session",
					"uploadId", uploadID, "err", err)
			}
		}
		if len(reaped) > 0 {
			slog.Debug("idle upload sessions reaped", "count", len(reaped))
		}
	})
}

// Start runs the HTTP server on the configured address until SIGINT/SIGTERM
// or a bgtask shutdown, then drains in-flight requests and background tasks
// within the configured timeout.
func (s *Server) Start() error {
	server := &http.Server{
		Addr: s.Config.Server.Addr,
		// no ReadTimeout, a whole-request deadline would sever large chunk
		// uploads and long range transfers mid-flight
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
		Handler:           s.routes(),
	}
	errChan := s.listenAndShutdown(server)
	slog.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listening on address %q: %w", server.Addr, err)
	}
	if err := <-errChan; err != nil {
		return fmt.Errorf("server shutting down: %w", err)
	}
	if err := s.BT.Shutdown(s.Config.Server.ShutdownTimeout()); err != nil {
		return fmt.Errorf("shutting down background tasks: %w", err)
	}
	return nil
}

func (s *Server) listenAndShutdown(server *http.Server) chan error {
	errChan := make(chan error)
	go func() {
		defer close(errChan)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-s.BT.ShutdownCtx().Done():
		case <-quit:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("shutting down server: %w", err)
		}
	}()
	return errChan
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	base := alice.New(s.recoverPanic, s.logAccess)
	api := base.Append(s.rateLimit, s.requireRequester)

	mux.Handle("POST /api/v1/files/{id}/download", api.ThenFunc(s.prepareDownloadHandler))
	// the stream endpoint skips the per-IP limiter on purpose, admission is
	// the pool's job and the token already gates access
	mux.Handle("GET /api/v1/stream/{token}", base.ThenFunc(s.streamHandler))

	mux.Handle("POST /api/v1/uploads", api.ThenFunc(s.createUploadHandler))
	mux.Handle("GET /api/v1/uploads/{id}", api.ThenFunc(s.uploadStatusHandler))
	mux.Handle("PUT /api/v1/uploads/{id}/chunks/{index}", api.ThenFunc(s.uploadChunkHandler))
	mux.Handle("POST /api/v1/uploads/{id}/complete", api.ThenFunc(s.completeUploadHandler))
	mux.Handle("DELETE /api/v1/uploads/{id}", api.ThenFunc(s.abortUploadHandler))

	mux.Handle("GET /api/v1/healthz", base.ThenFunc(s.healthzHandler))
	return mux
}

// healthzHandler reports liveness plus the store gauges, the quickest read
// on whether sweeps are keeping the in-memory state bounded.
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	data := envelop{
		"status": "available",
		"stores": envelop{
			"downloadTokens":    s.Tokens.Len(),
			"uploadSessions":    s.Uploads.Len(),
			"admittedTransfers": s.Pool.Len(),
			"resources":         s.Catalog.Len(),
		},
	}
	if err := s.writeJSON(w, data, http.StatusOK, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}
