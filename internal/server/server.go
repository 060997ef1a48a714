package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ytdlp-api/internal/config"
	"ytdlp-api/internal/downloader"
	"ytdlp-api/internal/m3u8"
	"ytdlp-api/internal/task"
)

type Server struct {
	cfg      config.Config
	tasks    *task.Manager
	engine   downloader.Engine
	prober   *m3u8.Prober
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, tasks *task.Manager, engine downloader.Engine) *Server {
	client := &http.Client{Timeout: cfg.ProbeTimeout.Duration}
	return &Server{
		cfg:    cfg,
		tasks:  tasks,
		engine: engine,
		prober: m3u8.NewProber(client, cfg.Headers),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the API routes behind the API key check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /download", s.handleSubmit)
	mux.HandleFunc("GET /tasks", s.handleList)
	mux.HandleFunc("GET /task/{id}", s.handleStatus)
	mux.HandleFunc("POST /task/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /task/{id}/restart", s.handleRestart)
	mux.HandleFunc("DELETE /task/{id}", s.handleDelete)
	mux.HandleFunc("GET /task/{id}/watch", s.handleWatch)
	mux.HandleFunc("GET /download/{id}/file", s.handleFile)

	// Pass-through metadata queries; they never create tasks.
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /formats", s.handleFormats)

	return requireAPIKey(s.cfg.APIKey, mux)
}

// Run serves until ctx is canceled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on http://localhost%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
