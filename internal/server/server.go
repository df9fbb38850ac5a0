// Package server exposes the broadcast engine to browsers over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kxrxh/logcast/internal/registry"
	"github.com/kxrxh/logcast/internal/subscriber"
)

// Engine is the part of broadcast.Engine the transport needs.
type Engine interface {
	OnConnect(sub registry.Subscriber) error
	Disconnect(id string)
	Subscribers() int
}

type Server struct {
	engine       Engine
	logger       *slog.Logger
	outboxSize   int
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	router       chi.Router
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithOutboxSize(n int) Option { return func(s *Server) { s.outboxSize = n } }

func WithWriteTimeout(d time.Duration) Option { return func(s *Server) { s.writeTimeout = d } }

func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		logger:       slog.New(slog.DiscardHandler),
		outboxSize:   subscriber.DefaultOutboxSize,
		writeTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Viewers are not authenticated; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	// Subscribers outlive the upgrade request's context.
	sub := subscriber.New(context.WithoutCancel(r.Context()), &wsConn{conn: conn},
		subscriber.WithOutboxSize(s.outboxSize),
		subscriber.WithWriteTimeout(s.writeTimeout),
		subscriber.WithOnFailure(func(sub *subscriber.Subscriber, err error) {
			s.logger.Warn("delivery failed", "subscriber", sub.ID(), "err", err)
			s.engine.Disconnect(sub.ID())
		}),
	)
	log := s.logger.With("subscriber", sub.ID(), "remote", r.RemoteAddr)

	if err := s.engine.OnConnect(sub); err != nil {
		log.Warn("connect failed", "err", err)
		return
	}
	log.Info("viewer connected")

	// Viewers never send anything meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.engine.Disconnect(sub.ID())
	_ = sub.Close()
	log.Info("viewer disconnected")
}

type health struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Subscribers: s.engine.Subscribers()})
}

// wsConn adapts a websocket connection to subscriber.Conn. Only the
// subscriber's delivery goroutine calls Write.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Write(ctx context.Context, msg string) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(dl); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
