// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package server exposes the document chat service over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/poiesic/ragchat/chat"
	"github.com/poiesic/ragchat/core"
)

// DefaultMaxUploadBytes bounds the size of an uploaded document.
const DefaultMaxUploadBytes = 32 << 20

// Service is the set of operations the API serves. *ragchat.Engine
// implements it.
type Service interface {
	Upload(ctx context.Context, filename, owner string, raw []byte) (*core.IngestResult, error)
	Ask(ctx context.Context, req chat.Request) (*core.ChatResponse, error)
	Preview(ctx context.Context, filename, actor string) (*core.PreviewResult, error)
	Delete(ctx context.Context, filename, actor string) (*core.DeleteResult, error)
	Clear(ctx context.Context, actor string) error
	Stats(ctx context.Context) (core.StoreStats, error)
	Sources(ctx context.Context) ([]string, error)
	History(sessionID string) []core.SessionTurn
	AuditEvents(ctx context.Context, limit int) ([]*core.AuditEvent, error)
}

// ErrServiceRequired is returned when no Service is given.
var ErrServiceRequired = errors.New("service required")

// Server is the HTTP API.
type Server struct {
	svc            Service
	maxUploadBytes int64
	logger         *slog.Logger
	handler        http.Handler
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "server")
		return nil
	}
}

// WithMaxUploadBytes bounds uploaded documents. Larger uploads get 413.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return errors.New("max upload bytes must be positive")
		}
		s.maxUploadBytes = n
		return nil
	}
}

// New creates a Server for svc.
func New(svc Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, ErrServiceRequired
	}
	s := &Server{
		svc:            svc,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the API handler with its middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /preview/{filename}", s.handlePreview)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("DELETE /files", s.handleClear)
	mux.HandleFunc("DELETE /files/{filename}", s.handleDelete)
	mux.HandleFunc("GET /audit", s.handleAudit)
	mux.HandleFunc("GET /chat-history", s.handleHistory)
	return s.recoverer(s.logRequests(cors(mux)))
}

// ListenAndServe serves on addr until ctx is done, then shuts down,
// waiting up to shutdownTimeout for in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
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

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
