// Package httpapi serves the transcription pipeline over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fmueller/whisperd/internal/transcribe"
	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ServiceName = "whisperd"

// Transcriber is the pipeline the handlers drive. *transcribe.Service
// implements it.
type Transcriber interface {
	Handle(ctx context.Context, req transcribe.Request, upload io.Reader) (transcribe.Result, error)
	Available(ctx context.Context) bool
	Engine() whisper.Engine
	SlotsInUse() (int, int)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps request bodies; zero disables the cap.
	MaxUploadBytes int64
	// LegacyErrorStatus answers inference failures with 200.
	LegacyErrorStatus bool
	Version           string

	Logger *zap.Logger
}

type Server struct {
	httpServer      *http.Server
	engine          *gin.Engine
	shutdownTimeout time.Duration
	log             *zap.Logger
	listener        net.Listener
}

func New(svc Transcriber, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(Recovery(logger))
	engine.Use(RequestID())
	engine.Use(RequestLogger(logger))
	if opts.MaxUploadBytes > 0 {
		engine.Use(BodySizeLimit(opts.MaxUploadBytes))
	}

	h := &handler{
		svc:               svc,
		legacyErrorStatus: opts.LegacyErrorStatus,
		version:           opts.Version,
		log:               logger,
	}
	h.register(engine)

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		engine:          engine,
		shutdownTimeout: shutdownTimeout,
		log:             logger,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()

	s.log.Info("http server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop drains in-flight requests, waiting at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
