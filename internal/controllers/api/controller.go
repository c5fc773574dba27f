// Package api serves live telemetry over REST, websocket and gRPC. All three
// share one TCP port; gRPC requests are split off by content type.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"github.com/chrissnell/simtelemetry/pkg/responseformat"
	"github.com/soheilhy/cmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

const (
	defaultListenAddr     = "0.0.0.0"
	defaultStreamInterval = 100 * time.Millisecond
	shutdownTimeout       = 5 * time.Second
)

// Telemetry is the live view the API serves. *arbiter.Arbiter satisfies it.
type Telemetry interface {
	Latest() types.TelemetrySnapshot
	Status() types.Status
	LastGForce() types.GForceReading
	ResetPeaks()
	Subscribe() (<-chan types.Record, func())
}

// SessionStore lists completed sessions. It may be nil when no database sink
// is configured.
type SessionStore interface {
	RecentSessions(ctx context.Context, limit int) ([]types.Session, error)
}

// Options carries the collaborators the controller serves from.
type Options struct {
	Telemetry Telemetry
	Sessions  SessionStore
	Health    *storage.HealthManager
	// Deadband is used when classifying G-force directions.
	Deadband float64
}

// Controller is the API controller
type Controller struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	cfg    config.APIData
	logger *zap.SugaredLogger

	telemetry      Telemetry
	sessions       SessionStore
	health         *storage.HealthManager
	deadband       float64
	streamInterval time.Duration
	formatter      *responseformat.Formatter

	HTTPServer *http.Server
	GRPCServer *grpc.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewController creates a new API controller
func NewController(ctx context.Context, wg *sync.WaitGroup, c config.APIData, opts Options, logger *zap.SugaredLogger) (*Controller, error) {
	if opts.Telemetry == nil {
		return nil, errors.New("API controller requires a telemetry provider")
	}
	if c.ListenAddr == "" {
		logger.Infof("api.listen-addr not provided; defaulting to %s (all interfaces)", defaultListenAddr)
		c.ListenAddr = defaultListenAddr
	}
	if c.Port == 0 {
		c.Port = config.DefaultAPIPort
	}
	interval, err := config.ParseDuration(c.StreamInterval, defaultStreamInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid stream-interval: %w", err)
	}
	if opts.Health == nil {
		opts.Health = storage.GlobalHealthManager
	}

	ctrl := &Controller{
		ctx:            ctx,
		wg:             wg,
		cfg:            c,
		logger:         logger,
		telemetry:      opts.Telemetry,
		sessions:       opts.Sessions,
		health:         opts.Health,
		deadband:       opts.Deadband,
		streamInterval: interval,
		formatter:      responseformat.NewFormatter(),
	}

	ctrl.HTTPServer = &http.Server{
		Handler:           otelhttp.NewHandler(ctrl.setupRouter(), "simtelemetry-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctrl.GRPCServer = grpc.NewServer()
	RegisterTelemetryServer(ctrl.GRPCServer, &telemetryServer{ctrl: ctrl})
	if c.EnableReflection {
		reflection.Register(ctrl.GRPCServer)
	}

	return ctrl, nil
}

// Addr returns the bound listener address once the controller has started.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// StartController binds the port and serves until the context is cancelled
func (c *Controller) StartController() error {
	log.Info("Starting API controller...")

	addr := net.JoinHostPort(c.cfg.ListenAddr, fmt.Sprint(c.cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("API controller could not listen on %s: %w", addr, err)
	}

	if c.cfg.Cert != "" && c.cfg.Key != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.Cert, c.cfg.Key)
		if err != nil {
			l.Close()
			return fmt.Errorf("could not load TLS keypair: %w", err)
		}
		l = tls.NewListener(l, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
		})
	}

	c.serve(l)
	log.Infof("API controller listening on %s", l.Addr())
	return nil
}

// serve splits l between the gRPC and HTTP servers and stops both when the
// controller's context is cancelled.
func (c *Controller) serve(l net.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()

	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		if err := c.GRPCServer.Serve(grpcL); err != nil && !errors.Is(err, cmux.ErrListenerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
			log.Errorf("gRPC server error: %v", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := c.HTTPServer.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		if err := m.Serve(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, cmux.ErrServerClosed) {
			log.Errorf("API listener error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.StopController()
	}()
}

// StopController shuts down both servers and the shared listener
func (c *Controller) StopController() {
	log.Info("Shutting down the API controller...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.HTTPServer.Shutdown(ctx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	c.GRPCServer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
}
