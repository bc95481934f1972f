package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"

	"github.com/rbright/reelnote/internal/config"
	"github.com/rbright/reelnote/internal/gateway"
	"github.com/rbright/reelnote/internal/grpcapi"
	"github.com/rbright/reelnote/internal/hub"
	"github.com/rbright/reelnote/internal/ipc"
	"github.com/rbright/reelnote/internal/session"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// daemon owns every listener of `reelnote serve`.
type daemon struct {
	logger     *slog.Logger
	supervisor *session.Supervisor
	startedAt  time.Time

	socketPath string
	control    net.Listener

	httpListener net.Listener
	httpServer   *http.Server

	grpcListener net.Listener
	grpcAPI      *grpcapi.Server
	grpcServer   *grpc.Server
}

// newDaemon binds the control socket, the gateway listener, and the optional
// gRPC listener. Nothing is served until Run.
func newDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{logger: logger, startedAt: time.Now()}
	defer func() {
		if err != nil {
			d.closeListeners()
		}
	}()

	socketPath, pathErr := ipc.RuntimeSocketPath()
	if pathErr != nil {
		logger.Warn("control socket disabled", "error", pathErr.Error())
	} else {
		listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
		if err != nil {
			return nil, fmt.Errorf("acquire control socket: %w", err)
		}
		d.socketPath = socketPath
		d.control = listener
	}

	notifications := hub.New()
	d.supervisor = session.NewSupervisor(logger, supervisorConfig(cfg.Session), nil, notifications)

	gw := gateway.New(logger, d.supervisor, notifications, gateway.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IdleTimeout:    millis(cfg.Server.IdleTimeoutMS),
		Auth: gateway.NewAuthenticator(gateway.AuthConfig{
			Secret:   cfg.Auth.Secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}),
		Limiter: gateway.NewRateLimiter(cfg.RateLimit.JoinsPerMinute, cfg.RateLimit.Burst),
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	d.httpListener, err = net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	d.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if cfg.GRPC.Enable {
		d.grpcListener, err = net.Listen("tcp", cfg.GRPC.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Listen, err)
		}
		d.grpcAPI = grpcapi.NewServer(logger, d.supervisor)
		d.grpcServer = d.grpcAPI.NewGRPCServer()
	}

	return d, nil
}

// HTTPAddr is the bound gateway address.
func (d *daemon) HTTPAddr() string {
	return d.httpListener.Addr().String()
}

// GRPCAddr is the bound gRPC address or empty when disabled.
func (d *daemon) GRPCAddr() string {
	if d.grpcListener == nil {
		return ""
	}
	return d.grpcListener.Addr().String()
}

// Run serves until ctx is cancelled or a listener fails, then drains every
// surface and stops all sessions.
func (d *daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := d.httpServer.Serve(d.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve gateway: %w", err)
		}
	}()
	if d.grpcServer != nil {
		go func() {
			if err := d.grpcServer.Serve(d.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("serve grpc: %w", err)
			}
		}()
	}

	controlCtx, cancelControl := context.WithCancel(context.WithoutCancel(ctx))
	controlDone := make(chan error, 1)
	if d.control != nil {
		go func() {
			controlDone <- ipc.Serve(controlCtx, d.control, controlHandler(d.supervisor, d.startedAt, time.Now))
		}()
	} else {
		controlDone <- nil
	}

	d.logger.Info("daemon serving", "listen", d.HTTPAddr(), "grpc", d.GRPCAddr(), "socket", d.socketPath)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		d.logger.Error("listener failed", "error", runErr.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if d.grpcServer != nil {
		d.grpcAPI.Shutdown()
		d.grpcServer.GracefulStop()
	}
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("gateway shutdown incomplete", "error", err.Error())
	}
	if err := d.supervisor.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("session shutdown incomplete", "error", err.Error())
	}

	cancelControl()
	if err := <-controlDone; err != nil {
		d.logger.Warn("control socket failed", "error", err.Error())
	}
	if d.socketPath != "" {
		_ = os.Remove(d.socketPath)
	}

	d.logger.Info("daemon stopped")
	return runErr
}

func (d *daemon) closeListeners() {
	for _, l := range []net.Listener{d.control, d.httpListener, d.grpcListener} {
		if l != nil {
			_ = l.Close()
		}
	}
	if d.control != nil {
		_ = os.Remove(d.socketPath)
	}
}

func supervisorConfig(cfg config.SessionConfig) session.SupervisorConfig {
	return session.SupervisorConfig{
		Session: session.Config{
			Cooldown:              millis(cfg.CooldownMS),
			ReconcileGapThreshold: int64(cfg.ReconcileGapThreshold),
			QueueSize:             cfg.QueueSize,
		},
		MaxRestarts:   cfg.MaxRestarts,
		RestartWindow: millis(cfg.RestartWindowMS),
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
