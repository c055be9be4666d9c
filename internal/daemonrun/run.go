package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/oklog/run"

	"ytauto/internal/config"
	"ytauto/internal/daemon"
	"ytauto/internal/ipc"
	"ytauto/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// Run starts the ytauto daemon and blocks until a signal arrives, the parent
// context ends, or a client requests shutdown over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	comps, err := Assemble(cfg, logger, AssembleOptions{})
	if err != nil {
		logger.Error("assemble runtime", logging.Error(err))
		return err
	}
	d, err := daemon.New(cfg, daemon.Deps{
		Orchestrator: comps.Orchestrator,
		History:      comps.History,
		Notifier:     comps.Notifier,
		Metrics:      comps.Metrics,
		Logger:       logger,
	})
	if err != nil {
		comps.close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(cmdCtx)
	defer cancel()

	ipcServer, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	addIPC(&g, ipcServer)
	if api := daemon.NewAPIServer(d, logger); api != nil {
		addAPI(&g, api)
	}
	addDaemon(&g, ctx, d, logger)

	err = g.Run()
	var sigErr run.SignalError
	if err == nil || errors.As(err, &sigErr) || errors.Is(err, context.Canceled) {
		logger.Info("ytauto daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_shutdown"))
		return nil
	}
	return err
}

func addIPC(g *run.Group, srv *ipc.Server) {
	done := make(chan struct{})
	g.Add(func() error {
		srv.Serve()
		<-done
		return nil
	}, func(error) {
		srv.Close()
		close(done)
	})
}

func addAPI(g *run.Group, api *daemon.APIServer) {
	done := make(chan struct{})
	g.Add(func() error {
		if err := api.Start(); err != nil {
			return err
		}
		<-done
		return nil
	}, func(error) {
		api.Stop()
		close(done)
	})
}

// addDaemon starts the orchestrator. A failed start leaves the process up so
// clients can inspect status and retry over IPC.
func addDaemon(g *run.Group, ctx context.Context, d *daemon.Daemon, logger *slog.Logger) {
	actorCtx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		if err := d.Start(actorCtx); err != nil {
			logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check configuration and the state directory lock"),
				logging.String(logging.FieldImpact, "lines will not run until the daemon is started"),
			)
		}
		select {
		case <-actorCtx.Done():
			return actorCtx.Err()
		case <-d.ShutdownRequested():
			logger.Info("shutdown requested over IPC")
			return nil
		}
	}, func(error) {
		cancel()
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
