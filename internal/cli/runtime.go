// v2
// internal/cli/runtime.go
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OnLog-System/onlog-pipeline/internal/config"
	"github.com/OnLog-System/onlog-pipeline/internal/logging"
	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
	"github.com/OnLog-System/onlog-pipeline/internal/ops"
)

// runtime bundles what every subcommand needs before its service starts.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	met     *metrics.Metrics
	logFile *os.File
}

func newRuntime(opts *RootOptions, service string) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	log, logFile, err := logging.New(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("service", service))

	// Prometheus namespaces cannot contain hyphens.
	namespace := "onlog_" + strings.ReplaceAll(service, "-", "_")

	return &runtime{
		cfg:     cfg,
		log:     log,
		met:     metrics.New(namespace),
		logFile: logFile,
	}, nil
}

func (r *runtime) close() {
	if r.logFile != nil {
		_ = r.logFile.Close()
	}
}

// runnable is the long-running part of a subcommand.
type runnable interface {
	Run(ctx context.Context) error
}

// serve runs the service next to its ops server until SIGINT/SIGTERM or a
// service failure. Cancellation caused by the signal is a clean exit.
func (r *runtime) serve(svc runnable, status ops.StatusFunc, service string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opsSrv := ops.New(r.cfg.ListenAddr, service, r.met, status, r.log)
	opsErr := make(chan error, 1)
	go func() { opsErr <- opsSrv.Run(ctx) }()

	err := svc.Run(ctx)
	stop()
	<-opsErr

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
