// Command baboard manages breathing apparatus entries and predicts remaining
// working time from cylinder pressure.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"baboard/internal/blob"
	"baboard/internal/core"
	"baboard/internal/modelcatalog"
	"baboard/internal/platform/config"
	"baboard/internal/platform/otel"
)

const serviceName = "baboard"

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired service for one command invocation.
type app struct {
	cfg      config.Config
	svc      *core.Service
	archiver *core.Archiver
	metrics  *core.PrometheusMetricsRecorder
	stats    *core.ExpvarMetricsRecorder
	logger   core.Logger
	closers  []func(context.Context) error
}

func (a *app) Close(ctx context.Context) error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type appOpener func(ctx context.Context) (*app, error)

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)
	a := &app{cfg: cfg, logger: logger}

	shutdown, err := otel.Setup(ctx, serviceName, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return core.CloseStore(store) })

	blobStore, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a.archiver = core.NewArchiver(blobStore)
	a.metrics = core.NewPrometheusMetricsRecorder()
	a.stats = core.NewExpvarMetricsRecorder("")
	tracers := core.MultiTracer{core.NewOTelTracer(nil)}
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return f.Close() })
		tracers = append(tracers, core.NewJSONTracer(f))
	}
	a.svc = core.NewService(store,
		core.WithLogger(logger),
		core.WithAuditRecorder(core.LoggerAuditRecorder{Logger: logger}),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{a.metrics, a.stats}),
		core.WithTracer(tracers),
		core.WithArchiver(a.archiver),
	)

	if cfg.ModelCatalog != "" {
		cat, err := modelcatalog.LoadFile(cfg.ModelCatalog)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		if _, err := modelcatalog.Apply(ctx, a.svc, cat); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func newRootCmd(open appOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Breathing apparatus board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSeedCmd(open),
		newFirefighterCmd(open),
		newEntryCmd(open),
		newHistoryCmd(open),
		newPredictCmd(open),
		newModelsCmd(open),
		newServeCmd(open),
	)
	return root
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, open appOpener, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(ctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
