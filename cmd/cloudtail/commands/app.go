package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/DrSkyle/cloudtail/pkg/config"
	"github.com/DrSkyle/cloudtail/pkg/engine"
	awsengine "github.com/DrSkyle/cloudtail/pkg/engine/aws"
	"github.com/DrSkyle/cloudtail/pkg/engine/azure"
	"github.com/DrSkyle/cloudtail/pkg/logging"
	"github.com/DrSkyle/cloudtail/pkg/store"
)

// app is the wiring shared by the commands.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	store    *store.Store
}

// newApp loads settings and opens the store. quiet drops all logs.
func newApp(ctx context.Context, quiet bool) (*app, error) {
	settings, err := config.LoadSettings(v)
	if err != nil {
		return nil, err
	}
	logger := logging.Discard()
	if !quiet {
		if logger, err = logging.New(settings.Log.Format, settings.Log.Level, os.Stderr); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(ctx, settings.StoreConfig(), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &app{settings: settings, logger: logger, store: st}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) engine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	s := a.settings
	base := []engine.Option{
		engine.WithConfig(engine.Config{
			Concurrency:  s.Concurrency,
			Policy:       s.Policy(),
			StrictMode:   s.Strict,
			OtelEndpoint: s.OtelEndpoint,
			Logger:       a.logger,
		}),
		engine.WithConnector(awsengine.NewConnector(s.Verbose, awsengine.WithLogger(a.logger))),
		engine.WithConnector(azure.NewConnector(azure.WithLogger(a.logger))),
	}
	return engine.New(ctx, a.store, append(base, opts...)...)
}

func loadSources(path string) (*config.Sources, error) {
	srcs, err := config.LoadSources(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(srcs); err != nil {
		return nil, fmt.Errorf("invalid data sources in %s:\n%w", path, err)
	}
	return srcs, nil
}

// plannedUnits is an upper bound on the units a run submits.
func plannedUnits(srcs *config.Sources) int {
	n := 0
	for _, ds := range srcs.DataSources {
		n += len(ds.AccountRefs()) * len(ds.Rules)
	}
	return n
}
