package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/tally/internal/cli"
	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/counter"
	"github.com/tigerroll/tally/internal/fetcher"
	"github.com/tigerroll/tally/internal/metrics"
	"github.com/tigerroll/tally/internal/orchestrator"
	"github.com/tigerroll/tally/internal/sink"
	"github.com/tigerroll/tally/internal/watermark"
)

// Module wires every component of a run into the fx graph.
var Module = fx.Options(
	fx.Provide(
		newLocation,
		newWatermarkStore,
		newPlanner,
		newFetcher,
		newCounter,
		newSink,
		metrics.NewRecorder,
		orchestrator.New,
	),
)

func newLocation(dbCfg *config.DBConfig) (*time.Location, error) {
	return dbCfg.Location()
}

func newWatermarkStore(opts *cli.Options, dbCfg *config.DBConfig) *watermark.Store {
	return watermark.NewStore(dbCfg.ResolveWatermarkPath(opts.ConfigPath))
}

func newPlanner(dbCfg *config.DBConfig, store *watermark.Store) *fetcher.WindowPlanner {
	return fetcher.NewWindowPlanner(dbCfg.Watermark, store)
}

func newFetcher(lc fx.Lifecycle, dbCfg *config.DBConfig) fetcher.TaskFetcher {
	f := fetcher.NewClickHouseFetcher(dbCfg.ClickHouse)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return f.Close() },
	})
	return f
}

func newCounter(dbCfg *config.DBConfig, catalog *config.Catalog) counter.Counter {
	return counter.NewJarRunner(dbCfg.Counter, catalog.Defaults.JarOptions)
}

func newSink(lc fx.Lifecycle, dbCfg *config.DBConfig) (sink.Sink, error) {
	s, err := sink.NewMySQLSink(dbCfg.MySQL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return s.Close() },
	})
	return s, nil
}
