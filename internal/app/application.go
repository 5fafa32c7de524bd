// Package app assembles the fx application for one tally run and maps its
// result to a process exit code.
package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/tally/internal/cli"
	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/orchestrator"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// Run loads configuration, builds the dependency graph and executes one
// audit run. The returned value is the process exit code.
func Run(appCtx context.Context, opts *cli.Options) int {
	catalog, dbCfg, err := config.Load(opts.EnvFile, opts.ConfigPath, opts.DBConfigPath)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return cli.ExitUsage
	}
	opts.ApplyOverrides(catalog, dbCfg)

	logger.SetLogLevel(dbCfg.System.Logging.Level)
	logger.Debugf("Log level set to: %s", dbCfg.System.Logging.Level)

	app := fx.New(
		logger.Module,
		fx.Supply(
			opts,
			catalog,
			dbCfg,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),
		Module,
		fx.Invoke(fx.Annotate(startRun, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // orch *orchestrator.Orchestrator
			`name:"appCtx"`, // appCtx context.Context
		))),
	)
	if err := app.Err(); err != nil {
		logger.Errorf("Failed to build application: %v", err)
		return cli.ExitFailure
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		logger.Errorf("Failed to start application: %v", err)
		return cli.ExitFailure
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Errorf("Failed to stop application cleanly: %v", err)
		if sig.ExitCode == cli.ExitSuccess {
			return cli.ExitFailure
		}
	}
	return sig.ExitCode
}

// startRun launches the orchestrator on application start and shuts the
// container down with the run's exit code when it returns.
func startRun(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	orch *orchestrator.Orchestrator,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code := cli.ExitFailure
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in run: %v", r)
						code = cli.ExitFailure
					}
					if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()
				code = orch.Run(appCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}
