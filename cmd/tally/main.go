package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/tally/internal/app"
	"github.com/tigerroll/tally/internal/cli"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := cli.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cli.ExitSuccess
		}
		// The flag package already printed the problem and usage.
		return cli.ExitUsage
	}
	if opts.ShowVersion {
		fmt.Printf("tally %s\n", version)
		return cli.ExitSuccess
	}
	if err := opts.Validate(); err != nil {
		logger.Errorf("Invalid arguments: %v", err)
		return cli.ExitUsage
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping the run...", sig)
		cancel()
	}()

	return app.Run(ctx, opts)
}
