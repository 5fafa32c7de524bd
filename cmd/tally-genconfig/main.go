package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tigerroll/tally/internal/genconfig"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		templatePath string
		outPath      string
		logLevel     string
	)
	fs := flag.NewFlagSet("tally-genconfig", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&templatePath, "template", "", "generator template YAML path (required)")
	fs.StringVar(&outPath, "out", "-", "output catalog path, '-' for stdout")
	fs.StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	logger.SetLogLevel(logLevel)
	if templatePath == "" {
		fmt.Fprintln(os.Stderr, "--template is required")
		fs.Usage()
		return 2
	}

	spec, err := genconfig.Load(templatePath)
	if err != nil {
		logger.Errorf("Failed to load template: %v", err)
		return 1
	}
	catalog, err := genconfig.Generate(spec)
	if err != nil {
		logger.Errorf("Failed to generate catalog: %v", err)
		return 1
	}

	var out io.Writer = os.Stdout
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			logger.Errorf("Failed to create output file: %v", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := genconfig.Write(out, catalog, templatePath); err != nil {
		logger.Errorf("Failed to write catalog: %v", err)
		return 1
	}
	return 0
}
