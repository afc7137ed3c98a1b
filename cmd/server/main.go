// Command server runs the intake HTTP API, the progress WebSocket and the
// Prometheus endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"bfintake/internal/app"
	"bfintake/internal/config"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts"
)

func main() {
	application, err := setup(context.Background(), os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = application.Run(context.Background())
	if err != nil {
		application.Logger.Error("Application error", slog.String("error", err.Error()))
	}
	_ = infrastructure.CloseLogFile()
	if err != nil {
		os.Exit(1)
	}
}

// setup parses flags, loads configuration and wires the application.
func setup(ctx context.Context, args []string, stderr io.Writer) (*app.Application, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "YAML config file (default: "+config.EnvPrefix+"_CONFIG_FILE or ./config.yaml)")
	port := fs.Int("port", 0, "override server.port")
	version := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *version {
		fmt.Fprintln(stderr, contracts.GetFullVersionString())
		return nil, flag.ErrHelp
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFrom(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return app.New(ctx, cfg, logger)
}
