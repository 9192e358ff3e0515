package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"schoolhub/internal/app"
	"schoolhub/internal/config"
	"schoolhub/internal/logging"
)

// Main entry point with signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options holds the command-line flags
type options struct {
	configPath string
	envFile    string
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := flag.NewFlagSet("schoolhub", flag.ContinueOnError)
	flags.StringVar(&opts.configPath, "config", os.Getenv("SCHOOLHUB_CONFIG_FILE"), "path to a JSON config file (overrides environment)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// loadConfig loads the optional .env file, then applies file > env > defaults
// FUNCTIONAL DISCOVERY: godotenv never overrides variables already set in
// the process environment, so deployment settings win over the .env file
func loadConfig(opts options) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.envFile, err)
		}
	}
	return config.LoadConfigWithPrecedence(opts.configPath)
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// STEP 1: Configuration and logging
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// STEP 2: Wire components
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), application.ShutdownTimeout())
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
