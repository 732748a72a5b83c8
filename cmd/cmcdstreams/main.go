// Package main implements the entry point for cmcdstreams, the CMCD
// telemetry collector and bus enricher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/qualabs/cmcd-toolkit/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cmcdstreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting CMCD streams",
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	if err := a.setup(ctx); err != nil {
		_ = a.close(cliCfg.ShutdownTimeout)
		return err
	}

	slog.Info("Components ready", "config", cfg.String())

	if err := a.run(ctx, cliCfg.ShutdownTimeout); err != nil {
		_ = a.close(cliCfg.ShutdownTimeout)
		return err
	}

	slog.Info("Shutdown complete")
	return nil
}

// initializeCLI parses and validates flags. shouldExit is set when the
// invocation only asked for version or help output.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return nil, true, err
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, true, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(flag.CommandLine)
		return nil, true, nil
	}

	return cliCfg, false, nil
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)

	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
