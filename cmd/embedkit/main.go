// Package main is the embedkit CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/internal/cache"
	"github.com/hyperjump/embedkit/internal/config"
	"github.com/hyperjump/embedkit/internal/service"
	"github.com/hyperjump/embedkit/internal/worker"
	"github.com/hyperjump/embedkit/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "~/.embedkit/config.yaml"

// app holds state shared by all subcommands once the root pre-run has loaded config.
type app struct {
	configPath   string
	debug        bool
	cfg          *config.Config
	resolvedPath string
	logger       *zap.Logger
}

// loadConfig loads config from path. When path is the default, ./embedkit.yaml and
// ./embedkit.toml in the current directory take precedence. A missing default file
// yields the built-in defaults; a missing explicit file is an error.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			for _, name := range []string{"embedkit.yaml", "embedkit.toml"} {
				fallback := filepath.Join(cwd, name)
				if _, statErr := os.Stat(fallback); statErr == nil {
					cfg, loadErr := config.Load(fallback)
					if loadErr != nil {
						return nil, "", loadErr
					}
					return cfg, fallback, nil
				}
			}
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return config.Default(), "", nil
		}
		path = filepath.Join(home, ".embedkit", "config.yaml")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "embedkit",
		Short: "Offline text embeddings with a persistent cache",
		Long: `embedkit turns text into fixed-dimension vectors using a local model hosted in a
worker process, and caches every vector in SQLite keyed by the text's SHA-256.

Examples:
  embedkit embed "hello world"
  echo "some text" | embedkit embed --stdin --output json
  embedkit similar "database migrations" --k 5
  embedkit warm "docs/**/*.md"`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolved, err := loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.resolvedPath = resolved
			a.debug = a.debug || cfg.Debug
			a.logger, err = utils.NewLogger(a.debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			a.logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", a.debug))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "config file path (.yaml or .toml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newEmbedCmd(a),
		newWorkerCmd(a),
		newStatsCmd(a),
		newEvictCmd(a),
		newClearCmd(a),
		newExportCmd(a),
		newSimilarCmd(a),
		newWarmCmd(a),
		newMaintainCmd(a),
		newVersionCmd(),
	)
	return root
}

// workerCommand returns the command line that starts this binary as a worker with the
// same config and debug setting.
func (a *app) workerCommand() ([]string, error) {
	if len(a.cfg.Worker.Command) > 0 {
		return a.cfg.Worker.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	args := []string{exe, "worker"}
	if a.resolvedPath != "" {
		args = append(args, "--config", a.resolvedPath)
	}
	if a.debug {
		args = append(args, "--debug")
	}
	return args, nil
}

func (a *app) serviceOptions() (service.Options, error) {
	command, err := a.workerCommand()
	if err != nil {
		return service.Options{}, err
	}
	cfg := a.cfg
	return service.Options{
		ShowProgress: cfg.Service.ShowProgress,
		Cache: cache.Options{
			Path:       cfg.Cache.DatabasePath,
			TTL:        cfg.Cache.TTL(),
			MaxSize:    cfg.Cache.MaxSize,
			Dimensions: cfg.Cache.Dimensions,
		},
		Worker: worker.Options{
			Command:        command,
			CacheDir:       cfg.Worker.CacheDir,
			Dimensions:     cfg.Cache.Dimensions,
			RequestTimeout: cfg.Worker.RequestTimeout(),
			ReadyTimeout:   cfg.Worker.ReadyTimeout(),
			ShutdownGrace:  cfg.Worker.ShutdownGrace(),
		},
		MemoryCacheSize:     cfg.Service.MemoryCacheSize,
		MaintenanceSchedule: cfg.Maintenance.Schedule,
		Logger:              a.logger,
	}, nil
}

// withService runs fn against a new service and always shuts it down afterwards.
func (a *app) withService(ctx context.Context, mutate func(*service.Options), fn func(*service.Service) error) error {
	opts, err := a.serviceOptions()
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc := service.New(opts)
	runErr := fn(svc)
	if err := svc.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("shutdown failed", zap.Error(err))
	}
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
