// Package cli implements the swarmmem CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarmforge/swarmmem/internal/config"
	"github.com/swarmforge/swarmmem/internal/logging"
	"github.com/swarmforge/swarmmem/internal/memory"
)

var (
	configPath string
	dbPath     string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "swarmmem",
	Short: "Coordinated memory for agent swarms",
	Long:  "Namespace-partitioned agent memory with quota allocations, swarm sessions, cross-agent sharing and usage analytics. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $SWARMMEM_CONFIG or ~/.swarmmem/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides config)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// openCoordinator builds and initializes a coordinator for one command
// invocation. The returned func shuts it down.
func openCoordinator(ctx context.Context) (*memory.Coordinator, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, nil, err
	}

	coord := memory.New(*cfg, logger)
	if err := coord.Initialize(ctx); err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := coord.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
		logger.Sync()
	}
	return coord, cfg, cleanup, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
