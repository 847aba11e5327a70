package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmforge/swarmmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	s, err := store.NewSQLiteStore(cfg.DBPath, store.Options{CacheSize: cfg.CacheSize})
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), cfg.DBPath)
	if err != nil {
		exitErr("stats", err)
	}
	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
