package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmforge/swarmmem/internal/model"
	"github.com/swarmforge/swarmmem/internal/store"
)

func init() {
	nsCmd := &cobra.Command{
		Use:   "ns",
		Short: "Namespace management",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a namespace",
		Args:  cobra.ExactArgs(1),
		Run:   runNSCreate,
	}
	createCmd.Flags().Int("max-entries", 0, "Max entries (default 10000)")
	createCmd.Flags().String("ttl", "", "Default TTL for entries (e.g. 24h)")
	createCmd.Flags().Bool("no-cleanup", false, "Disable auto cleanup")
	createCmd.Flags().StringP("agent", "a", "", "Owning agent id")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all namespaces",
		Run:   runNSList,
	}

	nsCmd.AddCommand(createCmd, listCmd)
	RootCmd.AddCommand(nsCmd)
}

func runNSCreate(cmd *cobra.Command, args []string) {
	maxEntries, _ := cmd.Flags().GetInt("max-entries")
	ttlStr, _ := cmd.Flags().GetString("ttl")
	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")
	agent, _ := cmd.Flags().GetString("agent")

	cfg := &model.NamespaceConfig{
		MaxEntries:  maxEntries,
		AutoCleanup: !noCleanup,
	}
	if ttlStr != "" {
		d, err := store.ParseTTL(ttlStr)
		if err != nil {
			exitErr("parse ttl", err)
		}
		cfg.DefaultTTL = d
	} else {
		cfg.DefaultTTL = 86400 * time.Second
	}

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	id, err := coord.CreateNamespace(cmd.Context(), args[0], cfg, agent)
	if err != nil {
		exitErr("create namespace", err)
	}

	b, _ := json.Marshal(map[string]string{"id": id, "name": args[0]})
	fmt.Println(string(b))
}

func runNSList(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	b, _ := json.MarshalIndent(coord.ListNamespaces(), "", "  ")
	fmt.Println(string(b))
}
