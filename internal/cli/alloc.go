package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmforge/swarmmem/internal/memory"
)

func init() {
	allocCmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocation management",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a quota allocation for (agent, namespace)",
		Run:   runAllocCreate,
	}
	createCmd.Flags().StringP("agent", "a", "", "Agent id (required)")
	createCmd.Flags().StringP("ns", "n", "", "Namespace (required)")
	createCmd.Flags().Int64("max-size", 0, "Allocated byte budget")
	createCmd.Flags().Int("max-entries", 1000, "Entry-count ceiling")
	createCmd.Flags().Int("priority", 1, "Priority weight")
	createCmd.MarkFlagRequired("agent")
	createCmd.MarkFlagRequired("ns")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List allocations",
		Run:   runAllocList,
	}
	listCmd.Flags().StringP("agent", "a", "", "Filter by agent")

	allocCmd.AddCommand(createCmd, listCmd)
	RootCmd.AddCommand(allocCmd)
}

func runAllocCreate(cmd *cobra.Command, args []string) {
	agent, _ := cmd.Flags().GetString("agent")
	ns, _ := cmd.Flags().GetString("ns")
	maxSize, _ := cmd.Flags().GetInt64("max-size")
	maxEntries, _ := cmd.Flags().GetInt("max-entries")
	priority, _ := cmd.Flags().GetInt("priority")

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	err = coord.CreateAllocation(cmd.Context(), agent, ns, memory.AllocationOptions{
		MaxSize:    maxSize,
		MaxEntries: maxEntries,
		Priority:   priority,
	})
	if err != nil {
		exitErr("create allocation", err)
	}

	b, _ := json.Marshal(map[string]interface{}{
		"agent_id": agent, "namespace": ns, "max_entries": maxEntries,
	})
	fmt.Println(string(b))
}

func runAllocList(cmd *cobra.Command, args []string) {
	agent, _ := cmd.Flags().GetString("agent")

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	usage, err := coord.GetAgentUsage(cmd.Context(), agent)
	if err != nil {
		exitErr("list allocations", err)
	}

	b, _ := json.MarshalIndent(usage.Allocations, "", "  ")
	fmt.Println(string(b))
}
