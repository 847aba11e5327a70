package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show a usage analytics snapshot",
		Run:   runAnalytics,
	}

	usageCmd := &cobra.Command{
		Use:   "usage <agent-id>",
		Short: "Show one agent's usage across namespaces",
		Args:  cobra.ExactArgs(1),
		Run:   runUsage,
	}

	RootCmd.AddCommand(analyticsCmd, usageCmd)
}

func runAnalytics(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	snapshot, err := coord.GetAnalytics(cmd.Context())
	if err != nil {
		exitErr("analytics", err)
	}
	b, _ := json.MarshalIndent(snapshot, "", "  ")
	fmt.Println(string(b))
}

func runUsage(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	usage, err := coord.GetAgentUsage(cmd.Context(), args[0])
	if err != nil {
		exitErr("usage", err)
	}
	b, _ := json.MarshalIndent(usage, "", "  ")
	fmt.Println(string(b))
}
