package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmforge/swarmmem/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve an entry",
		Long:  "Retrieve the latest live entry for a key, optionally scoped to a namespace and agent.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringP("ns", "n", "", "Namespace filter")
	cmd.Flags().StringP("agent", "a", "", "Agent filter")
	cmd.Flags().Bool("content-only", false, "Print only the content")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	ns, _ := cmd.Flags().GetString("ns")
	agent, _ := cmd.Flags().GetString("agent")
	contentOnly, _ := cmd.Flags().GetBool("content-only")

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	entry, err := coord.Retrieve(cmd.Context(), args[0], memory.RetrieveOptions{
		Namespace: ns,
		AgentID:   agent,
	})
	if err != nil {
		exitErr("get", err)
	}

	if contentOnly {
		fmt.Println(entry.Content)
		return
	}
	b, _ := json.MarshalIndent(entry, "", "  ")
	fmt.Println(string(b))
}
