package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run the expiration and stale-session sweep now",
		Run:   runCleanup,
	}

	RootCmd.AddCommand(cmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.PerformCleanup(cmd.Context()); err != nil {
		exitErr("cleanup", err)
	}
	b, _ := json.Marshal(map[string]string{"cleanup": "done"})
	fmt.Println(string(b))
}
