package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <entry-id>",
		Short: "Delete an entry and its children",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.Delete(cmd.Context(), args[0]); err != nil {
		exitErr("rm", err)
	}

	b, _ := json.Marshal(map[string]string{"deleted": args[0]})
	fmt.Println(string(b))
}
