package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	shareCmd := &cobra.Command{
		Use:   "share",
		Short: "Cross-agent share requests",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Share entries with another agent",
		Run:   runShareCreate,
	}
	createCmd.Flags().String("entries", "", "Comma-separated entry ids (required)")
	createCmd.Flags().String("from", "", "Source agent (required)")
	createCmd.Flags().String("to", "", "Target agent (required)")
	createCmd.Flags().String("level", "read", "Share level: read, write, full")
	createCmd.MarkFlagRequired("entries")
	createCmd.MarkFlagRequired("from")
	createCmd.MarkFlagRequired("to")

	approveCmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending share request",
		Args:  cobra.ExactArgs(1),
		Run:   runShareApprove,
	}

	applyCmd := &cobra.Command{
		Use:   "apply <request-id>",
		Short: "Apply an approved share request",
		Args:  cobra.ExactArgs(1),
		Run:   runShareApply,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List share requests",
		Run:   runShareList,
	}
	listCmd.Flags().String("to", "", "Filter by target agent")

	shareCmd.AddCommand(createCmd, approveCmd, applyCmd, listCmd)
	RootCmd.AddCommand(shareCmd)
}

func runShareCreate(cmd *cobra.Command, args []string) {
	entriesStr, _ := cmd.Flags().GetString("entries")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	level, _ := cmd.Flags().GetString("level")

	var entries []string
	for _, e := range strings.Split(entriesStr, ",") {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	id, err := coord.ShareMemory(cmd.Context(), entries, from, to, level)
	if err != nil {
		exitErr("share", err)
	}

	b, _ := json.Marshal(map[string]string{"request_id": id, "from": from, "to": to, "level": level})
	fmt.Println(string(b))
}

func runShareApprove(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.ApproveShareRequest(cmd.Context(), args[0]); err != nil {
		exitErr("approve share", err)
	}
	b, _ := json.Marshal(map[string]string{"approved": args[0]})
	fmt.Println(string(b))
}

func runShareApply(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.ProcessShareRequest(cmd.Context(), args[0]); err != nil {
		exitErr("apply share", err)
	}
	b, _ := json.Marshal(map[string]string{"applied": args[0]})
	fmt.Println(string(b))
}

func runShareList(cmd *cobra.Command, args []string) {
	to, _ := cmd.Flags().GetString("to")

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	requests, err := coord.ListShareRequests(cmd.Context(), to)
	if err != nil {
		exitErr("list shares", err)
	}
	b, _ := json.MarshalIndent(requests, "", "  ")
	fmt.Println(string(b))
}
