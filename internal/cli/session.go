package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swarmforge/swarmmem/internal/model"
)

func init() {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Swarm session management",
	}

	startCmd := &cobra.Command{
		Use:   "start <swarm-id>",
		Short: "Start a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionStart,
	}
	startCmd.Flags().StringP("agents", "a", "", "Comma-separated participant agent ids (required)")
	startCmd.Flags().String("initiated-by", "", "Initiating agent")
	startCmd.Flags().String("objective", "", "Session objective")
	startCmd.MarkFlagRequired("agents")

	endCmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session and take its snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionEnd,
	}

	pauseCmd := &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause an active session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionPause,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionResume,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Run:   runSessionList,
	}
	listCmd.Flags().String("status", "", "Filter by status: active, paused, completed, failed")

	sessionCmd.AddCommand(startCmd, endCmd, pauseCmd, resumeCmd, listCmd)
	RootCmd.AddCommand(sessionCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) {
	agentsStr, _ := cmd.Flags().GetString("agents")
	initiatedBy, _ := cmd.Flags().GetString("initiated-by")
	objective, _ := cmd.Flags().GetString("objective")

	var agents []string
	for _, a := range strings.Split(agentsStr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			agents = append(agents, a)
		}
	}

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	id, err := coord.StartSession(cmd.Context(), args[0], agents, model.SessionMetadata{
		InitiatedBy: initiatedBy,
		Objective:   objective,
	})
	if err != nil {
		exitErr("start session", err)
	}

	b, _ := json.Marshal(map[string]string{"session_id": id, "swarm_id": args[0]})
	fmt.Println(string(b))
}

func runSessionEnd(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.EndSession(cmd.Context(), args[0]); err != nil {
		exitErr("end session", err)
	}

	sess, err := coord.GetSession(cmd.Context(), args[0])
	if err != nil {
		exitErr("end session", err)
	}
	b, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Println(string(b))
}

func runSessionPause(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.PauseSession(cmd.Context(), args[0]); err != nil {
		exitErr("pause session", err)
	}
	b, _ := json.Marshal(map[string]string{"session_id": args[0], "status": model.SessionPaused})
	fmt.Println(string(b))
}

func runSessionResume(cmd *cobra.Command, args []string) {
	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	if err := coord.ResumeSession(cmd.Context(), args[0]); err != nil {
		exitErr("resume session", err)
	}
	b, _ := json.Marshal(map[string]string{"session_id": args[0], "status": model.SessionActive})
	fmt.Println(string(b))
}

func runSessionList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	sessions, err := coord.ListSessions(cmd.Context(), status)
	if err != nil {
		exitErr("list sessions", err)
	}
	b, _ := json.MarshalIndent(sessions, "", "  ")
	fmt.Println(string(b))
}
