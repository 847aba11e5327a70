package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swarmforge/swarmmem/internal/memory"
	"github.com/swarmforge/swarmmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store an entry",
		Long:  "Store an entry for an agent. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("ns", "n", "default", "Namespace")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().StringP("agent", "a", "", "Agent id (required)")
	cmd.Flags().String("session", "", "Session id")
	cmd.Flags().String("type", "observation", "Type: observation, insight, decision, artifact, error, state, communication")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("ttl", "", "Time to live (e.g. 7d, 24h, 30m); empty uses the namespace default")
	cmd.Flags().String("parent", "", "Parent entry id")
	cmd.Flags().String("meta", "", "JSON metadata object")

	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("agent")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	ns, _ := cmd.Flags().GetString("ns")
	key, _ := cmd.Flags().GetString("key")
	agent, _ := cmd.Flags().GetString("agent")
	session, _ := cmd.Flags().GetString("session")
	entryType, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	ttlStr, _ := cmd.Flags().GetString("ttl")
	parent, _ := cmd.Flags().GetString("parent")
	metaStr, _ := cmd.Flags().GetString("meta")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	opts := memory.StoreOptions{
		Namespace: ns,
		AgentID:   agent,
		SessionID: session,
		Type:      entryType,
		ParentID:  parent,
	}

	if tagsStr != "" {
		for _, t := range strings.Split(tagsStr, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.Tags = append(opts.Tags, t)
			}
		}
	}
	if ttlStr != "" {
		d, err := store.ParseTTL(ttlStr)
		if err != nil {
			exitErr("parse ttl", err)
		}
		opts.TTL = d
	}
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &opts.Metadata); err != nil {
			exitErr("parse metadata", err)
		}
	}

	coord, _, done, err := openCoordinator(cmd.Context())
	if err != nil {
		exitErr("open coordinator", err)
	}
	defer done()

	id, err := coord.Store(cmd.Context(), key, strings.TrimSpace(content), opts)
	if err != nil {
		exitErr("put", err)
	}

	b, _ := json.Marshal(map[string]string{"id": id, "key": key, "namespace": ns, "agent_id": agent})
	fmt.Println(string(b))
}
