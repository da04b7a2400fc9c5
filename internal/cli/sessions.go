package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List sessions across all workspaces",
	RunE:    runSessions,
}

var sessionsWorkspace string

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsWorkspace, "workspace", "w", "", "Only show sessions of this workspace")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var sessions []sessionView
	if err := client.get("/api/sessions", &sessions); err != nil {
		return err
	}

	shown := 0
	for _, s := range sessions {
		if sessionsWorkspace != "" && s.WorkspaceID != sessionsWorkspace {
			continue
		}
		shown++

		state := colorize(colorDim, "idle")
		switch {
		case s.Status != nil:
			state = colorize(styleForCode(s.Status.Code), formatEntry(s.Status))
		case s.Streaming:
			state = colorize(colorCyan, "streaming")
		}

		name := s.Name
		if name == "" {
			name = colorize(colorDim, "(unnamed)")
		}
		fmt.Printf("%-36s %-14s %-6s %-30s %s\n", s.ID, s.WorkspaceID, s.Mode, name, state)
		if s.PRURL != "" {
			fmt.Printf("%36s %s\n", "", colorize(colorGreen, s.PRURL))
		}
	}
	if shown == 0 {
		fmt.Println("no sessions")
	}
	return nil
}
