package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show each workspace's aggregate status",
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var workspaces []workspaceView
	if err := client.get("/api/workspaces", &workspaces); err != nil {
		return err
	}
	if len(workspaces) == 0 {
		fmt.Println("no workspaces configured")
		return nil
	}

	for _, ws := range workspaces {
		badge := "-"
		if ws.Status != nil {
			badge = colorize(styleForCode(ws.Status.Code), formatEntry(ws.Status))
		}
		fmt.Printf("%-20s %-40s %s\n", ws.ID, colorize(colorDim, ws.Path), badge)
	}
	return nil
}
