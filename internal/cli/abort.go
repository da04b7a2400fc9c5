package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort <session-id>",
	Short: "Interrupt whatever a session is doing",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func init() {
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.post("/api/sessions/"+args[0]+"/abort", struct{}{}, nil); err != nil {
		return err
	}
	fmt.Printf("abort sent to %s\n", args[0])
	return nil
}
