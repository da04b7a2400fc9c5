package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var bindCmd = &cobra.Command{
	Use:   "bind <session-id> <backend-session-id>",
	Short: "Attach a session to its backend conversation",
	Long:  "Records the backend-assigned conversation id for a session. Until a session is bound, events from the backend cannot be routed to it.",
	Args:  cobra.ExactArgs(2),
	RunE:  runBind,
}

func init() {
	rootCmd.AddCommand(bindCmd)
}

func runBind(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.post("/api/sessions/"+args[0]+"/bind", map[string]string{"backend_session_id": args[1]}, nil); err != nil {
		return err
	}
	fmt.Printf("bound %s to %s\n", args[0], args[1])
	return nil
}
