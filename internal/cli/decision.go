package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var replyCmd = &cobra.Command{
	Use:   "reply <request-id> <answer...>",
	Short: "Answer a pending permission, question, or command request",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runReply,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Decline a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	rootCmd.AddCommand(replyCmd)
	rootCmd.AddCommand(rejectCmd)
}

func runReply(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	requestID := args[0]
	answer := strings.Join(args[1:], " ")

	if err := client.post("/api/requests/"+requestID+"/reply", map[string]string{"answer": answer}, nil); err != nil {
		return err
	}
	fmt.Printf("replied to %s\n", requestID)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.post("/api/requests/"+args[0]+"/reject", struct{}{}, nil); err != nil {
		return err
	}
	fmt.Printf("rejected %s\n", args[0])
	return nil
}
