package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seam-dev/seam/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		bi := buildinfo.Current()
		fmt.Printf("seam %s", bi.Version)
		if bi.CommitHash != "" {
			fmt.Printf(" (%s)", bi.CommitHash)
		}
		if bi.BuildDate != "" {
			fmt.Printf(" built %s", bi.BuildDate)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
