package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/seam-dev/seam/internal/buildinfo"
	"github.com/seam-dev/seam/internal/config"
	"github.com/seam-dev/seam/internal/debug"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"

	styleBoldCyan   = "\033[1;36m"
	styleBoldYellow = "\033[1;33m"
	styleBoldWhite  = "\033[1;37m"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "seam",
	Short: "One status line for all your agent sessions",
	Long: styleBoldCyan + `seam` + colorReset + ` v` + buildinfo.Current().Version + `

  Coordinates AI coding-agent sessions running across git worktrees and
  folds each worktree's sessions into a single status badge. Permission
  requests, clarifying questions, and command approvals queue up per
  session; background sessions that finish get their final response
  persisted so nothing is lost while you look elsewhere.

` + colorBold + `Getting started:` + colorReset + `
  seam run                        Start the coordinator
  seam status                     Workspace badges at a glance
  seam sessions                   List sessions and their state
  seam reply <request-id> <text>  Answer a pending request
  seam abort <session-id>         Interrupt a session`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.seam/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.seam/debug/")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "seam starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// colorize wraps s in an ANSI style when stdout is a terminal.
func colorize(style, s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	return style + s + colorReset
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
