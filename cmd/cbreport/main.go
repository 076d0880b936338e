// Command cbreport generates an incident report from a saved record without
// running the server. It uses the same configuration as the server.
//
//	cbreport generate --record incident.json --html report.html
//	cbreport jurisdictions
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/custodybuddy/internal"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "cbreport",
	Short:         "Generate CustodyBuddy incident reports from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	rootCmd.AddCommand(generateCmd, jurisdictionsCmd)
}

// newLogger writes to stderr with -v and discards otherwise.
func newLogger(cfg *internal.Config) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return internal.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel, "cbreport")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
