// Package cli implements the LabelMint command-line interface using Cobra.
// Offline subcommands open the same store the daemon uses.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/labelmint/labelmint/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "labelmint",
	Short: "LabelMint — crowd labeling task assignment and consensus",
	Long: `LabelMint hands labeling tasks to qualified workers, collects their labels,
resolves them by majority consensus, scores honeypots and pays rewards.

Run "labelmint serve" for the HTTP API, or use the subcommands against the
local store directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDaemon wires the services for a one-shot command. Logs go to the
// configured file at warn level so they do not interleave with output.
func openDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Logging.Output = "file"
	cfg.Logging.Level = "warn"
	cfg.Sweeper.Enabled = false
	return daemon.NewWithConfig(cfg)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
