package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/n64lab/nat64d/internal/control"
)

// outputFormat controls the output format for all commands (table or json).
var outputFormat string

// siit selects SIIT framing for every request; joold-class operations are
// rejected by the daemon when this is set.
var siit bool

// rootCmd is the top-level cobra command for nat64ctl.
var rootCmd = &cobra.Command{
	Use:   "nat64ctl",
	Short: "CLI client for the nat64d daemon",
	Long:  "nat64ctl sends control frames to the nat64d daemon to manage pool4 ranges, list sessions, and exercise joold.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		xlatorType = control.XlatorNAT64
		if siit {
			xlatorType = control.XlatorSIIT
		}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "127.0.0.1:7878",
		"nat64d control listener address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")
	rootCmd.PersistentFlags().BoolVar(&siit, "siit", false,
		"frame requests as SIIT (rejects joold-class operations)")

	rootCmd.AddCommand(pool4Cmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(jooldCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
