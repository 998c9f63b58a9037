// Package main provides captured, the embedded browsing and capture session
// daemon. It hosts one isolated browser session behind the command gateway
// (serve) or runs a single navigate, scan and cookie handoff (capture).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	driverFlag string
	headless   bool
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "captured",
	Short: "Embedded browsing and capture session manager",
	Long: `captured drives one isolated browser session for archival capture.

Settings come from ~/.capture/config.json (or --config, JSON or YAML),
CAPTURE_* environment variables, and flags, in increasing precedence.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "captured v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.capture/config.json)")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "Browser driver: playwright or rod")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser without a window")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, captureCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
