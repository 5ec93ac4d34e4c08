package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// jsonOutput switches command results to JSON format.
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aoaisim",
	Short: "aoaisim is a simulated Azure OpenAI API endpoint",
	Long: `aoaisim serves the Azure OpenAI and Document Intelligence API surface
without calling Azure, for load and integration testing against realistic
latency, rate limits, and telemetry.

It runs in one of three modes: generate (synthesize responses), record
(forward to a real endpoint and capture the exchange), or replay (serve
previously captured responses).

Configuration can be provided via flags, environment variables, or a
configuration file.`,
	// No Run function here means 'aoaisim' with no args will print help text by default.
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}
