// Package cmd provides the command-line interface for intersim.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "intersim",
	Short: "Intersim simulates a four-way signalized intersection.",
	Long: `Intersim simulates a four-way signalized intersection. ` +
		`Each lane is served by its own worker, either sharing memory with ` +
		`the coordinator or talking to it only through messages.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
