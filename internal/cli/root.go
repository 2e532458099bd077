package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Continuity memory for AI chat platforms",
	Long:  "Lattice keeps a decaying concept graph of what the user has been discussing and re-injects relevant context into new prompts. Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(clearCmd)
}
