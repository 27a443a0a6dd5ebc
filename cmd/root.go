package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hindsight",
	Short: "Hindsight - long-term memory for conversational agents",
	Long: `Hindsight stores extracted facts in per-bank memory graphs and retrieves
them with parallel semantic, keyword, graph, and temporal search.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

func Execute() error {
	return rootCmd.Execute()
}
