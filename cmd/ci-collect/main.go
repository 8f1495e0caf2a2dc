package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "ci-collect",
		Short: "Cross-repository GitHub Actions artifact collector",
		Long: `ci-collect gathers CI artifacts across a list of repositories.
For each repository it picks the most relevant workflow run via the gh CLI,
downloads that run's artifacts, and aggregates the results into a manifest,
optionally bundled into a single zip archive.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
