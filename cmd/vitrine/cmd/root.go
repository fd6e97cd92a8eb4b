package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vitrine",
	Short: "Vitrine is the content-catalog editor backend",
	Long: `The trust and asset layer behind the content-catalog admin editor:
federated login with a mandatory second factor, staged asset uploads,
catalog management, and public download counters.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
