package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Tollgate identity and provisioning service",
	Long: `tollgate authenticates users via password credentials and a
third-party OAuth provider, reconciles them into a single account record,
and serves session state with a re-derived provisioning flag.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/tollgate.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// newLogger builds the production logger used by every subcommand.
func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}
