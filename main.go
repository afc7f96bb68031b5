package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dietchat/internal/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "dietchat",
		Short: "Diet planning chat service",
		Long: `dietchat streams nutritionist replies from a chat model, augments them
with web snippets, and turns follow-up questions into forms.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}
)

func init() {
	defaultConfig := os.Getenv(config.EnvPrefix + "_CONFIG")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig,
		"path to config.json (env "+config.EnvPrefix+"_CONFIG)")
	rootCmd.AddCommand(serveCmd, migrateCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
