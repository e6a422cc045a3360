package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/AnTengye/contractplaybook/backend/pkg/logger"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "playbook",
		Short:        "Turn agreements into negotiation playbooks",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	// Load configuration
	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}

		// Initialize logger
		logger.Init(&logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		})
		slog.Info("configuration loaded successfully", "path", configPath)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newAnalyzeCmd(load), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "playbook", version)
		},
	}
}
