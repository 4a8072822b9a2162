package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fuomag9/dynamics-sync-lite/internal/config"
	"github.com/fuomag9/dynamics-sync-lite/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dynsync",
	Short: "Microsoft sign-in and Dynamics 365 contact self-service",
	Long: `dynsync lets a visitor sign in with a Microsoft identity and view or edit
their own Dynamics 365 contact record, without a local account.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, testConnectionCmd, pruneLogsCmd)
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Environment, cfg.LogLevel)
	return cfg, nil
}

func main() {
	logging.Setup(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
