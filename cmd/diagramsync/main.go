package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "diagramsync",
		Short:         "Local-first database diagram catalog with optional remote sync",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newOpenCommand(),
		newWatchCommand(),
		newPushCommand(),
		newPullCommand(),
		newListCommand(),
		newHealthCommand(),
		newNewCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	flags.String("api-url", defaults.GetString("sync.api_url"), "Remote sync endpoint")
	flags.Bool("sync-enabled", defaults.GetBool("sync.enabled"), "Enable remote sync")
	flags.String("default-diagram", defaults.GetString("sync.default_diagram_id"), "Diagram opened when none is requested")
	flags.Int("debounce-ms", defaults.GetInt("sync.debounce_ms"), "Quiet window before a scheduled push is sent")
	flags.Int("timeout-seconds", defaults.GetInt("sync.timeout_seconds"), "Remote request timeout in seconds")
	flags.String("catalog-path", defaults.GetString("catalog.path"), "Local catalog SQLite path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Optional rotated log file")

	bindFlag(cmd, "sync.api_url", "api-url")
	bindFlag(cmd, "sync.enabled", "sync-enabled")
	bindFlag(cmd, "sync.default_diagram_id", "default-diagram")
	bindFlag(cmd, "sync.debounce_ms", "debounce-ms")
	bindFlag(cmd, "sync.timeout_seconds", "timeout-seconds")
	bindFlag(cmd, "catalog.path", "catalog-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
