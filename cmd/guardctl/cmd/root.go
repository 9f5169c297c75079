package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fernandezvara/dbkit"
	"github.com/fernandezvara/guardkit"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "guardctl: operator tooling for guardkit deployments",
	Long: `guardctl applies guardkit database migrations, inspects the audit log
and stored snapshots, and computes role and selector identifiers offline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL URL of the guardkit store")
	rootCmd.PersistentFlags().StringP("log-level", "v", "info", "Logging verbosity, possible values:[panic, fatal, error, warn, info, debug, trace]")
	rootCmd.PersistentFlags().String("failure-policy", "fail-open", "How aware components treat a failing status provider: fail-open or fail-closed")
	rootCmd.PersistentFlags().Duration("timelock-duration", guardkit.DefaultTimelockDuration, "Delay before a proposed emergency action may execute")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("failure_policy", rootCmd.PersistentFlags().Lookup("failure-policy"))
	_ = viper.BindPFlag("timelock_duration", rootCmd.PersistentFlags().Lookup("timelock-duration"))

	rootCmd.AddCommand(migrateCmd, auditCmd, snapshotCmd, hashCmd, configCmd)
}

var (
	config guardkit.Config
	logger = logrus.StandardLogger()
)

// initConfig reads the config file and GUARDKIT_* environment variables on
// top of the defaults and flags.
func initConfig() error {
	defaults := guardkit.DefaultConfig()
	viper.SetDefault("timelock_duration", defaults.TimelockDuration)
	viper.SetDefault("failure_policy", defaults.FailurePolicy)
	viper.SetDefault("log_level", defaults.LogLevel)
	viper.SetDefault("metrics_namespace", defaults.MetricsNamespace)

	viper.SetEnvPrefix("GUARDKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	level, _ := logrus.ParseLevel(config.LogLevel)
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	logger.WithFields(logrus.Fields{
		"failure_policy":    config.FailurePolicy,
		"timelock_duration": config.TimelockDuration.String(),
	}).Debug("configuration loaded")
	return nil
}

// openStore connects to the configured database.
func openStore() (*guardkit.Store, func(), error) {
	if config.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("no database configured: set --database-url or GUARDKIT_DATABASE_URL")
	}
	db, err := dbkit.New(dbkit.Config{URL: config.DatabaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("closing database")
		}
	}
	return guardkit.NewStore(db, guardkit.WithLogger(logger)), closeFn, nil
}
