package guardkit

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the file/env configuration of a guardkit deployment.
// cmd/guardctl loads it with viper; library users may fill it directly.
type Config struct {
	TimelockDuration time.Duration `mapstructure:"timelock_duration" json:"timelock_duration"`
	FailurePolicy    string        `mapstructure:"failure_policy" json:"failure_policy"`
	DatabaseURL      string        `mapstructure:"database_url" json:"database_url"`
	LogLevel         string        `mapstructure:"log_level" json:"log_level"`
	MetricsNamespace string        `mapstructure:"metrics_namespace" json:"metrics_namespace"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		TimelockDuration: DefaultTimelockDuration,
		FailurePolicy:    FailOpen.String(),
		LogLevel:         logrus.InfoLevel.String(),
		MetricsNamespace: "guardkit",
	}
}

// Validate checks every field that has a constrained value.
func (c Config) Validate() error {
	if err := validateTimelockDuration(c.TimelockDuration); err != nil {
		return err
	}
	if _, err := ParseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Logger returns a logger at the configured level.
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l, nil
}

// Options converts the configuration to component options. The returned
// options carry the timelock duration, failure policy and a logger.
func (c Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	policy, _ := ParseFailurePolicy(c.FailurePolicy)
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithTimelockDuration(c.TimelockDuration),
		WithFailurePolicy(policy),
		WithLogger(logger),
	}, nil
}
