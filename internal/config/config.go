// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// Delivery and fan-out tuning.
	DispatchGlobalLimit       int `mapstructure:"DISPATCH_GLOBAL_LIMIT"`
	DispatchPerRecipientLimit int `mapstructure:"DISPATCH_PER_RECIPIENT_LIMIT"`
	DispatchMaxAttempts       int `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	FanoutBatchSize           int `mapstructure:"FANOUT_BATCH_SIZE"`
	FanoutPollMillis          int `mapstructure:"FANOUT_POLL_MILLIS"`
	SweepIntervalSeconds      int `mapstructure:"SWEEP_INTERVAL_SECONDS"`

	// AI delegate replies.
	AIReplyTimeoutSeconds int    `mapstructure:"AI_REPLY_TIMEOUT_SECONDS"`
	OpenAIAPIKey          string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel           string `mapstructure:"OPENAI_MODEL"`

	// Comma-separated feature flags, e.g. "delegate_replies=on,live_push=25%".
	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`

	// Tracing.
	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			var notFoundErr viper.ConfigFileNotFoundError
			if !errors.As(err, &notFoundErr) {
				return nil, fmt.Errorf("failed to merge profile config 'config.%s.yml': %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	viper.SetDefault("PORT", "8390")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "discuzz")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	viper.SetDefault("DISPATCH_GLOBAL_LIMIT", 10000)
	viper.SetDefault("DISPATCH_PER_RECIPIENT_LIMIT", 5)
	viper.SetDefault("DISPATCH_MAX_ATTEMPTS", 3)
	viper.SetDefault("FANOUT_BATCH_SIZE", 500)
	viper.SetDefault("FANOUT_POLL_MILLIS", 250)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 30)

	viper.SetDefault("AI_REPLY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("OPENAI_API_KEY", "")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	viper.SetDefault("FEATURE_FLAGS", "delegate_replies=on")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DispatchGlobalLimit <= 0 {
		return errors.New("DISPATCH_GLOBAL_LIMIT must be positive")
	}
	if c.DispatchPerRecipientLimit <= 0 {
		return errors.New("DISPATCH_PER_RECIPIENT_LIMIT must be positive")
	}
	if c.DispatchMaxAttempts <= 0 {
		return errors.New("DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if c.FanoutBatchSize <= 0 {
		return errors.New("FANOUT_BATCH_SIZE must be positive")
	}
	if c.AIReplyTimeoutSeconds <= 0 {
		return errors.New("AI_REPLY_TIMEOUT_SECONDS must be positive")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	// Strict checks for production
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
	} else {
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}
