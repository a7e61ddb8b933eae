package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTestConfig() *Config {
	return &Config{
		Port:                      "8390",
		Env:                       "test",
		JWTSecret:                 "test-secret",
		DispatchGlobalLimit:       10000,
		DispatchPerRecipientLimit: 5,
		DispatchMaxAttempts:       3,
		FanoutBatchSize:           500,
		AIReplyTimeoutSeconds:     10,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid dev config",
			mutate: func(_ *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Port = "" },
			wantErr: "PORT is required",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.JWTSecret = "" },
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "zero global dispatch limit",
			mutate:  func(c *Config) { c.DispatchGlobalLimit = 0 },
			wantErr: "DISPATCH_GLOBAL_LIMIT must be positive",
		},
		{
			name:    "negative per-recipient limit",
			mutate:  func(c *Config) { c.DispatchPerRecipientLimit = -1 },
			wantErr: "DISPATCH_PER_RECIPIENT_LIMIT must be positive",
		},
		{
			name:    "zero fanout batch",
			mutate:  func(c *Config) { c.FanoutBatchSize = 0 },
			wantErr: "FANOUT_BATCH_SIZE must be positive",
		},
		{
			name:    "zero ai timeout",
			mutate:  func(c *Config) { c.AIReplyTimeoutSeconds = 0 },
			wantErr: "AI_REPLY_TIMEOUT_SECONDS must be positive",
		},
		{
			name: "production rejects default jwt secret",
			mutate: func(c *Config) {
				c.Env = "production"
				c.JWTSecret = "your-secret-key-change-in-production"
			},
			wantErr: "JWT_SECRET must be changed from the default value in production",
		},
		{
			name: "production rejects short jwt secret",
			mutate: func(c *Config) {
				c.Env = "production"
				c.JWTSecret = "short"
			},
			wantErr: "JWT_SECRET must be at least 32 characters in production",
		},
		{
			name: "production rejects default db password",
			mutate: func(c *Config) {
				c.Env = "production"
				c.JWTSecret = "a-sufficiently-long-production-secret-value"
				c.DBPassword = "password"
			},
			wantErr: "a strong DB_PASSWORD is required in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}
