package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "ENV", "")
	setEnv(t, "MEMBERSHIP_ENFORCE", "")
	setEnv(t, "RATE_LIMIT_RPM", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.True(t, cfg.MembershipEnforce)
	assert.Equal(t, DefaultRateRPM, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "MEMBERSHIP_ENFORCE", "false")
	setEnv(t, "RATE_LIMIT_RPM", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.MembershipEnforce)
	assert.Equal(t, 600, cfg.RateLimitRPM)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid development config",
			config:  Config{Port: "8080", Env: "development", RateLimitRPM: 60},
			wantErr: false,
		},
		{
			name:    "empty port",
			config:  Config{Port: "", Env: "development", RateLimitRPM: 60},
			wantErr: true,
		},
		{
			name:    "non-positive rate limit",
			config:  Config{Port: "8080", Env: "development", RateLimitRPM: 0},
			wantErr: true,
		},
		{
			name:    "production without admin secret",
			config:  Config{Port: "8080", Env: "production", RateLimitRPM: 60},
			wantErr: true,
		},
		{
			name:    "production with admin secret",
			config:  Config{Port: "8080", Env: "production", RateLimitRPM: 60, AdminSecret: "s3cret"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Env = "development"
	assert.True(t, cfg.IsDevelopment())
}
