package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.PoolMin != defaultPoolMin {
		t.Errorf("PoolMin = %d, want %d", cfg.PoolMin, defaultPoolMin)
	}

	if cfg.PoolMax != defaultPoolMax {
		t.Errorf("PoolMax = %d, want %d", cfg.PoolMax, defaultPoolMax)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_POOL_MAX", "25")

	cfg := LoadConfig()

	if cfg.Host != "db.internal" {
		t.Errorf("Host = %q, want %q", cfg.Host, "db.internal")
	}

	if cfg.Port != 5433 {
		t.Errorf("Port = %d, want 5433", cfg.Port)
	}

	if cfg.PoolMax != 25 {
		t.Errorf("PoolMax = %d, want 25", cfg.PoolMax)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "empty host", mutate: func(c *Config) { c.Host = " " }, wantErr: ErrDatabaseHostEmpty},
		{name: "empty name", mutate: func(c *Config) { c.Name = "" }, wantErr: ErrDatabaseNameEmpty},
		{name: "min over max", mutate: func(c *Config) { c.PoolMin = 20 }, wantErr: ErrInvalidPoolBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)

			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskedDSN(t *testing.T) {
	cfg := LoadConfig().WithPassword("hunter2")

	dsn := cfg.DSN()
	if !strings.Contains(dsn, "password=hunter2") {
		t.Fatalf("DSN missing password: %q", dsn)
	}

	masked := cfg.MaskedDSN()
	if strings.Contains(masked, "hunter2") {
		t.Errorf("MaskedDSN leaked password: %q", masked)
	}

	if !strings.Contains(masked, "password=***") {
		t.Errorf("MaskedDSN missing mask: %q", masked)
	}
}
