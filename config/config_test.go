package config

import (
	"testing"
	"time"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.KrakenConfig.BaseURL != "https://api.kraken.com" {
		t.Errorf("base url = %q", cfg.KrakenConfig.BaseURL)
	}
	if cfg.TradingConfig.Pair != "XXRPZUSD" {
		t.Errorf("pair = %q", cfg.TradingConfig.Pair)
	}
	if cfg.DatabaseConfig.Port != 5432 || cfg.DatabaseConfig.Host != "localhost" {
		t.Errorf("database defaults = %s:%d", cfg.DatabaseConfig.Host, cfg.DatabaseConfig.Port)
	}
	if cfg.AuthConfig.AccessTokenDuration != time.Hour {
		t.Errorf("token duration = %v", cfg.AuthConfig.AccessTokenDuration)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "env-key")
	t.Setenv("TRADING_PAIR", "XXBTZUSD")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("AUTH_ACCESS_TOKEN_DURATION", "30m")

	cfg := &Config{}
	cfg.KrakenConfig.APIKey = "file-key"
	applyEnvOverrides(cfg)

	if cfg.KrakenConfig.APIKey != "env-key" {
		t.Errorf("api key = %q, want env override", cfg.KrakenConfig.APIKey)
	}
	if cfg.TradingConfig.Pair != "XXBTZUSD" {
		t.Errorf("pair = %q", cfg.TradingConfig.Pair)
	}
	if cfg.DatabaseConfig.Port != 6543 {
		t.Errorf("port = %d", cfg.DatabaseConfig.Port)
	}
	if cfg.AuthConfig.AccessTokenDuration != 30*time.Minute {
		t.Errorf("token duration = %v", cfg.AuthConfig.AccessTokenDuration)
	}
}

func TestValidateRequiresCredentialsWithoutVault(t *testing.T) {
	cfg := &Config{}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without credentials")
	}

	cfg.KrakenConfig.APIKey = "key"
	cfg.KrakenConfig.APISecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.KrakenConfig.APIKey = ""
	cfg.VaultConfig.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("vault-enabled config rejected: %v", err)
	}
}
