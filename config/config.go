package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"kraken-trading-bot/internal/cache"
	"kraken-trading-bot/internal/database"
	"kraken-trading-bot/internal/logging"
)

type Config struct {
	KrakenConfig   KrakenConfig    `json:"kraken"`
	TradingConfig  TradingConfig   `json:"trading"`
	TickerConfig   TickerConfig    `json:"ticker"`
	DatabaseConfig database.Config `json:"database"`
	RedisConfig    cache.Config    `json:"redis"`
	VaultConfig    VaultConfig     `json:"vault"`
	ServerConfig   ServerConfig    `json:"server"`
	AuthConfig     AuthConfig      `json:"auth"`
	LoggingConfig  logging.Config  `json:"logging"`
}

// KrakenConfig holds exchange connection settings. Credentials may come
// from here or from Vault when Vault is enabled.
type KrakenConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`
	WSBaseURL string `json:"ws_base_url"`
}

// TradingConfig holds the position parameters for the trading loop
type TradingConfig struct {
	Pair string `json:"pair"` // REST pair code, e.g. XXRPZUSD
}

// TickerConfig holds the ticker collection settings
type TickerConfig struct {
	Enabled       bool     `json:"enabled"`
	Pairs         []string `json:"pairs"`          // websocket pair names, e.g. XRP/USD
	RetentionDays int      `json:"retention_days"` // prune observations older than this
}

// VaultConfig holds HashiCorp Vault settings for credential storage
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds the status API server settings
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// AuthConfig holds authentication settings for the status API
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminUsername       string        `json:"admin_username"`
	AdminPassword       string        `json:"admin_password"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Kraken config
	cfg.KrakenConfig.APIKey = getEnvOrDefault("KRAKEN_API_KEY", cfg.KrakenConfig.APIKey)
	cfg.KrakenConfig.APISecret = getEnvOrDefault("KRAKEN_API_SECRET", cfg.KrakenConfig.APISecret)
	cfg.KrakenConfig.BaseURL = getEnvOrDefault("KRAKEN_BASE_URL", cfg.KrakenConfig.BaseURL)
	if cfg.KrakenConfig.BaseURL == "" {
		cfg.KrakenConfig.BaseURL = "https://api.kraken.com"
	}
	cfg.KrakenConfig.WSBaseURL = getEnvOrDefault("KRAKEN_WS_BASE_URL", cfg.KrakenConfig.WSBaseURL)

	// Trading config
	cfg.TradingConfig.Pair = getEnvOrDefault("TRADING_PAIR", cfg.TradingConfig.Pair)
	if cfg.TradingConfig.Pair == "" {
		cfg.TradingConfig.Pair = "XXRPZUSD"
	}

	// Ticker config
	cfg.TickerConfig.Enabled = getEnvOrDefault("TICKER_ENABLED", boolString(cfg.TickerConfig.Enabled)) == "true"
	if len(cfg.TickerConfig.Pairs) == 0 {
		cfg.TickerConfig.Pairs = []string{"XRP/USD"}
	}
	if cfg.TickerConfig.RetentionDays == 0 {
		cfg.TickerConfig.RetentionDays = 7
	}

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "trader"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "kraken_trading"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "kraken-trading-bot/credentials"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Server config
	cfg.ServerConfig.Enabled = getEnvOrDefault("WEB_ENABLED", boolString(cfg.ServerConfig.Enabled)) == "true"
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Auth config
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", defaultDuration(cfg.AuthConfig.AccessTokenDuration, time.Hour))
	cfg.AuthConfig.AdminUsername = getEnvOrDefault("AUTH_ADMIN_USERNAME", defaultString(cfg.AuthConfig.AdminUsername, "admin"))
	cfg.AuthConfig.AdminPassword = getEnvOrDefault("AUTH_ADMIN_PASSWORD", cfg.AuthConfig.AdminPassword)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

// Validate checks the settings required to reach the exchange
func (c *Config) Validate() error {
	if !c.VaultConfig.Enabled {
		if c.KrakenConfig.APIKey == "" || c.KrakenConfig.APISecret == "" {
			return fmt.Errorf("kraken credentials are required when vault is disabled")
		}
	}
	if c.TradingConfig.Pair == "" {
		return fmt.Errorf("trading pair is required")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
