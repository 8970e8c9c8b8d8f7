package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kraken-trading-bot/config"
	"kraken-trading-bot/internal/api"
	"kraken-trading-bot/internal/auth"
	"kraken-trading-bot/internal/cache"
	"kraken-trading-bot/internal/database"
	"kraken-trading-bot/internal/kraken"
	"kraken-trading-bot/internal/logging"
	"kraken-trading-bot/internal/nonce"
	"kraken-trading-bot/internal/trader"
	"kraken-trading-bot/internal/vault"

	"github.com/rs/zerolog"
)

// nonceCounterName is the persisted counter backing nonce allocation.
// Seeded with the wall clock in milliseconds so restarts with an empty
// database never reuse a nonce the exchange has already seen.
const nonceCounterName = "kraken:nonce"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Database
	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	repo := database.NewRepository(db)

	// Credentials, from Vault or config
	vaultClient, err := vault.NewClient(cfg.VaultConfig, vault.Credentials{
		APIKey:    cfg.KrakenConfig.APIKey,
		APISecret: cfg.KrakenConfig.APISecret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vault client")
	}

	creds, err := vaultClient.GetCredentials(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load exchange credentials")
	}

	// Nonce allocation. The seed makes the first block start at or above
	// the current timestamp.
	if err := repo.SeedCounter(ctx, nonceCounterName, time.Now().UnixMilli()); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed nonce counter")
	}
	nonces := nonce.New(repo, nonceCounterName, logger)

	// Exchange client and gateway
	client, err := kraken.NewClient(cfg.KrakenConfig.BaseURL, creds.APIKey, creds.APISecret, nonces, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create exchange client")
	}
	client.Start()
	defer client.Stop()

	gateway := kraken.NewGateway(client, logger)

	// Ticker cache, optional
	var tickerCache *cache.TickerCache
	if cfg.RedisConfig.Enabled {
		tickerCache, err = cache.NewTickerCache(cfg.RedisConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("ticker cache unavailable, continuing without it")
		}
		if tickerCache != nil {
			defer tickerCache.Close()
		}
	}

	// Ticker collection
	var stream *kraken.TickerStream
	if cfg.TickerConfig.Enabled {
		sink := &tickerRecorder{repo: repo, cache: tickerCache}
		stream = kraken.NewTickerStream(cfg.KrakenConfig.WSBaseURL, cfg.TickerConfig.Pairs, sink, logger)
		stream.Start()
		defer stream.Stop()

		go pruneTickersLoop(ctx, repo, cfg.TickerConfig.RetentionDays, logger)
	}

	// Order pipeline and trading loop
	sender := trader.NewSender(repo, gateway, nonces, logger)
	sender.Start()
	defer sender.Stop()

	idChecker := trader.NewIDChecker(repo, gateway, logger)
	idChecker.Start()
	defer idChecker.Stop()

	autoTrader := trader.NewAutoTrader(cfg.TradingConfig.Pair, repo, sender, gateway, repo, logger)
	autoTrader.Start()
	defer autoTrader.Stop()

	// Status API
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		if cfg.AuthConfig.JWTSecret == "" {
			logger.Fatal().Msg("AUTH_JWT_SECRET is required when the status API is enabled")
		}

		if err := seedAdminUser(ctx, repo, cfg.AuthConfig, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed admin user")
		}

		jwtManager := auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
		server = api.NewServer(cfg.ServerConfig, cfg.TradingConfig.Pair, repo, gateway, tickerCache, jwtManager, logger)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start status API")
		}
	}

	logger.Info().Str("pair", cfg.TradingConfig.Pair).Msg("trading agent started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("status API shutdown failed")
		}
	}
}

// tickerRecorder persists websocket ticker observations and mirrors the
// latest one into the cache.
type tickerRecorder struct {
	repo  *database.Repository
	cache *cache.TickerCache
}

func (r *tickerRecorder) StoreTicker(ctx context.Context, ticker kraken.Ticker) error {
	if err := r.repo.StoreTicker(ctx, ticker); err != nil {
		return err
	}
	if r.cache != nil {
		// Cache errors degrade reads, not writes.
		_ = r.cache.SetLatest(ctx, ticker)
	}
	return nil
}

// pruneTickersLoop deletes ticker observations past the retention window
// once an hour.
func pruneTickersLoop(ctx context.Context, repo *database.Repository, retentionDays int, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		deleted, err := repo.PruneTickers(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("ticker pruning failed")
			continue
		}
		if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned old tickers")
		}
	}
}

// seedAdminUser creates the configured admin account on first start so
// the status API is reachable out of the box.
func seedAdminUser(ctx context.Context, repo *database.Repository, cfg config.AuthConfig, logger zerolog.Logger) error {
	if cfg.AdminPassword == "" {
		return nil
	}

	existing, err := repo.GetUserByUsername(ctx, cfg.AdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	if err := repo.CreateUser(ctx, cfg.AdminUsername, hash); err != nil {
		return err
	}

	logger.Info().Str("username", cfg.AdminUsername).Msg("admin user created")
	return nil
}
