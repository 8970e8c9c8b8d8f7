// Command cancel-orders cancels every open order on the account. Run it
// before stopping the agent for maintenance so no stale orders fill
// while the loop is down.
package main

import (
	"context"
	"os"
	"time"

	"kraken-trading-bot/config"
	"kraken-trading-bot/internal/database"
	"kraken-trading-bot/internal/kraken"
	"kraken-trading-bot/internal/logging"
	"kraken-trading-bot/internal/nonce"
	"kraken-trading-bot/internal/vault"
)

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

	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	repo := database.NewRepository(db)

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

	if err := repo.SeedCounter(ctx, nonceCounterName, time.Now().UnixMilli()); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed nonce counter")
	}
	nonces := nonce.New(repo, nonceCounterName, logger)

	client, err := kraken.NewClient(cfg.KrakenConfig.BaseURL, creds.APIKey, creds.APISecret, nonces, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create exchange client")
	}
	client.Start()
	defer client.Stop()

	gateway := kraken.NewGateway(client, logger)

	orders, err := gateway.OpenOrders(ctx, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list open orders")
	}

	if len(orders) == 0 {
		logger.Info().Msg("no open orders")
		return
	}

	for _, order := range orders {
		if err := gateway.CancelOrder(ctx, order.TxID); err != nil {
			logger.Error().Err(err).Str("tx_id", order.TxID).Msg("cancel failed")
			continue
		}
		logger.Info().Str("tx_id", order.TxID).Str("description", order.Description).Msg("cancelled")
	}
}
