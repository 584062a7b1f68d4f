package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/libs/kafka"
	"github.com/AfshinJalili/brokerage/libs/logging"
	"github.com/AfshinJalili/brokerage/services/broker/internal/config"
	"github.com/AfshinJalili/brokerage/services/broker/internal/ledger"
	"github.com/AfshinJalili/brokerage/services/broker/internal/security"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const seedEventType = "broker.seed.deposit"

type seedCustomer struct {
	username string
	password string
	role     string
	balances map[string]string
}

var customers = []seedCustomer{
	{
		username: "demo",
		password: "demo123",
		role:     auth.RoleCustomer,
		balances: map[string]string{"TRY": "100000", "AAPL": "50", "THYAO": "1000"},
	},
	{
		username: "trader",
		password: "trader123",
		role:     auth.RoleCustomer,
		balances: map[string]string{"TRY": "250000", "GARAN": "500"},
	},
	{
		username: "admin",
		password: "admin123",
		role:     auth.RoleAdmin,
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.App.Env != "dev" && cfg.App.Env != "test" {
		log.Fatalf("refusing to seed: env must be 'dev' or 'test' (got '%s')", cfg.App.Env)
	}
	if cfg.DB.Driver != "postgres" {
		log.Fatalf("refusing to seed: db driver is %q", cfg.DB.Driver)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, "broker-seed", cfg.App.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	store := storage.NewPostgres(pool, logger)
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("Seeding database...")
	for _, c := range customers {
		id, err := seed(ctx, store, c)
		if err != nil {
			log.Fatalf("seed %s: %v", c.username, err)
		}
		fmt.Printf("✓ %s (%s) seeded as %s\n", c.username, c.role, id)
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	for _, c := range customers {
		fmt.Printf("  %s / %s\n", c.username, c.password)
	}
}

// seed is safe to rerun: balances are credited once per customer and asset.
func seed(ctx context.Context, store *storage.PostgresStore, c seedCustomer) (string, error) {
	hash, err := security.HashPassword(c.password, security.DefaultArgon2Params())
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	customer, err := store.UpsertCustomer(ctx, storage.Customer{
		Username:     c.username,
		PasswordHash: hash,
		Role:         c.role,
	})
	if err != nil {
		return "", err
	}

	for name, raw := range c.balances {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return "", fmt.Errorf("amount %s: %w", name, err)
		}
		eventID := kafka.DeterministicEventID("seed", customer.ID.String(), name)
		err = store.WithTx(ctx, func(tx storage.Tx) error {
			fresh, err := tx.MarkEventProcessed(ctx, eventID, seedEventType)
			if err != nil || !fresh {
				return err
			}
			_, err = ledger.New(tx).Deposit(ctx, customer.ID, name, amount)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("deposit %s: %w", name, err)
		}
	}
	return customer.ID.String(), nil
}
