// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// The memoflow-service command runs the decision memo orchestration
// service: intake sessions, payment gating, generation event
// streaming, and report delivery.
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/lumenwealth/memoflow/httpapi"
	"github.com/lumenwealth/memoflow/intake"
	"github.com/lumenwealth/memoflow/lib/accesstoken"
	"github.com/lumenwealth/memoflow/lib/clock"
	"github.com/lumenwealth/memoflow/lib/config"
	"github.com/lumenwealth/memoflow/lib/service"
	"github.com/lumenwealth/memoflow/lib/sqlitepool"
	"github.com/lumenwealth/memoflow/payment"
	"github.com/lumenwealth/memoflow/stream"
)

// version is stamped by the build.
var version = "dev"

func main() {
	configPath := pflag.String("config", "", "path to memoflow.yaml (overrides MEMOFLOW_CONFIG)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("memoflow-service", version)
		return
	}

	logger := service.NewLogger()

	if err := run(configPath, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath *string, logger *slog.Logger) error {
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	paymentSecret, err := readSecretFile(cfg.Payment.SecretFile)
	if err != nil {
		return fmt.Errorf("loading payment secret: %w", err)
	}
	signingKey, err := readSigningKey(cfg.Tokens.SigningKeyFile)
	if err != nil {
		return fmt.Errorf("loading token signing key: %w", err)
	}

	catalog, err := intake.LoadCatalog(cfg.Intake.CatalogPath)
	if err != nil {
		return err
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Store.Path,
		PoolSize:  cfg.Store.PoolSize,
		Logger:    logger,
		OnConnect: intake.PrepareSchema,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	clk := clock.Real()
	store := intake.NewStore(pool, clk, logger)
	tokens := accesstoken.NewManager(signingKey, clk)

	upstream, err := stream.NewUpstream(cfg.Upstream.BaseURL, logger)
	if err != nil {
		return err
	}

	gate := payment.NewGate(store, upstream, payment.Config{
		Secret:      paymentSecret,
		ProviderKey: cfg.Payment.ProviderKey,
		AmountMinor: cfg.Payment.AmountMinor,
		Currency:    cfg.Payment.Currency,
	}, logger)

	api := httpapi.New(httpapi.Config{
		Store:      store,
		Catalog:    catalog,
		Gate:       gate,
		Relays:     stream.NewRelays(store, upstream, clk, logger, cfg.KeepaliveInterval(), cfg.GenerationTimeout()),
		Reconciler: stream.NewReconciler(store, upstream),
		Analyzer:   upstream,
		Fetcher:    upstream,
		Tokens:     tokens,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Expiring a session also ends its ephemeral tokens.
	sweeper := intake.NewSweeper(store, clk, logger, cfg.InactivityWindow(), sweepInterval(cfg.InactivityWindow()), func(intakeID string) {
		tokens.Revocations().EndSession(intakeID)
	})
	go sweeper.Run(ctx)
	defer sweeper.Stop()

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Listen.Address,
		Handler:         api.Handler(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Logger:          logger,
	})

	logger.Info("memoflow service starting",
		"version", version,
		"address", cfg.Listen.Address,
		"upstream", cfg.Upstream.BaseURL,
	)
	return server.Serve(ctx)
}

// sweepInterval derives the sweeper cadence from the inactivity
// window: a tenth of the window, clamped to [10s, 5m].
func sweepInterval(window time.Duration) time.Duration {
	interval := window / 10
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

// readSecretFile reads a secret, trimming trailing whitespace so a
// file with a final newline works.
func readSecretFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret := bytes.TrimSpace(raw)
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// readSigningKey loads the Ed25519 seed: either 32 raw bytes or their
// 64-character hex encoding.
func readSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := readSecretFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) == 2*ed25519.SeedSize {
		decoded := make([]byte, ed25519.SeedSize)
		if _, err := hex.Decode(decoded, raw); err == nil {
			raw = decoded
		}
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %s is not a %d-byte Ed25519 seed", path, ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(raw), nil
}
