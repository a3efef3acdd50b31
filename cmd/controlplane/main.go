// Command controlplane runs the Agent Fleet Control Plane: a single
// process that tracks agent lifecycle, ingests Linear webhook deliveries,
// runs the Alert Engine, and serves the HTTP API and stream gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/alert"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/api"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/bus"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/config"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/crypto"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/lifecycle"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/stream"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/store"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/timer"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/webhook"
)

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to a .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("no .env file loaded from %s: %v (continuing with process environment)", *envPath, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("controlplane exited: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// run constructs the dependency graph in the order §9's "Singletons in the
// source" redesign names: Crypto → Store → Bus → Timer → Alert Engine →
// Lifecycle Manager → Webhook Ingest → Stream Gateway → API Server. It
// blocks until an interrupt/TERM signal or a fatal server error.
func run(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sealer, err := crypto.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load or create message-encryption key: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "controlplane.db"), sealer)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()

	b := bus.New()
	clock := timer.New()

	ctx := context.Background()

	ae, err := alert.New(ctx, st, b, clock)
	if err != nil {
		return fmt.Errorf("initialize alert engine: %w", err)
	}
	defer ae.Close()

	lm := lifecycle.New(st, b, ae, clock)

	overrides, err := config.LoadOverridesFile(filepath.Join(cfg.DataDir, "alert-rules.yaml"))
	if err != nil {
		return fmt.Errorf("load alert rule overrides: %w", err)
	}
	if err := applyOverrides(ctx, st, lm, overrides); err != nil {
		return fmt.Errorf("apply alert rule overrides: %w", err)
	}

	if err := lm.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	ingest := webhook.New(st, lm, []byte(cfg.WebhookSecret))
	gw := stream.New(b)

	srv := api.NewServer(cfg, st, lm, ae, ingest, gw)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("controlplane listening", "host", cfg.Host, "port", cfg.Port)
		if err := srv.Start(cfg.Host + ":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// applyOverrides merges an optional alert-rules.yaml onto the Store's seeded
// defaults and the Lifecycle Manager's default sleep schedule (spec §6
// "Configuration" [DOMAIN] section).
func applyOverrides(ctx context.Context, st *store.Store, lm *lifecycle.Manager, overrides *config.OverridesFile) error {
	if len(overrides.Rules) > 0 {
		existing, err := st.AlertRules.List(ctx)
		if err != nil {
			return fmt.Errorf("list existing alert rules: %w", err)
		}
		builtin := make([]models.AlertRule, len(existing))
		for i, r := range existing {
			builtin[i] = *r
		}

		merged, err := config.MergeAlertRules(builtin, overrides.Rules)
		if err != nil {
			return err
		}

		now := time.Now()
		for _, rule := range merged {
			r := rule
			if r.ID != "" {
				r.UpdatedAt = now
				if err := st.AlertRules.Update(ctx, &r); err != nil {
					return fmt.Errorf("persist merged alert rule override: %w", err)
				}
				continue
			}
			r.ID = uuid.NewString()
			r.CreatedAt = now
			r.UpdatedAt = now
			if err := st.AlertRules.Create(ctx, &r); err != nil {
				return fmt.Errorf("persist new alert rule override: %w", err)
			}
		}
	}

	schedule, err := config.MergeSleepSchedule(lm.Current(), overrides.SleepSchedule)
	if err != nil {
		return err
	}
	return lm.Configure(schedule)
}
