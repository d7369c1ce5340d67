// Package main is the entry point for the gaming rewards protocol server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/handler"
	"gaming-rewards-protocol/internal/metrics"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/db"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/repository"
	"gaming-rewards-protocol/internal/service"
	"gaming-rewards-protocol/internal/store"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The audit journal is optional: without a database the bounded
	// in-memory audit log still runs.
	var journal *repository.AuditRepository
	if cfg.Database.Enabled {
		dbPool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer dbPool.Close()

		journal = repository.NewAuditRepository(dbPool.Pool)
		if err := journal.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create audit schema")
		}
		log.Info().Msg("Audit journal enabled")
	}

	// Shared infrastructure
	locks := lock.NewKeyLock()
	emitter := event.NewLogEmitter(log.Logger)
	verifier := sigver.Ed25519Verifier{}
	clock := service.Clock(time.Now)
	m := metrics.New()

	// Stores
	treasuryStore := store.NewTreasuryStore()
	oracleStore := store.NewOracleStore()
	profileStore := store.NewProfileStore()
	accountStore := store.NewRewardAccountStore()
	achievementStore := store.NewAchievementStore()
	positionStore := store.NewPositionStore()

	// Services
	securitySvc := service.NewSecurityService(cfg.Security, journal, clock, emitter, log.Logger)
	treasurySvc := service.NewTreasuryService(treasuryStore, locks, cfg.Treasury, clock, emitter, log.Logger)
	oracleSvc := service.NewOracleService(oracleStore, treasurySvc, locks, cfg.Oracle, clock, emitter, log.Logger)
	verificationSvc := service.NewVerificationService(profileStore, oracleSvc, verifier, locks, cfg.Verification, clock, log.Logger)
	claimSvc := service.NewClaimService(
		treasurySvc, accountStore, oracleSvc, securitySvc,
		verifier, nullTransfer(), locks,
		cfg.Claims, cfg.Oracle, clock, emitter, log.Logger,
	)
	rewardSvc := service.NewRewardService(
		treasurySvc, accountStore, achievementStore, oracleSvc, verificationSvc, securitySvc,
		verifier, locks,
		cfg.Achievements, cfg.Oracle, cfg.Claims, clock, emitter, log.Logger,
	)
	stakingSvc := service.NewStakingService(
		treasurySvc, accountStore, positionStore, securitySvc, locks,
		cfg.Staking, clock, emitter, log.Logger,
	)

	// Policy checkers: reputation-gated operations require an actor that is
	// not itself a suspended or slashed oracle.
	securitySvc.SetChecker(model.VerifyReputation, func(ctx context.Context, actor string) bool {
		o, err := oracleSvc.Get(ctx, actor)
		if err != nil {
			// Non-oracle actors are not reputation-constrained.
			return true
		}
		return o.Status == model.OracleActive
	})

	h := handler.New(treasurySvc, oracleSvc, verificationSvc, claimSvc, rewardSvc, stakingSvc, securitySvc, m, log.Logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Server is starting...")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}

// nullTransfer acknowledges claims without an external settlement rail.
// Deployments with a payout backend swap in their own ValueTransferer.
func nullTransfer() service.ValueTransferer {
	return service.TransferFunc(func(ctx context.Context, subject string, amount uint64) error {
		return nil
	})
}
