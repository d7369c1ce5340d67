package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/store"
)

// Oracle-related errors.
var (
	ErrOracleNotFound          = errors.New("oracle not found")
	ErrOracleAlreadyExists     = errors.New("oracle already registered")
	ErrInsufficientOracleStake = errors.New("insufficient oracle stake")
	ErrOracleNotActive         = errors.New("oracle not active")
	ErrInvalidSlashAmount      = errors.New("invalid slash amount")
	ErrInvalidOracleKey        = errors.New("invalid oracle public key")
)

// OracleService owns stake, reputation, and status per attestor. Reputation
// updates and slashing are serialized per-oracle; accounts are never
// deleted so the verification history stays available for audit.
type OracleService struct {
	store    *store.OracleStore
	treasury *TreasuryService
	locks    *lock.KeyLock
	cfg      config.OracleConfig
	now      Clock
	emitter  event.Emitter
	log      zerolog.Logger
}

// NewOracleService creates a new OracleService instance.
func NewOracleService(
	st *store.OracleStore,
	treasury *TreasuryService,
	locks *lock.KeyLock,
	cfg config.OracleConfig,
	now Clock,
	emitter event.Emitter,
	log zerolog.Logger,
) *OracleService {
	return &OracleService{store: st, treasury: treasury, locks: locks, cfg: cfg, now: now, emitter: emitter, log: log}
}

func oracleLockKey(id string) string { return "oracle/" + id }

// Register onboards a new oracle with its signing key and initial stake.
func (s *OracleService) Register(ctx context.Context, id string, publicKey []byte, stake uint64) (model.OracleAccount, error) {
	if id == "" || len(publicKey) == 0 {
		return model.OracleAccount{}, ErrInvalidOracleKey
	}
	o := model.OracleAccount{
		ID:           id,
		PublicKey:    publicKey,
		Stake:        stake,
		Reputation:   s.cfg.InitialReputation,
		Status:       model.OracleActive,
		LastActivity: s.now().Unix(),
	}
	if err := s.store.Create(o); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return model.OracleAccount{}, ErrOracleAlreadyExists
		}
		return model.OracleAccount{}, fmt.Errorf("failed to register oracle: %w", err)
	}
	s.log.Info().Str("oracle", id).Uint64("stake", stake).Msg("Oracle registered")
	return o, nil
}

// Get returns the oracle account.
func (s *OracleService) Get(ctx context.Context, id string) (model.OracleAccount, error) {
	o, _, err := s.store.Get(id)
	if err != nil {
		return model.OracleAccount{}, ErrOracleNotFound
	}
	return o, nil
}

// ValidateStake passes iff the oracle holds at least min stake and is
// Active.
func (s *OracleService) ValidateStake(ctx context.Context, id string, min uint64) error {
	o, _, err := s.store.Get(id)
	if err != nil {
		return ErrOracleNotFound
	}
	if o.Stake < min {
		return ErrInsufficientOracleStake
	}
	if o.Status != model.OracleActive {
		return ErrOracleNotActive
	}
	return nil
}

// RecordVerification updates the oracle's counters and reputation after an
// attestation outcome. The status transition is a pure function of the
// resulting reputation, evaluated on every update; Slashed is sticky until
// the stake is re-funded externally.
func (s *OracleService) RecordVerification(ctx context.Context, id string, success bool) error {
	return s.locks.WithLock(oracleLockKey(id), func() error {
		o, ver, err := s.store.Get(id)
		if err != nil {
			return ErrOracleNotFound
		}

		if success {
			o.SuccessfulVerifications = model.SaturatingAdd32(o.SuccessfulVerifications, 1)
			o.Reputation = model.SaturatingAdd32(o.Reputation, s.cfg.ReputationStep)
		} else {
			o.FailedVerifications = model.SaturatingAdd32(o.FailedVerifications, 1)
			o.Reputation = model.SaturatingSub32(o.Reputation, s.cfg.ReputationStep)
		}
		o.LastActivity = s.now().Unix()

		if o.Status != model.OracleSlashed {
			switch {
			case o.Reputation < s.cfg.SuspensionThreshold:
				o.Status = model.OracleSuspended
			case o.Reputation >= s.cfg.ReinstatementThreshold:
				o.Status = model.OracleActive
			}
		}

		return s.store.Put(o, ver)
	})
}

// Slash forcibly reduces the oracle's stake as a penalty, downgrading the
// status to Slashed when the remaining stake falls below the minimum. The
// slashed amount is credited to the treasury reserve and returned.
func (s *OracleService) Slash(ctx context.Context, id string, amount uint64, reason string) (uint64, error) {
	var slashed uint64
	err := s.locks.WithLock(oracleLockKey(id), func() error {
		o, ver, err := s.store.Get(id)
		if err != nil {
			return ErrOracleNotFound
		}
		if amount > o.Stake {
			return ErrInvalidSlashAmount
		}

		stake, err := model.CheckedSub(o.Stake, amount)
		if err != nil {
			return err
		}
		o.Stake = stake
		o.SlashCount = model.SaturatingAdd32(o.SlashCount, 1)
		o.LastSlashTime = s.now().Unix()
		if o.Stake < s.cfg.MinStake {
			o.Status = model.OracleSlashed
		}

		if err := s.store.Put(o, ver); err != nil {
			return err
		}
		slashed = amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.treasury != nil {
		if err := s.treasury.CreditReserve(ctx, slashed); err != nil {
			return 0, fmt.Errorf("failed to credit slashed stake to reserve: %w", err)
		}
	}

	ev := event.New(event.TypeOracleSlash, id, s.now().Unix())
	ev.Oracle = id
	ev.Amount = slashed
	ev.Reason = reason
	s.emitter.Emit(ctx, ev)

	s.log.Warn().
		Str("oracle", id).
		Uint64("amount", slashed).
		Str("reason", reason).
		Msg("Oracle slashed")

	return slashed, nil
}
