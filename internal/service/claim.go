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
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/store"
)

// Claim-related errors.
var (
	ErrInvalidClaimAmount = errors.New("invalid claim amount")
	ErrRateLimitExceeded  = errors.New("claim rate limit exceeded")
	ErrClaimTooFrequent   = errors.New("claim too frequent")
	ErrPolicyViolation    = errors.New("security policy violation")
	ErrTransferFailed     = errors.New("value transfer failed")
)

// ValueTransferer moves value to the user after the internal ledger debit
// commits. A transfer failure makes the whole claim fatal; the processor
// rolls its writes back.
type ValueTransferer interface {
	Transfer(ctx context.Context, subject string, amount uint64) error
}

// TransferFunc adapts a function to the ValueTransferer interface.
type TransferFunc func(ctx context.Context, subject string, amount uint64) error

// Transfer implements ValueTransferer.
func (f TransferFunc) Transfer(ctx context.Context, subject string, amount uint64) error {
	return f(ctx, subject, amount)
}

// ClaimService orchestrates rate-limited, signature-checked withdrawals
// from the treasury into user reward accounts.
type ClaimService struct {
	treasury  *TreasuryService
	accounts  *store.RewardAccountStore
	oracles   *OracleService
	security  *SecurityService
	verifier  sigver.Verifier
	transfer  ValueTransferer
	locks     *lock.KeyLock
	cfg       config.ClaimConfig
	oracleCfg config.OracleConfig
	now       Clock
	emitter   event.Emitter
	log       zerolog.Logger
}

// NewClaimService creates a new ClaimService instance.
func NewClaimService(
	treasury *TreasuryService,
	accounts *store.RewardAccountStore,
	oracles *OracleService,
	security *SecurityService,
	verifier sigver.Verifier,
	transfer ValueTransferer,
	locks *lock.KeyLock,
	cfg config.ClaimConfig,
	oracleCfg config.OracleConfig,
	now Clock,
	emitter event.Emitter,
	log zerolog.Logger,
) *ClaimService {
	return &ClaimService{
		treasury:  treasury,
		accounts:  accounts,
		oracles:   oracles,
		security:  security,
		verifier:  verifier,
		transfer:  transfer,
		locks:     locks,
		cfg:       cfg,
		oracleCfg: oracleCfg,
		now:       now,
		emitter:   emitter,
		log:       log,
	}
}

func accountLockKey(subject string) string { return "account/" + subject }

// Claim validates and executes one reward claim. Checks run in order:
// pause and policy, amount bounds, pool sufficiency, rate-limit window,
// minimum spacing, oracle signature, timestamp freshness. All state
// updates commit before the external transfer is invoked; a transfer
// failure aborts the whole operation with every write rolled back. Every
// outcome, accepted or rejected, lands in the audit log.
func (s *ClaimService) Claim(ctx context.Context, subject string, timestamp int64, amount uint64, oracleID string, signature []byte) error {
	ok, err := s.security.Evaluate(ctx, model.OpClaimReward, subject)
	if err != nil {
		return err
	}
	msg := sigver.ClaimMessage(subject, timestamp, amount)
	if !ok {
		s.security.RecordAudit(ctx, model.OpClaimReward, subject, model.SecurityMedium, false, msg)
		return s.security.Denial()
	}

	err = s.processClaim(ctx, subject, timestamp, amount, oracleID, signature)
	s.security.RecordAudit(ctx, model.OpClaimReward, subject, model.SecurityMedium, err == nil, msg)
	if err != nil {
		return err
	}

	ev := event.New(event.TypeClaimReward, subject, s.now().Unix())
	ev.Oracle = oracleID
	ev.Amount = amount
	s.emitter.Emit(ctx, ev)

	s.log.Info().
		Str("subject", subject).
		Str("oracle", oracleID).
		Uint64("amount", amount).
		Msg("Reward claimed")

	return nil
}

func (s *ClaimService) processClaim(ctx context.Context, subject string, timestamp int64, amount uint64, oracleID string, signature []byte) error {
	if amount == 0 || amount > s.cfg.MaxClaimAmount {
		return ErrInvalidClaimAmount
	}

	snapshot, err := s.treasury.Snapshot(ctx)
	if err != nil {
		return err
	}
	if amount > snapshot.UserRewardsPool {
		return ErrInsufficientRewards
	}

	return s.locks.WithLock(accountLockKey(subject), func() error {
		acct, ver := s.accounts.GetOrCreate(subject)
		prev := acct
		now := s.now().Unix()

		// Rate-limit window: reset exactly when the full window has
		// elapsed, never partially.
		if now-acct.WindowStart >= int64(s.cfg.WindowDuration.Seconds()) {
			acct.ClaimsInWindow = 0
			acct.WindowStart = now
		}
		if acct.ClaimsInWindow >= s.cfg.MaxClaimsPerWindow {
			return ErrRateLimitExceeded
		}
		if acct.LastClaimTime != 0 && now-acct.LastClaimTime < int64(s.cfg.MinInterval.Seconds()) {
			return ErrClaimTooFrequent
		}

		if err := s.oracles.ValidateStake(ctx, oracleID, s.oracleCfg.MinStake); err != nil {
			return err
		}
		oracle, err := s.oracles.Get(ctx, oracleID)
		if err != nil {
			return err
		}
		msg := sigver.ClaimMessage(subject, timestamp, amount)
		if !s.verifier.Verify(msg, signature, oracle.PublicKey) {
			// A bad signature from a registered oracle counts against
			// its reputation.
			_ = s.oracles.RecordVerification(ctx, oracleID, false)
			return ErrInvalidSignature
		}

		if timestamp > now {
			return ErrInvalidTimestamp
		}
		if now-timestamp > int64(s.cfg.MaxSignatureAge.Seconds()) {
			return ErrStaleVerification
		}

		totalClaimed, err := model.CheckedAdd(acct.TotalClaimed, amount)
		if err != nil {
			return err
		}
		available, err := model.CheckedAdd(acct.AvailableBalance, amount)
		if err != nil {
			return err
		}

		if err := s.treasury.DebitRewardsPool(ctx, amount); err != nil {
			return err
		}

		acct.TotalClaimed = totalClaimed
		acct.AvailableBalance = available
		acct.LastClaimTime = now
		acct.ClaimsInWindow++
		if err := s.accounts.Put(acct, ver); err != nil {
			_ = s.treasury.RefundRewardsPool(ctx, amount)
			return err
		}

		if terr := s.transfer.Transfer(ctx, subject, amount); terr != nil {
			// No partial credit: restore the account and the pool.
			if rerr := s.accounts.Put(prev, ver+1); rerr != nil {
				s.log.Error().Err(rerr).Str("subject", subject).Msg("Failed to restore account after transfer failure")
			}
			if rerr := s.treasury.RefundRewardsPool(ctx, amount); rerr != nil {
				s.log.Error().Err(rerr).Str("subject", subject).Msg("Failed to refund pool after transfer failure")
			}
			return fmt.Errorf("%w: %v", ErrTransferFailed, terr)
		}

		_ = s.oracles.RecordVerification(ctx, oracleID, true)
		return nil
	})
}

// Account returns the user's reward account, creating it if absent.
func (s *ClaimService) Account(ctx context.Context, subject string) model.UserRewardAccount {
	acct, _ := s.accounts.GetOrCreate(subject)
	return acct
}
