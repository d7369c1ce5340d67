// Package service provides the business logic of the gaming rewards
// protocol: treasury accounting, oracle registry, identity verification,
// claim processing, staking, and security policy.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/store"
)

// Treasury-related errors.
var (
	ErrInvalidYieldAmount         = errors.New("invalid yield amount: must be positive")
	ErrHarvestTooFrequent         = errors.New("harvest too frequent")
	ErrInsufficientRewards        = errors.New("insufficient rewards pool")
	ErrInsufficientReserve        = errors.New("insufficient treasury reserve")
	ErrTreasuryNotInitialized     = errors.New("treasury not initialized")
	ErrTreasuryAlreadyInitialized = errors.New("treasury already initialized")
)

const treasuryLockKey = "treasury"

// Clock supplies the current time. Injected so tests control freshness and
// window arithmetic.
type Clock func() time.Time

// TreasuryService owns the treasury singleton: harvest timing, the yield
// split, and the funding source for every claim. All mutations commit
// atomically under the treasury lock.
type TreasuryService struct {
	store   *store.TreasuryStore
	locks   *lock.KeyLock
	cfg     config.TreasuryConfig
	now     Clock
	emitter event.Emitter
	log     zerolog.Logger
}

// NewTreasuryService creates a new TreasuryService instance.
func NewTreasuryService(
	st *store.TreasuryStore,
	locks *lock.KeyLock,
	cfg config.TreasuryConfig,
	now Clock,
	emitter event.Emitter,
	log zerolog.Logger,
) *TreasuryService {
	return &TreasuryService{store: st, locks: locks, cfg: cfg, now: now, emitter: emitter, log: log}
}

// Initialize creates the treasury singleton with zero balances.
func (s *TreasuryService) Initialize(ctx context.Context, authority string) error {
	if authority == "" {
		authority = s.cfg.Authority
	}
	if err := s.store.Create(model.Treasury{Authority: authority}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return ErrTreasuryAlreadyInitialized
		}
		return fmt.Errorf("failed to initialize treasury: %w", err)
	}
	s.log.Info().Str("authority", authority).Msg("Treasury initialized")
	return nil
}

// AddYield harvests external yield into the treasury, splitting it between
// the user rewards pool and the reserve. Enforces the harvest cooldown and
// checked arithmetic; either every field updates or none does.
func (s *TreasuryService) AddYield(ctx context.Context, amount uint64) (userShare, reserveShare uint64, err error) {
	if amount == 0 {
		return 0, 0, ErrInvalidYieldAmount
	}

	err = s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, gerr := s.store.Get()
		if gerr != nil {
			return ErrTreasuryNotInitialized
		}

		now := s.now().Unix()
		if t.LastHarvestTime != 0 && now-t.LastHarvestTime < int64(s.cfg.HarvestCooldown.Seconds()) {
			return ErrHarvestTooFrequent
		}

		scaled, aerr := model.CheckedMul(amount, s.cfg.UserSharePercent)
		if aerr != nil {
			return aerr
		}
		userShare = scaled / 100
		reserveShare = amount - userShare

		pool, aerr := model.CheckedAdd(t.UserRewardsPool, userShare)
		if aerr != nil {
			return aerr
		}
		reserve, aerr := model.CheckedAdd(t.TreasuryReserve, reserveShare)
		if aerr != nil {
			return aerr
		}
		total, aerr := model.CheckedAdd(t.TotalBalance, amount)
		if aerr != nil {
			return aerr
		}

		t.UserRewardsPool = pool
		t.TreasuryReserve = reserve
		t.TotalBalance = total
		t.LastHarvestTime = now

		return s.store.Put(t, ver)
	})
	if err != nil {
		return 0, 0, err
	}

	ev := event.New(event.TypeHarvestRebalance, s.cfg.Authority, s.now().Unix())
	ev.Amount = userShare + reserveShare
	s.emitter.Emit(ctx, ev)

	s.log.Info().
		Uint64("yield", amount).
		Uint64("user_share", userShare).
		Uint64("reserve_share", reserveShare).
		Msg("Yield harvested and rebalanced")

	return userShare, reserveShare, nil
}

// DebitRewardsPool removes amount from the user rewards pool and counts it
// as distributed. Fails with ErrInsufficientRewards when the pool is short.
func (s *TreasuryService) DebitRewardsPool(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return ErrInvalidYieldAmount
	}
	return s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, err := s.store.Get()
		if err != nil {
			return ErrTreasuryNotInitialized
		}
		if amount > t.UserRewardsPool {
			return ErrInsufficientRewards
		}
		pool, err := model.CheckedSub(t.UserRewardsPool, amount)
		if err != nil {
			return err
		}
		distributed, err := model.CheckedAdd(t.TotalDistributed, amount)
		if err != nil {
			return err
		}
		t.UserRewardsPool = pool
		t.TotalDistributed = distributed
		return s.store.Put(t, ver)
	})
}

// RefundRewardsPool reverses a debit after a downstream transfer failure,
// restoring the pool and the distributed counter. Only the claim abort
// path calls this; TotalDistributed stays monotonic for committed claims.
func (s *TreasuryService) RefundRewardsPool(ctx context.Context, amount uint64) error {
	return s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, err := s.store.Get()
		if err != nil {
			return ErrTreasuryNotInitialized
		}
		pool, err := model.CheckedAdd(t.UserRewardsPool, amount)
		if err != nil {
			return err
		}
		distributed, err := model.CheckedSub(t.TotalDistributed, amount)
		if err != nil {
			return err
		}
		t.UserRewardsPool = pool
		t.TotalDistributed = distributed
		return s.store.Put(t, ver)
	})
}

// AddFee accumulates protocol fee.
func (s *TreasuryService) AddFee(ctx context.Context, amount uint64) error {
	return s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, err := s.store.Get()
		if err != nil {
			return ErrTreasuryNotInitialized
		}
		fees, err := model.CheckedAdd(t.TotalFees, amount)
		if err != nil {
			return err
		}
		t.TotalFees = fees
		return s.store.Put(t, ver)
	})
}

// CreditReserve adds amount to the treasury reserve, e.g. a slashed oracle
// stake.
func (s *TreasuryService) CreditReserve(ctx context.Context, amount uint64) error {
	return s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, err := s.store.Get()
		if err != nil {
			return ErrTreasuryNotInitialized
		}
		reserve, err := model.CheckedAdd(t.TreasuryReserve, amount)
		if err != nil {
			return err
		}
		total, err := model.CheckedAdd(t.TotalBalance, amount)
		if err != nil {
			return err
		}
		t.TreasuryReserve = reserve
		t.TotalBalance = total
		return s.store.Put(t, ver)
	})
}

// NoteStakeStarted updates the treasury staking counters for a new stake.
func (s *TreasuryService) NoteStakeStarted(ctx context.Context, amount uint64) error {
	return s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, err := s.store.Get()
		if err != nil {
			return ErrTreasuryNotInitialized
		}
		staked, err := model.CheckedAdd(t.TotalStaked, amount)
		if err != nil {
			return err
		}
		t.TotalStaked = staked
		t.ActiveStakers = model.SaturatingAdd32(t.ActiveStakers, 1)
		return s.store.Put(t, ver)
	})
}

// SettleUnstake applies the treasury side of an unstake in one commit: the
// bonus moves from the reserve to distributed and the staking counters
// drop. The staker count drops only when the position closed.
func (s *TreasuryService) SettleUnstake(ctx context.Context, amount, bonus uint64, closed bool) error {
	return s.locks.WithLock(treasuryLockKey, func() error {
		t, ver, err := s.store.Get()
		if err != nil {
			return ErrTreasuryNotInitialized
		}
		if bonus > t.TreasuryReserve {
			return ErrInsufficientReserve
		}
		reserve, err := model.CheckedSub(t.TreasuryReserve, bonus)
		if err != nil {
			return err
		}
		distributed, err := model.CheckedAdd(t.TotalDistributed, bonus)
		if err != nil {
			return err
		}
		staked, err := model.CheckedSub(t.TotalStaked, amount)
		if err != nil {
			return err
		}
		t.TreasuryReserve = reserve
		t.TotalDistributed = distributed
		t.TotalStaked = staked
		if closed {
			t.ActiveStakers = model.SaturatingSub32(t.ActiveStakers, 1)
		}
		return s.store.Put(t, ver)
	})
}

// Snapshot returns a copy of the current treasury state.
func (s *TreasuryService) Snapshot(ctx context.Context) (model.Treasury, error) {
	t, _, err := s.store.Get()
	if err != nil {
		return model.Treasury{}, ErrTreasuryNotInitialized
	}
	return t, nil
}
