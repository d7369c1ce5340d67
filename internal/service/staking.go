package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/store"
)

// Staking-related errors.
var (
	ErrAlreadyStaking          = errors.New("already staking")
	ErrNotStaking              = errors.New("not staking")
	ErrInvalidStakeAmount      = errors.New("invalid stake amount")
	ErrInvalidLockPeriod       = errors.New("invalid lock period")
	ErrInsufficientStakedFunds = errors.New("insufficient staked amount")
	ErrInsufficientBalance     = errors.New("insufficient available balance")
)

// StakingService locks claimed rewards for a time-weighted bonus. One
// position per subject; the bonus is paid from the treasury reserve on
// unstake.
type StakingService struct {
	treasury  *TreasuryService
	accounts  *store.RewardAccountStore
	positions *store.PositionStore
	security  *SecurityService
	locks     *lock.KeyLock
	cfg       config.StakingConfig
	now       Clock
	emitter   event.Emitter
	log       zerolog.Logger
}

// NewStakingService creates a new StakingService instance.
func NewStakingService(
	treasury *TreasuryService,
	accounts *store.RewardAccountStore,
	positions *store.PositionStore,
	security *SecurityService,
	locks *lock.KeyLock,
	cfg config.StakingConfig,
	now Clock,
	emitter event.Emitter,
	log zerolog.Logger,
) *StakingService {
	return &StakingService{
		treasury:  treasury,
		accounts:  accounts,
		positions: positions,
		security:  security,
		locks:     locks,
		cfg:       cfg,
		now:       now,
		emitter:   emitter,
		log:       log,
	}
}

// BonusBps returns the bonus tier in basis points for the elapsed staking
// time. 100 bps is the neutral tier, the principal comes back unchanged.
func (s *StakingService) BonusBps(elapsed time.Duration) uint64 {
	switch {
	case elapsed >= s.cfg.MaxPeriod:
		return s.cfg.LongBonusBps
	case elapsed >= s.cfg.MinPeriod:
		return s.cfg.MediumBonusBps
	default:
		return s.cfg.BaseBonusBps
	}
}

// Stake moves amount out of the subject's available balance into a locked
// staking position. A subject holds at most one active position. Every
// outcome, accepted or rejected, lands in the audit log.
func (s *StakingService) Stake(ctx context.Context, subject string, amount uint64, lockPeriod time.Duration) (model.StakingPosition, error) {
	ok, err := s.security.Evaluate(ctx, model.OpStakeRewards, subject)
	if err != nil {
		return model.StakingPosition{}, err
	}
	if !ok {
		s.security.RecordAudit(ctx, model.OpStakeRewards, subject, model.SecurityMedium, false)
		return model.StakingPosition{}, s.security.Denial()
	}

	pos, err := s.openPosition(ctx, subject, amount, lockPeriod)
	s.security.RecordAudit(ctx, model.OpStakeRewards, subject, model.SecurityMedium, err == nil)
	if err != nil {
		return model.StakingPosition{}, err
	}

	ev := event.New(event.TypeStakeStarted, subject, s.now().Unix())
	ev.Amount = amount
	s.emitter.Emit(ctx, ev)

	s.log.Info().
		Str("subject", subject).
		Uint64("amount", amount).
		Dur("lock_period", lockPeriod).
		Msg("Staking position opened")

	return pos, nil
}

func (s *StakingService) openPosition(ctx context.Context, subject string, amount uint64, lockPeriod time.Duration) (model.StakingPosition, error) {
	if amount == 0 {
		return model.StakingPosition{}, ErrInvalidStakeAmount
	}
	if lockPeriod < s.cfg.MinPeriod || lockPeriod > s.cfg.MaxPeriod {
		return model.StakingPosition{}, ErrInvalidLockPeriod
	}

	var pos model.StakingPosition
	err := s.locks.WithLock(accountLockKey(subject), func() error {
		acct, ver := s.accounts.GetOrCreate(subject)
		prev := acct
		if acct.IsStaking {
			return ErrAlreadyStaking
		}
		if amount > acct.AvailableBalance {
			return ErrInsufficientBalance
		}

		available, err := model.CheckedSub(acct.AvailableBalance, amount)
		if err != nil {
			return err
		}
		staked, err := model.CheckedAdd(acct.StakedAmount, amount)
		if err != nil {
			return err
		}

		now := s.now().Unix()
		acct.AvailableBalance = available
		acct.StakedAmount = staked
		acct.IsStaking = true
		acct.StakingStart = now

		if err := s.accounts.Put(acct, ver); err != nil {
			return err
		}
		if err := s.treasury.NoteStakeStarted(ctx, amount); err != nil {
			// No partial stake: restore the account.
			if rerr := s.accounts.Put(prev, ver+1); rerr != nil {
				s.log.Error().Err(rerr).Str("subject", subject).Msg("Failed to restore account after stake counter failure")
			}
			return err
		}

		pos = model.StakingPosition{
			Subject:    subject,
			Amount:     amount,
			LockPeriod: int64(lockPeriod.Seconds()),
			StartTime:  now,
			EndTime:    now + int64(lockPeriod.Seconds()),
			Active:     true,
		}
		s.positions.Upsert(pos)
		return nil
	})
	if err != nil {
		return model.StakingPosition{}, err
	}
	return pos, nil
}

// Unstake releases amount from the subject's position plus the time-weighted
// bonus. The bonus is paid from the treasury reserve; releasing the full
// position closes it. Every outcome, accepted or rejected, lands in the
// audit log.
func (s *StakingService) Unstake(ctx context.Context, subject string, amount uint64) (uint64, error) {
	ok, err := s.security.Evaluate(ctx, model.OpUnstakeRewards, subject)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.security.RecordAudit(ctx, model.OpUnstakeRewards, subject, model.SecurityMedium, false)
		return 0, s.security.Denial()
	}

	returned, err := s.releasePosition(ctx, subject, amount)
	s.security.RecordAudit(ctx, model.OpUnstakeRewards, subject, model.SecurityMedium, err == nil)
	if err != nil {
		return 0, err
	}

	ev := event.New(event.TypeStakeEnded, subject, s.now().Unix())
	ev.Amount = returned
	s.emitter.Emit(ctx, ev)

	s.log.Info().
		Str("subject", subject).
		Uint64("returned", returned).
		Msg("Staking position released")

	return returned, nil
}

func (s *StakingService) releasePosition(ctx context.Context, subject string, amount uint64) (returned uint64, err error) {
	if amount == 0 {
		return 0, ErrInvalidStakeAmount
	}

	err = s.locks.WithLock(accountLockKey(subject), func() error {
		acct, ver := s.accounts.GetOrCreate(subject)
		prev := acct
		if !acct.IsStaking {
			return ErrNotStaking
		}
		if amount > acct.StakedAmount {
			return ErrInsufficientStakedFunds
		}

		now := s.now().Unix()
		elapsed := time.Duration(now-acct.StakingStart) * time.Second
		bps := s.BonusBps(elapsed)

		// bonus = amount * (bps - 100) / 100; the neutral tier pays none.
		var bonus uint64
		if bps > 100 {
			scaled, berr := model.CheckedMul(amount, bps-100)
			if berr != nil {
				return berr
			}
			bonus = scaled / 100
		}

		staked, err := model.CheckedSub(acct.StakedAmount, amount)
		if err != nil {
			return err
		}
		credit, err := model.CheckedAdd(amount, bonus)
		if err != nil {
			return err
		}
		available, err := model.CheckedAdd(acct.AvailableBalance, credit)
		if err != nil {
			return err
		}

		acct.StakedAmount = staked
		acct.AvailableBalance = available
		closed := staked == 0
		if closed {
			acct.IsStaking = false
			acct.StakingStart = 0
		}
		if err := s.accounts.Put(acct, ver); err != nil {
			return err
		}

		if err := s.treasury.SettleUnstake(ctx, amount, bonus, closed); err != nil {
			// No partial release: restore the account.
			if rerr := s.accounts.Put(prev, ver+1); rerr != nil {
				s.log.Error().Err(rerr).Str("subject", subject).Msg("Failed to restore account after unstake settle failure")
			}
			return err
		}

		if pos, _, perr := s.positions.Get(subject); perr == nil {
			pos.Amount = staked
			pos.RewardsEarned, _ = model.CheckedAdd(pos.RewardsEarned, bonus)
			pos.Active = !closed
			s.positions.Upsert(pos)
		}

		returned = credit
		return nil
	})
	return returned, err
}

// Position returns the subject's staking position.
func (s *StakingService) Position(ctx context.Context, subject string) (model.StakingPosition, error) {
	p, _, err := s.positions.Get(subject)
	if err != nil {
		return model.StakingPosition{}, ErrNotStaking
	}
	return p, nil
}
