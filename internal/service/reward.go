package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/store"
)

// Achievement-related errors.
var (
	ErrInvalidAchievementValue    = errors.New("achievement value out of bounds")
	ErrAchievementAlreadyVerified = errors.New("achievement already verified")
	ErrUserNotEligible            = errors.New("user not eligible for rewards")
)

// RewardService turns oracle-attested achievements into reward credits.
// Reward math runs in fixed-point decimals so the multiplier and fee never
// lose precision to integer division order.
type RewardService struct {
	treasury     *TreasuryService
	accounts     *store.RewardAccountStore
	achievements *store.AchievementStore
	oracles      *OracleService
	profiles     *VerificationService
	security     *SecurityService
	verifier     sigver.Verifier
	locks        *lock.KeyLock
	cfg          config.AchievementConfig
	oracleCfg    config.OracleConfig
	claimCfg     config.ClaimConfig
	now          Clock
	emitter      event.Emitter
	log          zerolog.Logger
}

// NewRewardService creates a new RewardService instance.
func NewRewardService(
	treasury *TreasuryService,
	accounts *store.RewardAccountStore,
	achievements *store.AchievementStore,
	oracles *OracleService,
	profiles *VerificationService,
	security *SecurityService,
	verifier sigver.Verifier,
	locks *lock.KeyLock,
	cfg config.AchievementConfig,
	oracleCfg config.OracleConfig,
	claimCfg config.ClaimConfig,
	now Clock,
	emitter event.Emitter,
	log zerolog.Logger,
) *RewardService {
	return &RewardService{
		treasury:     treasury,
		accounts:     accounts,
		achievements: achievements,
		oracles:      oracles,
		profiles:     profiles,
		security:     security,
		verifier:     verifier,
		locks:        locks,
		cfg:          cfg,
		oracleCfg:    oracleCfg,
		claimCfg:     claimCfg,
		now:          now,
		emitter:      emitter,
		log:          log,
	}
}

// rewardFor computes the net reward and protocol fee for an achievement
// value under the given verification multiplier (percent).
func (s *RewardService) rewardFor(value, multiplier uint64) (net, fee uint64, err error) {
	base, err := model.CheckedMul(value, s.cfg.RewardPerPoint)
	if err != nil {
		return 0, 0, err
	}

	reward := decimal.NewFromUint64(base).
		Mul(decimal.NewFromUint64(multiplier)).
		Div(decimal.NewFromInt(100)).
		Floor()
	feeDec := reward.
		Mul(decimal.NewFromUint64(s.cfg.FeeBps)).
		Div(decimal.NewFromInt(10_000)).
		Floor()

	gross := reward.BigInt().Uint64()
	fee = feeDec.BigInt().Uint64()
	net, err = model.CheckedSub(gross, fee)
	if err != nil {
		return 0, 0, err
	}
	return net, fee, nil
}

// VerifyAchievement records an oracle-attested achievement and credits the
// user's earned balance. Each achievement ID reaches Verified at most once
// per user; replays fail before any balance moves. Every outcome, accepted
// or rejected, lands in the audit log.
func (s *RewardService) VerifyAchievement(
	ctx context.Context,
	subject, achievementID string,
	value uint64,
	timestamp int64,
	oracleID string,
	signature []byte,
) (model.AchievementRecord, error) {
	ok, err := s.security.Evaluate(ctx, model.OpVerifyAchievement, subject)
	if err != nil {
		return model.AchievementRecord{}, err
	}
	msg := sigver.AchievementMessage(subject, achievementID, value, timestamp)
	if !ok {
		s.security.RecordAudit(ctx, model.OpVerifyAchievement, subject, model.SecurityMedium, false, msg)
		return model.AchievementRecord{}, s.security.Denial()
	}

	record, err := s.processAchievement(ctx, subject, achievementID, value, timestamp, oracleID, signature)
	s.security.RecordAudit(ctx, model.OpVerifyAchievement, subject, model.SecurityMedium, err == nil, msg)
	if err != nil {
		return model.AchievementRecord{}, err
	}

	ev := event.New(event.TypeAchievementVerified, subject, s.now().Unix())
	ev.Oracle = oracleID
	ev.Amount = record.RewardAmount
	ev.Reference = achievementID
	s.emitter.Emit(ctx, ev)

	s.log.Info().
		Str("subject", subject).
		Str("achievement", achievementID).
		Str("oracle", oracleID).
		Uint64("value", value).
		Uint64("reward", record.RewardAmount).
		Msg("Achievement verified")

	return record, nil
}

func (s *RewardService) processAchievement(
	ctx context.Context,
	subject, achievementID string,
	value uint64,
	timestamp int64,
	oracleID string,
	signature []byte,
) (model.AchievementRecord, error) {
	if value < s.cfg.MinValue || value > s.cfg.MaxValue {
		return model.AchievementRecord{}, ErrInvalidAchievementValue
	}

	var record model.AchievementRecord
	err := s.locks.WithLock(accountLockKey(subject), func() error {
		if existing, _, gerr := s.achievements.Get(subject, achievementID); gerr == nil &&
			existing.Status == model.AchievementVerified {
			return ErrAchievementAlreadyVerified
		}

		if err := s.oracles.ValidateStake(ctx, oracleID, s.oracleCfg.MinStake); err != nil {
			return err
		}
		oracle, err := s.oracles.Get(ctx, oracleID)
		if err != nil {
			return err
		}
		msg := sigver.AchievementMessage(subject, achievementID, value, timestamp)
		if !s.verifier.Verify(msg, signature, oracle.PublicKey) {
			_ = s.oracles.RecordVerification(ctx, oracleID, false)
			return ErrInvalidSignature
		}

		now := s.now().Unix()
		if timestamp > now {
			return ErrInvalidTimestamp
		}
		if now-timestamp > int64(s.claimCfg.MaxSignatureAge.Seconds()) {
			return ErrStaleVerification
		}

		profile, err := s.profiles.Profile(ctx, subject)
		if err != nil {
			return err
		}
		if !s.profiles.EligibleProfile(profile) {
			return ErrUserNotEligible
		}

		net, fee, err := s.rewardFor(value, VerificationMultiplier(profile))
		if err != nil {
			return err
		}

		acct, ver := s.accounts.GetOrCreate(subject)
		earned, err := model.CheckedAdd(acct.TotalEarned, net)
		if err != nil {
			return err
		}
		available, err := model.CheckedAdd(acct.AvailableBalance, net)
		if err != nil {
			return err
		}

		if net > 0 {
			if err := s.treasury.DebitRewardsPool(ctx, net); err != nil {
				return err
			}
		}
		if fee > 0 {
			if err := s.treasury.AddFee(ctx, fee); err != nil {
				_ = s.treasury.RefundRewardsPool(ctx, net)
				return err
			}
		}

		acct.TotalEarned = earned
		acct.AvailableBalance = available
		if err := s.accounts.Put(acct, ver); err != nil {
			_ = s.treasury.RefundRewardsPool(ctx, net)
			return err
		}

		record = model.AchievementRecord{
			ID:            uuid.NewString(),
			AchievementID: achievementID,
			Subject:       subject,
			Oracle:        oracleID,
			Value:         value,
			Status:        model.AchievementVerified,
			RewardAmount:  net,
			VerifiedAt:    now,
		}
		s.achievements.Upsert(record)

		_ = s.oracles.RecordVerification(ctx, oracleID, true)
		return nil
	})
	if err != nil {
		return model.AchievementRecord{}, err
	}
	return record, nil
}

// Achievement returns one achievement record for the subject.
func (s *RewardService) Achievement(ctx context.Context, subject, achievementID string) (model.AchievementRecord, error) {
	r, _, err := s.achievements.Get(subject, achievementID)
	if err != nil {
		return model.AchievementRecord{}, fmt.Errorf("achievement not found: %w", err)
	}
	return r, nil
}
