package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/store"
)

// Verification-related errors.
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUserAlreadyRegistered = errors.New("user already registered")
	ErrFraudDetected         = errors.New("fraud detected")
	ErrInvalidSteamID        = errors.New("invalid steam id")
	ErrInvalidSessionTicket  = errors.New("invalid session ticket")
	ErrInvalidWallet         = errors.New("invalid wallet")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrInvalidTimestamp      = errors.New("timestamp in the future")
	ErrStaleVerification     = errors.New("stale verification")
	ErrInvalidAttestation    = errors.New("invalid attestation")
	ErrSteamSessionRequired  = errors.New("steam session verification required")
	ErrOAuthWalletRequired   = errors.New("oauth wallet linkage required")
)

// SessionTicket is an oracle-attested platform session proof.
type SessionTicket struct {
	Ticket    []byte `json:"ticket"`
	SteamID   uint64 `json:"steam_id"`
	SessionID []byte `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

// OAuthWalletSignature proves linkage between a platform identity and a
// wallet key: the wallet key signs the canonical subject:wallet:timestamp
// message.
type OAuthWalletSignature struct {
	SteamID   uint64 `json:"steam_id"`
	WalletKey []byte `json:"wallet_key"`
	Signature []byte `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// AttestationInput is a zero-knowledge attestation issued by a trusted
// oracle. Proof validity is delegated to an external verifier; the core
// checks issuer trust, shape, and freshness.
type AttestationInput struct {
	ID           string `json:"id"`
	Issuer       string `json:"issuer"`
	Proof        []byte `json:"proof"`
	PublicInputs []byte `json:"public_inputs"`
	Timestamp    int64  `json:"timestamp"`
}

// MultiFactorData carries the four independent trust signals, each worth
// 25 points when present. The bundle is only accepted with a fresh oracle
// signature over its canonical message.
type MultiFactorData struct {
	AchievementEvidence []byte   `json:"achievement_evidence"`
	AssetEvidence       [][]byte `json:"asset_evidence"`
	OnChainActivity     []byte   `json:"on_chain_activity"`
	ReputationScore     uint64   `json:"reputation_score"`
	Timestamp           int64    `json:"timestamp"`
}

// multiFactorEvidence flattens the evidence bundle into the parts folded
// into the canonical attestation message.
func multiFactorEvidence(mfa MultiFactorData) [][]byte {
	parts := [][]byte{mfa.AchievementEvidence}
	parts = append(parts, mfa.AssetEvidence...)
	parts = append(parts,
		mfa.OnChainActivity,
		[]byte(strconv.FormatUint(mfa.ReputationScore, 10)),
	)
	return parts
}

// VerificationService owns the per-user identity-trust state machine:
// Unverified -> SessionVerified -> WalletLinked -> MultiFactorScored ->
// Eligible, with Fraudulent reachable from any state and terminal.
type VerificationService struct {
	profiles *store.ProfileStore
	oracles  *OracleService
	verifier sigver.Verifier
	locks    *lock.KeyLock
	cfg      config.VerificationConfig
	now      Clock
	log      zerolog.Logger
}

// NewVerificationService creates a new VerificationService instance.
func NewVerificationService(
	profiles *store.ProfileStore,
	oracles *OracleService,
	verifier sigver.Verifier,
	locks *lock.KeyLock,
	cfg config.VerificationConfig,
	now Clock,
	log zerolog.Logger,
) *VerificationService {
	return &VerificationService{
		profiles: profiles,
		oracles:  oracles,
		verifier: verifier,
		locks:    locks,
		cfg:      cfg,
		now:      now,
		log:      log,
	}
}

func profileLockKey(subject string) string { return "profile/" + subject }

// RegisterUser creates an unverified profile for the subject.
func (s *VerificationService) RegisterUser(ctx context.Context, subject string, steamID uint64, walletKey []byte) (model.VerificationProfile, error) {
	if subject == "" || steamID == 0 {
		return model.VerificationProfile{}, ErrInvalidSteamID
	}
	p := model.VerificationProfile{
		Subject:   subject,
		SteamID:   steamID,
		WalletKey: walletKey,
	}
	if err := s.profiles.Create(p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return model.VerificationProfile{}, ErrUserAlreadyRegistered
		}
		return model.VerificationProfile{}, fmt.Errorf("failed to register user: %w", err)
	}
	s.log.Info().Str("subject", subject).Uint64("steam_id", steamID).Msg("User registered")
	return p, nil
}

// Profile returns the current verification profile for the subject.
func (s *VerificationService) Profile(ctx context.Context, subject string) (model.VerificationProfile, error) {
	p, _, err := s.profiles.Get(subject)
	if err != nil {
		return model.VerificationProfile{}, ErrUserNotFound
	}
	return p, nil
}

// checkFreshness rejects timestamps in the future or older than the
// configured maximum verification age.
func (s *VerificationService) checkFreshness(ts int64) error {
	now := s.now().Unix()
	if ts > now {
		return ErrInvalidTimestamp
	}
	if now-ts > int64(s.cfg.MaxVerificationAge.Seconds()) {
		return ErrStaleVerification
	}
	return nil
}

// VerifySession validates an oracle-signed session ticket and marks the
// profile's session as valid, advancing the verification level.
func (s *VerificationService) VerifySession(ctx context.Context, subject string, ticket SessionTicket, oracleID string, oracleSignature []byte) error {
	if len(ticket.Ticket) == 0 || ticket.SteamID == 0 || len(ticket.SessionID) == 0 {
		return ErrInvalidSessionTicket
	}

	return s.locks.WithLock(profileLockKey(subject), func() error {
		p, ver, err := s.profiles.Get(subject)
		if err != nil {
			return ErrUserNotFound
		}
		if p.FraudFlag {
			return ErrFraudDetected
		}
		if ticket.SteamID != p.SteamID {
			return ErrInvalidSteamID
		}
		if err := s.checkFreshness(ticket.Timestamp); err != nil {
			return err
		}

		oracle, err := s.oracles.Get(ctx, oracleID)
		if err != nil {
			return err
		}
		msg := sigver.SessionMessage(ticket.SteamID, ticket.Timestamp, ticket.SessionID)
		if len(oracleSignature) == 0 || !s.verifier.Verify(msg, oracleSignature, oracle.PublicKey) {
			return ErrInvalidSignature
		}

		p.SteamSessionValid = true
		if p.Level < 255 {
			p.Level++
		}
		p.LastVerification = s.now().Unix()
		p.TotalVerifications++

		if err := s.profiles.Put(p, ver); err != nil {
			return err
		}
		s.log.Info().Str("subject", subject).Str("oracle", oracleID).Msg("Session verified")
		return nil
	})
}

// VerifyWallet validates a wallet-key signature over the canonical linkage
// message and marks the wallet as linked.
func (s *VerificationService) VerifyWallet(ctx context.Context, subject string, oauth OAuthWalletSignature) error {
	if len(oauth.Signature) == 0 {
		return ErrInvalidSignature
	}

	return s.locks.WithLock(profileLockKey(subject), func() error {
		p, ver, err := s.profiles.Get(subject)
		if err != nil {
			return ErrUserNotFound
		}
		if p.FraudFlag {
			return ErrFraudDetected
		}
		if oauth.SteamID != p.SteamID {
			return ErrInvalidSteamID
		}
		if !bytes.Equal(oauth.WalletKey, p.WalletKey) {
			return ErrInvalidWallet
		}
		if err := s.checkFreshness(oauth.Timestamp); err != nil {
			return err
		}

		msg := sigver.WalletMessage(oauth.SteamID, oauth.WalletKey, oauth.Timestamp)
		if !s.verifier.Verify(msg, oauth.Signature, p.WalletKey) {
			return ErrInvalidSignature
		}

		p.WalletLinked = true
		if p.Level < 255 {
			p.Level++
		}
		p.LastVerification = s.now().Unix()
		p.TotalVerifications++

		if err := s.profiles.Put(p, ver); err != nil {
			return err
		}
		s.log.Info().Str("subject", subject).Msg("Wallet linked")
		return nil
	})
}

// AddAttestation appends a zero-knowledge attestation from a trusted
// oracle to the profile.
func (s *VerificationService) AddAttestation(ctx context.Context, subject string, att AttestationInput) error {
	if att.ID == "" || len(att.Proof) == 0 || len(att.PublicInputs) == 0 {
		return ErrInvalidAttestation
	}

	return s.locks.WithLock(profileLockKey(subject), func() error {
		p, ver, err := s.profiles.Get(subject)
		if err != nil {
			return ErrUserNotFound
		}
		if p.FraudFlag {
			return ErrFraudDetected
		}
		if err := s.checkFreshness(att.Timestamp); err != nil {
			return err
		}
		if err := s.oracles.ValidateStake(ctx, att.Issuer, 0); err != nil {
			return err
		}

		p.Attestations = append(p.Attestations, model.Attestation{
			ID:           att.ID,
			Issuer:       att.Issuer,
			Proof:        att.Proof,
			PublicInputs: att.PublicInputs,
			Timestamp:    att.Timestamp,
		})
		if p.Level < 255 {
			p.Level++
		}
		p.LastVerification = s.now().Unix()
		p.TotalVerifications++

		if err := s.profiles.Put(p, ver); err != nil {
			return err
		}
		s.log.Info().Str("subject", subject).Str("issuer", att.Issuer).Msg("Attestation added")
		return nil
	})
}

// ComputeMultiFactor aggregates the four independent trust signals into a
// 0-100 score (25 points each). The evidence bundle must carry a fresh
// signature from an active oracle over its canonical message; users cannot
// self-assert trust signals. The stored score is replaced, not accumulated;
// session and wallet verification must already be done.
func (s *VerificationService) ComputeMultiFactor(ctx context.Context, subject string, mfa MultiFactorData, oracleID string, oracleSignature []byte) (uint64, error) {
	var score uint64
	err := s.locks.WithLock(profileLockKey(subject), func() error {
		p, ver, err := s.profiles.Get(subject)
		if err != nil {
			return ErrUserNotFound
		}
		if p.FraudFlag {
			return ErrFraudDetected
		}
		if !p.SteamSessionValid {
			return ErrSteamSessionRequired
		}
		if !p.WalletLinked {
			return ErrOAuthWalletRequired
		}
		if err := s.checkFreshness(mfa.Timestamp); err != nil {
			return err
		}

		if err := s.oracles.ValidateStake(ctx, oracleID, 0); err != nil {
			return err
		}
		oracle, err := s.oracles.Get(ctx, oracleID)
		if err != nil {
			return err
		}
		msg := sigver.MultiFactorMessage(p.SteamID, mfa.Timestamp, multiFactorEvidence(mfa)...)
		if len(oracleSignature) == 0 || !s.verifier.Verify(msg, oracleSignature, oracle.PublicKey) {
			return ErrInvalidSignature
		}

		if len(mfa.AchievementEvidence) > 0 {
			score += 25
		}
		if len(mfa.AssetEvidence) > 0 {
			score += 25
		}
		if len(mfa.OnChainActivity) > 0 {
			score += 25
		}
		if mfa.ReputationScore > 0 {
			score += 25
		}

		p.MultiFactorScore = score
		if p.Level < 255 {
			p.Level++
		}
		p.LastVerification = s.now().Unix()
		p.TotalVerifications++

		return s.profiles.Put(p, ver)
	})
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("subject", subject).Str("oracle", oracleID).Uint64("score", score).Msg("Multi-factor score computed")
	return score, nil
}

// IsEligible reports whether the subject may receive rewards. Pure
// predicate: not fraudulent, session valid, wallet linked, level and
// multi-factor score above the configured minimums.
func (s *VerificationService) IsEligible(ctx context.Context, subject string) (bool, error) {
	p, _, err := s.profiles.Get(subject)
	if err != nil {
		return false, ErrUserNotFound
	}
	return eligible(p, s.cfg), nil
}

// EligibleProfile applies the eligibility predicate to an already-loaded
// profile.
func (s *VerificationService) EligibleProfile(p model.VerificationProfile) bool {
	return eligible(p, s.cfg)
}

func eligible(p model.VerificationProfile, cfg config.VerificationConfig) bool {
	return !p.FraudFlag &&
		p.SteamSessionValid &&
		p.WalletLinked &&
		p.Level >= cfg.MinLevel &&
		p.MultiFactorScore >= cfg.MinMultiFactorScore
}

// MarkFraudulent zeroes every trust field and freezes the profile.
// Idempotent and irreversible.
func (s *VerificationService) MarkFraudulent(ctx context.Context, subject string) error {
	return s.locks.WithLock(profileLockKey(subject), func() error {
		p, ver, err := s.profiles.Get(subject)
		if err != nil {
			return ErrUserNotFound
		}
		p.FraudFlag = true
		p.SteamSessionValid = false
		p.WalletLinked = false
		p.Level = 0
		p.MultiFactorScore = 0
		if err := s.profiles.Put(p, ver); err != nil {
			return err
		}
		s.log.Warn().Str("subject", subject).Msg("Profile marked fraudulent")
		return nil
	})
}

// VerificationMultiplier returns the trust score used to scale achievement
// rewards: 25 per core factor, 10 per level, a quarter of the multi-factor
// score, and zero for fraudulent profiles.
func VerificationMultiplier(p model.VerificationProfile) uint64 {
	if p.FraudFlag {
		return 0
	}
	var score uint64
	if p.SteamSessionValid {
		score += 25
	}
	if p.WalletLinked {
		score += 25
	}
	score += uint64(p.Level) * 10
	score += p.MultiFactorScore / 4
	return score
}
