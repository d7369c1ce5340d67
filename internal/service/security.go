package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/repository"
)

// Security-related errors.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrProtocolPaused   = errors.New("protocol is paused")
	ErrAlreadyPaused    = errors.New("protocol already paused")
	ErrNotPaused        = errors.New("protocol not paused")
	ErrUnknownOperation = errors.New("unknown operation")
)

// RateLimit bounds how many times an operation may succeed per actor
// within a window.
type RateLimit struct {
	MaxOperations uint64
	Window        time.Duration
}

// Policy is the static security policy for one operation kind.
type Policy struct {
	MinLevel         model.SecurityLevel
	RateLimit        RateLimit
	Required         []model.VerificationType
	TimelockRequired bool
	MultisigRequired bool
}

// VerificationChecker answers whether an actor satisfies one verification
// requirement. Wired in at startup; requirements without a checker pass.
type VerificationChecker func(ctx context.Context, actor string) bool

// SecurityService holds the per-operation policy table, the global pause
// flag, and the append-only, size-bounded audit log.
type SecurityService struct {
	mu        sync.Mutex
	owner     string
	paused    bool
	incidents uint64
	audit     []model.AuditEntry
	maxAudit  int
	policies  map[model.Operation]Policy
	checkers  map[model.VerificationType]VerificationChecker
	hashKey   []byte
	journal   *repository.AuditRepository
	now       Clock
	emitter   event.Emitter
	log       zerolog.Logger
}

// NewSecurityService creates the policy engine with the default policy
// table. journal may be nil when no database is configured.
func NewSecurityService(
	cfg config.SecurityConfig,
	journal *repository.AuditRepository,
	now Clock,
	emitter event.Emitter,
	log zerolog.Logger,
) *SecurityService {
	maxAudit := cfg.MaxAuditEntries
	if maxAudit <= 0 {
		maxAudit = 10_000
	}
	return &SecurityService{
		owner:    cfg.Owner,
		maxAudit: maxAudit,
		policies: defaultPolicies(),
		checkers: make(map[model.VerificationType]VerificationChecker),
		hashKey:  []byte(cfg.AuditHashKey),
		journal:  journal,
		now:      now,
		emitter:  emitter,
		log:      log,
	}
}

// defaultPolicies covers the closed operation set. Financial operations sit
// at medium, treasury operations at high, and emergency operations at
// maximum security.
func defaultPolicies() map[model.Operation]Policy {
	policies := map[model.Operation]Policy{
		model.OpClaimReward: {
			MinLevel:  model.SecurityMedium,
			RateLimit: RateLimit{MaxOperations: 10, Window: time.Hour},
			Required:  []model.VerificationType{model.VerifyOracle, model.VerifyStake},
		},
		model.OpHarvestRebalance: {
			MinLevel:  model.SecurityHigh,
			RateLimit: RateLimit{MaxOperations: 1, Window: time.Hour},
			Required:  []model.VerificationType{model.VerifyMultiSignature, model.VerifyTimeLock},
		},
		model.OpSlashOracle: {
			MinLevel:  model.SecurityCritical,
			RateLimit: RateLimit{MaxOperations: 10, Window: 24 * time.Hour},
			Required:  []model.VerificationType{model.VerifyReputation},
		},
		model.OpEmergencyPause: {
			MinLevel:         model.SecurityMaximum,
			RateLimit:        RateLimit{MaxOperations: 1, Window: 24 * time.Hour},
			Required:         []model.VerificationType{model.VerifyMultiSignature, model.VerifyTimeLock},
			TimelockRequired: true,
			MultisigRequired: true,
		},
	}
	policies[model.OpEmergencyResume] = policies[model.OpEmergencyPause]

	// Remaining operations get a permissive low-security policy bounded by
	// a generous per-actor rate limit.
	for op := model.OpInitializeTreasury; op <= model.OpEmergencyResume; op++ {
		if _, ok := policies[op]; !ok {
			policies[op] = Policy{
				MinLevel:  model.SecurityLow,
				RateLimit: RateLimit{MaxOperations: 120, Window: time.Hour},
			}
		}
	}
	return policies
}

// SetChecker installs the checker for one verification requirement.
func (s *SecurityService) SetChecker(t model.VerificationType, fn VerificationChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[t] = fn
}

// Paused reports the global pause flag.
func (s *SecurityService) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Denial translates a failed policy evaluation into the caller-facing
// error: ErrProtocolPaused while the protocol is paused, ErrPolicyViolation
// otherwise.
func (s *SecurityService) Denial() error {
	if s.Paused() {
		return ErrProtocolPaused
	}
	return ErrPolicyViolation
}

// Evaluate checks the operation against its policy: pause flag, rate limit,
// minimum security level, then each required verification. Expected
// failures return false; an unknown operation is a programmer error.
func (s *SecurityService) Evaluate(ctx context.Context, op model.Operation, actor string) (bool, error) {
	s.mu.Lock()
	policy, ok := s.policies[op]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %d", ErrUnknownOperation, op)
	}

	if s.paused {
		s.mu.Unlock()
		return false, nil
	}

	now := s.now().Unix()
	windowStart := now - int64(policy.RateLimit.Window.Seconds())
	var count uint64
	for _, e := range s.audit {
		if e.Operation == op && e.Actor == actor && e.Timestamp >= windowStart && e.Verified {
			count++
		}
	}
	if count >= policy.RateLimit.MaxOperations {
		s.mu.Unlock()
		return false, nil
	}

	if (policy.MinLevel == model.SecurityCritical || policy.MinLevel == model.SecurityMaximum) && actor != s.owner {
		s.mu.Unlock()
		return false, nil
	}

	checkers := make([]VerificationChecker, 0, len(policy.Required))
	for _, req := range policy.Required {
		if fn, ok := s.checkers[req]; ok {
			checkers = append(checkers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range checkers {
		if !fn(ctx, actor) {
			return false, nil
		}
	}
	return true, nil
}

// RecordAudit appends an entry to the bounded audit log. Parameters are
// hashed, never stored raw. When a journal is configured the entry is also
// persisted; a journal failure is logged but does not fail the operation.
func (s *SecurityService) RecordAudit(ctx context.Context, op model.Operation, actor string, level model.SecurityLevel, verified bool, params ...[]byte) {
	entry := model.AuditEntry{
		Timestamp:  s.now().Unix(),
		Operation:  op,
		Actor:      actor,
		ParamsHash: sigver.HashParams(s.hashKey, params...),
		Level:      level,
		Verified:   verified,
	}

	s.mu.Lock()
	s.audit = append(s.audit, entry)
	if len(s.audit) > s.maxAudit {
		s.audit = s.audit[len(s.audit)-s.maxAudit:]
	}
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Append(ctx, entry); err != nil {
			s.log.Error().Err(err).Str("op", op.String()).Msg("Failed to persist audit entry")
		}
	}
}

// AuditTrail returns a copy of the in-memory audit log, oldest first.
func (s *SecurityService) AuditTrail() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.audit...)
}

// Pause sets the global pause flag. Owner-only; the attempt is audited
// regardless of outcome.
func (s *SecurityService) Pause(ctx context.Context, actor string) error {
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if actor != s.owner {
			return ErrUnauthorized
		}
		if s.paused {
			return ErrAlreadyPaused
		}
		s.paused = true
		s.incidents++
		return nil
	}()

	s.RecordAudit(ctx, model.OpEmergencyPause, actor, model.SecurityMaximum, err == nil)
	if err != nil {
		return err
	}

	s.emitter.Emit(ctx, event.New(event.TypeEmergencyPause, actor, s.now().Unix()))
	s.log.Warn().Str("actor", actor).Msg("EMERGENCY PAUSE ACTIVATED")
	return nil
}

// Resume clears the global pause flag. Owner-only; audited regardless of
// outcome.
func (s *SecurityService) Resume(ctx context.Context, actor string) error {
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if actor != s.owner {
			return ErrUnauthorized
		}
		if !s.paused {
			return ErrNotPaused
		}
		s.paused = false
		return nil
	}()

	s.RecordAudit(ctx, model.OpEmergencyResume, actor, model.SecurityMaximum, err == nil)
	if err != nil {
		return err
	}

	s.emitter.Emit(ctx, event.New(event.TypeEmergencyResume, actor, s.now().Unix()))
	s.log.Info().Str("actor", actor).Msg("Protocol operations resumed")
	return nil
}

// Incidents returns the security incident counter.
func (s *SecurityService) Incidents() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidents
}
