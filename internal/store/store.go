// Package store provides the keyed account stores backing the protocol
// ledger. Each entry carries a version number bumped on every write;
// writers pass the version they read and get ErrVersionConflict if another
// write landed in between (optimistic concurrency control).
package store

import (
	"errors"
	"sync"

	"gaming-rewards-protocol/internal/model"
)

// Store errors.
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// TreasuryStore holds the treasury singleton.
type TreasuryStore struct {
	mu       sync.RWMutex
	treasury *model.Treasury
	version  uint64
}

// NewTreasuryStore creates an empty treasury store.
func NewTreasuryStore() *TreasuryStore {
	return &TreasuryStore{}
}

// Create initializes the treasury. It may be called once.
func (s *TreasuryStore) Create(t model.Treasury) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.treasury != nil {
		return ErrAlreadyExists
	}
	cp := t
	s.treasury = &cp
	s.version = 1
	return nil
}

// Get returns a copy of the treasury and its current version.
func (s *TreasuryStore) Get() (model.Treasury, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.treasury == nil {
		return model.Treasury{}, 0, ErrNotFound
	}
	return *s.treasury, s.version, nil
}

// Put replaces the treasury if expected matches the stored version.
func (s *TreasuryStore) Put(t model.Treasury, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.treasury == nil {
		return ErrNotFound
	}
	if s.version != expected {
		return ErrVersionConflict
	}
	cp := t
	s.treasury = &cp
	s.version++
	return nil
}

type versionedOracle struct {
	account model.OracleAccount
	version uint64
}

// OracleStore holds oracle accounts keyed by oracle ID. Accounts are never
// deleted.
type OracleStore struct {
	mu      sync.RWMutex
	oracles map[string]versionedOracle
}

// NewOracleStore creates an empty oracle store.
func NewOracleStore() *OracleStore {
	return &OracleStore{oracles: make(map[string]versionedOracle)}
}

// Create adds a new oracle account.
func (s *OracleStore) Create(o model.OracleAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.oracles[o.ID]; ok {
		return ErrAlreadyExists
	}
	o.PublicKey = append([]byte(nil), o.PublicKey...)
	s.oracles[o.ID] = versionedOracle{account: o, version: 1}
	return nil
}

// Get returns a copy of the oracle account and its version.
func (s *OracleStore) Get(id string) (model.OracleAccount, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.oracles[id]
	if !ok {
		return model.OracleAccount{}, 0, ErrNotFound
	}
	o := v.account
	o.PublicKey = append([]byte(nil), o.PublicKey...)
	return o, v.version, nil
}

// Put replaces an oracle account if expected matches the stored version.
func (s *OracleStore) Put(o model.OracleAccount, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.oracles[o.ID]
	if !ok {
		return ErrNotFound
	}
	if v.version != expected {
		return ErrVersionConflict
	}
	o.PublicKey = append([]byte(nil), o.PublicKey...)
	s.oracles[o.ID] = versionedOracle{account: o, version: v.version + 1}
	return nil
}

type versionedProfile struct {
	profile model.VerificationProfile
	version uint64
}

// ProfileStore holds verification profiles keyed by subject.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]versionedProfile
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]versionedProfile)}
}

func copyProfile(p model.VerificationProfile) model.VerificationProfile {
	p.WalletKey = append([]byte(nil), p.WalletKey...)
	p.Attestations = append([]model.Attestation(nil), p.Attestations...)
	return p
}

// Create adds a new verification profile.
func (s *ProfileStore) Create(p model.VerificationProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Subject]; ok {
		return ErrAlreadyExists
	}
	s.profiles[p.Subject] = versionedProfile{profile: copyProfile(p), version: 1}
	return nil
}

// Get returns a copy of the profile and its version.
func (s *ProfileStore) Get(subject string) (model.VerificationProfile, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.profiles[subject]
	if !ok {
		return model.VerificationProfile{}, 0, ErrNotFound
	}
	return copyProfile(v.profile), v.version, nil
}

// Put replaces a profile if expected matches the stored version.
func (s *ProfileStore) Put(p model.VerificationProfile, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.profiles[p.Subject]
	if !ok {
		return ErrNotFound
	}
	if v.version != expected {
		return ErrVersionConflict
	}
	s.profiles[p.Subject] = versionedProfile{profile: copyProfile(p), version: v.version + 1}
	return nil
}

type versionedAccount struct {
	account model.UserRewardAccount
	version uint64
}

// RewardAccountStore holds user reward accounts keyed by subject.
type RewardAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]versionedAccount
}

// NewRewardAccountStore creates an empty reward account store.
func NewRewardAccountStore() *RewardAccountStore {
	return &RewardAccountStore{accounts: make(map[string]versionedAccount)}
}

// GetOrCreate returns the account for subject, creating an empty one if it
// does not exist yet.
func (s *RewardAccountStore) GetOrCreate(subject string) (model.UserRewardAccount, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.accounts[subject]
	if !ok {
		v = versionedAccount{account: model.UserRewardAccount{Subject: subject}, version: 1}
		s.accounts[subject] = v
	}
	return v.account, v.version
}

// Get returns a copy of the account and its version.
func (s *RewardAccountStore) Get(subject string) (model.UserRewardAccount, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.accounts[subject]
	if !ok {
		return model.UserRewardAccount{}, 0, ErrNotFound
	}
	return v.account, v.version, nil
}

// Put replaces an account if expected matches the stored version.
func (s *RewardAccountStore) Put(a model.UserRewardAccount, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.accounts[a.Subject]
	if !ok {
		return ErrNotFound
	}
	if v.version != expected {
		return ErrVersionConflict
	}
	s.accounts[a.Subject] = versionedAccount{account: a, version: v.version + 1}
	return nil
}

type versionedAchievement struct {
	record  model.AchievementRecord
	version uint64
}

// AchievementStore holds achievement records keyed by subject and
// achievement ID, enforcing idempotent attestation.
type AchievementStore struct {
	mu      sync.RWMutex
	records map[string]versionedAchievement
}

// NewAchievementStore creates an empty achievement store.
func NewAchievementStore() *AchievementStore {
	return &AchievementStore{records: make(map[string]versionedAchievement)}
}

func achievementKey(subject, achievementID string) string {
	return subject + "/" + achievementID
}

// Get returns the record for (subject, achievementID) if present.
func (s *AchievementStore) Get(subject, achievementID string) (model.AchievementRecord, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[achievementKey(subject, achievementID)]
	if !ok {
		return model.AchievementRecord{}, 0, ErrNotFound
	}
	return v.record, v.version, nil
}

// Upsert stores the record, bumping the version if it already exists.
func (s *AchievementStore) Upsert(r model.AchievementRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := achievementKey(r.Subject, r.AchievementID)
	v := s.records[key]
	s.records[key] = versionedAchievement{record: r, version: v.version + 1}
}

type versionedPosition struct {
	position model.StakingPosition
	version  uint64
}

// PositionStore holds the staking position per subject. A user has at most
// one active position at a time.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]versionedPosition
}

// NewPositionStore creates an empty position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]versionedPosition)}
}

// Get returns the position for subject if present.
func (s *PositionStore) Get(subject string) (model.StakingPosition, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.positions[subject]
	if !ok {
		return model.StakingPosition{}, 0, ErrNotFound
	}
	return v.position, v.version, nil
}

// Upsert stores the position, bumping the version if it already exists.
func (s *PositionStore) Upsert(p model.StakingPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.positions[p.Subject]
	s.positions[p.Subject] = versionedPosition{position: p, version: v.version + 1}
}
