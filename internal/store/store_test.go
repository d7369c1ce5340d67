package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaming-rewards-protocol/internal/model"
)

func TestTreasuryStoreSingleton(t *testing.T) {
	s := NewTreasuryStore()

	_, _, err := s.Get()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(model.Treasury{Authority: "auth"}))
	assert.ErrorIs(t, s.Create(model.Treasury{}), ErrAlreadyExists)

	tr, ver, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "auth", tr.Authority)
	assert.Equal(t, uint64(1), ver)
}

func TestTreasuryStoreVersionConflict(t *testing.T) {
	s := NewTreasuryStore()
	require.NoError(t, s.Create(model.Treasury{}))

	tr, ver, _ := s.Get()
	tr.TotalBalance = 100
	require.NoError(t, s.Put(tr, ver))

	// A second write against the stale version must fail.
	tr.TotalBalance = 200
	assert.ErrorIs(t, s.Put(tr, ver), ErrVersionConflict)

	// The first write survived.
	tr, ver2, _ := s.Get()
	assert.Equal(t, uint64(100), tr.TotalBalance)
	assert.Equal(t, ver+1, ver2)
}

func TestOracleStoreCopiesPublicKey(t *testing.T) {
	s := NewOracleStore()
	key := []byte{1, 2, 3}
	require.NoError(t, s.Create(model.OracleAccount{ID: "o1", PublicKey: key}))

	// Mutating the caller's slice must not reach the store.
	key[0] = 9
	o, _, err := s.Get("o1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, o.PublicKey)

	// Mutating the returned copy must not reach the store either.
	o.PublicKey[1] = 9
	o2, _, _ := s.Get("o1")
	assert.Equal(t, []byte{1, 2, 3}, o2.PublicKey)
}

func TestProfileStoreDeepCopy(t *testing.T) {
	s := NewProfileStore()
	p := model.VerificationProfile{
		Subject:      "alice",
		WalletKey:    []byte{1, 2},
		Attestations: []model.Attestation{{ID: "att-1"}},
	}
	require.NoError(t, s.Create(p))

	got, ver, err := s.Get("alice")
	require.NoError(t, err)
	got.WalletKey[0] = 9
	got.Attestations[0].ID = "mutated"

	fresh, _, _ := s.Get("alice")
	assert.Equal(t, []byte{1, 2}, fresh.WalletKey)
	assert.Equal(t, "att-1", fresh.Attestations[0].ID)
	assert.Equal(t, uint64(1), ver)
}

func TestRewardAccountStoreGetOrCreate(t *testing.T) {
	s := NewRewardAccountStore()

	_, _, err := s.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	a, ver := s.GetOrCreate("alice")
	assert.Equal(t, "alice", a.Subject)
	assert.Equal(t, uint64(1), ver)

	a.TotalClaimed = 50
	require.NoError(t, s.Put(a, ver))

	// GetOrCreate returns the existing account, not a fresh one.
	a2, ver2 := s.GetOrCreate("alice")
	assert.Equal(t, uint64(50), a2.TotalClaimed)
	assert.Equal(t, ver+1, ver2)
}

func TestAchievementStoreKeyedPerSubject(t *testing.T) {
	s := NewAchievementStore()

	s.Upsert(model.AchievementRecord{Subject: "alice", AchievementID: "ach-1", Value: 100})
	s.Upsert(model.AchievementRecord{Subject: "bob", AchievementID: "ach-1", Value: 200})

	a, _, err := s.Get("alice", "ach-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a.Value)

	b, _, err := s.Get("bob", "ach-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), b.Value)

	_, _, err = s.Get("alice", "ach-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPositionStoreUpsert(t *testing.T) {
	s := NewPositionStore()

	_, _, err := s.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	s.Upsert(model.StakingPosition{Subject: "alice", Amount: 100, Active: true})
	p, ver, err := s.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p.Amount)
	assert.Equal(t, uint64(1), ver)

	p.Amount = 0
	p.Active = false
	s.Upsert(p)
	p2, ver2, _ := s.Get("alice")
	assert.False(t, p2.Active)
	assert.Equal(t, uint64(2), ver2)
}
