package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/store"
)

// testClock is a controllable clock for window and freshness arithmetic.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *testClock) Unix() int64             { return c.t.Unix() }

func testConfig() *config.Config {
	return &config.Config{
		Treasury: config.TreasuryConfig{
			Authority:        "authority",
			UserSharePercent: 50,
			HarvestCooldown:  time.Hour,
		},
		Claims: config.ClaimConfig{
			MaxClaimAmount:     10_000_000_000,
			MaxClaimsPerWindow: 10,
			WindowDuration:     time.Hour,
			MinInterval:        5 * time.Minute,
			MaxSignatureAge:    5 * time.Minute,
		},
		Oracle: config.OracleConfig{
			MinStake:               1_000_000_000,
			InitialReputation:      100,
			ReputationStep:         1,
			SuspensionThreshold:    50,
			ReinstatementThreshold: 100,
		},
		Verification: config.VerificationConfig{
			MaxVerificationAge:  5 * time.Minute,
			MinLevel:            2,
			MinMultiFactorScore: 50,
		},
		Achievements: config.AchievementConfig{
			MinValue:       100,
			MaxValue:       10_000,
			RewardPerPoint: 100,
			FeeBps:         10,
		},
		Staking: config.StakingConfig{
			MinPeriod:      24 * time.Hour,
			MaxPeriod:      720 * time.Hour,
			BaseBonusBps:   100,
			MediumBonusBps: 120,
			LongBonusBps:   150,
		},
		Security: config.SecurityConfig{
			Owner:           "owner",
			MaxAuditEntries: 10_000,
			AuditHashKey:    "test-hash-key",
		},
	}
}

// fixture wires every service against in-memory stores, a controllable
// clock, and a recording event emitter.
type fixture struct {
	clock        *testClock
	cfg          *config.Config
	events       *event.Recorder
	treasury     *TreasuryService
	oracles      *OracleService
	verification *VerificationService
	claims       *ClaimService
	rewards      *RewardService
	staking      *StakingService
	security     *SecurityService
	accounts     *store.RewardAccountStore
	transferErr  error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, testConfig())
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	f := &fixture{
		clock:  newTestClock(),
		cfg:    cfg,
		events: &event.Recorder{},
	}

	log := zerolog.Nop()
	locks := lock.NewKeyLock()
	verifier := sigver.Ed25519Verifier{}
	clock := Clock(func() time.Time { return f.clock.Now() })

	treasuryStore := store.NewTreasuryStore()
	oracleStore := store.NewOracleStore()
	profileStore := store.NewProfileStore()
	f.accounts = store.NewRewardAccountStore()
	achievementStore := store.NewAchievementStore()
	positionStore := store.NewPositionStore()

	f.security = NewSecurityService(cfg.Security, nil, clock, f.events, log)
	f.treasury = NewTreasuryService(treasuryStore, locks, cfg.Treasury, clock, f.events, log)
	f.oracles = NewOracleService(oracleStore, f.treasury, locks, cfg.Oracle, clock, f.events, log)
	f.verification = NewVerificationService(profileStore, f.oracles, verifier, locks, cfg.Verification, clock, log)

	transfer := TransferFunc(func(ctx context.Context, subject string, amount uint64) error {
		return f.transferErr
	})
	f.claims = NewClaimService(
		f.treasury, f.accounts, f.oracles, f.security,
		verifier, transfer, locks,
		cfg.Claims, cfg.Oracle, clock, f.events, log,
	)
	f.rewards = NewRewardService(
		f.treasury, f.accounts, achievementStore, f.oracles, f.verification, f.security,
		verifier, locks,
		cfg.Achievements, cfg.Oracle, cfg.Claims, clock, f.events, log,
	)
	f.staking = NewStakingService(
		f.treasury, f.accounts, positionStore, f.security, locks,
		cfg.Staking, clock, f.events, log,
	)

	return f
}

// initTreasury creates the treasury and funds the rewards pool and reserve
// with one harvest.
func (f *fixture) initTreasury(t *testing.T, yield uint64) {
	t.Helper()
	ctx := context.Background()
	if err := f.treasury.Initialize(ctx, ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if yield > 0 {
		if _, _, err := f.treasury.AddYield(ctx, yield); err != nil {
			t.Fatalf("AddYield: %v", err)
		}
	}
}

// registerOracle creates an active oracle with min stake and returns its
// signing key.
func (f *fixture) registerOracle(t *testing.T, id string) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := f.oracles.Register(context.Background(), id, pub, f.cfg.Oracle.MinStake); err != nil {
		t.Fatalf("Register oracle: %v", err)
	}
	return priv
}

// registerVerifiedUser walks a fresh profile through session and wallet
// verification. Returns the wallet private key.
func (f *fixture) registerVerifiedUser(t *testing.T, subject string, steamID uint64, oracleID string, oracleKey ed25519.PrivateKey) ed25519.PrivateKey {
	t.Helper()
	ctx := context.Background()

	walletPub, walletPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := f.verification.RegisterUser(ctx, subject, steamID, walletPub); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	now := f.clock.Unix()
	sessionID := []byte("session-1")
	ticket := SessionTicket{
		Ticket:    []byte("ticket"),
		SteamID:   steamID,
		SessionID: sessionID,
		Timestamp: now,
	}
	sig := ed25519.Sign(oracleKey, sigver.SessionMessage(steamID, now, sessionID))
	if err := f.verification.VerifySession(ctx, subject, ticket, oracleID, sig); err != nil {
		t.Fatalf("VerifySession: %v", err)
	}

	walletSig := ed25519.Sign(walletPriv, sigver.WalletMessage(steamID, walletPub, now))
	oauth := OAuthWalletSignature{
		SteamID:   steamID,
		WalletKey: walletPub,
		Signature: walletSig,
		Timestamp: now,
	}
	if err := f.verification.VerifyWallet(ctx, subject, oauth); err != nil {
		t.Fatalf("VerifyWallet: %v", err)
	}

	return walletPriv
}

// registerEligibleUser walks a fresh profile through session, wallet, and
// oracle-attested multi-factor verification until it is reward-eligible.
// Returns the wallet private key.
func (f *fixture) registerEligibleUser(t *testing.T, subject string, steamID uint64, oracleID string, oracleKey ed25519.PrivateKey) ed25519.PrivateKey {
	t.Helper()
	ctx := context.Background()

	walletPriv := f.registerVerifiedUser(t, subject, steamID, oracleID, oracleKey)

	now := f.clock.Unix()
	mfa := MultiFactorData{
		AchievementEvidence: []byte("achievements"),
		AssetEvidence:       [][]byte{[]byte("asset")},
		Timestamp:           now,
	}
	sig := ed25519.Sign(oracleKey, sigver.MultiFactorMessage(steamID, now, multiFactorEvidence(mfa)...))
	if _, err := f.verification.ComputeMultiFactor(ctx, subject, mfa, oracleID, sig); err != nil {
		t.Fatalf("ComputeMultiFactor: %v", err)
	}

	return walletPriv
}

// signClaim signs the canonical claim message with the oracle key.
func signClaim(key ed25519.PrivateKey, subject string, ts int64, amount uint64) []byte {
	return ed25519.Sign(key, sigver.ClaimMessage(subject, ts, amount))
}

// lastEvent returns the most recent recorded event of the given type.
func (f *fixture) lastEvent(typ event.Type) (event.Event, bool) {
	for i := len(f.events.Events) - 1; i >= 0; i-- {
		if f.events.Events[i].Type == typ {
			return f.events.Events[i], true
		}
	}
	return event.Event{}, false
}
