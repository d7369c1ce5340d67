package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaming-rewards-protocol/internal/config"
	"gaming-rewards-protocol/internal/event"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/pkg/lock"
	"gaming-rewards-protocol/internal/pkg/sigver"
	"gaming-rewards-protocol/internal/service"
	"gaming-rewards-protocol/internal/store"
)

type testServer struct {
	srv      *httptest.Server
	cfg      *config.Config
	treasury *service.TreasuryService
	oracles  *service.OracleService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
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
			MinStake:               1_000_000,
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
			MaxAuditEntries: 100,
			AuditHashKey:    "test-key",
		},
	}

	log := zerolog.Nop()
	locks := lock.NewKeyLock()
	emitter := &event.Recorder{}
	verifier := sigver.Ed25519Verifier{}
	clock := service.Clock(time.Now)

	treasuryStore := store.NewTreasuryStore()
	oracleStore := store.NewOracleStore()
	profileStore := store.NewProfileStore()
	accountStore := store.NewRewardAccountStore()
	achievementStore := store.NewAchievementStore()
	positionStore := store.NewPositionStore()

	security := service.NewSecurityService(cfg.Security, nil, clock, emitter, log)
	treasury := service.NewTreasuryService(treasuryStore, locks, cfg.Treasury, clock, emitter, log)
	oracles := service.NewOracleService(oracleStore, treasury, locks, cfg.Oracle, clock, emitter, log)
	verification := service.NewVerificationService(profileStore, oracles, verifier, locks, cfg.Verification, clock, log)
	transfer := service.TransferFunc(func(ctx context.Context, subject string, amount uint64) error {
		return nil
	})
	claims := service.NewClaimService(
		treasury, accountStore, oracles, security,
		verifier, transfer, locks,
		cfg.Claims, cfg.Oracle, clock, emitter, log,
	)
	rewards := service.NewRewardService(
		treasury, accountStore, achievementStore, oracles, verification, security,
		verifier, locks,
		cfg.Achievements, cfg.Oracle, cfg.Claims, clock, emitter, log,
	)
	staking := service.NewStakingService(
		treasury, accountStore, positionStore, security, locks,
		cfg.Staking, clock, emitter, log,
	)

	h := New(treasury, oracles, verification, claims, rewards, staking, security, nil, log)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, cfg: cfg, treasury: treasury, oracles: oracles}
}

func (ts *testServer) do(t *testing.T, method, path, actor string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestTreasuryLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/v1/treasury", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/treasury/initialize", "owner",
		map[string]string{"authority": "authority"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/treasury/harvest", "authority",
		map[string]uint64{"amount": 1_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	split := decodeBody[map[string]uint64](t, resp)
	assert.Equal(t, uint64(500_000), split["user_share"])
	assert.Equal(t, uint64(500_000), split["reserve_share"])

	resp = ts.do(t, http.MethodGet, "/v1/treasury", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	treasury := decodeBody[model.Treasury](t, resp)
	assert.Equal(t, uint64(500_000), treasury.UserRewardsPool)

	// The harvest policy allows one call per hour per actor.
	resp = ts.do(t, http.MethodPost, "/v1/treasury/harvest", "authority",
		map[string]uint64{"amount": 1000})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestClaimEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/treasury/initialize", "owner", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = ts.do(t, http.MethodPost, "/v1/treasury/harvest", "authority",
		map[string]uint64{"amount": 1_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	resp = ts.do(t, http.MethodPost, "/v1/oracles", "owner", map[string]any{
		"id":         "oracle-1",
		"public_key": pub,
		"stake":      ts.cfg.Oracle.MinStake,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	now := time.Now().Unix()
	sig := ed25519.Sign(priv, sigver.ClaimMessage("alice", now, 1000))
	resp = ts.do(t, http.MethodPost, "/v1/claims", "alice", map[string]any{
		"subject":   "alice",
		"timestamp": now,
		"amount":    1000,
		"oracle":    "oracle-1",
		"signature": sig,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acct := decodeBody[model.UserRewardAccount](t, resp)
	assert.Equal(t, uint64(1000), acct.TotalClaimed)

	// A bad signature maps to 401.
	sig = ed25519.Sign(priv, sigver.ClaimMessage("bob", now, 9999))
	resp = ts.do(t, http.MethodPost, "/v1/claims", "bob", map[string]any{
		"subject":   "bob",
		"timestamp": now,
		"amount":    1000,
		"oracle":    "oracle-1",
		"signature": sig,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestOracleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/v1/oracles/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	body := map[string]any{"id": "oracle-1", "public_key": pub, "stake": uint64(2_000_000)}
	resp = ts.do(t, http.MethodPost, "/v1/oracles", "owner", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Duplicate registration conflicts.
	resp = ts.do(t, http.MethodPost, "/v1/oracles", "owner", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Slashing requires the protocol owner.
	resp = ts.do(t, http.MethodPost, "/v1/oracles/oracle-1/slash", "mallory",
		map[string]any{"amount": 100, "reason": "test"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, ts.treasury.Initialize(context.Background(), "authority"))
	resp = ts.do(t, http.MethodPost, "/v1/oracles/oracle-1/slash", "owner",
		map[string]any{"amount": 100, "reason": "test"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[map[string]uint64](t, resp)
	assert.Equal(t, uint64(100), result["slashed"])
}

func TestPauseEndpointAuthorization(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/admin/pause", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/admin/pause", "owner", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Double pause conflicts.
	resp = ts.do(t, http.MethodPost, "/v1/admin/pause", "owner", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/admin/resume", "owner", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The audit trail recorded every attempt.
	resp = ts.do(t, http.MethodGet, "/v1/admin/audit", "owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trail := decodeBody[[]model.AuditEntry](t, resp)
	assert.Len(t, trail, 4)
}

func TestPausedOperationsReturn503(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/admin/pause", "owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/claims", "alice", map[string]any{
		"subject":   "alice",
		"timestamp": time.Now().Unix(),
		"amount":    1000,
		"oracle":    "oracle-1",
		"signature": []byte("sig"),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/treasury/harvest", "authority",
		map[string]uint64{"amount": 1000})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	// Resuming restores the normal error taxonomy.
	resp = ts.do(t, http.MethodPost, "/v1/admin/resume", "owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/treasury/harvest", "authority",
		map[string]uint64{"amount": 1000})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUserVerificationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/users", "", map[string]any{
		"subject":  "alice",
		"steam_id": 42,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/users", "", map[string]any{
		"subject":  "alice",
		"steam_id": 42,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/v1/users/alice/eligibility", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]bool](t, resp)
	assert.False(t, body["eligible"])

	resp = ts.do(t, http.MethodGet, "/v1/users/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestInvalidJSONRejected(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/v1/claims", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
