// Package handler is the thin HTTP layer. It decodes requests, delegates to
// the domain services and translates domain errors to HTTP statuses.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gaming-rewards-protocol/internal/metrics"
	"gaming-rewards-protocol/internal/model"
	"gaming-rewards-protocol/internal/service"
)

const actorHeader = "X-Actor-ID"

// Handler wires protocol endpoints to the domain services.
type Handler struct {
	treasury     *service.TreasuryService
	oracles      *service.OracleService
	verification *service.VerificationService
	claims       *service.ClaimService
	rewards      *service.RewardService
	staking      *service.StakingService
	security     *service.SecurityService
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// New constructs the handler with its dependencies.
func New(
	treasury *service.TreasuryService,
	oracles *service.OracleService,
	verification *service.VerificationService,
	claims *service.ClaimService,
	rewards *service.RewardService,
	staking *service.StakingService,
	security *service.SecurityService,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		treasury:     treasury,
		oracles:      oracles,
		verification: verification,
		claims:       claims,
		rewards:      rewards,
		staking:      staking,
		security:     security,
		metrics:      m,
		log:          log,
	}
}

// Router builds the chi router with all protocol routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.log))
	r.Use(Recoverer(h.log))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/treasury/initialize", h.handleInitializeTreasury)
		r.Post("/treasury/harvest", h.handleHarvest)
		r.Get("/treasury", h.handleTreasury)

		r.Post("/oracles", h.handleRegisterOracle)
		r.Get("/oracles/{id}", h.handleGetOracle)
		r.Post("/oracles/{id}/slash", h.handleSlashOracle)

		r.Post("/claims", h.handleClaim)

		r.Post("/users", h.handleRegisterUser)
		r.Get("/users/{subject}", h.handleGetProfile)
		r.Post("/users/{subject}/verify/session", h.handleVerifySession)
		r.Post("/users/{subject}/verify/wallet", h.handleVerifyWallet)
		r.Post("/users/{subject}/verify/attestation", h.handleAddAttestation)
		r.Post("/users/{subject}/verify/multifactor", h.handleMultiFactor)
		r.Get("/users/{subject}/eligibility", h.handleEligibility)
		r.Post("/users/{subject}/fraud", h.handleMarkFraud)
		r.Post("/users/{subject}/achievements", h.handleVerifyAchievement)
		r.Get("/users/{subject}/account", h.handleAccount)
		r.Post("/users/{subject}/stake", h.handleStake)
		r.Post("/users/{subject}/unstake", h.handleUnstake)

		r.Post("/admin/pause", h.handlePause)
		r.Post("/admin/resume", h.handleResume)
		r.Get("/admin/audit", h.handleAuditTrail)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initTreasuryRequest struct {
	Authority string `json:"authority"`
}

func (h *Handler) handleInitializeTreasury(w http.ResponseWriter, r *http.Request) {
	var req initTreasuryRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.treasury.Initialize(r.Context(), req.Authority); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

type harvestRequest struct {
	Amount uint64 `json:"amount"`
}

type harvestResponse struct {
	UserShare    uint64 `json:"user_share"`
	ReserveShare uint64 `json:"reserve_share"`
}

func (h *Handler) handleHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if !decode(w, r, &req) {
		return
	}
	actor := r.Header.Get(actorHeader)

	ok, err := h.security.Evaluate(r.Context(), model.OpHarvestRebalance, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.security.RecordAudit(r.Context(), model.OpHarvestRebalance, actor, model.SecurityHigh, false)
		h.writeError(w, r, h.security.Denial())
		return
	}

	userShare, reserveShare, err := h.treasury.AddYield(r.Context(), req.Amount)
	h.security.RecordAudit(r.Context(), model.OpHarvestRebalance, actor, model.SecurityHigh, err == nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.metrics.IncrementHarvest()
	h.publishTreasuryGauges(r)
	writeJSON(w, http.StatusOK, harvestResponse{UserShare: userShare, ReserveShare: reserveShare})
}

func (h *Handler) handleTreasury(w http.ResponseWriter, r *http.Request) {
	t, err := h.treasury.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type registerOracleRequest struct {
	ID        string `json:"id"`
	PublicKey []byte `json:"public_key"`
	Stake     uint64 `json:"stake"`
}

func (h *Handler) handleRegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req registerOracleRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.oracles.Register(r.Context(), req.ID, req.PublicKey, req.Stake)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) handleGetOracle(w http.ResponseWriter, r *http.Request) {
	o, err := h.oracles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type slashRequest struct {
	Amount uint64 `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) handleSlashOracle(w http.ResponseWriter, r *http.Request) {
	var req slashRequest
	if !decode(w, r, &req) {
		return
	}
	actor := r.Header.Get(actorHeader)
	id := chi.URLParam(r, "id")

	ok, err := h.security.Evaluate(r.Context(), model.OpSlashOracle, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.security.RecordAudit(r.Context(), model.OpSlashOracle, actor, model.SecurityCritical, false)
		h.writeError(w, r, h.security.Denial())
		return
	}

	slashed, err := h.oracles.Slash(r.Context(), id, req.Amount, req.Reason)
	h.security.RecordAudit(r.Context(), model.OpSlashOracle, actor, model.SecurityCritical, err == nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.metrics.IncrementSlash()
	writeJSON(w, http.StatusOK, map[string]uint64{"slashed": slashed})
}

type claimRequest struct {
	Subject   string `json:"subject"`
	Timestamp int64  `json:"timestamp"`
	Amount    uint64 `json:"amount"`
	Oracle    string `json:"oracle"`
	Signature []byte `json:"signature"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.claims.Claim(r.Context(), req.Subject, req.Timestamp, req.Amount, req.Oracle, req.Signature)
	if err != nil {
		h.metrics.IncrementClaim("rejected")
		h.writeError(w, r, err)
		return
	}
	h.metrics.IncrementClaim("ok")
	h.publishTreasuryGauges(r)
	writeJSON(w, http.StatusOK, h.claims.Account(r.Context(), req.Subject))
}

type registerUserRequest struct {
	Subject   string `json:"subject"`
	SteamID   uint64 `json:"steam_id"`
	WalletKey []byte `json:"wallet_key"`
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.verification.RegisterUser(r.Context(), req.Subject, req.SteamID, req.WalletKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.verification.Profile(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type verifySessionRequest struct {
	Ticket          []byte `json:"ticket"`
	SteamID         uint64 `json:"steam_id"`
	SessionID       []byte `json:"session_id"`
	Timestamp       int64  `json:"timestamp"`
	Oracle          string `json:"oracle"`
	OracleSignature []byte `json:"oracle_signature"`
}

func (h *Handler) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	var req verifySessionRequest
	if !decode(w, r, &req) {
		return
	}
	ticket := service.SessionTicket{
		Ticket:    req.Ticket,
		SteamID:   req.SteamID,
		SessionID: req.SessionID,
		Timestamp: req.Timestamp,
	}
	err := h.verification.VerifySession(r.Context(), chi.URLParam(r, "subject"), ticket, req.Oracle, req.OracleSignature)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "session verified"})
}

type verifyWalletRequest struct {
	SteamID   uint64 `json:"steam_id"`
	WalletKey []byte `json:"wallet_key"`
	Signature []byte `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleVerifyWallet(w http.ResponseWriter, r *http.Request) {
	var req verifyWalletRequest
	if !decode(w, r, &req) {
		return
	}
	oauth := service.OAuthWalletSignature{
		SteamID:   req.SteamID,
		WalletKey: req.WalletKey,
		Signature: req.Signature,
		Timestamp: req.Timestamp,
	}
	if err := h.verification.VerifyWallet(r.Context(), chi.URLParam(r, "subject"), oauth); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "wallet verified"})
}

type attestationRequest struct {
	ID           string `json:"id"`
	Issuer       string `json:"issuer"`
	Proof        []byte `json:"proof"`
	PublicInputs []byte `json:"public_inputs"`
	Timestamp    int64  `json:"timestamp"`
}

func (h *Handler) handleAddAttestation(w http.ResponseWriter, r *http.Request) {
	var req attestationRequest
	if !decode(w, r, &req) {
		return
	}
	att := service.AttestationInput{
		ID:           req.ID,
		Issuer:       req.Issuer,
		Proof:        req.Proof,
		PublicInputs: req.PublicInputs,
		Timestamp:    req.Timestamp,
	}
	if err := h.verification.AddAttestation(r.Context(), chi.URLParam(r, "subject"), att); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attestation added"})
}

type multiFactorRequest struct {
	AchievementEvidence []byte   `json:"achievement_evidence"`
	AssetEvidence       [][]byte `json:"asset_evidence"`
	OnChainActivity     []byte   `json:"on_chain_activity"`
	ReputationScore     uint64   `json:"reputation_score"`
	Timestamp           int64    `json:"timestamp"`
	Oracle              string   `json:"oracle"`
	OracleSignature     []byte   `json:"oracle_signature"`
}

func (h *Handler) handleMultiFactor(w http.ResponseWriter, r *http.Request) {
	var req multiFactorRequest
	if !decode(w, r, &req) {
		return
	}
	mfa := service.MultiFactorData{
		AchievementEvidence: req.AchievementEvidence,
		AssetEvidence:       req.AssetEvidence,
		OnChainActivity:     req.OnChainActivity,
		ReputationScore:     req.ReputationScore,
		Timestamp:           req.Timestamp,
	}
	score, err := h.verification.ComputeMultiFactor(r.Context(), chi.URLParam(r, "subject"), mfa, req.Oracle, req.OracleSignature)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"score": score})
}

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	eligible, err := h.verification.IsEligible(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"eligible": eligible})
}

func (h *Handler) handleMarkFraud(w http.ResponseWriter, r *http.Request) {
	if err := h.verification.MarkFraudulent(r.Context(), chi.URLParam(r, "subject")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "profile frozen"})
}

type achievementRequest struct {
	AchievementID string `json:"achievement_id"`
	Value         uint64 `json:"value"`
	Timestamp     int64  `json:"timestamp"`
	Oracle        string `json:"oracle"`
	Signature     []byte `json:"signature"`
}

func (h *Handler) handleVerifyAchievement(w http.ResponseWriter, r *http.Request) {
	var req achievementRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.rewards.VerifyAchievement(
		r.Context(),
		chi.URLParam(r, "subject"),
		req.AchievementID,
		req.Value,
		req.Timestamp,
		req.Oracle,
		req.Signature,
	)
	if err != nil {
		h.metrics.IncrementAchievement("rejected")
		h.writeError(w, r, err)
		return
	}
	h.metrics.IncrementAchievement("ok")
	h.publishTreasuryGauges(r)
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.claims.Account(r.Context(), chi.URLParam(r, "subject")))
}

type stakeRequest struct {
	Amount     uint64 `json:"amount"`
	LockPeriod string `json:"lock_period"`
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !decode(w, r, &req) {
		return
	}
	lockPeriod, err := time.ParseDuration(req.LockPeriod)
	if err != nil {
		h.writeError(w, r, service.ErrInvalidLockPeriod)
		return
	}
	pos, err := h.staking.Stake(r.Context(), chi.URLParam(r, "subject"), req.Amount, lockPeriod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.publishTreasuryGauges(r)
	writeJSON(w, http.StatusCreated, pos)
}

type unstakeRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *Handler) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req unstakeRequest
	if !decode(w, r, &req) {
		return
	}
	returned, err := h.staking.Unstake(r.Context(), chi.URLParam(r, "subject"), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.publishTreasuryGauges(r)
	writeJSON(w, http.StatusOK, map[string]uint64{"returned": returned})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	actor := r.Header.Get(actorHeader)
	if err := h.security.Pause(r.Context(), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.SetPaused(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	actor := r.Header.Get(actorHeader)
	if err := h.security.Resume(r.Context(), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.SetPaused(false)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.security.AuditTrail())
}

// publishTreasuryGauges refreshes the treasury gauges after a balance change.
func (h *Handler) publishTreasuryGauges(r *http.Request) {
	if t, err := h.treasury.Snapshot(r.Context()); err == nil {
		h.metrics.SetRewardsPool(t.UserRewardsPool)
		h.metrics.SetTotalStaked(t.TotalStaked)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses. Unrecognized errors are
// internal.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidYieldAmount),
		errors.Is(err, service.ErrInvalidClaimAmount),
		errors.Is(err, service.ErrInvalidSlashAmount),
		errors.Is(err, service.ErrInvalidStakeAmount),
		errors.Is(err, service.ErrInvalidLockPeriod),
		errors.Is(err, service.ErrInvalidAchievementValue),
		errors.Is(err, service.ErrInvalidSteamID),
		errors.Is(err, service.ErrInvalidSessionTicket),
		errors.Is(err, service.ErrInvalidWallet),
		errors.Is(err, service.ErrInvalidOracleKey),
		errors.Is(err, service.ErrInvalidAttestation),
		errors.Is(err, service.ErrInvalidTimestamp):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrStaleVerification):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrPolicyViolation),
		errors.Is(err, service.ErrFraudDetected),
		errors.Is(err, service.ErrUserNotEligible),
		errors.Is(err, service.ErrSteamSessionRequired),
		errors.Is(err, service.ErrOAuthWalletRequired):
		return http.StatusForbidden
	case errors.Is(err, service.ErrOracleNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrTreasuryNotInitialized),
		errors.Is(err, service.ErrNotStaking):
		return http.StatusNotFound
	case errors.Is(err, service.ErrOracleAlreadyExists),
		errors.Is(err, service.ErrUserAlreadyRegistered),
		errors.Is(err, service.ErrAchievementAlreadyVerified),
		errors.Is(err, service.ErrTreasuryAlreadyInitialized),
		errors.Is(err, service.ErrAlreadyStaking),
		errors.Is(err, service.ErrAlreadyPaused),
		errors.Is(err, service.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientRewards),
		errors.Is(err, service.ErrInsufficientReserve),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrInsufficientStakedFunds),
		errors.Is(err, service.ErrInsufficientOracleStake),
		errors.Is(err, service.ErrOracleNotActive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrRateLimitExceeded),
		errors.Is(err, service.ErrClaimTooFrequent),
		errors.Is(err, service.ErrHarvestTooFrequent):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrProtocolPaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
