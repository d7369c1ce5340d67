// Package model defines the data model for the gaming rewards protocol.
package model

// Treasury holds the aggregate balances of the shared reward treasury.
// Invariant: UserRewardsPool + TreasuryReserve <= TotalBalance, and
// TotalDistributed never decreases.
type Treasury struct {
	Authority        string `json:"authority"`
	TotalBalance     uint64 `json:"total_balance"`
	UserRewardsPool  uint64 `json:"user_rewards_pool"`
	TreasuryReserve  uint64 `json:"treasury_reserve"`
	TotalDistributed uint64 `json:"total_distributed"`
	TotalFees        uint64 `json:"total_fees"`
	TotalStaked      uint64 `json:"total_staked"`
	ActiveStakers    uint32 `json:"active_stakers"`
	LastHarvestTime  int64  `json:"last_harvest_time"`
}

// OracleStatus is the lifecycle status of an attesting oracle.
type OracleStatus string

const (
	OracleActive    OracleStatus = "active"
	OracleSuspended OracleStatus = "suspended"
	OracleSlashed   OracleStatus = "slashed"
	OracleInactive  OracleStatus = "inactive"
)

// OracleAccount tracks stake, reputation and verification history for one
// attestor. Accounts are never deleted; history is preserved for audit.
type OracleAccount struct {
	ID                      string       `json:"id"`
	PublicKey               []byte       `json:"public_key"`
	Stake                   uint64       `json:"stake"`
	Reputation              uint32       `json:"reputation"`
	SuccessfulVerifications uint32       `json:"successful_verifications"`
	FailedVerifications     uint32       `json:"failed_verifications"`
	Status                  OracleStatus `json:"status"`
	SlashCount              uint32       `json:"slash_count"`
	LastSlashTime           int64        `json:"last_slash_time"`
	LastActivity            int64        `json:"last_activity"`
}

// Attestation is a signed oracle claim appended to a verification profile.
// Proof validity itself is delegated to an external verifier.
type Attestation struct {
	ID           string `json:"id"`
	Issuer       string `json:"issuer"`
	Proof        []byte `json:"proof"`
	PublicInputs []byte `json:"public_inputs"`
	Timestamp    int64  `json:"timestamp"`
}

// VerificationProfile accumulates identity trust for one user.
// FraudFlag set forces every trust field false and Level 0, permanently.
type VerificationProfile struct {
	Subject            string        `json:"subject"`
	SteamID            uint64        `json:"steam_id"`
	WalletKey          []byte        `json:"wallet_key"`
	Level              uint8         `json:"verification_level"`
	SteamSessionValid  bool          `json:"steam_session_valid"`
	WalletLinked       bool          `json:"wallet_linked"`
	Attestations       []Attestation `json:"attestations,omitempty"`
	MultiFactorScore   uint64        `json:"multi_factor_score"`
	FraudFlag          bool          `json:"fraud_flag"`
	LastVerification   int64         `json:"last_verification"`
	TotalVerifications uint64        `json:"total_verifications"`
}

// AchievementStatus is the verification state of an achievement record.
type AchievementStatus string

const (
	AchievementPending  AchievementStatus = "pending"
	AchievementVerified AchievementStatus = "verified"
	AchievementRejected AchievementStatus = "rejected"
	AchievementExpired  AchievementStatus = "expired"
)

// AchievementRecord is one oracle-attested gaming achievement. An
// achievement ID reaches Verified at most once per user.
type AchievementRecord struct {
	ID            string            `json:"id"`
	AchievementID string            `json:"achievement_id"`
	Subject       string            `json:"subject"`
	Oracle        string            `json:"oracle"`
	Value         uint64            `json:"value"`
	Status        AchievementStatus `json:"status"`
	RewardAmount  uint64            `json:"reward_amount"`
	VerifiedAt    int64             `json:"verified_at"`
}

// UserRewardAccount tracks claimed rewards, the claim rate-limit window and
// the user's staking state. AvailableBalance is the spendable portion of
// what the user has claimed or earned; staking moves value out of it.
type UserRewardAccount struct {
	Subject          string `json:"subject"`
	TotalClaimed     uint64 `json:"total_claimed"`
	TotalEarned      uint64 `json:"total_earned"`
	AvailableBalance uint64 `json:"available_balance"`
	LastClaimTime    int64  `json:"last_claim_time"`
	ClaimsInWindow   uint32 `json:"claims_in_window"`
	WindowStart      int64  `json:"window_start"`
	IsStaking        bool   `json:"is_staking"`
	StakedAmount     uint64 `json:"staked_amount"`
	StakingStart     int64  `json:"staking_start"`
}

// StakingPosition is one lock of claimed rewards. Amount > 0 while active;
// the position becomes inactive exactly once, at full unlock.
type StakingPosition struct {
	Subject       string `json:"subject"`
	Amount        uint64 `json:"amount"`
	LockPeriod    int64  `json:"lock_period"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time"`
	RewardsEarned uint64 `json:"rewards_earned"`
	Active        bool   `json:"active"`
}

// SecurityLevel classifies how sensitive an operation is.
type SecurityLevel int

const (
	SecurityLow SecurityLevel = iota
	SecurityMedium
	SecurityHigh
	SecurityCritical
	SecurityMaximum
)

// String implements fmt.Stringer for log and audit output.
func (l SecurityLevel) String() string {
	switch l {
	case SecurityLow:
		return "low"
	case SecurityMedium:
		return "medium"
	case SecurityHigh:
		return "high"
	case SecurityCritical:
		return "critical"
	case SecurityMaximum:
		return "maximum"
	}
	return "unknown"
}

// VerificationType is a requirement an operation's policy may impose.
type VerificationType int

const (
	VerifyOracle VerificationType = iota
	VerifyMultiSignature
	VerifyTimeLock
	VerifyStake
	VerifyReputation
)

// Operation is the closed set of boundary operations governed by security
// policy. The policy table maps every Operation to a static policy; an
// Operation outside this set is a programmer error.
type Operation int

const (
	OpInitializeTreasury Operation = iota
	OpHarvestRebalance
	OpClaimReward
	OpSlashOracle
	OpRegisterOracle
	OpRegisterUser
	OpVerifySession
	OpVerifyWallet
	OpAddAttestation
	OpVerifyMultiFactor
	OpVerifyAchievement
	OpStakeRewards
	OpUnstakeRewards
	OpEmergencyPause
	OpEmergencyResume
)

var operationNames = map[Operation]string{
	OpInitializeTreasury: "initialize_treasury",
	OpHarvestRebalance:   "harvest_rebalance",
	OpClaimReward:        "claim_reward",
	OpSlashOracle:        "slash_oracle",
	OpRegisterOracle:     "register_oracle",
	OpRegisterUser:       "register_user",
	OpVerifySession:      "verify_session",
	OpVerifyWallet:       "verify_wallet",
	OpAddAttestation:     "add_attestation",
	OpVerifyMultiFactor:  "verify_multi_factor",
	OpVerifyAchievement:  "verify_achievement",
	OpStakeRewards:       "stake_rewards",
	OpUnstakeRewards:     "unstake_rewards",
	OpEmergencyPause:     "emergency_pause",
	OpEmergencyResume:    "emergency_resume",
}

// String implements fmt.Stringer for log, audit and metric labels.
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "unknown"
}

// AuditEntry is one record in the append-only, size-bounded audit log.
// Parameters are stored as a keyed hash, never raw.
type AuditEntry struct {
	Timestamp  int64         `json:"timestamp"`
	Operation  Operation     `json:"operation"`
	Actor      string        `json:"actor"`
	ParamsHash [32]byte      `json:"-"`
	Level      SecurityLevel `json:"security_level"`
	Verified   bool          `json:"verified"`
}
