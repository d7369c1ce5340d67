// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all protocol configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Treasury     TreasuryConfig     `mapstructure:"treasury"`
	Claims       ClaimConfig        `mapstructure:"claims"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	Verification VerificationConfig `mapstructure:"verification"`
	Achievements AchievementConfig  `mapstructure:"achievements"`
	Staking      StakingConfig      `mapstructure:"staking"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the audit
// journal. The protocol runs without a database when Enabled is false.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// TreasuryConfig holds harvest and rebalance policy.
type TreasuryConfig struct {
	Authority        string        `mapstructure:"authority"`
	UserSharePercent uint64        `mapstructure:"user_share_percent"`
	HarvestCooldown  time.Duration `mapstructure:"harvest_cooldown"`
}

// ClaimConfig holds claim bounds and rate-limit policy.
type ClaimConfig struct {
	MaxClaimAmount     uint64        `mapstructure:"max_claim_amount"`
	MaxClaimsPerWindow uint32        `mapstructure:"max_claims_per_window"`
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	MinInterval        time.Duration `mapstructure:"min_interval"`
	MaxSignatureAge    time.Duration `mapstructure:"max_signature_age"`
}

// OracleConfig holds oracle stake and reputation policy.
type OracleConfig struct {
	MinStake               uint64 `mapstructure:"min_stake"`
	InitialReputation      uint32 `mapstructure:"initial_reputation"`
	ReputationStep         uint32 `mapstructure:"reputation_step"`
	SuspensionThreshold    uint32 `mapstructure:"suspension_threshold"`
	ReinstatementThreshold uint32 `mapstructure:"reinstatement_threshold"`
}

// VerificationConfig holds identity verification policy.
type VerificationConfig struct {
	MaxVerificationAge  time.Duration `mapstructure:"max_verification_age"`
	MinLevel            uint8         `mapstructure:"min_level"`
	MinMultiFactorScore uint64        `mapstructure:"min_multi_factor_score"`
}

// AchievementConfig holds achievement reward policy.
type AchievementConfig struct {
	MinValue       uint64 `mapstructure:"min_value"`
	MaxValue       uint64 `mapstructure:"max_value"`
	RewardPerPoint uint64 `mapstructure:"reward_per_point"`
	FeeBps         uint64 `mapstructure:"fee_bps"`
}

// StakingConfig holds the time-weighted staking bonus tiers, expressed in
// basis points of the unstaked amount (100 = no bonus).
type StakingConfig struct {
	MinPeriod      time.Duration `mapstructure:"min_period"`
	MaxPeriod      time.Duration `mapstructure:"max_period"`
	BaseBonusBps   uint64        `mapstructure:"base_bonus_bps"`
	MediumBonusBps uint64        `mapstructure:"medium_bonus_bps"`
	LongBonusBps   uint64        `mapstructure:"long_bonus_bps"`
}

// SecurityConfig holds policy engine and audit log configuration.
type SecurityConfig struct {
	Owner           string `mapstructure:"owner"`
	MaxAuditEntries int    `mapstructure:"max_audit_entries"`
	AuditHashKey    string `mapstructure:"audit_hash_key"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. SERVER_ADDR, DATABASE_HOST, TREASURY_HARVEST_COOLDOWN.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Policy defaults follow the
// protocol's canonical constant set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rewards")
	v.SetDefault("database.name", "rewards")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("treasury.authority", "treasury-authority")
	v.SetDefault("treasury.user_share_percent", 50)
	v.SetDefault("treasury.harvest_cooldown", "1h")

	v.SetDefault("claims.max_claim_amount", uint64(10_000_000_000))
	v.SetDefault("claims.max_claims_per_window", 10)
	v.SetDefault("claims.window_duration", "1h")
	v.SetDefault("claims.min_interval", "5m")
	v.SetDefault("claims.max_signature_age", "5m")

	v.SetDefault("oracle.min_stake", uint64(1_000_000_000))
	v.SetDefault("oracle.initial_reputation", 100)
	v.SetDefault("oracle.reputation_step", 1)
	v.SetDefault("oracle.suspension_threshold", 50)
	v.SetDefault("oracle.reinstatement_threshold", 100)

	v.SetDefault("verification.max_verification_age", "5m")
	v.SetDefault("verification.min_level", 2)
	v.SetDefault("verification.min_multi_factor_score", 50)

	v.SetDefault("achievements.min_value", 100)
	v.SetDefault("achievements.max_value", 10_000)
	v.SetDefault("achievements.reward_per_point", 100)
	v.SetDefault("achievements.fee_bps", 10)

	v.SetDefault("staking.min_period", "24h")
	v.SetDefault("staking.max_period", "720h")
	v.SetDefault("staking.base_bonus_bps", 100)
	v.SetDefault("staking.medium_bonus_bps", 120)
	v.SetDefault("staking.long_bonus_bps", 150)

	v.SetDefault("security.owner", "protocol-owner")
	v.SetDefault("security.max_audit_entries", 10_000)
	v.SetDefault("security.audit_hash_key", "audit-hash-key")
}
