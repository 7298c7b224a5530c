// Package config loads coordinator configuration from YAML with
// environment-variable overrides. DefaultConfig returns the documented
// defaults; Load merges a file (if present) over them.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all coordinator configuration.
type Config struct {
	// Data directory for the SQLite database and log files
	DataDir string `yaml:"data_dir"`

	Economy     EconomyConfig          `yaml:"economy"`
	Pricing     PricingConfig          `yaml:"pricing"`
	Payouts     PayoutConfig           `yaml:"payouts"`
	Timing      TimingConfig           `yaml:"timing"`
	VoteFinal   VoteFinalizationConfig `yaml:"vote_finalization"`
	AI          AIConfig               `yaml:"ai"`
	Concurrency ConcurrencyConfig      `yaml:"concurrency"`
	TL          TLConfig               `yaml:"tl"`
	Abuse       AbuseConfig            `yaml:"abuse"`
	LLM         LLMConfig              `yaml:"llm"`
	Embedding   EmbeddingConfig        `yaml:"embedding"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// EconomyConfig sets initial balances and daily bonuses per game.
type EconomyConfig struct {
	QFStartingWallet   int `yaml:"qf_starting_wallet"`
	IRInitialBalance   int `yaml:"ir_initial_balance"`
	TLStartingBalance  int `yaml:"tl_starting_balance"`
	DailyBonusAmount   int `yaml:"daily_bonus_amount"`
	IRDailyBonusAmount int `yaml:"ir_daily_bonus_amount"`
	TLDailyBonusAmount int `yaml:"tl_daily_bonus_amount"`
}

// PricingConfig sets round entry costs.
type PricingConfig struct {
	PromptCost          int `yaml:"prompt_cost"`
	CopyCostNormal      int `yaml:"copy_cost_normal"`
	CopyCostDiscount    int `yaml:"copy_cost_discount"`
	VoteCost            int `yaml:"vote_cost"`
	HintCost            int `yaml:"hint_cost"`
	IRBackronymEntryCost int `yaml:"ir_backronym_entry_cost"`
	IRVoteCost          int `yaml:"ir_vote_cost"`
	TLEntryCost         int `yaml:"tl_entry_cost"`
}

// PayoutConfig sets prize pools and rake percentages.
type PayoutConfig struct {
	PrizePoolBase       int     `yaml:"prize_pool_base"`
	IRVoteRewardCorrect int     `yaml:"ir_vote_reward_correct"`
	TLMaxPayout         int     `yaml:"tl_max_payout"`
	TLPayoutExponent    float64 `yaml:"tl_payout_exponent"`
	TLVaultRakePercent  int     `yaml:"tl_vault_rake_percent"`
	IRVaultRakePercent  int     `yaml:"ir_vault_rake_percent"`
	QFVaultRakePercent  int     `yaml:"qf_vault_rake_percent"`
	// Rake applies only to the payout portion above this threshold.
	VaultRakeThreshold int `yaml:"vault_rake_threshold"`
	// TL abandonment penalty withheld from the refund.
	TLAbandonPenalty int `yaml:"tl_abandon_penalty"`
}

// TimingConfig sets round TTLs and IR timers.
type TimingConfig struct {
	PromptRoundSeconds         int `yaml:"prompt_round_seconds"`
	CopyRoundSeconds           int `yaml:"copy_round_seconds"`
	VoteRoundSeconds           int `yaml:"vote_round_seconds"`
	GracePeriodSeconds         int `yaml:"grace_period_seconds"`
	IRRapidEntryTimerMinutes   int `yaml:"ir_rapid_entry_timer_minutes"`
	IRRapidVotingTimerMinutes  int `yaml:"ir_rapid_voting_timer_minutes"`
	IRStandardVotingTimerMinutes int `yaml:"ir_standard_voting_timer_minutes"`
	// Backronym words are not reused within this window.
	IRWordCooldownMinutes int `yaml:"ir_word_cooldown_minutes"`
}

// VoteFinalizationConfig sets QF phraseset finalization thresholds.
type VoteFinalizationConfig struct {
	VoteMaxVotes             int `yaml:"vote_max_votes"`
	VoteMinimumThreshold     int `yaml:"vote_minimum_threshold"`
	VoteMinimumWindowMinutes int `yaml:"vote_minimum_window_minutes"`
	VoteClosingThreshold     int `yaml:"vote_closing_threshold"`
	VoteClosingWindowMinutes int `yaml:"vote_closing_window_minutes"`
}

// AIConfig tunes the backup orchestrator.
type AIConfig struct {
	BackupDelayMinutes      int `yaml:"ai_backup_delay_minutes"`
	BackupBatchSize         int `yaml:"ai_backup_batch_size"`
	BackupSleepMinutes      int `yaml:"ai_backup_sleep_minutes"`
	StaleThresholdDays      int `yaml:"ai_stale_threshold_days"`
	StaleCheckIntervalHours int `yaml:"ai_stale_check_interval_hours"`
	TimeoutSeconds          int `yaml:"ai_timeout_seconds"`
}

// ConcurrencyConfig tunes lock acquisition and retries.
type ConcurrencyConfig struct {
	RoundLockTimeoutSeconds int `yaml:"round_lock_timeout_seconds"`
	CopyRoundMaxAttempts    int `yaml:"copy_round_max_attempts"`
}

// TLConfig holds the matching thresholds.
type TLConfig struct {
	MatchThreshold            float64 `yaml:"tl_match_threshold"`
	ClusterJoinThreshold      float64 `yaml:"tl_cluster_join_threshold"`
	ClusterDuplicateThreshold float64 `yaml:"tl_cluster_duplicate_threshold"`
	TopicThreshold            float64 `yaml:"tl_topic_threshold"`
	SelfSimilarityThreshold   float64 `yaml:"tl_self_similarity_threshold"`
	ActiveCorpusCap           int     `yaml:"tl_active_corpus_cap"`
	CoverageFinalizeThreshold float64 `yaml:"tl_coverage_finalize_threshold"`
	MaxStrikes                int     `yaml:"tl_max_strikes"`
}

// AbuseConfig holds anti-abuse limits.
type AbuseConfig struct {
	MaxOutstandingQuips        int `yaml:"max_outstanding_quips"`
	GuestMaxOutstandingQuips   int `yaml:"guest_max_outstanding_quips"`
	GuestVoteLockoutThreshold  int `yaml:"guest_vote_lockout_threshold"`
	GuestVoteLockoutHours      int `yaml:"guest_vote_lockout_hours"`
	AbandonedPromptCooldownHours int `yaml:"abandoned_prompt_cooldown_hours"`
}

// LLMConfig configures the phrase-generation provider.
type LLMConfig struct {
	Provider     string `yaml:"provider"` // openai, gemini, none
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	// Static CSV corpus consulted before the LLM.
	CorpusPath string `yaml:"corpus_path"`
}

// EmbeddingConfig configures the TL embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai or mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// LoggingConfig mirrors logging.Settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DataDir: ".quipd",
		Economy: EconomyConfig{
			QFStartingWallet:   1000,
			IRInitialBalance:   1000,
			TLStartingBalance:  500,
			DailyBonusAmount:   100,
			IRDailyBonusAmount: 100,
			TLDailyBonusAmount: 50,
		},
		Pricing: PricingConfig{
			PromptCost:           100,
			CopyCostNormal:       90,
			CopyCostDiscount:     50,
			VoteCost:             10,
			HintCost:             20,
			IRBackronymEntryCost: 100,
			IRVoteCost:           10,
			TLEntryCost:          100,
		},
		Payouts: PayoutConfig{
			PrizePoolBase:       100,
			IRVoteRewardCorrect: 20,
			TLMaxPayout:         300,
			TLPayoutExponent:    1.5,
			TLVaultRakePercent:  30,
			IRVaultRakePercent:  30,
			QFVaultRakePercent:  30,
			VaultRakeThreshold:  100,
			TLAbandonPenalty:    5,
		},
		Timing: TimingConfig{
			PromptRoundSeconds:           180,
			CopyRoundSeconds:             180,
			VoteRoundSeconds:             60,
			GracePeriodSeconds:           5,
			IRRapidEntryTimerMinutes:     5,
			IRRapidVotingTimerMinutes:    5,
			IRStandardVotingTimerMinutes: 60,
			IRWordCooldownMinutes:        30,
		},
		VoteFinal: VoteFinalizationConfig{
			VoteMaxVotes:             10,
			VoteMinimumThreshold:     3,
			VoteMinimumWindowMinutes: 60,
			VoteClosingThreshold:     7,
			VoteClosingWindowMinutes: 10,
		},
		AI: AIConfig{
			BackupDelayMinutes:      10,
			BackupBatchSize:         5,
			BackupSleepMinutes:      5,
			StaleThresholdDays:      30,
			StaleCheckIntervalHours: 24,
			TimeoutSeconds:          30,
		},
		Concurrency: ConcurrencyConfig{
			RoundLockTimeoutSeconds: 10,
			CopyRoundMaxAttempts:    3,
		},
		TL: TLConfig{
			MatchThreshold:            0.55,
			ClusterJoinThreshold:      0.75,
			ClusterDuplicateThreshold: 0.90,
			TopicThreshold:            0.40,
			SelfSimilarityThreshold:   0.80,
			ActiveCorpusCap:           1000,
			CoverageFinalizeThreshold: 0.95,
			MaxStrikes:                3,
		},
		Abuse: AbuseConfig{
			MaxOutstandingQuips:          10,
			GuestMaxOutstandingQuips:     3,
			GuestVoteLockoutThreshold:    5,
			GuestVoteLockoutHours:        24,
			AbandonedPromptCooldownHours: 24,
		},
		LLM: LLMConfig{
			Provider:       "none",
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 30,
		},
		Embedding: EmbeddingConfig{
			Provider: "mock",
			Model:    "gemini-embedding-001",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (if it exists) over the defaults and
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override secrets and the
// data dir without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUIPD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("QUIPD_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("QUIPD_OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("QUIPD_GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("QUIPD_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("QUIPD_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.DebugMode = b
		}
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini", "none":
	default:
		return fmt.Errorf("unknown llm provider %q (use openai, gemini or none)", c.LLM.Provider)
	}
	if c.TL.MatchThreshold <= 0 || c.TL.MatchThreshold >= 1 {
		return fmt.Errorf("tl_match_threshold must be in (0,1), got %v", c.TL.MatchThreshold)
	}
	if c.TL.ActiveCorpusCap < 1 {
		return fmt.Errorf("tl_active_corpus_cap must be >= 1")
	}
	if c.Timing.GracePeriodSeconds < 0 {
		return fmt.Errorf("grace_period_seconds must be >= 0")
	}
	return nil
}
