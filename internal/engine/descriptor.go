package engine

import (
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Descriptor parameterizes the round engine per game: entry costs, TTLs and
// refund policy. The state machine itself is shared; everything game-specific
// lives here or in the per-game submit paths.
type Descriptor struct {
	Game types.GameType

	// Cost is the wallet debit taken at round start, per round type.
	Cost map[types.RoundType]int

	// TTL is the active window before the sweeper may expire the round.
	TTL map[types.RoundType]time.Duration

	// AbandonPenalty is withheld from the abandon refund.
	AbandonPenalty int

	// ExpiryRefundPercent of the entry cost returned when an active round
	// times out. Prompts refund nothing since the AI orchestrator may still
	// complete the work item.
	ExpiryRefundPercent map[types.RoundType]int
}

// Guess rounds have no configured timer; they end by strikes, coverage or
// abandonment, with this ceiling as a backstop.
const guessRoundTTL = 10 * time.Minute

// Descriptors builds the per-game parameter tables from configuration.
func Descriptors(cfg config.Config) map[types.GameType]Descriptor {
	promptTTL := time.Duration(cfg.Timing.PromptRoundSeconds) * time.Second
	copyTTL := time.Duration(cfg.Timing.CopyRoundSeconds) * time.Second
	voteTTL := time.Duration(cfg.Timing.VoteRoundSeconds) * time.Second

	return map[types.GameType]Descriptor{
		types.GameQF: {
			Game: types.GameQF,
			Cost: map[types.RoundType]int{
				types.RoundPrompt: cfg.Pricing.PromptCost,
				types.RoundCopy:   cfg.Pricing.CopyCostNormal,
				types.RoundVote:   cfg.Pricing.VoteCost,
			},
			TTL: map[types.RoundType]time.Duration{
				types.RoundPrompt: promptTTL,
				types.RoundCopy:   copyTTL,
				types.RoundVote:   voteTTL,
			},
			ExpiryRefundPercent: map[types.RoundType]int{
				types.RoundPrompt: 0,
				types.RoundCopy:   50,
				types.RoundVote:   50,
			},
		},
		types.GameIR: {
			Game: types.GameIR,
			Cost: map[types.RoundType]int{
				types.RoundPrompt: cfg.Pricing.IRBackronymEntryCost,
				types.RoundVote:   cfg.Pricing.IRVoteCost,
			},
			TTL: map[types.RoundType]time.Duration{
				types.RoundPrompt: promptTTL,
				types.RoundVote:   voteTTL,
			},
			ExpiryRefundPercent: map[types.RoundType]int{
				types.RoundPrompt: 0,
				types.RoundVote:   50,
			},
		},
		types.GameTL: {
			Game: types.GameTL,
			Cost: map[types.RoundType]int{
				types.RoundGuess: cfg.Pricing.TLEntryCost,
			},
			TTL: map[types.RoundType]time.Duration{
				types.RoundGuess: guessRoundTTL,
			},
			AbandonPenalty: cfg.Payouts.TLAbandonPenalty,
			ExpiryRefundPercent: map[types.RoundType]int{
				types.RoundGuess: 0,
			},
		},
	}
}
