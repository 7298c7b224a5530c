package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// EntryAssignment pairs an entry round with the set being raced.
type EntryAssignment struct {
	Round *types.Round
	Set   *types.BackronymSet
}

// BackronymVoteAssignment pairs a vote round with the set and its entries.
type BackronymVoteAssignment struct {
	Round       *types.Round
	Set         *types.BackronymSet
	Entries     []*types.BackronymEntry
	Participant bool
}

// StartBackronymEntry joins (or creates) a backronym set and opens the entry
// round.
func (e *Engine) StartBackronymEntry(ctx context.Context, playerID string, mode types.BackronymMode) (*EntryAssignment, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameIR)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var out EntryAssignment
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		set, err := e.match.PickBackronymSetForEntry(tx, playerID, mode)
		if err != nil {
			return err
		}
		r, err := e.beginRound(tx, playerID, types.GameIR, types.RoundPrompt, e.desc[types.GameIR].Cost[types.RoundPrompt], now)
		if err != nil {
			return err
		}
		r.SetID = set.ID
		r.PromptText = set.Word
		if err := tx.InsertRound(r); err != nil {
			return err
		}
		if set.Mode == types.ModeRapid && set.TransitionsToVotingAt == nil {
			deadline := now.Add(time.Duration(e.cfg.Timing.IRRapidEntryTimerMinutes) * time.Minute)
			if _, err := tx.UpdateBackronymSetStatus(set.ID, types.SetOpen, types.SetOpen, &deadline, nil); err != nil {
				return err
			}
			set.TransitionsToVotingAt = &deadline
		}
		out = EntryAssignment{Round: r, Set: set}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("entry round %s started by %s on set %s (word=%s)",
		out.Round.ID, playerID, out.Set.ID, out.Set.Word)
	return &out, nil
}

// SubmitBackronymEntry records the player's words, one per letter of the set
// word. A full set moves to voting immediately.
func (e *Engine) SubmitBackronymEntry(ctx context.Context, playerID, roundID string, words []string) (*types.Round, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameIR)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var r *types.Round
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err = tx.GetRound(roundID)
		if err != nil {
			return err
		}
		if r != nil && r.PlayerID == playerID && r.Status == types.RoundSubmitted {
			return nil
		}
		if err := e.checkSubmittable(r, playerID, now); err != nil {
			return err
		}
		set, err := tx.GetBackronymSet(r.SetID)
		if err != nil {
			return err
		}
		if set == nil {
			return fmt.Errorf("set %s missing for round %s", r.SetID, r.ID)
		}
		if err := e.val.ValidateBackronymWords(words, set.Word); err != nil {
			return err
		}
		if err := tx.InsertBackronymEntry(&types.BackronymEntry{
			ID:        uuid.NewString(),
			SetID:     set.ID,
			PlayerID:  playerID,
			Words:     words,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		r.SubmittedPhrase = strings.Join(words, " ")
		r.SubmittedAt = &now
		r.Status = types.RoundSubmitted
		if err := tx.TransitionRound(r, types.RoundActive); err != nil {
			return err
		}
		if err := e.touchIfHuman(tx, playerID, set.ID, now); err != nil {
			return err
		}
		// The insert bumped entry_count; re-read and open voting when full.
		set, err = tx.GetBackronymSet(set.ID)
		if err != nil {
			return err
		}
		if set.EntryCount >= 5 {
			return e.openSetVoting(tx, set, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("entry round %s submitted by %s", r.ID, playerID)
	return r, nil
}

// StartBackronymVote assigns the player the oldest voting set they have not
// voted on. Participants vote free; outsiders pay the vote cost into the
// pool.
func (e *Engine) StartBackronymVote(ctx context.Context, playerID string) (*BackronymVoteAssignment, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameIR)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var out BackronymVoteAssignment
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		set, err := tx.FindVotableSet(playerID)
		if err != nil {
			return err
		}
		if set == nil {
			return fmt.Errorf("no voting set for %s: %w", playerID, types.ErrNoEligibleWork)
		}
		participant, err := tx.HasBackronymEntry(playerID, set.ID)
		if err != nil {
			return err
		}
		if participant && set.ParticipantVoteCount >= 5 {
			return fmt.Errorf("participant votes full on %s: %w", set.ID, types.ErrNoEligibleWork)
		}
		if !participant && set.NonParticipantVoteCount >= 5 {
			return fmt.Errorf("non-participant votes full on %s: %w", set.ID, types.ErrNoEligibleWork)
		}
		cost := 0
		if !participant {
			cost = e.desc[types.GameIR].Cost[types.RoundVote]
		}
		r, err := e.beginRound(tx, playerID, types.GameIR, types.RoundVote, cost, now)
		if err != nil {
			return err
		}
		r.SetID = set.ID
		r.PromptText = set.Word
		if err := tx.InsertRound(r); err != nil {
			return err
		}
		entries, err := tx.ListBackronymEntries(set.ID)
		if err != nil {
			return err
		}
		out = BackronymVoteAssignment{Round: r, Set: set, Entries: entries, Participant: participant}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("backronym vote round %s started by %s on set %s (participant=%v)",
		out.Round.ID, playerID, out.Set.ID, out.Participant)
	return &out, nil
}

// SubmitBackronymVote records the pick. Full vote counters finalize the set
// in the same transaction.
func (e *Engine) SubmitBackronymVote(ctx context.Context, playerID, roundID, entryID string) (*types.Round, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameIR)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var r *types.Round
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err = tx.GetRound(roundID)
		if err != nil {
			return err
		}
		if r != nil && r.PlayerID == playerID && r.Status == types.RoundSubmitted {
			return nil
		}
		if err := e.checkSubmittable(r, playerID, now); err != nil {
			return err
		}
		entries, err := tx.ListBackronymEntries(r.SetID)
		if err != nil {
			return err
		}
		var target *types.BackronymEntry
		for _, en := range entries {
			if en.ID == entryID {
				target = en
				break
			}
		}
		if target == nil {
			return fmt.Errorf("entry %s not in set %s", entryID, r.SetID)
		}
		if target.PlayerID == playerID {
			return fmt.Errorf("player %s cannot vote for their own entry", playerID)
		}
		participant, err := tx.HasBackronymEntry(playerID, r.SetID)
		if err != nil {
			return err
		}
		if err := tx.InsertBackronymVote(&types.BackronymVote{
			ID:          uuid.NewString(),
			SetID:       r.SetID,
			VoterID:     playerID,
			EntryID:     entryID,
			Participant: participant,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		r.ChosenEntryID = entryID
		r.SubmittedAt = &now
		r.Status = types.RoundSubmitted
		if err := tx.TransitionRound(r, types.RoundActive); err != nil {
			return err
		}
		if err := e.touchIfHuman(tx, playerID, r.SetID, now); err != nil {
			return err
		}
		set, err := tx.GetBackronymSet(r.SetID)
		if err != nil {
			return err
		}
		if set.ParticipantVoteCount >= 5 && set.NonParticipantVoteCount >= 5 {
			return e.finalizeBackronymSet(tx, set.ID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("backronym vote round %s submitted by %s (entry=%s)", r.ID, playerID, entryID)
	return r, nil
}

// OpenSetVoting is the sweeper's path for timer-driven open -> voting.
func (e *Engine) OpenSetVoting(ctx context.Context, setID string) error {
	ctx, lease, err := e.lockContent(ctx, "set:"+setID)
	if err != nil {
		return err
	}
	defer lease.Release()

	now := e.clk.Now()
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		set, err := tx.GetBackronymSet(setID)
		if err != nil || set == nil || set.Status != types.SetOpen {
			return err
		}
		if set.EntryCount == 0 {
			// Nothing was written; nothing to vote on. The set stays open
			// for the AI orchestrator to fill.
			return nil
		}
		return e.openSetVoting(tx, set, now)
	})
}

// openSetVoting performs the guarded open -> voting transition and arms the
// finalization timer.
func (e *Engine) openSetVoting(tx *store.Tx, set *types.BackronymSet, now time.Time) error {
	minutes := e.cfg.Timing.IRStandardVotingTimerMinutes
	if set.Mode == types.ModeRapid {
		minutes = e.cfg.Timing.IRRapidVotingTimerMinutes
	}
	deadline := now.Add(time.Duration(minutes) * time.Minute)
	ok, err := tx.UpdateBackronymSetStatus(set.ID, types.SetOpen, types.SetVoting, nil, &deadline)
	if err != nil {
		return err
	}
	if ok {
		logging.Rounds("set %s entered voting (finalizes by %s)", set.ID, deadline)
	}
	return nil
}

// FinalizeBackronymSet is the sweeper's entry point for voting -> finalized.
func (e *Engine) FinalizeBackronymSet(ctx context.Context, setID string) error {
	ctx, lease, err := e.lockContent(ctx, "set:"+setID)
	if err != nil {
		return err
	}
	defer lease.Release()

	now := e.clk.Now()
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		return e.finalizeBackronymSet(tx, setID, now)
	})
}

// finalizeBackronymSet splits the pool: the vault rake comes off the top,
// correct non-participant voters earn a fixed reward, and the remainder is
// distributed to entry authors pro-rata by votes received. Authors who never
// voted have their share diverted to their own vault. Idempotent through the
// guarded status transition.
func (e *Engine) finalizeBackronymSet(tx *store.Tx, setID string, now time.Time) error {
	set, err := tx.GetBackronymSet(setID)
	if err != nil {
		return err
	}
	if set == nil || set.Status == types.SetFinalized {
		return nil
	}
	ok, err := tx.UpdateBackronymSetStatus(setID, types.SetVoting, types.SetFinalized, nil, &now)
	if err != nil {
		return err
	}
	if !ok {
		return nil // someone else won the transition
	}

	entries, err := tx.ListBackronymEntries(setID)
	if err != nil {
		return err
	}
	votes, err := tx.ListBackronymVotes(setID)
	if err != nil {
		return err
	}

	entryCost := e.desc[types.GameIR].Cost[types.RoundPrompt]
	voteCost := e.desc[types.GameIR].Cost[types.RoundVote]
	pool := set.EntryCount*entryCost + set.NonParticipantVoteCount*voteCost

	totalVotes := 0
	for _, en := range entries {
		totalVotes += en.Votes
	}
	if totalVotes == 0 {
		// No votes landed; dissolve the pool back to its contributors.
		for _, en := range entries {
			if _, err := e.bank.Credit(tx, en.PlayerID, types.GameIR, entryCost, types.TxnRoundRefund, setID, now); err != nil {
				return err
			}
		}
		for _, v := range votes {
			if !v.Participant {
				if _, err := e.bank.Credit(tx, v.VoterID, types.GameIR, voteCost, types.TxnRoundRefund, setID, now); err != nil {
					return err
				}
			}
		}
		return e.completeSetRounds(tx, setID)
	}

	// Winner: most votes, earliest entry breaking ties.
	winner := entries[0]
	for _, en := range entries[1:] {
		if en.Votes > winner.Votes {
			winner = en
		}
	}

	reward := e.cfg.Payouts.IRVoteRewardCorrect
	correctOutsiders := 0
	voted := make(map[string]bool, len(votes))
	for _, v := range votes {
		voted[v.VoterID] = true
		correct := v.EntryID == winner.ID
		if err := tx.SetBackronymVoteCorrect(v.ID, correct); err != nil {
			return err
		}
		if correct && !v.Participant {
			correctOutsiders++
			if _, err := e.bank.Credit(tx, v.VoterID, types.GameIR, reward, types.TxnVoteReward, setID, now); err != nil {
				return err
			}
		}
	}

	rake := pool * e.cfg.Payouts.IRVaultRakePercent / 100
	creatorPool := pool - rake - correctOutsiders*reward
	if creatorPool < 0 {
		creatorPool = 0
	}
	for _, en := range entries {
		if en.Votes == 0 {
			continue
		}
		share := creatorPool * en.Votes / totalVotes
		vaultSlice := rake * en.Votes / totalVotes
		if share > 0 {
			if voted[en.PlayerID] {
				if _, err := e.bank.Credit(tx, en.PlayerID, types.GameIR, share, types.TxnPayout, setID, now); err != nil {
					return err
				}
			} else {
				// Authors who skipped voting forfeit the wallet share to
				// their own vault.
				if _, err := e.bank.CreditVault(tx, en.PlayerID, types.GameIR, share, types.TxnPayout, setID, now); err != nil {
					return err
				}
			}
		}
		if vaultSlice > 0 {
			if _, err := e.bank.CreditVault(tx, en.PlayerID, types.GameIR, vaultSlice, types.TxnVaultRake, setID, now); err != nil {
				return err
			}
		}
	}

	logging.Rounds("set %s finalized (pool=%d winner=%s rake=%d)", setID, pool, winner.PlayerID, rake)
	return e.completeSetRounds(tx, setID)
}

func (e *Engine) completeSetRounds(tx *store.Tx, setID string) error {
	rounds, err := tx.ListRoundsBySet(setID)
	if err != nil {
		return err
	}
	for _, r := range rounds {
		if r.Status != types.RoundSubmitted {
			continue
		}
		r.Status = types.RoundCompleted
		if err := tx.TransitionRound(r, types.RoundSubmitted); err != nil {
			return err
		}
	}
	return nil
}

// touchIfHuman bumps the set's stall clock for human activity only, so AI
// backfills do not hide a stalled set from the orchestrator.
func (e *Engine) touchIfHuman(tx *store.Tx, playerID, setID string, now time.Time) error {
	player, err := tx.GetPlayer(playerID)
	if err != nil || player == nil || player.IsAI() {
		return err
	}
	return tx.TouchSetHumanActivity(setID, now)
}
