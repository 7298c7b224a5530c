package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Prompts that have waited this long in the copy queue are discounted to
// drain faster.
const copyDiscountAge = 10 * time.Minute

// CopyAssignment is what a copier gets to work from.
type CopyAssignment struct {
	Round    *types.Round
	Original string
}

// VoteAssignment pairs a vote round with the phraseset under vote.
type VoteAssignment struct {
	Round     *types.Round
	Phraseset *types.Phraseset
}

// StartPromptRound opens a prompt round for the player. The caller supplies
// the prompt text (seeded list or party generator).
func (e *Engine) StartPromptRound(ctx context.Context, playerID, promptText string) (*types.Round, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameQF)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var r *types.Round
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		player, err := tx.GetPlayer(playerID)
		if err != nil {
			return err
		}
		if player == nil {
			return fmt.Errorf("player %s not found", playerID)
		}
		limit := e.cfg.Abuse.MaxOutstandingQuips
		if player.IsGuest {
			limit = e.cfg.Abuse.GuestMaxOutstandingQuips
		}
		outstanding, err := tx.CountOutstandingPrompts(playerID)
		if err != nil {
			return err
		}
		if outstanding >= limit {
			return fmt.Errorf("player %s has %d outstanding prompts (limit %d)", playerID, outstanding, limit)
		}

		r, err = e.beginRound(tx, playerID, types.GameQF, types.RoundPrompt, e.desc[types.GameQF].Cost[types.RoundPrompt], now)
		if err != nil {
			return err
		}
		r.PromptText = promptText
		if err := e.linkSession(tx, r, types.PhasePrompt); err != nil {
			return err
		}
		return tx.InsertRound(r)
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("prompt round %s started by %s", r.ID, playerID)
	return r, nil
}

// SubmitQuip attaches the player's phrase to an active prompt round. An
// invalid phrase leaves the round active for a retry; a repeat submit
// returns the stored round unchanged.
func (e *Engine) SubmitQuip(ctx context.Context, playerID, roundID, phrase string) (*types.Round, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameQF)
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
			return nil // idempotent repeat
		}
		if err := e.checkSubmittable(r, playerID, now); err != nil {
			return err
		}
		if err := e.val.ValidatePromptPhrase(phrase, r.PromptText); err != nil {
			return err
		}
		r.SubmittedPhrase = phrase
		r.SubmittedAt = &now
		r.Status = types.RoundSubmitted
		return tx.TransitionRound(r, types.RoundActive)
	})
	if err != nil {
		return nil, err
	}

	e.match.EnqueuePrompt(r.ID)
	// Progress notification runs lock-free: the party controller takes its
	// own locks and may fan out into other players' rounds.
	lease.Release()
	if err := e.notifySubmitted(ctx, r); err != nil {
		return nil, err
	}
	logging.Rounds("prompt round %s submitted by %s", r.ID, playerID)
	return r, nil
}

// StartCopyRound assigns the player an eligible prompt to copy and bills the
// copy cost (discounted for prompts that have waited long).
func (e *Engine) StartCopyRound(ctx context.Context, playerID string) (*CopyAssignment, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameQF)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var out CopyAssignment
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		session, members, err := e.sessionContext(tx, playerID)
		if err != nil {
			return err
		}
		prompt, err := e.match.PickPromptForCopy(tx, playerID, session, members)
		if err != nil {
			return err
		}

		cost := e.cfg.Pricing.CopyCostNormal
		if now.Sub(prompt.CreatedAt) >= copyDiscountAge {
			cost = e.cfg.Pricing.CopyCostDiscount
		}
		r, err := e.beginRound(tx, playerID, types.GameQF, types.RoundCopy, cost, now)
		if err != nil {
			return err
		}
		r.PromptRoundID = prompt.ID
		r.PromptText = prompt.PromptText
		if ps, err := tx.GetPhrasesetByPromptRound(prompt.ID); err != nil {
			return err
		} else if ps != nil {
			r.PhrasesetID = ps.ID
		}
		if err := e.linkSession(tx, r, types.PhaseCopy); err != nil {
			return err
		}
		if err := tx.InsertRound(r); err != nil {
			return err
		}
		out = CopyAssignment{Round: r, Original: prompt.SubmittedPhrase}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("copy round %s started by %s on prompt %s (cost=%d)",
		out.Round.ID, playerID, out.Round.PromptRoundID, out.Round.Cost)
	return &out, nil
}

// SubmitCopy attaches the impostor phrase and rolls the work item forward:
// the first copy creates the phraseset, the second completes it and (outside
// parties) opens voting.
func (e *Engine) SubmitCopy(ctx context.Context, playerID, roundID, phrase string) (*types.Round, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameQF)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var (
		r          *types.Round
		ps         *types.Phraseset
		firstCopy  bool
		humanCopy  bool
		promptText string
		original   string
	)
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
		prompt, err := tx.GetRound(r.PromptRoundID)
		if err != nil {
			return err
		}
		if prompt == nil {
			return fmt.Errorf("prompt round %s missing for copy %s", r.PromptRoundID, r.ID)
		}
		ps, err = tx.GetPhrasesetByPromptRound(prompt.ID)
		if err != nil {
			return err
		}
		original = prompt.SubmittedPhrase
		promptText = prompt.PromptText
		otherCopy := ""
		if ps != nil {
			otherCopy = ps.CopyPhrase1
		}
		if err := e.val.ValidateCopy(phrase, original, otherCopy, promptText); err != nil {
			return err
		}

		if ps == nil {
			firstCopy = true
			ps = &types.Phraseset{
				ID:             uuid.NewString(),
				PromptRoundID:  prompt.ID,
				PromptText:     promptText,
				OriginalPhrase: original,
				CopyPhrase1:    phrase,
				Copy1PlayerID:  playerID,
				PromptPlayerID: prompt.PlayerID,
				Status:         types.PhrasesetOpen,
				PrizePool:      prompt.Cost + r.Cost,
				SessionID:      prompt.SessionID,
				CreatedAt:      now,
			}
			if err := tx.InsertPhraseset(ps); err != nil {
				return err
			}
		} else {
			ps.CopyPhrase2 = phrase
			ps.Copy2PlayerID = playerID
			ps.PrizePool += r.Cost
			if ps.SessionID == "" {
				// Complete triple outside a party goes straight to voting.
				ps.Status = types.PhrasesetVoting
				ps.AvailableForVoting = true
			}
			if err := tx.UpdatePhraseset(ps); err != nil {
				return err
			}
		}

		player, err := tx.GetPlayer(playerID)
		if err != nil {
			return err
		}
		humanCopy = player != nil && !player.IsAI()

		r.CopyPhrase = phrase
		r.PhrasesetID = ps.ID
		r.SubmittedAt = &now
		r.Status = types.RoundSubmitted
		return tx.TransitionRound(r, types.RoundActive)
	})
	if err != nil {
		return nil, err
	}

	if firstCopy {
		// The prompt still needs its second copy.
		e.match.EnqueuePrompt(r.PromptRoundID)
		if humanCopy && e.cache != nil {
			if err := e.cache.RevalidateForCopy(ctx, r.PromptRoundID, promptText, original, r.CopyPhrase); err != nil {
				logging.Cache("impostor cache revalidation for %s failed: %v", r.PromptRoundID, err)
			}
		}
	} else if ps != nil {
		e.match.RemovePrompt(r.PromptRoundID)
		if ps.SessionID == "" {
			e.match.EnqueuePhraseset(ps.ID)
		}
	}
	lease.Release()
	if err := e.notifySubmitted(ctx, r); err != nil {
		return nil, err
	}
	logging.Rounds("copy round %s submitted by %s (phraseset=%s)", r.ID, playerID, r.PhrasesetID)
	return r, nil
}

// StartVoteRound assigns the player an eligible phraseset and bills the vote
// cost. Locked-out guests are rejected before any work is consumed.
func (e *Engine) StartVoteRound(ctx context.Context, playerID string) (*VoteAssignment, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameQF)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var out VoteAssignment
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		gd, err := tx.GetGameData(playerID, types.GameQF)
		if err != nil {
			return err
		}
		if gd != nil && gd.VoteLockoutUntil != nil && now.Before(*gd.VoteLockoutUntil) {
			return fmt.Errorf("locked out until %s: %w", gd.VoteLockoutUntil, types.ErrVoteLockout)
		}
		session, _, err := e.sessionContext(tx, playerID)
		if err != nil {
			return err
		}
		ps, err := e.match.PickPhrasesetForVote(tx, playerID, session)
		if err != nil {
			return err
		}
		r, err := e.beginRound(tx, playerID, types.GameQF, types.RoundVote, e.desc[types.GameQF].Cost[types.RoundVote], now)
		if err != nil {
			return err
		}
		r.PhrasesetID = ps.ID
		r.PromptText = ps.PromptText
		if err := e.linkSession(tx, r, types.PhaseVote); err != nil {
			return err
		}
		if err := tx.InsertRound(r); err != nil {
			return err
		}
		out = VoteAssignment{Round: r, Phraseset: ps}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("vote round %s started by %s on phraseset %s", out.Round.ID, playerID, out.Phraseset.ID)
	return &out, nil
}

// SubmitVote records the player's pick: "original", "copy1" or "copy2". The
// vote cost joins the prize pool in the same transaction; correctness is
// scored at finalization.
func (e *Engine) SubmitVote(ctx context.Context, playerID, roundID, choice string) (*types.Round, error) {
	switch choice {
	case "original", "copy1", "copy2":
	default:
		return nil, fmt.Errorf("unknown vote choice %q", choice)
	}

	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameQF)
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
		if err := tx.InsertQFVote(uuid.NewString(), r.PhrasesetID, playerID, choice, now); err != nil {
			return err
		}
		if err := tx.AddPhrasesetVote(r.PhrasesetID, choice); err != nil {
			return err
		}
		if err := tx.AddToPrizePool(r.PhrasesetID, r.Cost); err != nil {
			return err
		}
		r.ChosenEntryID = choice
		r.SubmittedAt = &now
		r.Status = types.RoundSubmitted
		return tx.TransitionRound(r, types.RoundActive)
	})
	if err != nil {
		return nil, err
	}
	lease.Release()
	if err := e.notifySubmitted(ctx, r); err != nil {
		return nil, err
	}
	logging.Rounds("vote round %s submitted by %s (choice=%s)", r.ID, playerID, choice)
	return r, nil
}

// FinalizePhraseset distributes the prize pool: correct voters earn a fixed
// reward, writers split the remainder pro-rata by votes received with a
// per-player vault rake. Idempotent; the sweeper drives it.
func (e *Engine) FinalizePhraseset(ctx context.Context, phrasesetID string) error {
	ctx, lease, err := e.lockContent(ctx, "phraseset:"+phrasesetID)
	if err != nil {
		return err
	}
	defer lease.Release()

	now := e.clk.Now()
	var ps *types.Phraseset
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ps, err = tx.GetPhraseset(phrasesetID)
		if err != nil {
			return err
		}
		if ps == nil {
			return fmt.Errorf("phraseset %s not found", phrasesetID)
		}
		if ps.Status == types.PhrasesetFinalized {
			return nil
		}

		votes, err := tx.ListQFVotes(ps.ID)
		if err != nil {
			return err
		}
		reward := 2 * e.cfg.Pricing.VoteCost
		correct := 0
		for _, v := range votes {
			isCorrect := v.Choice == "original"
			if err := tx.SetVoteCorrect(v.ID, isCorrect); err != nil {
				return err
			}
			if isCorrect {
				correct++
				if _, err := e.bank.Credit(tx, v.VoterID, types.GameQF, reward, types.TxnVoteReward, ps.ID, now); err != nil {
					return err
				}
			}
			if err := e.scoreVoter(tx, v.VoterID, isCorrect, now); err != nil {
				return err
			}
		}

		total := ps.VoteCount()
		if total == 0 {
			// Nobody voted; contributors get their stakes back.
			if err := e.refundContributors(tx, ps, now); err != nil {
				return err
			}
		} else {
			writerPool := ps.PrizePool - correct*reward
			if writerPool < 0 {
				writerPool = 0
			}
			shares := []struct {
				playerID string
				votes    int
			}{
				{ps.PromptPlayerID, ps.VotesOriginal},
				{ps.Copy1PlayerID, ps.VotesCopy1},
				{ps.Copy2PlayerID, ps.VotesCopy2},
			}
			for _, s := range shares {
				if s.votes == 0 || s.playerID == "" {
					continue
				}
				gross := writerPool * s.votes / total
				if gross == 0 {
					continue
				}
				if _, _, err := e.bank.PayoutWithRake(tx, s.playerID, types.GameQF, gross, types.TxnPayout, ps.ID, now); err != nil {
					return err
				}
			}
		}

		ps.Status = types.PhrasesetFinalized
		ps.AvailableForVoting = false
		ps.FinalizedAt = &now
		if err := tx.UpdatePhraseset(ps); err != nil {
			return err
		}
		return e.completePhrasesetRounds(tx, ps)
	})
	if err != nil {
		return err
	}

	e.match.RemovePhraseset(phrasesetID)
	if ps != nil {
		e.match.RemovePrompt(ps.PromptRoundID)
	}
	logging.Rounds("phraseset %s finalized (pool=%d votes=%d)", phrasesetID, ps.PrizePool, ps.VoteCount())
	return nil
}

// scoreVoter maintains the consecutive-bad-vote lockout for guests.
func (e *Engine) scoreVoter(tx *store.Tx, voterID string, correct bool, now time.Time) error {
	player, err := tx.GetPlayer(voterID)
	if err != nil || player == nil || !player.IsGuest {
		return err
	}
	gd, err := tx.GetGameData(voterID, types.GameQF)
	if err != nil || gd == nil {
		return err
	}
	if correct {
		return tx.UpdateVoteLockout(voterID, types.GameQF, 0, nil)
	}
	bad := gd.ConsecutiveBadVotes + 1
	var until *time.Time
	if bad >= e.cfg.Abuse.GuestVoteLockoutThreshold {
		t := now.Add(time.Duration(e.cfg.Abuse.GuestVoteLockoutHours) * time.Hour)
		until = &t
	}
	return tx.UpdateVoteLockout(voterID, types.GameQF, bad, until)
}

func (e *Engine) refundContributors(tx *store.Tx, ps *types.Phraseset, now time.Time) error {
	rounds, err := tx.ListRoundsByPhraseset(ps.ID)
	if err != nil {
		return err
	}
	prompt, err := tx.GetRound(ps.PromptRoundID)
	if err != nil {
		return err
	}
	if prompt != nil {
		rounds = append(rounds, prompt)
	}
	for _, r := range rounds {
		if r.Type == types.RoundVote || r.Cost == 0 {
			continue
		}
		if _, err := e.bank.Credit(tx, r.PlayerID, types.GameQF, r.Cost, types.TxnRoundRefund, r.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// completePhrasesetRounds drives all linked submitted rounds to completed.
func (e *Engine) completePhrasesetRounds(tx *store.Tx, ps *types.Phraseset) error {
	rounds, err := tx.ListRoundsByPhraseset(ps.ID)
	if err != nil {
		return err
	}
	prompt, err := tx.GetRound(ps.PromptRoundID)
	if err != nil {
		return err
	}
	if prompt != nil {
		rounds = append(rounds, prompt)
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

// sessionContext loads the player's active party session (if any) and the
// member IDs the matcher excludes.
func (e *Engine) sessionContext(tx *store.Tx, playerID string) (*types.PartySession, []string, error) {
	session, err := tx.GetActiveSessionForPlayer(playerID)
	if err != nil || session == nil {
		return nil, nil, err
	}
	parts, err := tx.ListParticipants(session.ID)
	if err != nil {
		return nil, nil, err
	}
	members := make([]string, 0, len(parts))
	for _, p := range parts {
		members = append(members, p.PlayerID)
	}
	return session, members, nil
}

// linkSession tags the round with the player's party session when the
// session is mid-game in the matching phase.
func (e *Engine) linkSession(tx *store.Tx, r *types.Round, phase types.SessionPhase) error {
	session, err := tx.GetActiveSessionForPlayer(r.PlayerID)
	if err != nil || session == nil {
		return err
	}
	if session.Status == types.SessionInProgress && session.CurrentPhase == phase {
		r.SessionID = session.ID
	}
	return nil
}
