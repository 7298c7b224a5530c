package party

import (
	"context"
	"sort"

	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Results tallies the finished match: per-player money flow, writing and
// voting stats, awards and rankings.
func (s *Service) Results(ctx context.Context, sessionID string) (*types.SessionResults, error) {
	var res *types.SessionResults
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return types.ErrSessionNotFound
		}
		participants, err := tx.ListParticipants(sessionID)
		if err != nil {
			return err
		}
		byPlayer := make(map[string]*types.ParticipantResult, len(participants))
		var rankings []*types.ParticipantResult
		for _, p := range participants {
			player, err := tx.GetPlayer(p.PlayerID)
			if err != nil {
				return err
			}
			r := &types.ParticipantResult{PlayerID: p.PlayerID}
			if player != nil {
				r.Username = player.Username
			}
			byPlayer[p.PlayerID] = r
			rankings = append(rankings, r)
		}

		if err := s.tallyMoney(tx, sessionID, byPlayer); err != nil {
			return err
		}
		if err := s.tallyVotes(tx, sessionID, byPlayer); err != nil {
			return err
		}

		for _, r := range rankings {
			r.Net = r.Earned - r.Spent
		}
		sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].Net > rankings[j].Net })
		for i, r := range rankings {
			r.Rank = i + 1
		}

		res = &types.SessionResults{SessionID: sessionID, Rankings: rankings}
		for _, r := range rankings {
			if best := byPlayer[res.BestWriter]; res.BestWriter == "" || r.VotesOnOriginals > best.VotesOnOriginals {
				if r.VotesOnOriginals > 0 {
					res.BestWriter = r.PlayerID
				}
			}
			if top := byPlayer[res.TopImpostor]; res.TopImpostor == "" || r.VotesFooled > top.VotesFooled {
				if r.VotesFooled > 0 {
					res.TopImpostor = r.PlayerID
				}
			}
			if r.VotesCast > 0 {
				if sharp := byPlayer[res.SharpestVoter]; res.SharpestVoter == "" || r.Accuracy() > sharp.Accuracy() {
					res.SharpestVoter = r.PlayerID
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// tallyMoney sums the ledger rows referencing the session's rounds and
// phrasesets. Vault rows are excluded: the results screen shows spendable
// money.
func (s *Service) tallyMoney(tx *store.Tx, sessionID string, byPlayer map[string]*types.ParticipantResult) error {
	rounds, err := tx.ListSessionRounds(sessionID)
	if err != nil {
		return err
	}
	sets, err := tx.ListSessionPhrasesets(sessionID)
	if err != nil {
		return err
	}
	refs := make([]string, 0, len(rounds)+len(sets))
	for _, r := range rounds {
		refs = append(refs, r.ID)
	}
	for _, ps := range sets {
		refs = append(refs, ps.ID)
	}
	if len(refs) == 0 {
		return nil
	}
	txns, err := tx.ListTransactionsByRefs(refs)
	if err != nil {
		return err
	}
	for _, t := range txns {
		r, ok := byPlayer[t.PlayerID]
		if !ok || t.Vault {
			continue
		}
		if t.Amount < 0 {
			r.Spent += -t.Amount
		} else {
			r.Earned += t.Amount
		}
	}
	return nil
}

// tallyVotes walks each phraseset's votes: originals credit the prompt
// author, fooled votes credit the copier, and every vote feeds the voter's
// accuracy.
func (s *Service) tallyVotes(tx *store.Tx, sessionID string, byPlayer map[string]*types.ParticipantResult) error {
	sets, err := tx.ListSessionPhrasesets(sessionID)
	if err != nil {
		return err
	}
	for _, ps := range sets {
		votes, err := tx.ListQFVotes(ps.ID)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if voter, ok := byPlayer[v.VoterID]; ok {
				voter.VotesCast++
				if v.Correct != nil && *v.Correct {
					voter.VotesCorrect++
				}
			}
			var credited string
			switch v.Choice {
			case "original":
				if r, ok := byPlayer[ps.PromptPlayerID]; ok {
					r.VotesOnOriginals++
				}
				continue
			case "copy1":
				credited = ps.Copy1PlayerID
			case "copy2":
				credited = ps.Copy2PlayerID
			}
			if r, ok := byPlayer[credited]; ok {
				r.VotesFooled++
			}
		}
	}
	return nil
}
