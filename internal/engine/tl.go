package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/cluster"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// GuessResult reports the outcome of one guess.
type GuessResult struct {
	Matched    bool
	ClusterID  string
	Similarity float64
	Coverage   float64
	Strikes    int

	Finalized    bool
	GrossPayout  int
	WalletCredit int
	VaultCredit  int
}

// StartGuessRound freezes a snapshot of the prompt's active corpus and opens
// the guess round.
func (e *Engine) StartGuessRound(ctx context.Context, playerID, promptID string) (*types.Round, error) {
	if e.tl == nil {
		return nil, fmt.Errorf("guess rounds not configured")
	}
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameTL)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var r *types.Round
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		prompt, err := tx.GetTLPrompt(promptID)
		if err != nil {
			return err
		}
		if prompt == nil || !prompt.Active {
			return fmt.Errorf("prompt %s not active: %w", promptID, types.ErrNoEligibleWork)
		}
		answers, err := tx.ListActiveAnswers(promptID)
		if err != nil {
			return err
		}
		if len(answers) == 0 {
			return fmt.Errorf("prompt %s has an empty corpus: %w", promptID, types.ErrNoEligibleWork)
		}

		r, err = e.beginRound(tx, playerID, types.GameTL, types.RoundGuess, e.desc[types.GameTL].Cost[types.RoundGuess], now)
		if err != nil {
			return err
		}
		r.PromptText = prompt.Text
		if err := tx.InsertRound(r); err != nil {
			return err
		}

		var (
			answerIDs []string
			weight    float64
			seen      = map[string]bool{}
			clusters  []string
		)
		for _, a := range answers {
			answerIDs = append(answerIDs, a.ID)
			weight += a.Weight
			if !seen[a.ClusterID] {
				seen[a.ClusterID] = true
				clusters = append(clusters, a.ClusterID)
			}
			if err := tx.BumpAnswerStats(a.ID, 1, 0); err != nil {
				return err
			}
		}
		return tx.InsertTLRound(&types.TLRound{
			RoundID:            r.ID,
			PromptID:           promptID,
			SnapshotAnswerIDs:  answerIDs,
			SnapshotClusterIDs: clusters,
			SnapshotWeight:     weight,
		})
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("guess round %s started by %s on prompt %s", r.ID, playerID, promptID)
	return r, nil
}

// SubmitGuess matches one guess against the frozen snapshot. Near-repeats of
// earlier guesses are rejected without a strike; a miss costs a strike. The
// round finalizes at three strikes or 95% coverage.
func (e *Engine) SubmitGuess(ctx context.Context, playerID, roundID, text string) (*GuessResult, error) {
	if e.tl == nil {
		return nil, fmt.Errorf("guess rounds not configured")
	}
	ctx, lease, err := e.lockPlayer(ctx, playerID, types.GameTL)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	now := e.clk.Now()
	var res GuessResult
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err := tx.GetRound(roundID)
		if err != nil {
			return err
		}
		if err := e.checkSubmittable(r, playerID, now); err != nil {
			return err
		}
		tlr, err := tx.GetTLRound(roundID)
		if err != nil {
			return err
		}
		if tlr == nil {
			return fmt.Errorf("guess state missing for round %s", roundID)
		}
		if err := e.val.Validate(text); err != nil {
			return err
		}

		emb, err := e.tl.EmbedCached(ctx, tx, text, now)
		if err != nil {
			return err
		}
		prior, err := tx.ListGuessEmbeddings(roundID)
		if err != nil {
			return err
		}
		for _, p := range prior {
			sim, err := cluster.ClampedCosine(emb, p)
			if err != nil {
				return err
			}
			if sim >= e.cfg.TL.SelfSimilarityThreshold {
				return &types.InvalidPhraseError{Reason: "too similar to an earlier guess"}
			}
		}

		snapshot := make([]*types.Cluster, 0, len(tlr.SnapshotClusterIDs))
		for _, id := range tlr.SnapshotClusterIDs {
			c, err := tx.GetCluster(id)
			if err != nil {
				return err
			}
			if c != nil {
				snapshot = append(snapshot, c)
			}
		}
		clusterID, sim, matched := e.tl.MatchSnapshot(emb, snapshot)
		if err := tx.InsertGuess(uuid.NewString(), roundID, text, emb, matched, now); err != nil {
			return err
		}

		answers, err := tx.ListTLAnswersByIDs(tlr.SnapshotAnswerIDs)
		if err != nil {
			return err
		}
		if matched {
			if !contains(tlr.MatchedClusters, clusterID) {
				tlr.MatchedClusters = append(tlr.MatchedClusters, clusterID)
			}
			for _, a := range answers {
				if a.ClusterID == clusterID {
					if err := tx.BumpAnswerStats(a.ID, 0, 1); err != nil {
						return err
					}
				}
			}
		} else {
			tlr.Strikes++
		}

		// On-topic guesses grow the corpus for future rounds.
		if matched || e.tl.OnTopic(emb, snapshot) {
			if _, _, err := e.tl.Assign(tx, tlr.PromptID, text, emb, now); err != nil {
				return err
			}
			if _, err := e.tl.PruneCorpus(tx, tlr.PromptID); err != nil {
				return err
			}
		}

		coverage := snapshotCoverage(tlr, answers)
		res = GuessResult{
			Matched:    matched,
			ClusterID:  clusterID,
			Similarity: sim,
			Coverage:   coverage,
			Strikes:    tlr.Strikes,
		}
		if tlr.Strikes >= e.cfg.TL.MaxStrikes || coverage >= e.cfg.TL.CoverageFinalizeThreshold {
			wallet, vault, gross, err := e.finalizeGuessRound(tx, r, tlr, coverage, now)
			if err != nil {
				return err
			}
			res.Finalized = true
			res.GrossPayout = gross
			res.WalletCredit = wallet
			res.VaultCredit = vault
			return nil
		}
		return tx.UpdateTLRound(tlr)
	})
	if err != nil {
		return nil, err
	}
	logging.Rounds("guess on round %s: matched=%v coverage=%.3f strikes=%d finalized=%v",
		roundID, res.Matched, res.Coverage, res.Strikes, res.Finalized)
	return &res, nil
}

// timeOutGuessRound finalizes a timed-out guess round at its current
// coverage, so earned progress pays out instead of evaporating.
func (e *Engine) timeOutGuessRound(tx *store.Tx, r *types.Round, now time.Time) error {
	tlr, err := tx.GetTLRound(r.ID)
	if err != nil {
		return err
	}
	if tlr == nil || tlr.FinalizedAt != nil {
		return nil
	}
	answers, err := tx.ListTLAnswersByIDs(tlr.SnapshotAnswerIDs)
	if err != nil {
		return err
	}
	_, _, _, err = e.finalizeGuessRound(tx, r, tlr, snapshotCoverage(tlr, answers), now)
	return err
}

// finalizeGuessRound computes the coverage payout and completes the round.
// gross = round(max_payout * coverage^exponent), capped; the rake splits the
// excess above the threshold into the player's vault.
func (e *Engine) finalizeGuessRound(tx *store.Tx, r *types.Round, tlr *types.TLRound, coverage float64, now time.Time) (wallet, vault, gross int, err error) {
	gross = grossPayout(coverage, e.cfg.Payouts.TLMaxPayout, e.cfg.Payouts.TLPayoutExponent)
	tlr.FinalCoverage = coverage
	tlr.GrossPayout = gross
	tlr.FinalizedAt = &now
	if err = tx.UpdateTLRound(tlr); err != nil {
		return 0, 0, 0, err
	}
	if gross > 0 {
		wallet, vault, err = e.bank.PayoutWithRake(tx, r.PlayerID, types.GameTL, gross, types.TxnGuessPayout, r.ID, now)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	r.Status = types.RoundCompleted
	if err = tx.TransitionRound(r, types.RoundActive); err != nil {
		return 0, 0, 0, err
	}
	logging.Rounds("guess round %s finalized (coverage=%.3f gross=%d wallet=%d vault=%d)",
		r.ID, coverage, gross, wallet, vault)
	return wallet, vault, gross, nil
}

// snapshotCoverage is the matched fraction of the snapshot by answer weight.
func snapshotCoverage(tlr *types.TLRound, answers []*types.TLAnswer) float64 {
	if tlr.SnapshotWeight <= 0 {
		return 0
	}
	matched := make(map[string]bool, len(tlr.MatchedClusters))
	for _, id := range tlr.MatchedClusters {
		matched[id] = true
	}
	var w float64
	for _, a := range answers {
		if matched[a.ClusterID] {
			w += a.Weight
		}
	}
	c := w / tlr.SnapshotWeight
	if c > 1 {
		c = 1
	}
	return c
}

func grossPayout(coverage float64, max int, exponent float64) int {
	if coverage <= 0 {
		return 0
	}
	g := int(math.Round(float64(max) * math.Pow(coverage, exponent)))
	if g > max {
		g = max
	}
	return g
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
