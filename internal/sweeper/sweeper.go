// Package sweeper runs the background maintenance loop: round expiry, QF
// vote finalization, IR set timers and the AI stall check. Every mutation
// goes through the engine's idempotent, lock-guarded paths, so overlapping
// sweeps are harmless.
package sweeper

import (
	"context"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/engine"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const batchLimit = 100

// StallChecker is the AI orchestrator's stalled-content tick.
type StallChecker interface {
	StallPass(ctx context.Context) error
}

// Sweeper drives time-based transitions.
type Sweeper struct {
	store *store.Store
	eng   *engine.Engine
	cfg   config.Config
	clk   clock.Clock

	stall     StallChecker // nilable
	lastStall time.Time
}

// New creates the sweeper.
func New(cfg config.Config, st *store.Store, eng *engine.Engine, clk clock.Clock) *Sweeper {
	return &Sweeper{store: st, eng: eng, cfg: cfg, clk: clk}
}

// SetStallChecker attaches the AI orchestrator's tick.
func (s *Sweeper) SetStallChecker(sc StallChecker) { s.stall = sc }

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.Sweep(ctx); err != nil {
			logging.Sweeper("sweep failed: %v", err)
		}
	}
}

// Sweep runs one full pass. Individual item failures are logged and skipped;
// the next pass retries them.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clk.Now()
	s.expireRounds(ctx, now)
	s.finalizeVotes(ctx, now)
	s.advanceSets(ctx, now)

	if s.stall != nil {
		sleep := time.Duration(s.cfg.AI.BackupSleepMinutes) * time.Minute
		if now.Sub(s.lastStall) >= sleep {
			s.lastStall = now
			if err := s.stall.StallPass(ctx); err != nil {
				logging.Sweeper("AI stall pass: %v", err)
			}
		}
	}
	return ctx.Err()
}

// expireRounds drives rounds past their grace window through expiry.
func (s *Sweeper) expireRounds(ctx context.Context, now time.Time) {
	grace := time.Duration(s.cfg.Timing.GracePeriodSeconds) * time.Second
	var ids []string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		rounds, err := tx.ListExpiredActive(now.Add(-grace), batchLimit)
		if err != nil {
			return err
		}
		for _, r := range rounds {
			ids = append(ids, r.ID)
		}
		return nil
	})
	if err != nil {
		logging.Sweeper("listing expired rounds: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.eng.ExpireRound(ctx, id); err != nil {
			logging.Sweeper("expiring round %s: %v", id, err)
		}
	}
}

// finalizeVotes applies the QF finalization ladder: the vote cap finalizes
// immediately, the closing threshold opens a short closing window, and the
// minimum threshold finalizes once the slow window has elapsed.
func (s *Sweeper) finalizeVotes(ctx context.Context, now time.Time) {
	vf := s.cfg.VoteFinal
	minWindow := time.Duration(vf.VoteMinimumWindowMinutes) * time.Minute
	closingWindow := time.Duration(vf.VoteClosingWindowMinutes) * time.Minute

	var finalize []string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		voting, err := tx.ListPhrasesetsByStatus(types.PhrasesetVoting, batchLimit)
		if err != nil {
			return err
		}
		for _, ps := range voting {
			n := ps.VoteCount()
			switch {
			case n >= vf.VoteMaxVotes:
				finalize = append(finalize, ps.ID)
			case n >= vf.VoteClosingThreshold:
				ps.Status = types.PhrasesetClosing
				ps.ClosingAt = &now
				if err := tx.UpdatePhraseset(ps); err != nil {
					return err
				}
			case n >= vf.VoteMinimumThreshold && now.Sub(ps.CreatedAt) >= minWindow:
				finalize = append(finalize, ps.ID)
			}
		}
		closing, err := tx.ListPhrasesetsByStatus(types.PhrasesetClosing, batchLimit)
		if err != nil {
			return err
		}
		for _, ps := range closing {
			if ps.VoteCount() >= vf.VoteMaxVotes {
				finalize = append(finalize, ps.ID)
				continue
			}
			if ps.ClosingAt != nil && now.Sub(*ps.ClosingAt) >= closingWindow {
				finalize = append(finalize, ps.ID)
			}
		}
		return nil
	})
	if err != nil {
		logging.Sweeper("scanning phrasesets: %v", err)
		return
	}
	for _, id := range finalize {
		if err := s.eng.FinalizePhraseset(ctx, id); err != nil {
			logging.Sweeper("finalizing phraseset %s: %v", id, err)
		}
	}
}

// advanceSets moves backronym sets along their timers.
func (s *Sweeper) advanceSets(ctx context.Context, now time.Time) {
	var toVoting, toFinal []string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		due, err := tx.ListSetsDueForVoting(now, batchLimit)
		if err != nil {
			return err
		}
		for _, set := range due {
			toVoting = append(toVoting, set.ID)
		}
		final, err := tx.ListSetsDueForFinalize(now, batchLimit)
		if err != nil {
			return err
		}
		for _, set := range final {
			toFinal = append(toFinal, set.ID)
		}
		return nil
	})
	if err != nil {
		logging.Sweeper("scanning backronym sets: %v", err)
		return
	}
	for _, id := range toVoting {
		if err := s.eng.OpenSetVoting(ctx, id); err != nil {
			logging.Sweeper("opening voting on set %s: %v", id, err)
		}
	}
	for _, id := range toFinal {
		if err := s.eng.FinalizeBackronymSet(ctx, id); err != nil {
			logging.Sweeper("finalizing set %s: %v", id, err)
		}
	}
}
