// Package engine runs the round state machine shared by the three games:
// start, submit, abandon, expire, finalize. Every state transition happens
// under the owning player's lock and inside one unit of work, with the
// matching ledger operation in the same transaction.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/cluster"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/ledger"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/matcher"
	"github.com/sheegaon/quipflip-sub002/internal/phrasecache"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
	"github.com/sheegaon/quipflip-sub002/internal/validate"

	"github.com/google/uuid"
)

// ProgressSink receives party-scoped submissions after they commit. The
// party controller implements it; wiring is optional so the engine works
// standalone.
type ProgressSink interface {
	RoundSubmitted(ctx context.Context, round *types.Round) error
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store     *store.Store
	Locks     *lockq.Service
	Bank      *ledger.Service
	Match     *matcher.Matcher
	Validator *validate.Validator
	Cache     *phrasecache.Manager // may be nil; disables impostor-cache upkeep
	TL        *cluster.Service     // required for guess rounds only
	Clock     clock.Clock
}

// Engine is the round state machine for all games.
type Engine struct {
	store *store.Store
	locks *lockq.Service
	bank  *ledger.Service
	match *matcher.Matcher
	val   *validate.Validator
	cache *phrasecache.Manager
	tl    *cluster.Service
	clk   clock.Clock
	cfg   config.Config
	desc  map[types.GameType]Descriptor

	sink ProgressSink
}

// New creates the engine.
func New(cfg config.Config, d Deps) *Engine {
	return &Engine{
		store: d.Store,
		locks: d.Locks,
		bank:  d.Bank,
		match: d.Match,
		val:   d.Validator,
		cache: d.Cache,
		tl:    d.TL,
		clk:   d.Clock,
		cfg:   cfg,
		desc:  Descriptors(cfg),
	}
}

// SetProgressSink wires the party controller in after construction; the two
// reference each other so one side has to attach late.
func (e *Engine) SetProgressSink(s ProgressSink) { e.sink = s }

// lockPlayer and lockContent attach the held-class tracker before acquiring,
// so nested acquisitions anywhere down the chain are order-checked. Callers
// thread the returned context through the rest of the operation.
func (e *Engine) lockPlayer(ctx context.Context, playerID string, game types.GameType) (context.Context, *lockq.Lease, error) {
	ctx = lockq.Track(ctx)
	timeout := time.Duration(e.cfg.Concurrency.RoundLockTimeoutSeconds) * time.Second
	lease, err := e.locks.Acquire(ctx, lockq.ClassPlayer, lockq.PlayerLockName(playerID, game), timeout)
	return ctx, lease, err
}

func (e *Engine) lockContent(ctx context.Context, name string) (context.Context, *lockq.Lease, error) {
	ctx = lockq.Track(ctx)
	timeout := time.Duration(e.cfg.Concurrency.RoundLockTimeoutSeconds) * time.Second
	lease, err := e.locks.Acquire(ctx, lockq.ClassContent, name, timeout)
	return ctx, lease, err
}

func (e *Engine) grace() time.Duration {
	return time.Duration(e.cfg.Timing.GracePeriodSeconds) * time.Second
}

// beginRound enforces the one-active-round invariant and bills the entry
// cost. Runs inside the caller's transaction under the per-player lock; the
// caller fills the linkage fields and persists.
func (e *Engine) beginRound(tx *store.Tx, playerID string, game types.GameType, rt types.RoundType, cost int, now time.Time) (*types.Round, error) {
	active, err := tx.GetActiveRound(playerID, game)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("player %s in round %s: %w", playerID, active.ID, types.ErrAlreadyInRound)
	}
	d := e.desc[game]
	r := &types.Round{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		Game:      game,
		Type:      rt,
		Status:    types.RoundActive,
		Cost:      cost,
		CreatedAt: now,
		ExpiresAt: now.Add(d.TTL[rt]),
	}
	if cost > 0 {
		if _, err := e.bank.Debit(tx, playerID, game, cost, types.TxnRoundCost, r.ID, now); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// checkSubmittable verifies ownership, activity and the grace window.
func (e *Engine) checkSubmittable(r *types.Round, playerID string, now time.Time) error {
	if r == nil {
		return fmt.Errorf("round not found")
	}
	if r.PlayerID != playerID {
		return fmt.Errorf("round %s not owned by player %s", r.ID, playerID)
	}
	if r.Status != types.RoundActive {
		return fmt.Errorf("round %s in status %s: %w", r.ID, r.Status, types.ErrRoundNotActive)
	}
	if now.After(r.ExpiresAt.Add(e.grace())) {
		return fmt.Errorf("round %s past %s: %w", r.ID, r.ExpiresAt, types.ErrRoundExpired)
	}
	return nil
}

// notifySubmitted forwards party-scoped submissions to the progress sink.
func (e *Engine) notifySubmitted(ctx context.Context, r *types.Round) error {
	if r.SessionID == "" || e.sink == nil {
		return nil
	}
	return e.sink.RoundSubmitted(ctx, r)
}

// AbandonRound moves an active round to abandoned and refunds the entry cost
// minus the game's penalty. TL rounds with guesses on record cannot be
// abandoned.
func (e *Engine) AbandonRound(ctx context.Context, playerID, roundID string) (refund int, err error) {
	var r *types.Round
	ctx, lease, err := e.lockFor(ctx, playerID, roundID, &r)
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	now := e.clk.Now()
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err = tx.GetRound(roundID)
		if err != nil {
			return err
		}
		if r == nil || r.PlayerID != playerID {
			return fmt.Errorf("round %s not owned by player %s", roundID, playerID)
		}
		if r.Status != types.RoundActive {
			return fmt.Errorf("round %s in status %s: %w", r.ID, r.Status, types.ErrRoundNotActive)
		}
		if r.Type == types.RoundGuess {
			n, err := tx.CountGuesses(r.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("round %s: %w", r.ID, types.ErrGuessOnRound)
			}
		}
		penalty := e.desc[r.Game].AbandonPenalty
		refund = r.Cost - penalty
		if refund < 0 {
			refund = 0
		}
		r.Status = types.RoundAbandoned
		if err := tx.TransitionRound(r, types.RoundActive); err != nil {
			return err
		}
		if refund > 0 {
			if _, err := e.bank.Credit(tx, playerID, r.Game, refund, types.TxnAbandonRefund, r.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// An abandoned copy puts the prompt back into circulation; the abandon
	// row itself keeps this player away from it for the cooldown window.
	if r.Type == types.RoundCopy && r.PromptRoundID != "" {
		e.match.EnqueuePrompt(r.PromptRoundID)
	}
	logging.Rounds("round %s abandoned by %s (refund=%d)", roundID, playerID, refund)
	return refund, nil
}

// ExpireRound is the sweeper's entry point: a guarded active -> expired
// transition with the per-type partial refund. TL rounds with progress
// finalize at their current coverage instead of burning the entry fee.
func (e *Engine) ExpireRound(ctx context.Context, roundID string) error {
	var peek *types.Round
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		peek, err = tx.GetRound(roundID)
		return err
	})
	if err != nil {
		return err
	}
	if peek == nil || peek.Status != types.RoundActive {
		return nil
	}

	ctx, lease, err := e.lockPlayer(ctx, peek.PlayerID, peek.Game)
	if err != nil {
		return err
	}
	defer lease.Release()

	now := e.clk.Now()
	var r *types.Round
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err = tx.GetRound(roundID)
		if err != nil || r == nil || r.Status != types.RoundActive {
			return err
		}
		if r.Type == types.RoundGuess {
			n, err := tx.CountGuesses(r.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return e.timeOutGuessRound(tx, r, now)
			}
		}
		d := e.desc[r.Game]
		refund := r.Cost * d.ExpiryRefundPercent[r.Type] / 100
		r.Status = types.RoundExpired
		if err := tx.TransitionRound(r, types.RoundActive); err != nil {
			return err
		}
		if refund > 0 {
			if _, err := e.bank.Credit(tx, r.PlayerID, r.Game, refund, types.TxnExpiredRefund, r.ID, now); err != nil {
				return err
			}
		}
		logging.Sweeper("round %s expired (player=%s refund=%d)", r.ID, r.PlayerID, refund)
		return nil
	})
	if err != nil {
		return err
	}
	if r != nil && r.Status == types.RoundExpired && r.Type == types.RoundCopy && r.PromptRoundID != "" {
		e.match.EnqueuePrompt(r.PromptRoundID)
	}
	return nil
}

// rehydrateBatch bounds one rehydration scan. Anything beyond it surfaces
// through the stall pass.
const rehydrateBatch = 1000

// Rehydrate reloads the in-memory work queues from the store. The queues
// live in process memory, so without this a restart strands previously
// submitted prompts and open votes until operators intervene. Run at boot,
// before the sweeper starts.
func (e *Engine) Rehydrate(ctx context.Context) error {
	var prompts, votes []string
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		rounds, err := tx.ListCopyablePromptRounds(rehydrateBatch)
		if err != nil {
			return err
		}
		for _, r := range rounds {
			prompts = append(prompts, r.ID)
		}
		for _, status := range []types.PhrasesetStatus{types.PhrasesetVoting, types.PhrasesetClosing} {
			sets, err := tx.ListPhrasesetsByStatus(status, rehydrateBatch)
			if err != nil {
				return err
			}
			for _, ps := range sets {
				// Party phrasesets are served through the session scan, not
				// the global queue.
				if ps.SessionID != "" {
					continue
				}
				votes = append(votes, ps.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range prompts {
		e.match.EnqueuePrompt(id)
	}
	for _, id := range votes {
		e.match.EnqueuePhraseset(id)
	}
	logging.Rounds("rehydrated queues: %d copyable prompts, %d votable phrasesets", len(prompts), len(votes))
	return nil
}

// lockFor reads the round once to learn its game, then takes the player
// lock. The round is re-read under the lock by the caller.
func (e *Engine) lockFor(ctx context.Context, playerID, roundID string, out **types.Round) (context.Context, *lockq.Lease, error) {
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err := tx.GetRound(roundID)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("round %s not found", roundID)
		}
		*out = r
		return nil
	})
	if err != nil {
		return ctx, nil, err
	}
	return e.lockPlayer(ctx, playerID, (*out).Game)
}
