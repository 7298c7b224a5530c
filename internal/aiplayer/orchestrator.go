// Package aiplayer keeps the games moving when humans stall. It maintains
// pools of system-owned backup accounts per role and drives them through the
// same round engine paths a human would take.
package aiplayer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/engine"
	"github.com/sheegaon/quipflip-sub002/internal/ledger"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/phrasecache"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Orchestrator fills stalled content and party phases with AI submissions.
type Orchestrator struct {
	store *store.Store
	eng   *engine.Engine
	bank  *ledger.Service
	cache *phrasecache.Manager // nilable; static fallbacks cover its absence
	cfg   config.Config
	clk   clock.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates the orchestrator.
func New(cfg config.Config, st *store.Store, eng *engine.Engine, bank *ledger.Service,
	cache *phrasecache.Manager, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		store: st,
		eng:   eng,
		bank:  bank,
		cache: cache,
		cfg:   cfg,
		clk:   clk,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (o *Orchestrator) intn(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Intn(n)
}

func (o *Orchestrator) pick(xs []string) string {
	return xs[o.intn(len(xs))]
}

// withRetry runs fn with exponential backoff and jitter, retrying only lock
// timeouts and transient store failures. Everything else fails fast.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	backoff := 500 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= maxRetries || !types.IsRetryable(err) {
			return err
		}
		delay := backoff + time.Duration(o.intn(int(backoff/2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// =============================================================================
// PARTY FILL
// =============================================================================

// FillPhase submits on behalf of every AI participant that is short of the
// phase quota. Tasks run in parallel, one goroutine per AI player, each
// submission in its own transaction through the engine. Phase advancement
// happens through the engine's progress notifications, which recurse into
// the next phase's fill.
func (o *Orchestrator) FillPhase(ctx context.Context, sessionID string, phase types.SessionPhase) error {
	rt, ok := phase.RoundTypeFor()
	if !ok {
		return nil
	}
	type task struct {
		playerID string
		need     int
	}
	var tasks []task
	err := o.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil || session.Status != types.SessionInProgress || session.CurrentPhase != phase {
			return nil
		}
		required := session.RequiredFor(phase)
		participants, err := tx.ListParticipants(sessionID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.Status != types.ParticipantActive {
				continue
			}
			player, err := tx.GetPlayer(p.PlayerID)
			if err != nil {
				return err
			}
			if player == nil || !player.IsAI() {
				continue
			}
			if need := required - p.ProgressFor(phase); need > 0 {
				tasks = append(tasks, task{playerID: p.PlayerID, need: need})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	logging.AI("filling session %s phase %s for %d AI participants", sessionID, phase, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			// Each goroutine is its own call chain for lock-order tracking;
			// concurrent per-player holds are not nesting.
			gctx := lockq.Detach(gctx)
			if err := o.ensureFunds(gctx, t.playerID, types.GameQF, o.cfg.Pricing.PromptCost); err != nil {
				return err
			}
			for i := 0; i < t.need; i++ {
				if err := o.submitQF(gctx, t.playerID, rt); err != nil {
					if errors.Is(err, types.ErrNoEligibleWork) {
						return nil
					}
					logging.AI("party fill %s for %s: %v", rt, t.playerID, err)
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// submitQF drives one start+submit through the engine for the round type.
func (o *Orchestrator) submitQF(ctx context.Context, playerID string, rt types.RoundType) error {
	switch rt {
	case types.RoundPrompt:
		return o.submitPrompt(ctx, playerID)
	case types.RoundCopy:
		return o.submitCopy(ctx, playerID)
	case types.RoundVote:
		return o.submitVote(ctx, playerID)
	default:
		return fmt.Errorf("AI cannot fill round type %s", rt)
	}
}

func (o *Orchestrator) submitPrompt(ctx context.Context, playerID string) error {
	promptText := o.pick(backupPrompts)
	var r *types.Round
	err := o.withRetry(ctx, func() error {
		var err error
		r, err = o.eng.StartPromptRound(ctx, playerID, promptText)
		return err
	})
	if err != nil {
		return err
	}
	phrase := o.quipFor(ctx, promptText)
	return o.withRetry(ctx, func() error {
		_, err := o.eng.SubmitQuip(ctx, playerID, r.ID, phrase)
		return err
	})
}

func (o *Orchestrator) submitCopy(ctx context.Context, playerID string) error {
	var asg *engine.CopyAssignment
	err := o.withRetry(ctx, func() error {
		var err error
		asg, err = o.eng.StartCopyRound(ctx, playerID)
		return err
	})
	if err != nil {
		return err
	}
	phrase, err := o.copyFor(ctx, asg)
	if err != nil {
		// Free the prompt for someone else rather than squatting on it.
		if _, abErr := o.eng.AbandonRound(ctx, playerID, asg.Round.ID); abErr != nil {
			logging.AI("abandoning failed copy round %s: %v", asg.Round.ID, abErr)
		}
		return err
	}
	return o.withRetry(ctx, func() error {
		_, err := o.eng.SubmitCopy(ctx, playerID, asg.Round.ID, phrase)
		return err
	})
}

func (o *Orchestrator) submitVote(ctx context.Context, playerID string) error {
	var asg *engine.VoteAssignment
	err := o.withRetry(ctx, func() error {
		var err error
		asg, err = o.eng.StartVoteRound(ctx, playerID)
		return err
	})
	if err != nil {
		return err
	}
	choice := []string{"original", "copy1", "copy2"}[o.intn(3)]
	return o.withRetry(ctx, func() error {
		_, err := o.eng.SubmitVote(ctx, playerID, asg.Round.ID, choice)
		return err
	})
}

// quipFor consults the phrase cache, falling back to the static pool.
func (o *Orchestrator) quipFor(ctx context.Context, promptText string) string {
	if o.cache != nil {
		if phrase, err := o.cache.QuipPhrase(ctx, promptText); err == nil {
			return phrase
		} else {
			logging.AI("quip cache miss for %q: %v", promptText, err)
		}
	}
	return o.pick(backupQuips)
}

// copyFor needs a phrase that survives the copy validator, which the static
// pool cannot promise, so the cache is mandatory here.
func (o *Orchestrator) copyFor(ctx context.Context, asg *engine.CopyAssignment) (string, error) {
	if o.cache == nil {
		return "", fmt.Errorf("copy fill needs the phrase cache: %w", types.ErrAIGenerationFailed)
	}
	phrase, err := o.cache.CopyPhrase(ctx, asg.Round.PromptRoundID, asg.Round.PromptText, asg.Original, "")
	if err != nil {
		return "", err
	}
	return phrase, nil
}

// =============================================================================
// STALL PASS
// =============================================================================

// StallPass is the sweeper tick: find content whose last human activity is
// older than the backup delay and push each item one step forward.
func (o *Orchestrator) StallPass(ctx context.Context) error {
	cutoff := o.clk.Now().Add(-time.Duration(o.cfg.AI.BackupDelayMinutes) * time.Minute)
	limit := o.cfg.AI.BackupBatchSize

	var (
		promptRounds  int
		votingSets    []*types.Phraseset
		entrySets     []*types.BackronymSet
		votingIRSets  []*types.BackronymSet
	)
	err := o.store.WithTx(ctx, func(tx *store.Tx) error {
		prompts, err := tx.ListStalledPromptRounds(cutoff, limit)
		if err != nil {
			return err
		}
		promptRounds = len(prompts)
		if votingSets, err = tx.ListStalledPhrasesets(types.PhrasesetVoting, cutoff, limit); err != nil {
			return err
		}
		if entrySets, err = tx.ListStalledSets(types.SetOpen, cutoff, limit); err != nil {
			return err
		}
		votingIRSets, err = tx.ListStalledSets(types.SetVoting, cutoff, limit)
		return err
	})
	if err != nil {
		return err
	}

	for i := 0; i < promptRounds; i++ {
		o.backupCopy(ctx)
	}
	for range votingSets {
		o.backupVote(ctx)
	}
	for _, set := range entrySets {
		o.backupEntry(ctx, set)
	}
	for range votingIRSets {
		o.backupIRVote(ctx)
	}
	return nil
}

// backupCopy runs one AI copy against the global queue.
func (o *Orchestrator) backupCopy(ctx context.Context) {
	playerID, err := o.acquireAccount(ctx, types.RoleQFImpostor, types.GameQF, o.cfg.Pricing.CopyCostNormal, nil)
	if err != nil {
		logging.AI("acquiring impostor account: %v", err)
		return
	}
	if err := o.submitCopy(ctx, playerID); err != nil && !errors.Is(err, types.ErrNoEligibleWork) {
		logging.AI("backup copy by %s: %v", playerID, err)
	}
}

// backupVote runs one AI vote against the global queue.
func (o *Orchestrator) backupVote(ctx context.Context) {
	playerID, err := o.acquireAccount(ctx, types.RoleQFVoter, types.GameQF, o.cfg.Pricing.VoteCost, nil)
	if err != nil {
		logging.AI("acquiring voter account: %v", err)
		return
	}
	if err := o.submitVote(ctx, playerID); err != nil && !errors.Is(err, types.ErrNoEligibleWork) {
		logging.AI("backup vote by %s: %v", playerID, err)
	}
}

// backupEntry adds one backronym entry to a stalled set.
func (o *Orchestrator) backupEntry(ctx context.Context, set *types.BackronymSet) {
	actedOn := func(tx *store.Tx, playerID string) (bool, error) {
		entries, err := tx.ListBackronymEntries(set.ID)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			if e.PlayerID == playerID {
				return true, nil
			}
		}
		return false, nil
	}
	playerID, err := o.acquireAccount(ctx, types.RoleIRPlayer, types.GameIR, o.cfg.Pricing.IRBackronymEntryCost, actedOn)
	if err != nil {
		logging.AI("acquiring IR account: %v", err)
		return
	}

	var asg *engine.EntryAssignment
	err = o.withRetry(ctx, func() error {
		var err error
		asg, err = o.eng.StartBackronymEntry(ctx, playerID, set.Mode)
		return err
	})
	if err != nil {
		if !errors.Is(err, types.ErrNoEligibleWork) {
			logging.AI("backup entry start by %s: %v", playerID, err)
		}
		return
	}
	words := o.backronymWords(asg.Set.Word)
	err = o.withRetry(ctx, func() error {
		_, err := o.eng.SubmitBackronymEntry(ctx, playerID, asg.Round.ID, words)
		return err
	})
	if err != nil {
		logging.AI("backup entry submit by %s: %v", playerID, err)
	}
}

// backupIRVote casts one AI vote on a stalled voting set.
func (o *Orchestrator) backupIRVote(ctx context.Context) {
	playerID, err := o.acquireAccount(ctx, types.RoleIRPlayer, types.GameIR, o.cfg.Pricing.IRVoteCost, nil)
	if err != nil {
		logging.AI("acquiring IR account: %v", err)
		return
	}

	var asg *engine.BackronymVoteAssignment
	err = o.withRetry(ctx, func() error {
		var err error
		asg, err = o.eng.StartBackronymVote(ctx, playerID)
		return err
	})
	if err != nil {
		if !errors.Is(err, types.ErrNoEligibleWork) {
			logging.AI("backup IR vote start by %s: %v", playerID, err)
		}
		return
	}
	var candidates []string
	for _, e := range asg.Entries {
		if e.PlayerID != playerID {
			candidates = append(candidates, e.ID)
		}
	}
	if len(candidates) == 0 {
		if _, err := o.eng.AbandonRound(ctx, playerID, asg.Round.ID); err != nil {
			logging.AI("abandoning voteless IR round: %v", err)
		}
		return
	}
	entryID := candidates[o.intn(len(candidates))]
	err = o.withRetry(ctx, func() error {
		_, err := o.eng.SubmitBackronymVote(ctx, playerID, asg.Round.ID, entryID)
		return err
	})
	if err != nil {
		logging.AI("backup IR vote submit by %s: %v", playerID, err)
	}
}

// backronymWords builds one word per letter of the set word.
func (o *Orchestrator) backronymWords(word string) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		letter := word[i]
		pool, ok := wordsByLetter[letter]
		if !ok || len(pool) == 0 {
			// Degenerate letter: echo it, the validator only checks initials.
			out = append(out, strings.ToLower(string(letter)))
			continue
		}
		out = append(out, pool[o.intn(len(pool))])
	}
	return out
}
