package phrasecache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
	"github.com/sheegaon/quipflip-sub002/internal/validate"
)

const (
	// A cache below this many valid phrases is regenerated.
	minViablePhrases = 3
	// Phrases requested per generation.
	generateCount = 10

	lockTimeout = 15 * time.Second
)

// Manager owns the phrase caches. All store access happens in short units of
// work; the LLM call runs between them while the per-key content lock is
// held.
type Manager struct {
	store    *store.Store
	locks    *lockq.Service
	provider LLMProvider
	corpus   *Corpus
	val      *validate.Validator
	clk      clock.Clock
}

// NewManager creates the cache manager.
func NewManager(st *store.Store, locks *lockq.Service, provider LLMProvider, corpus *Corpus, val *validate.Validator, clk clock.Clock) *Manager {
	return &Manager{store: st, locks: locks, provider: provider, corpus: corpus, val: val, clk: clk}
}

func quipKey(promptText string) string { return "quip:" + validate.Normalize(promptText) }
func copyKey(promptRoundID string) string { return "copy:" + promptRoundID }

// QuipPhrase returns a validated candidate phrase for the prompt, generating
// the cache on first use. Consumption is least-used first and never removes
// phrases from the cache.
func (m *Manager) QuipPhrase(ctx context.Context, promptText string) (string, error) {
	check := func(p string) error { return m.val.ValidatePromptPhrase(p, promptText) }
	return m.consume(ctx, quipKey(promptText), promptText, check, func(e *types.PhraseCacheEntry) {})
}

// HintPhrase returns a candidate phrase for the hint feature and marks the
// cache as hint-used.
func (m *Manager) HintPhrase(ctx context.Context, promptText string) (string, error) {
	check := func(p string) error { return m.val.ValidatePromptPhrase(p, promptText) }
	return m.consume(ctx, quipKey(promptText), promptText, check, func(e *types.PhraseCacheEntry) {
		e.UsedForHint = true
	})
}

// CopyPhrase returns a validated impostor copy for a prompt round and marks
// the cache as backup-copy-used. otherCopy may be empty.
func (m *Manager) CopyPhrase(ctx context.Context, promptRoundID, promptText, original, otherCopy string) (string, error) {
	check := func(p string) error { return m.val.ValidateCopy(p, original, otherCopy, promptText) }
	return m.consume(ctx, copyKey(promptRoundID), promptText, check, func(e *types.PhraseCacheEntry) {
		e.UsedForBackupCopy = true
	})
}

// RevalidateForCopy is called when the first human copy lands on a prompt
// round: the impostor cache is re-filtered against the new constraint and
// deleted when fewer than the minimum survive, forcing regeneration.
func (m *Manager) RevalidateForCopy(ctx context.Context, promptRoundID, promptText, original, newCopy string) error {
	lease, err := m.locks.Acquire(ctx, lockq.ClassContent, copyKey(promptRoundID), lockTimeout)
	if err != nil {
		return err
	}
	defer lease.Release()

	return m.store.WithTx(ctx, func(tx *store.Tx) error {
		entry, err := tx.GetPhraseCache(copyKey(promptRoundID))
		if err != nil || entry == nil {
			return err
		}
		valid := 0
		for _, p := range entry.Phrases {
			if m.val.ValidateCopy(p, original, newCopy, promptText) == nil {
				valid++
			}
		}
		if valid >= minViablePhrases {
			return nil
		}
		logging.Cache("impostor cache for %s down to %d valid phrases, deleting", promptRoundID, valid)
		return tx.DeletePhraseCache(entry.ID)
	})
}

// consume picks the least-used valid phrase from the cache for key,
// generating or regenerating the cache as needed.
func (m *Manager) consume(ctx context.Context, key, promptText string, check func(string) error, mark func(*types.PhraseCacheEntry)) (string, error) {
	lease, err := m.locks.Acquire(ctx, lockq.ClassContent, key, lockTimeout)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	var entry *types.PhraseCacheEntry
	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		entry, err = tx.GetPhraseCache(key)
		return err
	})
	if err != nil {
		return "", err
	}

	// Consumption-time revalidation: the constraints may have tightened
	// since the cache was written.
	validIdx := validIndexes(entry, check)
	if entry == nil || len(validIdx) < minViablePhrases {
		entry, err = m.regenerate(ctx, key, promptText, entry, check)
		if err != nil {
			return "", err
		}
		validIdx = validIndexes(entry, check)
		if len(validIdx) == 0 {
			return "", fmt.Errorf("no valid phrases for %s: %w", key, types.ErrAIGenerationFailed)
		}
	}

	// Least-used first keeps repeats rare without ever draining the cache.
	best := validIdx[0]
	for _, i := range validIdx[1:] {
		if entry.UseCounts[i] < entry.UseCounts[best] {
			best = i
		}
	}
	entry.UseCounts[best]++
	mark(entry)

	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpdatePhraseCache(entry)
	})
	if err != nil {
		return "", err
	}
	logging.CacheDebug("consumed phrase %d from cache %s (uses=%d)", best, key, entry.UseCounts[best])
	return entry.Phrases[best], nil
}

func validIndexes(entry *types.PhraseCacheEntry, check func(string) error) []int {
	if entry == nil {
		return nil
	}
	var out []int
	for i, p := range entry.Phrases {
		if check(p) == nil {
			out = append(out, i)
		}
	}
	return out
}

// regenerate rebuilds the cache for key: corpus candidates first, the LLM
// provider only when the corpus cannot field enough. Runs with the content
// lock held; the provider call is the only slow step.
func (m *Manager) regenerate(ctx context.Context, key, promptText string, old *types.PhraseCacheEntry, check func(string) error) (*types.PhraseCacheEntry, error) {
	var used []string
	err := m.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		used, err = tx.ListCachePhrasesByPrompt(promptText)
		return err
	})
	if err != nil {
		return nil, err
	}
	usedSet := make(map[string]bool, len(used))
	for _, p := range used {
		usedSet[validate.Normalize(p)] = true
	}

	var phrases []string
	seen := make(map[string]bool)
	admit := func(p string) {
		n := validate.Normalize(p)
		if seen[n] || usedSet[n] || check(p) != nil {
			return
		}
		seen[n] = true
		phrases = append(phrases, p)
	}

	for _, p := range m.corpus.PhrasesFor(promptText) {
		admit(p)
	}

	provider, model := "corpus", ""
	if len(phrases) < minViablePhrases {
		generated, err := m.provider.GeneratePhrases(ctx, promptText, generateCount)
		if err != nil {
			if len(phrases) == 0 {
				return nil, err
			}
			logging.Cache("provider unavailable for %s, serving %d corpus phrases: %v", key, len(phrases), err)
		}
		for _, p := range generated {
			admit(p)
		}
		if len(generated) > 0 {
			provider, model = m.provider.Name(), m.provider.Model()
		}
	}

	if len(phrases) == 0 {
		return nil, fmt.Errorf("cache generation for %s produced nothing: %w", key, types.ErrAIGenerationFailed)
	}

	entry := &types.PhraseCacheEntry{
		ID:        uuid.NewString(),
		PromptKey: key,
		Phrases:   phrases,
		UseCounts: make([]int, len(phrases)),
		Provider:  provider,
		Model:     model,
		CreatedAt: m.clk.Now(),
	}
	if old != nil {
		entry.UsedForBackupCopy = old.UsedForBackupCopy
		entry.UsedForHint = old.UsedForHint
	}

	err = m.store.WithTx(ctx, func(tx *store.Tx) error {
		if old != nil {
			if err := tx.DeletePhraseCache(old.ID); err != nil {
				return err
			}
		}
		return tx.InsertPhraseCache(entry, promptText)
	})
	if err != nil {
		return nil, err
	}
	logging.Cache("generated cache %s with %d phrases (provider=%s)", key, len(phrases), provider)
	return entry, nil
}
