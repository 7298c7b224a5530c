// Package matcher assigns work items to players: which prompt a copier
// sees, which phraseset a voter sees, which backronym set a writer joins.
// Party sources are scanned before the global FIFO queues; queue pops that
// fail eligibility are held aside and requeued in their original order.
package matcher

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Matcher owns the global work queues and the eligibility rules.
type Matcher struct {
	promptQueue *lockq.Queue
	voteQueue   *lockq.Queue

	cooldown time.Duration
	wordCool time.Duration
	clk      clock.Clock
	words    []string
	rng      *rand.Rand
}

// New creates a matcher. The word list seeds IR set creation.
func New(abuse config.AbuseConfig, timing config.TimingConfig, clk clock.Clock) *Matcher {
	return &Matcher{
		promptQueue: lockq.NewQueue(),
		voteQueue:   lockq.NewQueue(),
		cooldown:    time.Duration(abuse.AbandonedPromptCooldownHours) * time.Hour,
		wordCool:    time.Duration(timing.IRWordCooldownMinutes) * time.Minute,
		clk:         clk,
		words:       backronymWords,
		rng:         rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
}

// EnqueuePrompt registers a submitted prompt round as copyable work.
func (m *Matcher) EnqueuePrompt(roundID string) {
	m.promptQueue.Push(roundID)
	logging.MatcherDebug("prompt %s enqueued (depth=%d)", roundID, m.promptQueue.Len())
}

// RemovePrompt takes a prompt out of circulation, e.g. when its phraseset
// completed or its author was anonymized.
func (m *Matcher) RemovePrompt(roundID string) {
	m.promptQueue.Remove(roundID)
}

// EnqueuePhraseset registers a votable phraseset.
func (m *Matcher) EnqueuePhraseset(id string) {
	m.voteQueue.Push(id)
	logging.MatcherDebug("phraseset %s enqueued for voting (depth=%d)", id, m.voteQueue.Len())
}

// RemovePhraseset takes a phraseset out of the vote queue.
func (m *Matcher) RemovePhraseset(id string) {
	m.voteQueue.Remove(id)
}

// QueueDepths reports the queue lengths for diagnostics.
func (m *Matcher) QueueDepths() (prompts, votes int) {
	return m.promptQueue.Len(), m.voteQueue.Len()
}

// PickPromptForCopy returns the prompt round the player should copy.
// Inside a party's COPY phase the party's own prompts are scanned first in
// created_at order; otherwise (or when the party has nothing eligible) the
// global queue is consulted, excluding prompts authored by anyone in the
// player's party. Returns ErrNoEligibleWork when nothing qualifies.
func (m *Matcher) PickPromptForCopy(tx *store.Tx, playerID string, session *types.PartySession, partyMemberIDs []string) (*types.Round, error) {
	if session != nil && session.CurrentPhase == types.PhaseCopy {
		r, err := m.pickPartyPrompt(tx, playerID, session.ID)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}

	members := make(map[string]bool, len(partyMemberIDs))
	for _, id := range partyMemberIDs {
		members[id] = true
	}

	var held []string
	defer func() { m.promptQueue.Requeue(held) }()

	for {
		id, ok := m.promptQueue.Pop()
		if !ok {
			return nil, fmt.Errorf("prompt queue drained: %w", types.ErrNoEligibleWork)
		}
		r, err := tx.GetRound(id)
		if err != nil {
			held = append(held, id)
			return nil, err
		}
		if r == nil || r.Status != types.RoundSubmitted {
			// Stale entry; drop it.
			continue
		}
		eligible, err := m.promptEligible(tx, playerID, r, members)
		if err != nil {
			held = append(held, id)
			return nil, err
		}
		if !eligible {
			held = append(held, id)
			continue
		}
		return r, nil
	}
}

func (m *Matcher) pickPartyPrompt(tx *store.Tx, playerID, sessionID string) (*types.Round, error) {
	prompts, err := tx.ListSessionPromptRounds(sessionID)
	if err != nil {
		return nil, err
	}
	for _, r := range prompts {
		eligible, err := m.promptEligible(tx, playerID, r, nil)
		if err != nil {
			return nil, err
		}
		if eligible {
			return r, nil
		}
	}
	return nil, nil
}

// promptEligible applies the copy exclusions: own prompt, already copied,
// authored by a party member, abandoned within the cooldown window.
func (m *Matcher) promptEligible(tx *store.Tx, playerID string, r *types.Round, partyMembers map[string]bool) (bool, error) {
	if r.PlayerID == playerID {
		return false, nil
	}
	if partyMembers[r.PlayerID] {
		return false, nil
	}
	copied, err := tx.HasCopied(playerID, r.ID)
	if err != nil {
		return false, err
	}
	if copied {
		return false, nil
	}
	abandoned, err := tx.AbandonedPromptSince(playerID, r.ID, m.clk.Now().Add(-m.cooldown))
	if err != nil {
		return false, err
	}
	return !abandoned, nil
}

// PickPhrasesetForVote returns the phraseset the player should vote on.
// Party phrasesets first during the VOTE phase, then the global FIFO queue.
func (m *Matcher) PickPhrasesetForVote(tx *store.Tx, playerID string, session *types.PartySession) (*types.Phraseset, error) {
	if session != nil && session.CurrentPhase == types.PhaseVote {
		sets, err := tx.ListSessionPhrasesets(session.ID)
		if err != nil {
			return nil, err
		}
		for _, ps := range sets {
			eligible, err := m.phrasesetEligible(tx, playerID, ps)
			if err != nil {
				return nil, err
			}
			if eligible {
				return ps, nil
			}
		}
		return nil, fmt.Errorf("no votable party phraseset: %w", types.ErrNoEligibleWork)
	}

	var held []string
	defer func() { m.voteQueue.Requeue(held) }()

	for {
		id, ok := m.voteQueue.Pop()
		if !ok {
			return nil, fmt.Errorf("vote queue drained: %w", types.ErrNoEligibleWork)
		}
		ps, err := tx.GetPhraseset(id)
		if err != nil {
			held = append(held, id)
			return nil, err
		}
		if ps == nil || (ps.Status != types.PhrasesetVoting && ps.Status != types.PhrasesetClosing) {
			continue
		}
		eligible, err := m.phrasesetEligible(tx, playerID, ps)
		if err != nil {
			held = append(held, id)
			return nil, err
		}
		if !eligible {
			held = append(held, id)
			continue
		}
		// Still in circulation for other voters.
		held = append(held, id)
		return ps, nil
	}
}

// phrasesetEligible excludes contributors and repeat voters.
func (m *Matcher) phrasesetEligible(tx *store.Tx, playerID string, ps *types.Phraseset) (bool, error) {
	if !ps.AvailableForVoting {
		return false, nil
	}
	if ps.PromptPlayerID == playerID || ps.Copy1PlayerID == playerID || ps.Copy2PlayerID == playerID {
		return false, nil
	}
	voted, err := tx.HasVotedOnPhraseset(playerID, ps.ID)
	if err != nil {
		return false, err
	}
	return !voted, nil
}

// PickBackronymSetForEntry returns the set the player should join: the most
// recently created open set with room and no entry by the player. When none
// exists a fresh set is created with a word unused within the cooldown.
func (m *Matcher) PickBackronymSetForEntry(tx *store.Tx, playerID string, mode types.BackronymMode) (*types.BackronymSet, error) {
	set, err := tx.FindJoinableSet(playerID)
	if err != nil {
		return nil, err
	}
	if set != nil {
		return set, nil
	}

	word, err := m.pickWord(tx)
	if err != nil {
		return nil, err
	}
	now := m.clk.Now()
	set = &types.BackronymSet{
		ID:                  uuid.NewString(),
		Word:                word,
		Mode:                mode,
		Status:              types.SetOpen,
		CreatedAt:           now,
		LastHumanActivityAt: now,
	}
	if err := tx.InsertBackronymSet(set); err != nil {
		return nil, err
	}
	logging.Matcher("created backronym set %s word=%s mode=%s", set.ID, word, mode)
	return set, nil
}

// pickWord chooses a random word not used within the cooldown window. After
// enough collisions any word is accepted rather than blocking play.
func (m *Matcher) pickWord(tx *store.Tx) (string, error) {
	since := m.clk.Now().Add(-m.wordCool)
	for attempt := 0; attempt < 20; attempt++ {
		w := m.words[m.rng.Intn(len(m.words))]
		used, err := tx.WordUsedSince(w, since)
		if err != nil {
			return "", err
		}
		if !used {
			return strings.ToUpper(w), nil
		}
	}
	return strings.ToUpper(m.words[m.rng.Intn(len(m.words))]), nil
}
