package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

func newTestMatcher(t *testing.T) (*Matcher, *store.Store, *clock.Fake) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg := config.DefaultConfig()
	fc := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(cfg.Abuse, cfg.Timing, fc), st, fc
}

func mustTx(t *testing.T, st *store.Store, fn func(*store.Tx) error) {
	t.Helper()
	if err := st.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func seedPlayer(t *testing.T, st *store.Store, id string) {
	t.Helper()
	now := time.Now()
	mustTx(t, st, func(tx *store.Tx) error {
		if err := tx.CreatePlayer(&types.Player{
			ID: id, Username: id, UsernameLower: id,
			CreatedAt: now, LastActiveAt: now,
		}); err != nil {
			return err
		}
		return tx.CreateGameData(&types.PlayerGameData{PlayerID: id, Game: types.GameQF, Wallet: 500})
	})
}

func seedSubmittedPrompt(t *testing.T, st *store.Store, id, playerID string, at time.Time) {
	t.Helper()
	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertRound(&types.Round{
			ID: id, PlayerID: playerID, Game: types.GameQF,
			Type: types.RoundPrompt, Status: types.RoundSubmitted,
			Cost: 100, CreatedAt: at, ExpiresAt: at.Add(3 * time.Minute),
			PromptText: "worst gift", SubmittedPhrase: "a rock",
		})
	})
}

func TestPickPromptSkipsPartyAuthored(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	for _, p := range []string{"A", "B", "C", "X"} {
		seedPlayer(t, st, p)
	}
	base := fc.Now()
	seedSubmittedPrompt(t, st, "P1", "A", base)
	seedSubmittedPrompt(t, st, "P2", "X", base.Add(time.Second))
	seedSubmittedPrompt(t, st, "P3", "B", base.Add(2*time.Second))
	m.EnqueuePrompt("P1")
	m.EnqueuePrompt("P2")
	m.EnqueuePrompt("P3")

	var picked *types.Round
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		picked, err = m.PickPromptForCopy(tx, "C", nil, []string{"A", "B", "C"})
		return err
	})
	if picked.ID != "P2" {
		t.Fatalf("picked %s, want P2 (P1 and P3 are party-authored)", picked.ID)
	}

	// Held-aside entries go back to the front in their original order.
	id1, _ := m.promptQueue.Pop()
	id2, _ := m.promptQueue.Pop()
	if id1 != "P1" || id2 != "P3" {
		t.Errorf("queue after pick = [%s %s], want [P1 P3]", id1, id2)
	}
}

func TestPickPromptSkipsOwnAndCopied(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	seedPlayer(t, st, "A")
	seedPlayer(t, st, "B")
	base := fc.Now()
	seedSubmittedPrompt(t, st, "own", "B", base)
	seedSubmittedPrompt(t, st, "done", "A", base.Add(time.Second))
	seedSubmittedPrompt(t, st, "fresh", "A", base.Add(2*time.Second))
	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertRound(&types.Round{
			ID: "copy1", PlayerID: "B", Game: types.GameQF,
			Type: types.RoundCopy, Status: types.RoundSubmitted,
			PromptRoundID: "done", CreatedAt: base, ExpiresAt: base.Add(time.Minute),
		})
	})
	m.EnqueuePrompt("own")
	m.EnqueuePrompt("done")
	m.EnqueuePrompt("fresh")

	var picked *types.Round
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		picked, err = m.PickPromptForCopy(tx, "B", nil, nil)
		return err
	})
	if picked.ID != "fresh" {
		t.Fatalf("picked %s, want fresh", picked.ID)
	}
}

func TestPickPromptAbandonCooldown(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	seedPlayer(t, st, "A")
	seedPlayer(t, st, "B")
	base := fc.Now()
	seedSubmittedPrompt(t, st, "P1", "A", base.Add(-time.Hour))
	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertRound(&types.Round{
			ID: "ab1", PlayerID: "B", Game: types.GameQF,
			Type: types.RoundCopy, Status: types.RoundAbandoned,
			PromptRoundID: "P1", CreatedAt: base.Add(-time.Hour), ExpiresAt: base,
		})
	})
	m.EnqueuePrompt("P1")

	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		_, err := m.PickPromptForCopy(tx, "B", nil, nil)
		return err
	})
	if !errors.Is(err, types.ErrNoEligibleWork) {
		t.Fatalf("expected ErrNoEligibleWork inside cooldown, got %v", err)
	}
	if n, _ := m.QueueDepths(); n != 1 {
		t.Errorf("prompt requeued depth = %d, want 1", n)
	}

	// After the cooldown window the same prompt becomes eligible again.
	fc.Advance(25 * time.Hour)
	var picked *types.Round
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		picked, err = m.PickPromptForCopy(tx, "B", nil, nil)
		return err
	})
	if picked == nil || picked.ID != "P1" {
		t.Fatalf("picked %v, want P1 after cooldown", picked)
	}
}

func TestPickPromptDropsStaleEntries(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	seedPlayer(t, st, "A")
	seedPlayer(t, st, "B")
	seedSubmittedPrompt(t, st, "live", "A", fc.Now())
	m.EnqueuePrompt("ghost")
	m.EnqueuePrompt("live")

	var picked *types.Round
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		picked, err = m.PickPromptForCopy(tx, "B", nil, nil)
		return err
	})
	if picked.ID != "live" {
		t.Fatalf("picked %s, want live", picked.ID)
	}
	if n, _ := m.QueueDepths(); n != 0 {
		t.Errorf("ghost entry survived, depth = %d", n)
	}
}

func TestPickPhrasesetExcludesContributorsAndVoters(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	for _, p := range []string{"A", "B", "C", "D", "E"} {
		seedPlayer(t, st, p)
	}
	now := fc.Now()
	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertPhraseset(&types.Phraseset{
			ID: "PS1", PromptRoundID: "pr1", PromptText: "worst gift",
			OriginalPhrase: "a rock", CopyPhrase1: "a stick", CopyPhrase2: "a leaf",
			PromptPlayerID: "A", Copy1PlayerID: "B", Copy2PlayerID: "C",
			Status: types.PhrasesetVoting, AvailableForVoting: true,
			PrizePool: 300, CreatedAt: now,
		})
	})
	m.EnqueuePhraseset("PS1")

	// Contributors are excluded.
	for _, p := range []string{"A", "B", "C"} {
		err := st.WithTx(context.Background(), func(tx *store.Tx) error {
			_, err := m.PickPhrasesetForVote(tx, p, nil)
			return err
		})
		if !errors.Is(err, types.ErrNoEligibleWork) {
			t.Errorf("contributor %s: got %v, want ErrNoEligibleWork", p, err)
		}
	}

	// A non-contributor gets the set, and it stays in circulation.
	var picked *types.Phraseset
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		picked, err = m.PickPhrasesetForVote(tx, "D", nil)
		return err
	})
	if picked.ID != "PS1" {
		t.Fatalf("picked %s, want PS1", picked.ID)
	}
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		picked, err = m.PickPhrasesetForVote(tx, "E", nil)
		return err
	})
	if picked.ID != "PS1" {
		t.Fatalf("second voter picked %s, want PS1 still circulating", picked.ID)
	}
}

func TestPickBackronymSetJoinsMostRecentOpen(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	seedPlayer(t, st, "A")
	seedPlayer(t, st, "B")
	now := fc.Now()
	mustTx(t, st, func(tx *store.Tx) error {
		if err := tx.InsertBackronymSet(&types.BackronymSet{
			ID: "S1", Word: "GOLD", Mode: types.ModeStandard, Status: types.SetOpen,
			CreatedAt: now.Add(-2 * time.Minute), LastHumanActivityAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertBackronymSet(&types.BackronymSet{
			ID: "S2", Word: "FIRE", Mode: types.ModeStandard, Status: types.SetOpen,
			CreatedAt: now.Add(-time.Minute), LastHumanActivityAt: now,
		})
	})

	var set *types.BackronymSet
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		set, err = m.PickBackronymSetForEntry(tx, "A", types.ModeStandard)
		return err
	})
	if set.ID != "S2" {
		t.Fatalf("joined %s, want most recent open set S2", set.ID)
	}
}

func TestPickBackronymSetCreatesWhenNoneJoinable(t *testing.T) {
	m, st, fc := newTestMatcher(t)
	seedPlayer(t, st, "A")
	now := fc.Now()
	mustTx(t, st, func(tx *store.Tx) error {
		if err := tx.InsertBackronymSet(&types.BackronymSet{
			ID: "S1", Word: "GOLD", Mode: types.ModeStandard, Status: types.SetOpen,
			CreatedAt: now, LastHumanActivityAt: now,
		}); err != nil {
			return err
		}
		// A already entered the only open set.
		return tx.InsertBackronymEntry(&types.BackronymEntry{
			ID: "e1", SetID: "S1", PlayerID: "A",
			Words: []string{"great", "old", "lazy", "dog"}, CreatedAt: now,
		})
	})

	var set *types.BackronymSet
	mustTx(t, st, func(tx *store.Tx) error {
		var err error
		set, err = m.PickBackronymSetForEntry(tx, "A", types.ModeRapid)
		return err
	})
	if set.ID == "S1" {
		t.Fatal("rejoined a set the player already entered")
	}
	if set.Word == "" || set.Mode != types.ModeRapid || set.Status != types.SetOpen {
		t.Errorf("new set malformed: %+v", set)
	}
}
