package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustTx(t *testing.T, s *Store, fn func(*Tx) error) {
	t.Helper()
	if err := s.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func seedPlayer(t *testing.T, s *Store, id string, wallet int) {
	t.Helper()
	now := time.Now()
	mustTx(t, s, func(tx *Tx) error {
		if err := tx.CreatePlayer(&types.Player{
			ID: id, Username: id, UsernameLower: id,
			CreatedAt: now, LastActiveAt: now,
		}); err != nil {
			return err
		}
		return tx.CreateGameData(&types.PlayerGameData{
			PlayerID: id, Game: types.GameQF, Wallet: wallet,
		})
	})
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	seedPlayer(t, s, "p1", 100)

	sentinel := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.UpdateBalances("p1", types.GameQF, 50, 0); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	mustTx(t, s, func(tx *Tx) error {
		d, err := tx.GetGameData("p1", types.GameQF)
		if err != nil {
			return err
		}
		if d.Wallet != 100 {
			t.Errorf("wallet = %d after rollback, want 100", d.Wallet)
		}
		return nil
	})
}

func TestNegativeWalletRejected(t *testing.T) {
	s := newTestStore(t)
	seedPlayer(t, s, "p1", 10)

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.UpdateBalances("p1", types.GameQF, -5, 0)
	})
	if err == nil {
		t.Fatal("expected CHECK violation for negative wallet")
	}
}

func TestTransitionRoundGuard(t *testing.T) {
	s := newTestStore(t)
	seedPlayer(t, s, "p1", 100)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		return tx.InsertRound(&types.Round{
			ID: "r1", PlayerID: "p1", Game: types.GameQF, Type: types.RoundPrompt,
			Status: types.RoundActive, Cost: 10,
			CreatedAt: now, ExpiresAt: now.Add(3 * time.Minute),
		})
	})

	submitted := now.Add(time.Minute)
	mustTx(t, s, func(tx *Tx) error {
		r, err := tx.GetRound("r1")
		if err != nil {
			return err
		}
		r.Status = types.RoundSubmitted
		r.SubmittedPhrase = "sample phrase"
		r.SubmittedAt = &submitted
		return tx.TransitionRound(r, types.RoundActive)
	})

	// Second transition from active must lose: the round is no longer active.
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		r, err := tx.GetRound("r1")
		if err != nil {
			return err
		}
		r.Status = types.RoundExpired
		return tx.TransitionRound(r, types.RoundActive)
	})
	if !errors.Is(err, types.ErrRoundNotActive) {
		t.Fatalf("expected ErrRoundNotActive, got %v", err)
	}
}

func TestQFVoteUniquePerVoter(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		if err := tx.InsertPhraseset(&types.Phraseset{
			ID: "ps1", PromptRoundID: "r1", PromptText: "prompt",
			OriginalPhrase: "orig", PromptPlayerID: "p1",
			Status: types.PhrasesetVoting, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertQFVote("v1", "ps1", "voter", "original", now)
	})

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertQFVote("v2", "ps1", "voter", "copy1", now)
	})
	if !errors.Is(err, types.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestAddPhrasesetVoteStopsWhenFinalized(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		return tx.InsertPhraseset(&types.Phraseset{
			ID: "ps1", PromptRoundID: "r1", PromptText: "prompt",
			OriginalPhrase: "orig", PromptPlayerID: "p1",
			Status: types.PhrasesetFinalized, CreatedAt: now,
		})
	})

	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.AddPhrasesetVote("ps1", "original")
	})
	if err == nil {
		t.Fatal("expected vote on finalized phraseset to fail")
	}
}

func TestBackronymEntryCapAndUniqueness(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		return tx.InsertBackronymSet(&types.BackronymSet{
			ID: "set1", Word: "CAT", Mode: types.ModeStandard,
			Status: types.SetOpen, CreatedAt: now, LastHumanActivityAt: now,
		})
	})

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		mustTx(t, s, func(tx *Tx) error {
			return tx.InsertBackronymEntry(&types.BackronymEntry{
				ID: "e" + id, SetID: "set1", PlayerID: "p" + id,
				Words: []string{"cool", "awesome", "thing"}, CreatedAt: now,
			})
		})
	}

	// Sixth entry exceeds the cap.
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertBackronymEntry(&types.BackronymEntry{
			ID: "e6", SetID: "set1", PlayerID: "p6",
			Words: []string{"crazy", "angry", "tiger"}, CreatedAt: now,
		})
	})
	if err == nil {
		t.Fatal("expected sixth entry to be rejected")
	}

	// Duplicate player in the same set.
	err = s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertBackronymEntry(&types.BackronymEntry{
			ID: "dup", SetID: "set1", PlayerID: "pa",
			Words: []string{"clever", "apt", "try"}, CreatedAt: now,
		})
	})
	if err == nil {
		t.Fatal("expected duplicate player entry to be rejected")
	}
	mustTx(t, s, func(tx *Tx) error {
		set, err := tx.GetBackronymSet("set1")
		if err != nil {
			return err
		}
		if set.EntryCount != 5 {
			t.Errorf("entry_count = %d, want 5", set.EntryCount)
		}
		return nil
	})
}

func TestIncrementProgressQuota(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		if err := tx.InsertSession(&types.PartySession{
			ID: "s1", Code: "ABCDEFGH", HostPlayerID: "p1",
			MinPlayers: 3, MaxPlayers: 8,
			PromptsPerPlayer: 2, CopiesPerPlayer: 2, VotesPerPlayer: 3,
			Status: types.SessionInProgress, CurrentPhase: types.PhasePrompt,
			PhaseStartedAt: now, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertParticipant(&types.Participant{
			SessionID: "s1", PlayerID: "p1", Status: types.ParticipantActive,
			IsHost: true, JoinedAt: now,
		})
	})

	for i := 0; i < 2; i++ {
		mustTx(t, s, func(tx *Tx) error {
			return tx.IncrementProgress("s1", "p1", types.PhasePrompt, 2)
		})
	}
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.IncrementProgress("s1", "p1", types.PhasePrompt, 2)
	})
	if err == nil {
		t.Fatal("expected third increment past quota to fail")
	}
}

func TestAdvanceSessionPhaseFirstWins(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		return tx.InsertSession(&types.PartySession{
			ID: "s1", Code: "ABCDEFGH", HostPlayerID: "p1",
			MinPlayers: 3, MaxPlayers: 8,
			PromptsPerPlayer: 2, CopiesPerPlayer: 2, VotesPerPlayer: 3,
			Status: types.SessionInProgress, CurrentPhase: types.PhasePrompt,
			PhaseStartedAt: now, CreatedAt: now,
		})
	})

	mustTx(t, s, func(tx *Tx) error {
		ok, err := tx.AdvanceSessionPhase("s1", types.PhasePrompt, types.PhaseCopy, now, nil)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("first advance should win")
		}
		ok, err = tx.AdvanceSessionPhase("s1", types.PhasePrompt, types.PhaseCopy, now, nil)
		if err != nil {
			return err
		}
		if ok {
			t.Error("second advance from the same phase should lose")
		}
		return nil
	})
}

func TestResultViewIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	mustTx(t, s, func(tx *Tx) error {
		v, err := tx.RecordResultView(&types.ResultView{
			ID: "rv1", PlayerID: "p1", RefID: "ps1", Payout: 42, CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if v.Payout != 42 {
			t.Errorf("payout = %d, want 42", v.Payout)
		}
		// Second record with a different payout returns the stored row.
		v, err = tx.RecordResultView(&types.ResultView{
			ID: "rv2", PlayerID: "p1", RefID: "ps1", Payout: 99, CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if v.ID != "rv1" || v.Payout != 42 {
			t.Errorf("got id=%s payout=%d, want stored rv1/42", v.ID, v.Payout)
		}
		return nil
	})
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	vec := []float32{0.1, 0.2, 0.3}

	mustTx(t, s, func(tx *Tx) error {
		if err := tx.PutCachedEmbedding("banana", "embed-1", "gemini", vec, now); err != nil {
			return err
		}
		got, err := tx.GetCachedEmbedding("banana", "embed-1", "gemini")
		if err != nil {
			return err
		}
		if len(got) != 3 || got[1] != 0.2 {
			t.Errorf("cached vector mismatch: %v", got)
		}
		miss, err := tx.GetCachedEmbedding("banana", "embed-2", "gemini")
		if err != nil {
			return err
		}
		if miss != nil {
			t.Errorf("expected cache miss for other model, got %v", miss)
		}
		return nil
	})
}

func TestWrapStoreErrTagsBusyAsRetryable(t *testing.T) {
	err := wrapStoreErr("commit", sqlite3.Error{Code: sqlite3.ErrBusy})
	if !types.IsRetryable(err) {
		t.Fatalf("busy error not retryable: %v", err)
	}
	var ts *types.TransientStoreError
	if !errors.As(err, &ts) {
		t.Fatalf("busy error is %T, want *types.TransientStoreError", err)
	}
	if ts.Op != "commit" {
		t.Errorf("op = %q, want commit", ts.Op)
	}

	if types.IsRetryable(wrapStoreErr("query", errors.New("syntax error"))) {
		t.Error("plain error tagged retryable")
	}
	if wrapStoreErr("query", nil) != nil {
		t.Error("nil error wrapped")
	}
}

func TestTimesRoundTripExactly(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2025, 6, 1, 12, 30, 45, 123456789, time.UTC)

	mustTx(t, s, func(tx *Tx) error {
		if err := tx.CreatePlayer(&types.Player{
			ID: "p1", Username: "P1", UsernameLower: "p1",
			CreatedAt: at, LastActiveAt: at,
		}); err != nil {
			return err
		}
		p, err := tx.GetPlayer("p1")
		if err != nil {
			return err
		}
		if !p.CreatedAt.Equal(at) {
			t.Errorf("created_at = %v, want %v", p.CreatedAt, at)
		}
		return nil
	})
}
