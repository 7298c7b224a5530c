package sweeper

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/cluster"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/engine"
	"github.com/sheegaon/quipflip-sub002/internal/ledger"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/matcher"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
	"github.com/sheegaon/quipflip-sub002/internal/validate"
)

type harness struct {
	st  *store.Store
	eng *engine.Engine
	sw  *Sweeper
	fc  *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	fc := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng := engine.New(cfg, engine.Deps{
		Store:     st,
		Locks:     lockq.NewService(),
		Bank:      ledger.NewService(cfg.Payouts),
		Match:     matcher.New(cfg.Abuse, cfg.Timing, fc),
		Validator: validate.New(nil),
		TL:        cluster.NewService(cluster.NewMockEngine(64), cfg.TL),
		Clock:     fc,
	})
	return &harness{st: st, eng: eng, sw: New(cfg, st, eng, fc), fc: fc}
}

func (h *harness) mustTx(t *testing.T, fn func(*store.Tx) error) {
	t.Helper()
	if err := h.st.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func (h *harness) seedPlayer(t *testing.T, id string, wallet int) {
	t.Helper()
	now := time.Now()
	h.mustTx(t, func(tx *store.Tx) error {
		if err := tx.CreatePlayer(&types.Player{
			ID: id, Username: id, UsernameLower: id, CreatedAt: now, LastActiveAt: now,
		}); err != nil {
			return err
		}
		for _, g := range []types.GameType{types.GameQF, types.GameIR} {
			if err := tx.CreateGameData(&types.PlayerGameData{PlayerID: id, Game: g, Wallet: wallet}); err != nil {
				return err
			}
		}
		return nil
	})
}

// buildPhraseset runs one prompt and two copies through the engine.
func (h *harness) buildPhraseset(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	pr, err := h.eng.StartPromptRound(ctx, "A", "worst birthday gift")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.SubmitQuip(ctx, "A", pr.ID, "a decorative rock"); err != nil {
		t.Fatal(err)
	}
	var psID string
	for copier, phrase := range map[string]string{"B": "a pile of sand", "C": "gravel in a box"} {
		asg, err := h.eng.StartCopyRound(ctx, copier)
		if err != nil {
			t.Fatal(err)
		}
		r, err := h.eng.SubmitCopy(ctx, copier, asg.Round.ID, phrase)
		if err != nil {
			t.Fatal(err)
		}
		psID = r.PhrasesetID
	}
	return psID
}

func (h *harness) vote(t *testing.T, voter, choice string) {
	t.Helper()
	ctx := context.Background()
	asg, err := h.eng.StartVoteRound(ctx, voter)
	if err != nil {
		t.Fatalf("%s StartVoteRound: %v", voter, err)
	}
	if _, err := h.eng.SubmitVote(ctx, voter, asg.Round.ID, choice); err != nil {
		t.Fatalf("%s SubmitVote: %v", voter, err)
	}
}

func (h *harness) phrasesetStatus(t *testing.T, id string) types.PhrasesetStatus {
	t.Helper()
	var status types.PhrasesetStatus
	h.mustTx(t, func(tx *store.Tx) error {
		ps, err := tx.GetPhraseset(id)
		if err != nil {
			return err
		}
		status = ps.Status
		return nil
	})
	return status
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
	})
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sw.Run(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSweepExpiresRounds(t *testing.T) {
	h := newHarness(t)
	h.seedPlayer(t, "A", 500)
	ctx := context.Background()

	r, err := h.eng.StartPromptRound(ctx, "A", "worst gift")
	if err != nil {
		t.Fatal(err)
	}
	// Inside the grace window nothing happens.
	h.fc.Advance(183 * time.Second)
	if err := h.sw.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	h.mustTx(t, func(tx *store.Tx) error {
		got, err := tx.GetRound(r.ID)
		if err != nil {
			return err
		}
		if got.Status != types.RoundActive {
			t.Errorf("status inside grace = %s, want active", got.Status)
		}
		return nil
	})

	h.fc.Advance(5 * time.Second)
	if err := h.sw.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	h.mustTx(t, func(tx *store.Tx) error {
		got, err := tx.GetRound(r.ID)
		if err != nil {
			return err
		}
		if got.Status != types.RoundExpired {
			t.Errorf("status past grace = %s, want expired", got.Status)
		}
		return nil
	})
}

func TestSweepFinalizesAtMinimumAfterWindow(t *testing.T) {
	h := newHarness(t)
	for _, p := range []string{"A", "B", "C", "D", "E", "F"} {
		h.seedPlayer(t, p, 500)
	}
	psID := h.buildPhraseset(t)
	for _, voter := range []string{"D", "E", "F"} {
		h.vote(t, voter, "original")
	}

	// Three votes meet the minimum, but the window has not elapsed.
	if err := h.sw.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.phrasesetStatus(t, psID); got != types.PhrasesetVoting {
		t.Fatalf("status before window = %s, want voting", got)
	}

	h.fc.Advance(61 * time.Minute)
	if err := h.sw.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.phrasesetStatus(t, psID); got != types.PhrasesetFinalized {
		t.Fatalf("status after window = %s, want finalized", got)
	}
}

func TestSweepClosingWindow(t *testing.T) {
	h := newHarness(t)
	voters := []string{"D", "E", "F", "G", "H", "I", "J"}
	for _, p := range append([]string{"A", "B", "C"}, voters...) {
		h.seedPlayer(t, p, 500)
	}
	psID := h.buildPhraseset(t)
	for _, voter := range voters {
		h.vote(t, voter, "original")
	}

	// Seven votes cross the closing threshold.
	if err := h.sw.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.phrasesetStatus(t, psID); got != types.PhrasesetClosing {
		t.Fatalf("status at closing threshold = %s, want closing", got)
	}

	h.fc.Advance(11 * time.Minute)
	if err := h.sw.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.phrasesetStatus(t, psID); got != types.PhrasesetFinalized {
		t.Fatalf("status after closing window = %s, want finalized", got)
	}
}

func TestSweepDrivesRapidSetTimers(t *testing.T) {
	h := newHarness(t)
	h.seedPlayer(t, "A", 500)
	ctx := context.Background()

	asg, err := h.eng.StartBackronymEntry(ctx, "A", types.ModeRapid)
	if err != nil {
		t.Fatal(err)
	}
	word := asg.Set.Word
	words := make([]string, len(word))
	for i := range word {
		words[i] = string(word[i]+32) + "ig" // lowercase initial plus filler
	}
	if _, err := h.eng.SubmitBackronymEntry(ctx, "A", asg.Round.ID, words); err != nil {
		t.Fatal(err)
	}

	// Entry timer fires: the set opens voting with one entry.
	h.fc.Advance(6 * time.Minute)
	if err := h.sw.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	h.mustTx(t, func(tx *store.Tx) error {
		set, err := tx.GetBackronymSet(asg.Set.ID)
		if err != nil {
			return err
		}
		if set.Status != types.SetVoting {
			t.Fatalf("set status after entry timer = %s, want voting", set.Status)
		}
		return nil
	})

	// Voting timer fires with no votes: the entrant is made whole.
	h.fc.Advance(6 * time.Minute)
	if err := h.sw.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	h.mustTx(t, func(tx *store.Tx) error {
		set, err := tx.GetBackronymSet(asg.Set.ID)
		if err != nil {
			return err
		}
		if set.Status != types.SetFinalized {
			t.Errorf("set status after voting timer = %s, want finalized", set.Status)
		}
		gd, err := tx.GetGameData("A", types.GameIR)
		if err != nil {
			return err
		}
		if gd.Wallet != 500 {
			t.Errorf("entrant wallet = %d, want full refund to 500", gd.Wallet)
		}
		return nil
	})
}
