package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/cluster"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/ledger"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/matcher"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
	"github.com/sheegaon/quipflip-sub002/internal/validate"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *clock.Fake) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	fc := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng := New(cfg, Deps{
		Store:     st,
		Locks:     lockq.NewService(),
		Bank:      ledger.NewService(cfg.Payouts),
		Match:     matcher.New(cfg.Abuse, cfg.Timing, fc),
		Validator: validate.New(nil),
		TL:        cluster.NewService(cluster.NewMockEngine(64), cfg.TL),
		Clock:     fc,
	})
	return eng, st, fc
}

func mustTx(t *testing.T, st *store.Store, fn func(*store.Tx) error) {
	t.Helper()
	if err := st.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func seedPlayer(t *testing.T, st *store.Store, id string, wallet int) {
	t.Helper()
	now := time.Now()
	mustTx(t, st, func(tx *store.Tx) error {
		if err := tx.CreatePlayer(&types.Player{
			ID: id, Username: id, UsernameLower: id,
			CreatedAt: now, LastActiveAt: now,
		}); err != nil {
			return err
		}
		for _, g := range []types.GameType{types.GameQF, types.GameIR, types.GameTL} {
			if err := tx.CreateGameData(&types.PlayerGameData{PlayerID: id, Game: g, Wallet: wallet}); err != nil {
				return err
			}
		}
		return nil
	})
}

func balances(t *testing.T, st *store.Store, id string, game types.GameType) (wallet, vault int) {
	t.Helper()
	mustTx(t, st, func(tx *store.Tx) error {
		gd, err := tx.GetGameData(id, game)
		if err != nil {
			return err
		}
		wallet, vault = gd.Wallet, gd.Vault
		return nil
	})
	return wallet, vault
}

// =============================================================================
// ROUND LIFECYCLE
// =============================================================================

func TestStartRoundRejectsSecondActive(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	ctx := context.Background()

	if _, err := eng.StartPromptRound(ctx, "A", "worst gift"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := eng.StartPromptRound(ctx, "A", "worst gift")
	if !errors.Is(err, types.ErrAlreadyInRound) {
		t.Fatalf("second start: got %v, want ErrAlreadyInRound", err)
	}
}

func TestStartRoundInsufficientBalance(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 50)

	_, err := eng.StartPromptRound(context.Background(), "A", "worst gift")
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if w, _ := balances(t, st, "A", types.GameQF); w != 50 {
		t.Errorf("wallet changed on failed start: %d", w)
	}
}

func TestSubmitWithinGraceSucceeds(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	ctx := context.Background()

	r, err := eng.StartPromptRound(ctx, "A", "worst gift")
	if err != nil {
		t.Fatal(err)
	}
	// TTL 180s plus 5s grace: 184s is still in time.
	fc.Advance(184 * time.Second)
	if _, err := eng.SubmitQuip(ctx, "A", r.ID, "a gently used candle"); err != nil {
		t.Fatalf("submit at +184s: %v", err)
	}
}

func TestSubmitPastGraceExpires(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	ctx := context.Background()

	r, err := eng.StartPromptRound(ctx, "A", "worst gift")
	if err != nil {
		t.Fatal(err)
	}
	fc.Advance(186 * time.Second)
	_, err = eng.SubmitQuip(ctx, "A", r.ID, "a gently used candle")
	if !errors.Is(err, types.ErrRoundExpired) {
		t.Fatalf("submit at +186s: got %v, want ErrRoundExpired", err)
	}
}

func TestInvalidPhraseLeavesRoundActive(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	ctx := context.Background()

	r, err := eng.StartPromptRound(ctx, "A", "worst wedding gift")
	if err != nil {
		t.Fatal(err)
	}
	// Reuses the significant prompt word "wedding".
	var ipe *types.InvalidPhraseError
	_, err = eng.SubmitQuip(ctx, "A", r.ID, "a wedding cake")
	if !errors.As(err, &ipe) {
		t.Fatalf("got %v, want InvalidPhraseError", err)
	}
	mustTx(t, st, func(tx *store.Tx) error {
		got, err := tx.GetRound(r.ID)
		if err != nil {
			return err
		}
		if got.Status != types.RoundActive {
			t.Errorf("round status = %s after invalid phrase, want active", got.Status)
		}
		return nil
	})

	// Retry with a clean phrase works.
	if _, err := eng.SubmitQuip(ctx, "A", r.ID, "a decorative rock"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSubmitIdempotent(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	ctx := context.Background()

	r, err := eng.StartPromptRound(ctx, "A", "worst gift")
	if err != nil {
		t.Fatal(err)
	}
	first, err := eng.SubmitQuip(ctx, "A", r.ID, "a decorative rock")
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.SubmitQuip(ctx, "A", r.ID, "something else entirely")
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if second.SubmittedPhrase != first.SubmittedPhrase {
		t.Errorf("repeat submit changed phrase to %q", second.SubmittedPhrase)
	}
}

func TestExpireRoundRefundsCopies(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	seedPlayer(t, st, "B", 500)
	ctx := context.Background()

	pr, err := eng.StartPromptRound(ctx, "A", "worst gift")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitQuip(ctx, "A", pr.ID, "a decorative rock"); err != nil {
		t.Fatal(err)
	}
	asg, err := eng.StartCopyRound(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	fc.Advance(200 * time.Second)
	if err := eng.ExpireRound(ctx, asg.Round.ID); err != nil {
		t.Fatalf("ExpireRound: %v", err)
	}

	// Copy cost 90, 50% back on expiry.
	if w, _ := balances(t, st, "B", types.GameQF); w != 500-90+45 {
		t.Errorf("wallet after expired copy = %d, want 455", w)
	}
	// The prompt goes back into circulation.
	if prompts, _ := eng.match.QueueDepths(); prompts != 1 {
		t.Errorf("prompt queue depth = %d after expiry, want 1", prompts)
	}
}

func TestRehydrateReloadsQueues(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	for _, p := range []string{"A", "B", "C", "D", "E"} {
		seedPlayer(t, st, p, 500)
	}
	ctx := context.Background()

	// A's prompt gathers both copies and reaches voting.
	pr, err := eng.StartPromptRound(ctx, "A", "worst birthday gift")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitQuip(ctx, "A", pr.ID, "a decorative rock"); err != nil {
		t.Fatal(err)
	}
	for copier, phrase := range map[string]string{"B": "a pile of sand", "C": "gravel in a box"} {
		asg, err := eng.StartCopyRound(ctx, copier)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := eng.SubmitCopy(ctx, copier, asg.Round.ID, phrase); err != nil {
			t.Fatal(err)
		}
	}
	// D's prompt is submitted but has no copies yet.
	dr, err := eng.StartPromptRound(ctx, "D", "strangest smell in the office")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitQuip(ctx, "D", dr.ID, "wet chalk dust"); err != nil {
		t.Fatal(err)
	}

	// A freshly constructed engine over the same store starts with empty
	// queues, as it would after a restart.
	cfg := config.DefaultConfig()
	fresh := New(cfg, Deps{
		Store:     st,
		Locks:     lockq.NewService(),
		Bank:      ledger.NewService(cfg.Payouts),
		Match:     matcher.New(cfg.Abuse, cfg.Timing, fc),
		Validator: validate.New(nil),
		TL:        cluster.NewService(cluster.NewMockEngine(64), cfg.TL),
		Clock:     fc,
	})
	if p, v := fresh.match.QueueDepths(); p != 0 || v != 0 {
		t.Fatalf("fresh queues = %d/%d, want empty", p, v)
	}

	if err := fresh.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if p, v := fresh.match.QueueDepths(); p != 1 || v != 1 {
		t.Fatalf("rehydrated queues = %d prompts / %d phrasesets, want 1/1", p, v)
	}

	// The reloaded prompt queue serves real work.
	asg, err := fresh.StartCopyRound(ctx, "E")
	if err != nil {
		t.Fatalf("StartCopyRound after rehydrate: %v", err)
	}
	if asg.Round.PromptRoundID != dr.ID {
		t.Errorf("assigned prompt %s, want %s", asg.Round.PromptRoundID, dr.ID)
	}
}

// =============================================================================
// QF FULL CYCLE
// =============================================================================

func TestQFCycleAndFinalization(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	for _, p := range []string{"A", "B", "C", "D", "E", "F"} {
		seedPlayer(t, st, p, 500)
	}
	ctx := context.Background()

	pr, err := eng.StartPromptRound(ctx, "A", "worst birthday gift")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitQuip(ctx, "A", pr.ID, "a decorative rock"); err != nil {
		t.Fatal(err)
	}

	var psID string
	for _, copier := range []string{"B", "C"} {
		asg, err := eng.StartCopyRound(ctx, copier)
		if err != nil {
			t.Fatalf("%s StartCopyRound: %v", copier, err)
		}
		if asg.Original != "a decorative rock" {
			t.Fatalf("copier sees original %q", asg.Original)
		}
		phrase := map[string]string{"B": "a pile of sand", "C": "gravel in a box"}[copier]
		r, err := eng.SubmitCopy(ctx, copier, asg.Round.ID, phrase)
		if err != nil {
			t.Fatalf("%s SubmitCopy: %v", copier, err)
		}
		psID = r.PhrasesetID
	}

	for voter, choice := range map[string]string{"D": "original", "E": "original", "F": "copy1"} {
		asg, err := eng.StartVoteRound(ctx, voter)
		if err != nil {
			t.Fatalf("%s StartVoteRound: %v", voter, err)
		}
		if asg.Phraseset.ID != psID {
			t.Fatalf("voter got phraseset %s, want %s", asg.Phraseset.ID, psID)
		}
		if _, err := eng.SubmitVote(ctx, voter, asg.Round.ID, choice); err != nil {
			t.Fatalf("%s SubmitVote: %v", voter, err)
		}
	}

	if err := eng.FinalizePhraseset(ctx, psID); err != nil {
		t.Fatalf("FinalizePhraseset: %v", err)
	}
	// Pool 100+90+90+30 = 310; two correct voters take 2*20; writer pool 270
	// splits 2:1:0. Prompt author grosses 180 with 24 raked to vault.
	if w, v := balances(t, st, "A", types.GameQF); w != 556 || v != 24 {
		t.Errorf("author balances = (%d,%d), want (556,24)", w, v)
	}
	if w, v := balances(t, st, "B", types.GameQF); w != 500 || v != 0 {
		t.Errorf("copy1 balances = (%d,%d), want (500,0)", w, v)
	}
	if w, _ := balances(t, st, "C", types.GameQF); w != 410 {
		t.Errorf("copy2 wallet = %d, want 410", w)
	}
	if w, _ := balances(t, st, "D", types.GameQF); w != 510 {
		t.Errorf("correct voter wallet = %d, want 510", w)
	}
	if w, _ := balances(t, st, "F", types.GameQF); w != 490 {
		t.Errorf("incorrect voter wallet = %d, want 490", w)
	}

	// Finalization is idempotent: a second call must not pay again.
	if err := eng.FinalizePhraseset(ctx, psID); err != nil {
		t.Fatalf("repeat finalize: %v", err)
	}
	if w, _ := balances(t, st, "A", types.GameQF); w != 556 {
		t.Errorf("repeat finalize changed author wallet to %d", w)
	}
}

// =============================================================================
// IR CYCLE
// =============================================================================

func TestIRVoteSplit(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	entrants := []string{"P1", "P2", "P3", "P4", "P5"}
	outsiders := []string{"N1", "N2", "N3", "N4", "N5"}
	for _, p := range append(append([]string{}, entrants...), outsiders...) {
		seedPlayer(t, st, p, 500)
	}
	ctx := context.Background()

	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertBackronymSet(&types.BackronymSet{
			ID: "S1", Word: "GOLD", Mode: types.ModeStandard, Status: types.SetOpen,
			CreatedAt: fc.Now(), LastHumanActivityAt: fc.Now(),
		})
	})

	entryIDs := make(map[string]string) // player -> entry ID
	for _, p := range entrants {
		asg, err := eng.StartBackronymEntry(ctx, p, types.ModeStandard)
		if err != nil {
			t.Fatalf("%s StartBackronymEntry: %v", p, err)
		}
		if asg.Set.ID != "S1" {
			t.Fatalf("%s joined %s, want S1", p, asg.Set.ID)
		}
		if _, err := eng.SubmitBackronymEntry(ctx, p, asg.Round.ID, []string{"great", "old", "little", "dog"}); err != nil {
			t.Fatalf("%s SubmitBackronymEntry: %v", p, err)
		}
	}
	mustTx(t, st, func(tx *store.Tx) error {
		entries, err := tx.ListBackronymEntries("S1")
		if err != nil {
			return err
		}
		if len(entries) != 5 {
			t.Fatalf("entry count = %d, want 5", len(entries))
		}
		for _, en := range entries {
			entryIDs[en.PlayerID] = en.ID
		}
		set, err := tx.GetBackronymSet("S1")
		if err != nil {
			return err
		}
		if set.Status != types.SetVoting {
			t.Fatalf("set status after 5 entries = %s, want voting", set.Status)
		}
		return nil
	})

	vote := func(voter, target string) {
		t.Helper()
		asg, err := eng.StartBackronymVote(ctx, voter)
		if err != nil {
			t.Fatalf("%s StartBackronymVote: %v", voter, err)
		}
		if _, err := eng.SubmitBackronymVote(ctx, voter, asg.Round.ID, entryIDs[target]); err != nil {
			t.Fatalf("%s SubmitBackronymVote: %v", voter, err)
		}
	}
	// Winning entry (P1's) takes 3 of 5 participant votes and 3 of 5
	// non-participant votes.
	vote("P2", "P1")
	vote("P3", "P1")
	vote("P4", "P1")
	vote("P1", "P2")
	vote("P5", "P2")
	vote("N1", "P1")
	vote("N2", "P1")
	vote("N3", "P1")
	vote("N4", "P3")
	vote("N5", "P3")

	mustTx(t, st, func(tx *store.Tx) error {
		set, err := tx.GetBackronymSet("S1")
		if err != nil {
			return err
		}
		if set.Status != types.SetFinalized {
			t.Fatalf("set status after full votes = %s, want finalized", set.Status)
		}
		return nil
	})

	// Pool 5*100 + 5*10 = 550; rake 165; correct outsiders 3*20 = 60;
	// creator pool 325. Winner has 6 of 10 votes: floor(325*6/10) = 195.
	if w, v := balances(t, st, "P1", types.GameIR); w != 500-100+195 || v != 99 {
		t.Errorf("winner balances = (%d,%d), want (595,99)", w, v)
	}
	if w, v := balances(t, st, "P2", types.GameIR); w != 500-100+65 || v != 33 {
		t.Errorf("P2 balances = (%d,%d), want (465,33)", w, v)
	}
	if w, _ := balances(t, st, "P4", types.GameIR); w != 400 {
		t.Errorf("voteless entrant wallet = %d, want 400", w)
	}
	if w, _ := balances(t, st, "N1", types.GameIR); w != 500-10+20 {
		t.Errorf("correct outsider wallet = %d, want 510", w)
	}
	if w, _ := balances(t, st, "N4", types.GameIR); w != 490 {
		t.Errorf("incorrect outsider wallet = %d, want 490", w)
	}
}

func TestIRNonVotingAuthorForfeitsToVault(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	players := []string{"P1", "P2", "P3", "P4", "P5", "N1", "N2", "N3", "N4", "N5"}
	for _, p := range players {
		seedPlayer(t, st, p, 500)
	}
	ctx := context.Background()
	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertBackronymSet(&types.BackronymSet{
			ID: "S1", Word: "GOLD", Mode: types.ModeStandard, Status: types.SetOpen,
			CreatedAt: fc.Now(), LastHumanActivityAt: fc.Now(),
		})
	})

	entryIDs := make(map[string]string)
	for _, p := range []string{"P1", "P2", "P3", "P4", "P5"} {
		asg, err := eng.StartBackronymEntry(ctx, p, types.ModeStandard)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := eng.SubmitBackronymEntry(ctx, p, asg.Round.ID, []string{"great", "old", "little", "dog"}); err != nil {
			t.Fatal(err)
		}
	}
	mustTx(t, st, func(tx *store.Tx) error {
		entries, err := tx.ListBackronymEntries("S1")
		if err != nil {
			return err
		}
		for _, en := range entries {
			entryIDs[en.PlayerID] = en.ID
		}
		return nil
	})

	vote := func(voter, target string) {
		t.Helper()
		asg, err := eng.StartBackronymVote(ctx, voter)
		if err != nil {
			t.Fatalf("%s StartBackronymVote: %v", voter, err)
		}
		if _, err := eng.SubmitBackronymVote(ctx, voter, asg.Round.ID, entryIDs[target]); err != nil {
			t.Fatalf("%s SubmitBackronymVote: %v", voter, err)
		}
	}
	// P1 and P5 never vote; P5's entry still draws outsider votes.
	vote("P2", "P1")
	vote("P3", "P1")
	vote("P4", "P1")
	vote("N1", "P1")
	vote("N2", "P1")
	vote("N3", "P1")
	vote("N4", "P5")
	vote("N5", "P5")

	// Votes are short of the cap; the timer path finalizes.
	if err := eng.FinalizeBackronymSet(ctx, "S1"); err != nil {
		t.Fatalf("FinalizeBackronymSet: %v", err)
	}

	// Pool 550, rake 165, correct outsiders 3*20 = 60, creator pool 325.
	// P1 (6/8 votes, never voted): floor(325*6/8)=243 to vault, not wallet.
	if w, v := balances(t, st, "P1", types.GameIR); w != 400 || v != 243+123 {
		t.Errorf("non-voting winner balances = (%d,%d), want (400,366)", w, v)
	}
	// P5 (2/8 votes, never voted): floor(325*2/8)=81 to vault.
	if w, v := balances(t, st, "P5", types.GameIR); w != 400 || v != 81+41 {
		t.Errorf("P5 balances = (%d,%d), want (400,122)", w, v)
	}
}

// =============================================================================
// TL GUESS ROUNDS
// =============================================================================

func seedTLCorpus(t *testing.T, eng *Engine, st *store.Store, promptID string, texts []string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	mustTx(t, st, func(tx *store.Tx) error {
		if err := tx.InsertTLPrompt(promptID, "things found in space", now); err != nil {
			return err
		}
		for i, text := range texts {
			emb, err := eng.tl.Engine().Embed(ctx, text)
			if err != nil {
				return err
			}
			clusterID := fmt.Sprintf("c%d", i+1)
			if err := tx.InsertCluster(&types.Cluster{
				ID: clusterID, PromptID: promptID, Centroid: emb, Size: 1,
				ExampleAnswer: text, CreatedAt: now,
			}); err != nil {
				return err
			}
			if err := tx.InsertTLAnswer(&types.TLAnswer{
				ID: fmt.Sprintf("a%d", i+1), PromptID: promptID, Text: text,
				ClusterID: clusterID, Weight: 1, Active: true, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestGuessRoundHalfCoveragePayout(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	seedTLCorpus(t, eng, st, "tp1", []string{"gravity", "rockets"})
	ctx := context.Background()

	r, err := eng.StartGuessRound(ctx, "A", "tp1")
	if err != nil {
		t.Fatalf("StartGuessRound: %v", err)
	}

	// Exact corpus text matches its own cluster.
	res, err := eng.SubmitGuess(ctx, "A", r.ID, "gravity")
	if err != nil {
		t.Fatalf("matching guess: %v", err)
	}
	if !res.Matched || res.Coverage != 0.5 {
		t.Fatalf("matched=%v coverage=%v, want match at 0.5", res.Matched, res.Coverage)
	}

	// Three unrelated guesses strike out and finalize at 50% coverage:
	// gross = round(300*0.5^1.5) = 106, split 105 wallet / 1 vault.
	misses := []string{"purple monkeys", "tax deadline", "socks drawer"}
	var final *GuessResult
	for _, miss := range misses {
		final, err = eng.SubmitGuess(ctx, "A", r.ID, miss)
		if err != nil {
			t.Fatalf("miss %q: %v", miss, err)
		}
		if final.Matched {
			t.Fatalf("miss %q unexpectedly matched", miss)
		}
	}
	if !final.Finalized || final.Strikes != 3 {
		t.Fatalf("final = %+v, want finalized at 3 strikes", final)
	}
	if final.GrossPayout != 106 || final.WalletCredit != 105 || final.VaultCredit != 1 {
		t.Errorf("payout = (%d,%d,%d), want (106,105,1)",
			final.GrossPayout, final.WalletCredit, final.VaultCredit)
	}
	if w, v := balances(t, st, "A", types.GameTL); w != 500-100+105 || v != 1 {
		t.Errorf("balances = (%d,%d), want (505,1)", w, v)
	}
}

func TestGuessSelfSimilarityRejected(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	seedTLCorpus(t, eng, st, "tp1", []string{"gravity", "rockets"})
	ctx := context.Background()

	r, err := eng.StartGuessRound(ctx, "A", "tp1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitGuess(ctx, "A", r.ID, "gravity"); err != nil {
		t.Fatal(err)
	}
	// The identical text embeds identically: similarity 1.0 >= 0.80.
	var ipe *types.InvalidPhraseError
	_, err = eng.SubmitGuess(ctx, "A", r.ID, "gravity")
	if !errors.As(err, &ipe) {
		t.Fatalf("repeat guess: got %v, want InvalidPhraseError", err)
	}
	// No strike for a rejected repeat.
	mustTx(t, st, func(tx *store.Tx) error {
		tlr, err := tx.GetTLRound(r.ID)
		if err != nil {
			return err
		}
		if tlr.Strikes != 0 {
			t.Errorf("strikes = %d after rejected repeat, want 0", tlr.Strikes)
		}
		return nil
	})
}

func TestAbandonGuessRound(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	seedTLCorpus(t, eng, st, "tp1", []string{"gravity"})
	ctx := context.Background()

	r, err := eng.StartGuessRound(ctx, "A", "tp1")
	if err != nil {
		t.Fatal(err)
	}
	refund, err := eng.AbandonRound(ctx, "A", r.ID)
	if err != nil {
		t.Fatalf("AbandonRound: %v", err)
	}
	// Entry 100 minus the 5 coin penalty.
	if refund != 95 {
		t.Errorf("refund = %d, want 95", refund)
	}
	if w, _ := balances(t, st, "A", types.GameTL); w != 495 {
		t.Errorf("wallet = %d, want 495", w)
	}
}

func TestAbandonBlockedAfterGuess(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	seedTLCorpus(t, eng, st, "tp1", []string{"gravity", "rockets"})
	ctx := context.Background()

	r, err := eng.StartGuessRound(ctx, "A", "tp1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitGuess(ctx, "A", r.ID, "gravity"); err != nil {
		t.Fatal(err)
	}
	_, err = eng.AbandonRound(ctx, "A", r.ID)
	if !errors.Is(err, types.ErrGuessOnRound) {
		t.Fatalf("got %v, want ErrGuessOnRound", err)
	}
}

func TestExpiredGuessRoundPaysCurrentCoverage(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedPlayer(t, st, "A", 500)
	seedTLCorpus(t, eng, st, "tp1", []string{"gravity", "rockets"})
	ctx := context.Background()

	r, err := eng.StartGuessRound(ctx, "A", "tp1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.SubmitGuess(ctx, "A", r.ID, "gravity"); err != nil {
		t.Fatal(err)
	}
	fc.Advance(11 * time.Minute)
	if err := eng.ExpireRound(ctx, r.ID); err != nil {
		t.Fatalf("ExpireRound: %v", err)
	}
	// Half coverage pays out instead of evaporating.
	if w, v := balances(t, st, "A", types.GameTL); w != 505 || v != 1 {
		t.Errorf("balances = (%d,%d), want (505,1)", w, v)
	}
}
