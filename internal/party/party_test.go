package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/realtime"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

type recordingHub struct {
	mu     sync.Mutex
	events []realtime.Message
}

func (h *recordingHub) Broadcast(sessionID string, msg realtime.Message, exclude ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, msg)
}

func (h *recordingHub) has(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.events {
		if m.Event == event {
			return true
		}
	}
	return false
}

func newTestParty(t *testing.T) (*Service, *store.Store, *recordingHub, *clock.Fake) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fc := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := New(config.DefaultConfig(), st, lockq.NewService(), fc)
	hub := &recordingHub{}
	svc.SetBroadcaster(hub)
	return svc, st, hub, fc
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
		return tx.CreatePlayer(&types.Player{
			ID: id, Username: id, UsernameLower: id,
			CreatedAt: now, LastActiveAt: now,
		})
	})
}

// startedSession creates a session with n players and starts it.
func startedSession(t *testing.T, svc *Service, st *store.Store, n int) (*types.PartySession, []string) {
	t.Helper()
	ctx := context.Background()
	players := make([]string, n)
	for i := range players {
		players[i] = fmt.Sprintf("P%d", i+1)
		seedPlayer(t, st, players[i])
	}
	session, err := svc.Create(ctx, players[0], DefaultSettings())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, p := range players[1:] {
		if _, err := svc.Join(ctx, p, session.Code); err != nil {
			t.Fatalf("Join %s: %v", p, err)
		}
	}
	if err := svc.Start(ctx, players[0], session.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return session, players
}

func sessionPhase(t *testing.T, st *store.Store, id string) types.SessionPhase {
	t.Helper()
	var phase types.SessionPhase
	mustTx(t, st, func(tx *store.Tx) error {
		s, err := tx.GetSession(id)
		if err != nil {
			return err
		}
		if s == nil {
			t.Fatalf("session %s gone", id)
		}
		phase = s.CurrentPhase
		return nil
	})
	return phase
}

// submitFor drives RoundSubmitted as the engine would after a commit.
func submitFor(t *testing.T, svc *Service, sessionID, playerID string, rt types.RoundType) {
	t.Helper()
	err := svc.RoundSubmitted(context.Background(), &types.Round{
		SessionID: sessionID, PlayerID: playerID, Type: rt,
	})
	if err != nil {
		t.Fatalf("RoundSubmitted(%s, %s): %v", playerID, rt, err)
	}
}

func TestJoinRules(t *testing.T) {
	svc, st, _, _ := newTestParty(t)
	ctx := context.Background()
	for _, p := range []string{"H", "A", "B", "C"} {
		seedPlayer(t, st, p)
	}

	set := DefaultSettings()
	set.MaxPlayers = 3
	session, err := svc.Create(ctx, "H", set)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Join(ctx, "A", session.Code); err != nil {
		t.Fatalf("A join: %v", err)
	}
	if _, err := svc.Join(ctx, "A", session.Code); !errors.Is(err, types.ErrAlreadyInSession) {
		t.Errorf("double join: got %v, want ErrAlreadyInSession", err)
	}
	if _, err := svc.Join(ctx, "B", session.Code); err != nil {
		t.Fatalf("B join: %v", err)
	}
	if _, err := svc.Join(ctx, "C", session.Code); !errors.Is(err, types.ErrSessionFull) {
		t.Errorf("join past max: got %v, want ErrSessionFull", err)
	}
	if _, err := svc.Join(ctx, "C", "WRONGCOD"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("bad code: got %v, want ErrSessionNotFound", err)
	}
}

func TestStartRules(t *testing.T) {
	svc, st, hub, _ := newTestParty(t)
	ctx := context.Background()
	for _, p := range []string{"H", "A", "B", "C"} {
		seedPlayer(t, st, p)
	}
	session, err := svc.Create(ctx, "H", DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, "A", session.Code); err != nil {
		t.Fatal(err)
	}

	if err := svc.Start(ctx, "A", session.ID); !errors.Is(err, types.ErrNotHost) {
		t.Errorf("non-host start: got %v, want ErrNotHost", err)
	}
	if err := svc.Start(ctx, "H", session.ID); !errors.Is(err, types.ErrNotEnoughPlayers) {
		t.Errorf("start with 2 of 3: got %v, want ErrNotEnoughPlayers", err)
	}
	if _, err := svc.Join(ctx, "B", session.Code); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(ctx, "H", session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(ctx, "H", session.ID); !errors.Is(err, types.ErrSessionAlreadyStarted) {
		t.Errorf("double start: got %v, want ErrSessionAlreadyStarted", err)
	}
	if _, err := svc.Join(ctx, "C", session.Code); !errors.Is(err, types.ErrSessionAlreadyStarted) {
		t.Errorf("join after start: got %v, want ErrSessionAlreadyStarted", err)
	}
	if !hub.has(realtime.EventSessionStarted) {
		t.Error("no session_started broadcast")
	}
	if got := sessionPhase(t, st, session.ID); got != types.PhasePrompt {
		t.Errorf("phase after start = %s, want PROMPT", got)
	}
}

func TestLeaveReassignsHostAndDeletesEmpty(t *testing.T) {
	svc, st, _, _ := newTestParty(t)
	ctx := context.Background()
	for _, p := range []string{"H", "A", "B"} {
		seedPlayer(t, st, p)
	}
	session, err := svc.Create(ctx, "H", DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, "A", session.Code); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, "B", session.Code); err != nil {
		t.Fatal(err)
	}

	// Host leaves: A joined first among the rest, so A inherits.
	if err := svc.Leave(ctx, "H", session.ID); err != nil {
		t.Fatalf("host leave: %v", err)
	}
	mustTx(t, st, func(tx *store.Tx) error {
		s, err := tx.GetSession(session.ID)
		if err != nil {
			return err
		}
		if s.HostPlayerID != "A" {
			t.Errorf("host after leave = %s, want A", s.HostPlayerID)
		}
		p, err := tx.GetParticipant(session.ID, "A")
		if err != nil {
			return err
		}
		if !p.IsHost {
			t.Error("A not flagged as host")
		}
		return nil
	})

	if err := svc.Leave(ctx, "A", session.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Leave(ctx, "B", session.ID); err != nil {
		t.Fatal(err)
	}
	mustTx(t, st, func(tx *store.Tx) error {
		s, err := tx.GetSession(session.ID)
		if err != nil {
			return err
		}
		if s != nil {
			t.Error("session survived the last player leaving")
		}
		return nil
	})
}

func TestPhaseAdvancesWhenAllDone(t *testing.T) {
	svc, st, hub, _ := newTestParty(t)
	session, players := startedSession(t, svc, st, 3)

	// One prompt per player; two submissions leave the phase put.
	submitFor(t, svc, session.ID, players[0], types.RoundPrompt)
	submitFor(t, svc, session.ID, players[1], types.RoundPrompt)
	if got := sessionPhase(t, st, session.ID); got != types.PhasePrompt {
		t.Fatalf("phase after 2 of 3 prompts = %s, want PROMPT", got)
	}
	submitFor(t, svc, session.ID, players[2], types.RoundPrompt)
	if got := sessionPhase(t, st, session.ID); got != types.PhaseCopy {
		t.Fatalf("phase after all prompts = %s, want COPY", got)
	}
	if !hub.has(realtime.EventPhaseTransition) {
		t.Error("no phase_transition broadcast")
	}
	if !hub.has(realtime.EventProgressUpdate) {
		t.Error("no progress_update broadcast")
	}
}

func TestVoteEntryMarksPhrasesetsVotable(t *testing.T) {
	svc, st, _, fc := newTestParty(t)
	session, players := startedSession(t, svc, st, 3)

	mustTx(t, st, func(tx *store.Tx) error {
		return tx.InsertPhraseset(&types.Phraseset{
			ID: "PS1", PromptRoundID: "R1", PromptText: "worst gift",
			OriginalPhrase: "a rock", Status: types.PhrasesetOpen,
			SessionID: session.ID, CreatedAt: fc.Now(),
		})
	})

	for _, p := range players {
		submitFor(t, svc, session.ID, p, types.RoundPrompt)
	}
	for _, p := range players {
		submitFor(t, svc, session.ID, p, types.RoundCopy)
		submitFor(t, svc, session.ID, p, types.RoundCopy)
	}
	if got := sessionPhase(t, st, session.ID); got != types.PhaseVote {
		t.Fatalf("phase = %s, want VOTE", got)
	}
	mustTx(t, st, func(tx *store.Tx) error {
		ps, err := tx.GetPhraseset("PS1")
		if err != nil {
			return err
		}
		if !ps.AvailableForVoting {
			t.Error("session phraseset not votable on VOTE entry")
		}
		return nil
	})
}

func TestStaleSubmissionIgnored(t *testing.T) {
	svc, st, _, _ := newTestParty(t)
	session, players := startedSession(t, svc, st, 3)

	// A copy submission landing while the session is still in PROMPT does
	// not count toward anything.
	submitFor(t, svc, session.ID, players[0], types.RoundCopy)
	mustTx(t, st, func(tx *store.Tx) error {
		p, err := tx.GetParticipant(session.ID, players[0])
		if err != nil {
			return err
		}
		if p.CopiesSubmitted != 0 {
			t.Errorf("copies_submitted = %d, want 0", p.CopiesSubmitted)
		}
		return nil
	})
}

func TestResultsTally(t *testing.T) {
	svc, st, _, fc := newTestParty(t)
	session, players := startedSession(t, svc, st, 3)
	ctx := context.Background()
	now := fc.Now()

	// A authored the original, B and C copied; C's copy fooled one voter,
	// A's original took two votes.
	mustTx(t, st, func(tx *store.Tx) error {
		if err := tx.InsertRound(&types.Round{
			ID: "R1", PlayerID: players[0], Game: types.GameQF, Type: types.RoundPrompt,
			Status: types.RoundCompleted, SessionID: session.ID, CreatedAt: now, ExpiresAt: now,
		}); err != nil {
			return err
		}
		if err := tx.InsertPhraseset(&types.Phraseset{
			ID: "PS1", PromptRoundID: "R1", PromptText: "worst gift",
			OriginalPhrase: "a rock", CopyPhrase1: "a stick", CopyPhrase2: "some mud",
			PromptPlayerID: players[0], Copy1PlayerID: players[1], Copy2PlayerID: players[2],
			Status: types.PhrasesetFinalized, SessionID: session.ID, CreatedAt: now,
		}); err != nil {
			return err
		}
		yes, no := true, false
		votes := []struct {
			voter, choice string
			correct       *bool
		}{
			{players[1], "original", &yes},
			{players[2], "original", &yes},
			{players[0], "copy2", &no},
		}
		for i, v := range votes {
			if err := tx.InsertQFVote(fmt.Sprintf("V%d", i), "PS1", v.voter, v.choice, now); err != nil {
				return err
			}
			if err := tx.SetVoteCorrect(fmt.Sprintf("V%d", i), *v.correct); err != nil {
				return err
			}
		}
		// Money: A spent 100 on the prompt and earned 180 from the pool.
		if err := tx.InsertTransaction(&types.Transaction{
			ID: "T1", PlayerID: players[0], Game: types.GameQF, Amount: -100,
			Kind: types.TxnRoundCost, RefID: "R1", CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertTransaction(&types.Transaction{
			ID: "T2", PlayerID: players[0], Game: types.GameQF, Amount: 180,
			Kind: types.TxnPayout, RefID: "PS1", CreatedAt: now,
		})
	})

	res, err := svc.Results(ctx, session.ID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if res.BestWriter != players[0] {
		t.Errorf("best writer = %s, want %s", res.BestWriter, players[0])
	}
	if res.TopImpostor != players[2] {
		t.Errorf("top impostor = %s, want %s", res.TopImpostor, players[2])
	}
	if res.SharpestVoter != players[1] {
		t.Errorf("sharpest voter = %s, want %s", res.SharpestVoter, players[1])
	}
	if res.Rankings[0].PlayerID != players[0] || res.Rankings[0].Net != 80 {
		t.Errorf("top ranking = %s net %d, want %s net 80",
			res.Rankings[0].PlayerID, res.Rankings[0].Net, players[0])
	}
	for i, r := range res.Rankings {
		if r.Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, r.Rank)
		}
	}
}
