package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool
	fail   bool
}

func (c *fakeConn) WriteMessage(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return context.Canceled
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newHubWithSession(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := time.Now()
	err = st.WithTx(context.Background(), func(tx *store.Tx) error {
		for _, id := range []string{"A", "B"} {
			if err := tx.CreatePlayer(&types.Player{
				ID: id, Username: id, UsernameLower: id, CreatedAt: now, LastActiveAt: now,
			}); err != nil {
				return err
			}
		}
		if err := tx.InsertSession(&types.PartySession{
			ID: "S1", Code: "TESTCODE", HostPlayerID: "A", MinPlayers: 3, MaxPlayers: 10,
			PromptsPerPlayer: 1, CopiesPerPlayer: 2, VotesPerPlayer: 3,
			Status: types.SessionOpen, CurrentPhase: types.PhaseLobby,
			PhaseStartedAt: now, CreatedAt: now,
		}); err != nil {
			return err
		}
		for _, id := range []string{"A", "B"} {
			if err := tx.InsertParticipant(&types.Participant{
				SessionID: "S1", PlayerID: id, Status: types.ParticipantJoined, JoinedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewHub(st), st
}

func participantStatus(t *testing.T, st *store.Store, playerID string) types.ParticipantStatus {
	t.Helper()
	var status types.ParticipantStatus
	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		p, err := tx.GetParticipant("S1", playerID)
		if err != nil {
			return err
		}
		status = p.Status
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func TestLobbyConnectTogglesReady(t *testing.T) {
	hub, st := newHubWithSession(t)
	ctx := context.Background()

	conn := &fakeConn{}
	if err := hub.Connect(ctx, "S1", "A", conn, ContextLobby); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := participantStatus(t, st, "A"); got != types.ParticipantReady {
		t.Errorf("status after connect = %s, want READY", got)
	}
	if err := hub.Disconnect(ctx, "S1", "A", ContextLobby); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := participantStatus(t, st, "A"); got != types.ParticipantJoined {
		t.Errorf("status after disconnect = %s, want JOINED", got)
	}
	if !conn.closed {
		t.Error("connection not closed on disconnect")
	}
}

func TestBroadcastExcludesAndDropsDead(t *testing.T) {
	hub, _ := newHubWithSession(t)
	ctx := context.Background()

	a, b := &fakeConn{}, &fakeConn{fail: true}
	if err := hub.Connect(ctx, "S1", "A", a, ContextGame); err != nil {
		t.Fatal(err)
	}
	if err := hub.Connect(ctx, "S1", "B", b, ContextGame); err != nil {
		t.Fatal(err)
	}

	hub.Broadcast("S1", Message{Event: EventSessionUpdate}, "A")
	if a.count() != 0 {
		t.Errorf("excluded player got %d messages", a.count())
	}
	// B's write failed, so the hub dropped it.
	if hub.ConnectedCount("S1") != 1 {
		t.Errorf("connected count = %d after dead conn, want 1", hub.ConnectedCount("S1"))
	}

	hub.Broadcast("S1", Message{Event: EventSessionUpdate})
	if a.count() != 1 {
		t.Errorf("a got %d messages, want 1", a.count())
	}
	hub.Send("S1", "A", Message{Event: EventHostPing})
	if a.count() != 2 {
		t.Errorf("a got %d messages after Send, want 2", a.count())
	}
}
