// Package realtime fans session events out to connected clients. The hub is
// a session-keyed registry; game components publish through Broadcast and
// Send without knowing how (or whether) anyone is listening.
package realtime

import (
	"context"
	"sync"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Event names on the wire.
const (
	EventPlayerJoined         = "player_joined"
	EventPlayerLeft           = "player_left"
	EventPlayerReady          = "player_ready"
	EventHostPing             = "host_ping"
	EventSessionStarted       = "session_started"
	EventPhaseTransition      = "phase_transition"
	EventProgressUpdate       = "progress_update"
	EventSessionCompleted     = "session_completed"
	EventSessionUpdate        = "session_update"
	EventLobbyPresenceChanged = "lobby_presence_changed"
)

// Message is one event frame.
type Message struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Conn is the transport the hub writes to. The websocket adapter implements
// it; tests substitute an in-memory recorder.
type Conn interface {
	WriteMessage(msg Message) error
	Close() error
}

// ConnContext tells the hub what surface the client connected from. Lobby
// connections drive participant readiness; game connections do not.
type ConnContext string

const (
	ContextLobby ConnContext = "LOBBY"
	ContextGame  ConnContext = "GAME"
)

// Hub is the per-process broadcaster.
type Hub struct {
	store *store.Store

	mu       sync.Mutex
	sessions map[string]map[string]Conn
}

// NewHub creates an empty hub.
func NewHub(st *store.Store) *Hub {
	return &Hub{store: st, sessions: make(map[string]map[string]Conn)}
}

// Connect registers a connection for a player in a session, replacing any
// previous one. A lobby connection flips the participant JOINED -> READY and
// announces the presence change to the rest of the lobby.
func (h *Hub) Connect(ctx context.Context, sessionID, playerID string, conn Conn, cc ConnContext) error {
	h.mu.Lock()
	conns, ok := h.sessions[sessionID]
	if !ok {
		conns = make(map[string]Conn)
		h.sessions[sessionID] = conns
	}
	if prev, ok := conns[playerID]; ok {
		prev.Close()
	}
	conns[playerID] = conn
	h.mu.Unlock()

	if cc == ContextLobby {
		if err := h.setPresence(ctx, sessionID, playerID, true); err != nil {
			return err
		}
		h.Broadcast(sessionID, Message{
			Event:   EventLobbyPresenceChanged,
			Payload: map[string]any{"player_id": playerID, "connected": true},
		})
	}
	logging.Realtime("player %s connected to session %s (%s)", playerID, sessionID, cc)
	return nil
}

// Disconnect drops the player's connection. A lobby disconnect reverses
// READY -> JOINED so the host sees who is actually present.
func (h *Hub) Disconnect(ctx context.Context, sessionID, playerID string, cc ConnContext) error {
	h.mu.Lock()
	if conns, ok := h.sessions[sessionID]; ok {
		if c, ok := conns[playerID]; ok {
			c.Close()
			delete(conns, playerID)
		}
		if len(conns) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()

	if cc == ContextLobby {
		if err := h.setPresence(ctx, sessionID, playerID, false); err != nil {
			return err
		}
		h.Broadcast(sessionID, Message{
			Event:   EventLobbyPresenceChanged,
			Payload: map[string]any{"player_id": playerID, "connected": false},
		})
	}
	logging.Realtime("player %s disconnected from session %s", playerID, sessionID)
	return nil
}

// setPresence records connection state and moves the participant between
// JOINED and READY. Other statuses are left alone so a mid-game reconnect
// never demotes an ACTIVE participant.
func (h *Hub) setPresence(ctx context.Context, sessionID, playerID string, connected bool) error {
	return h.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetParticipant(sessionID, playerID)
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		p.Connected = connected
		if connected && p.Status == types.ParticipantJoined {
			p.Status = types.ParticipantReady
		} else if !connected && p.Status == types.ParticipantReady {
			p.Status = types.ParticipantJoined
		}
		return tx.UpdateParticipant(p)
	})
}

// Broadcast sends the message to every connection in the session except the
// excluded players. Write failures drop the connection.
func (h *Hub) Broadcast(sessionID string, msg Message, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	h.mu.Lock()
	targets := make(map[string]Conn)
	for id, c := range h.sessions[sessionID] {
		if !skip[id] {
			targets[id] = c
		}
	}
	h.mu.Unlock()

	for id, c := range targets {
		if err := c.WriteMessage(msg); err != nil {
			logging.Realtime("dropping connection for %s in %s: %v", id, sessionID, err)
			h.drop(sessionID, id)
		}
	}
}

// Send delivers to one player; missing connections are not an error, the
// client will catch up from state on reconnect.
func (h *Hub) Send(sessionID, playerID string, msg Message) {
	h.mu.Lock()
	c, ok := h.sessions[sessionID][playerID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := c.WriteMessage(msg); err != nil {
		logging.Realtime("dropping connection for %s in %s: %v", playerID, sessionID, err)
		h.drop(sessionID, playerID)
	}
}

func (h *Hub) drop(sessionID, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[sessionID]; ok {
		if c, ok := conns[playerID]; ok {
			c.Close()
			delete(conns, playerID)
		}
		if len(conns) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// ConnectedCount reports how many connections a session has.
func (h *Hub) ConnectedCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}
