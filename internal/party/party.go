// Package party runs synchronized QF matches: a lobby of players moves
// through PROMPT, COPY and VOTE phases in lockstep, with the controller
// advancing the phase once every active participant has submitted their
// quota for it.
package party

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/realtime"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// codeAlphabet excludes 0/O, 1/I/L and other glyphs players misread when
// typing a code off a friend's screen.
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

// Broadcaster is the slice of the realtime hub the controller publishes
// through.
type Broadcaster interface {
	Broadcast(sessionID string, msg realtime.Message, exclude ...string)
}

// Finalizer settles a phraseset's votes and pays the writers. The round
// engine provides it.
type Finalizer interface {
	FinalizePhraseset(ctx context.Context, phrasesetID string) error
}

// AIFiller submits rounds on behalf of AI participants for a phase.
type AIFiller interface {
	FillPhase(ctx context.Context, sessionID string, phase types.SessionPhase) error
}

// Settings is the per-session match configuration.
type Settings struct {
	MinPlayers       int
	MaxPlayers       int
	PromptsPerPlayer int
	CopiesPerPlayer  int
	VotesPerPlayer   int
}

// DefaultSettings is the standard party shape.
func DefaultSettings() Settings {
	return Settings{
		MinPlayers:       3,
		MaxPlayers:       10,
		PromptsPerPlayer: 1,
		CopiesPerPlayer:  2,
		VotesPerPlayer:   3,
	}
}

func (s Settings) validate() error {
	if s.MinPlayers < 3 {
		return fmt.Errorf("party needs at least 3 players, got min %d", s.MinPlayers)
	}
	if s.MaxPlayers < s.MinPlayers {
		return fmt.Errorf("max players %d below min %d", s.MaxPlayers, s.MinPlayers)
	}
	if s.PromptsPerPlayer < 1 || s.CopiesPerPlayer < 1 || s.VotesPerPlayer < 1 {
		return fmt.Errorf("per-player quotas must be positive")
	}
	return nil
}

// Service is the party session controller.
type Service struct {
	store *store.Store
	locks *lockq.Service
	clk   clock.Clock
	cfg   config.Config
	rng   *rand.Rand

	hub   Broadcaster // nilable
	final Finalizer   // nilable
	ai    AIFiller    // nilable
}

// New creates the controller. Hub, finalizer and AI filler attach separately
// because they are optional and constructed after the engine.
func New(cfg config.Config, st *store.Store, locks *lockq.Service, clk clock.Clock) *Service {
	return &Service{
		store: st,
		locks: locks,
		clk:   clk,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) SetBroadcaster(b Broadcaster) { s.hub = b }
func (s *Service) SetFinalizer(f Finalizer)     { s.final = f }
func (s *Service) SetAIFiller(a AIFiller)       { s.ai = a }

// lockSession attaches the held-class tracker before acquiring, so nested
// acquisitions down the chain are order-checked. Callers thread the returned
// context through the rest of the operation.
func (s *Service) lockSession(ctx context.Context, sessionID string) (context.Context, *lockq.Lease, error) {
	ctx = lockq.Track(ctx)
	timeout := time.Duration(s.cfg.Concurrency.RoundLockTimeoutSeconds) * time.Second
	lease, err := s.locks.Acquire(ctx, lockq.ClassParty, sessionID, timeout)
	return ctx, lease, err
}

func (s *Service) broadcast(sessionID, event string, payload map[string]any) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(sessionID, realtime.Message{Event: event, Payload: payload})
}

// =============================================================================
// LOBBY
// =============================================================================

// Create opens a new lobby with the caller as host.
func (s *Service) Create(ctx context.Context, hostID string, set Settings) (*types.PartySession, error) {
	if err := set.validate(); err != nil {
		return nil, err
	}
	now := s.clk.Now()
	var session *types.PartySession
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetActiveSessionForPlayer(hostID)
		if err != nil {
			return err
		}
		if existing != nil {
			return types.ErrAlreadyInSession
		}
		code, err := s.generateCode(tx)
		if err != nil {
			return err
		}
		session = &types.PartySession{
			ID:               uuid.NewString(),
			Code:             code,
			HostPlayerID:     hostID,
			MinPlayers:       set.MinPlayers,
			MaxPlayers:       set.MaxPlayers,
			PromptsPerPlayer: set.PromptsPerPlayer,
			CopiesPerPlayer:  set.CopiesPerPlayer,
			VotesPerPlayer:   set.VotesPerPlayer,
			Status:           types.SessionOpen,
			CurrentPhase:     types.PhaseLobby,
			PhaseStartedAt:   now,
			CreatedAt:        now,
		}
		if err := tx.InsertSession(session); err != nil {
			return err
		}
		return tx.InsertParticipant(&types.Participant{
			SessionID: session.ID,
			PlayerID:  hostID,
			Status:    types.ParticipantJoined,
			IsHost:    true,
			JoinedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	logging.Party("session %s created by %s (code %s)", session.ID, hostID, session.Code)
	return session, nil
}

// generateCode draws codes until one is free among non-terminal sessions.
func (s *Service) generateCode(tx *store.Tx) (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		buf := make([]byte, codeLength)
		for i := range buf {
			buf[i] = codeAlphabet[s.rng.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		inUse, err := tx.CodeInUse(code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique party code")
}

// Join adds the player to an open lobby by code.
func (s *Service) Join(ctx context.Context, playerID, code string) (*types.PartySession, error) {
	now := s.clk.Now()
	var session *types.PartySession
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		session, err = tx.GetSessionByCode(code)
		if err != nil {
			return err
		}
		if session == nil {
			return types.ErrSessionNotFound
		}
		if session.Status != types.SessionOpen {
			return types.ErrSessionAlreadyStarted
		}
		participants, err := tx.ListParticipants(session.ID)
		if err != nil {
			return err
		}
		if len(participants) >= session.MaxPlayers {
			return types.ErrSessionFull
		}
		existing, err := tx.GetActiveSessionForPlayer(playerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return types.ErrAlreadyInSession
		}
		return tx.InsertParticipant(&types.Participant{
			SessionID: session.ID,
			PlayerID:  playerID,
			Status:    types.ParticipantJoined,
			JoinedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(session.ID, realtime.EventPlayerJoined, map[string]any{"player_id": playerID})
	logging.Party("player %s joined session %s", playerID, session.ID)
	return session, nil
}

// Leave removes the player. The last player out deletes the session; a
// departing host hands the role to the earliest-joined remaining player.
func (s *Service) Leave(ctx context.Context, playerID, sessionID string) error {
	ctx, lease, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}
	defer lease.Release()

	var (
		deleted bool
		newHost string
	)
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return types.ErrSessionNotFound
		}
		p, err := tx.GetParticipant(sessionID, playerID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("player %s is not in session %s", playerID, sessionID)
		}
		if err := tx.RemoveParticipant(sessionID, playerID); err != nil {
			return err
		}
		remaining, err := tx.ListParticipants(sessionID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			deleted = true
			return tx.DeleteSession(sessionID)
		}
		if p.IsHost {
			next := remaining[0] // join order
			next.IsHost = true
			if err := tx.UpdateParticipant(next); err != nil {
				return err
			}
			session.HostPlayerID = next.PlayerID
			newHost = next.PlayerID
			return tx.UpdateSession(session)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if deleted {
		logging.Party("session %s deleted, last player %s left", sessionID, playerID)
		return nil
	}
	s.broadcast(sessionID, realtime.EventPlayerLeft, map[string]any{"player_id": playerID})
	if newHost != "" {
		s.broadcast(sessionID, realtime.EventSessionUpdate, map[string]any{"host_player_id": newHost})
	}
	logging.Party("player %s left session %s", playerID, sessionID)
	return nil
}

// Ping lets the host nudge lobby stragglers.
func (s *Service) Ping(ctx context.Context, hostID, sessionID string) error {
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return types.ErrSessionNotFound
		}
		if session.HostPlayerID != hostID {
			return types.ErrNotHost
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.broadcast(sessionID, realtime.EventHostPing, map[string]any{"host_player_id": hostID})
	return nil
}

// Start locks the lobby and enters the PROMPT phase.
func (s *Service) Start(ctx context.Context, hostID, sessionID string) error {
	ctx, lease, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}

	now := s.clk.Now()
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return types.ErrSessionNotFound
		}
		if session.HostPlayerID != hostID {
			return types.ErrNotHost
		}
		if session.Status != types.SessionOpen {
			return types.ErrSessionAlreadyStarted
		}
		participants, err := tx.ListParticipants(sessionID)
		if err != nil {
			return err
		}
		if len(participants) < session.MinPlayers {
			return types.ErrNotEnoughPlayers
		}
		session.Status = types.SessionInProgress
		session.LockedAt = &now
		if err := tx.UpdateSession(session); err != nil {
			return err
		}
		for _, p := range participants {
			p.Status = types.ParticipantActive
			if err := tx.UpdateParticipant(p); err != nil {
				return err
			}
		}
		ok, err := tx.AdvanceSessionPhase(sessionID, types.PhaseLobby, types.PhasePrompt, now, nil)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrSessionAlreadyStarted
		}
		return nil
	})
	// Released before the AI fill: the fill re-enters the engine, which
	// acquires player locks before notifying us back under the party lock.
	lease.Release()
	if err != nil {
		return err
	}
	s.broadcast(sessionID, realtime.EventSessionStarted, map[string]any{"phase": types.PhasePrompt})
	s.broadcast(sessionID, realtime.EventPhaseTransition, map[string]any{
		"from": types.PhaseLobby, "to": types.PhasePrompt,
	})
	logging.Party("session %s started with phase %s", sessionID, types.PhasePrompt)
	s.fillPhase(ctx, sessionID, types.PhasePrompt)
	return nil
}

// =============================================================================
// PHASE PROGRESSION
// =============================================================================

// RoundSubmitted records a party-scoped submission and advances the phase
// once every active participant has met their quota. The round engine calls
// it after the submit transaction commits.
func (s *Service) RoundSubmitted(ctx context.Context, r *types.Round) error {
	ctx, lease, err := s.lockSession(ctx, r.SessionID)
	if err != nil {
		return err
	}

	now := s.clk.Now()
	var (
		phase     types.SessionPhase
		submitted int
		required  int
		advanced  types.SessionPhase
	)
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(r.SessionID)
		if err != nil {
			return err
		}
		if session == nil || session.Status != types.SessionInProgress {
			return nil
		}
		phase = session.CurrentPhase
		rt, ok := phase.RoundTypeFor()
		if !ok || rt != r.Type {
			// The phase moved on while this submission committed.
			return nil
		}
		required = session.RequiredFor(phase)
		if err := tx.IncrementProgress(r.SessionID, r.PlayerID, phase, required); err != nil {
			return err
		}
		participants, err := tx.ListParticipants(r.SessionID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.PlayerID == r.PlayerID {
				submitted = p.ProgressFor(phase)
			}
		}
		if !allDone(participants, phase, required) {
			return nil
		}
		next, ok, err := s.advance(tx, session, now)
		if err != nil {
			return err
		}
		if ok {
			advanced = next
		}
		return nil
	})
	lease.Release()
	if err != nil {
		return err
	}

	s.broadcast(r.SessionID, realtime.EventProgressUpdate, map[string]any{
		"player_id": r.PlayerID, "phase": phase, "submitted": submitted, "required": required,
	})
	if advanced != "" {
		s.afterAdvance(ctx, r.SessionID, phase, advanced)
	}
	return nil
}

// allDone reports whether every active participant met the phase quota.
func allDone(participants []*types.Participant, phase types.SessionPhase, required int) bool {
	for _, p := range participants {
		if p.Status != types.ParticipantActive {
			continue
		}
		if p.ProgressFor(phase) < required {
			return false
		}
	}
	return true
}

// advance moves the session to the next phase under the first-wins guard and
// applies the phase's entry effects.
func (s *Service) advance(tx *store.Tx, session *types.PartySession, now time.Time) (types.SessionPhase, bool, error) {
	from := session.CurrentPhase
	to := from.Next()
	if to == from {
		return "", false, nil
	}
	ok, err := tx.AdvanceSessionPhase(session.ID, from, to, now, nil)
	if err != nil || !ok {
		return "", false, err
	}
	session.CurrentPhase = to
	session.PhaseStartedAt = now

	switch to {
	case types.PhaseVote:
		if err := tx.MarkSessionPhrasesetsVotable(session.ID); err != nil {
			return "", false, err
		}
	case types.PhaseResults:
		session.CompletedAt = &now
		if err := tx.UpdateSession(session); err != nil {
			return "", false, err
		}
	case types.PhaseCompleted:
		session.Status = types.SessionCompleted
		if err := tx.UpdateSession(session); err != nil {
			return "", false, err
		}
	}
	logging.Party("session %s advanced %s -> %s", session.ID, from, to)
	return to, true, nil
}

// afterAdvance runs the post-commit side of a phase transition: events out,
// party phrasesets settled on entering RESULTS, AI participants filled in.
func (s *Service) afterAdvance(ctx context.Context, sessionID string, from, to types.SessionPhase) {
	s.broadcast(sessionID, realtime.EventPhaseTransition, map[string]any{"from": from, "to": to})
	if to == types.PhaseResults {
		s.finalizeSessionPhrasesets(ctx, sessionID)
	}
	s.fillPhase(ctx, sessionID, to)
}

// finalizeSessionPhrasesets settles every linked phraseset so the results
// tally sees the payouts. Individual failures are logged and skipped; the
// sweeper retries them.
func (s *Service) finalizeSessionPhrasesets(ctx context.Context, sessionID string) {
	if s.final == nil {
		return
	}
	var ids []string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		sets, err := tx.ListSessionPhrasesets(sessionID)
		if err != nil {
			return err
		}
		for _, ps := range sets {
			if ps.FinalizedAt == nil {
				ids = append(ids, ps.ID)
			}
		}
		return nil
	})
	if err != nil {
		logging.Party("listing phrasesets for session %s: %v", sessionID, err)
		return
	}
	for _, id := range ids {
		if err := s.final.FinalizePhraseset(ctx, id); err != nil {
			logging.Party("finalizing phraseset %s for session %s: %v", id, sessionID, err)
		}
	}
}

func (s *Service) fillPhase(ctx context.Context, sessionID string, phase types.SessionPhase) {
	if s.ai == nil {
		return
	}
	if _, ok := phase.RoundTypeFor(); !ok {
		return
	}
	if err := s.ai.FillPhase(ctx, sessionID, phase); err != nil {
		logging.Party("AI fill for session %s phase %s: %v", sessionID, phase, err)
	}
}

// Complete acknowledges the results screen and closes the session.
func (s *Service) Complete(ctx context.Context, hostID, sessionID string) error {
	ctx, lease, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}
	defer lease.Release()

	now := s.clk.Now()
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		session, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return types.ErrSessionNotFound
		}
		if session.HostPlayerID != hostID {
			return types.ErrNotHost
		}
		if session.CurrentPhase != types.PhaseResults {
			return &types.WrongPhaseError{Want: types.PhaseResults, Got: session.CurrentPhase}
		}
		_, _, err = s.advance(tx, session, now)
		return err
	})
	if err != nil {
		return err
	}
	s.broadcast(sessionID, realtime.EventSessionCompleted, map[string]any{"session_id": sessionID})
	return nil
}
