package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const sessionCols = `id, code, host_player_id, min_players, max_players, prompts_per_player,
	copies_per_player, votes_per_player, status, current_phase, phase_started_at,
	phase_expires_at, locked_at, completed_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (*types.PartySession, error) {
	var s types.PartySession
	var phaseStarted, created int64
	var phaseExpires, locked, completed sql.NullInt64
	err := row.Scan(&s.ID, &s.Code, &s.HostPlayerID, &s.MinPlayers, &s.MaxPlayers, &s.PromptsPerPlayer,
		&s.CopiesPerPlayer, &s.VotesPerPlayer, &s.Status, &s.CurrentPhase, &phaseStarted,
		&phaseExpires, &locked, &completed, &created)
	if err != nil {
		return nil, err
	}
	s.PhaseStartedAt = fromNS(phaseStarted)
	s.PhaseExpiresAt = fromNSPtr(phaseExpires)
	s.LockedAt = fromNSPtr(locked)
	s.CompletedAt = fromNSPtr(completed)
	s.CreatedAt = fromNS(created)
	return &s, nil
}

// InsertSession persists a new party session.
func (t *Tx) InsertSession(s *types.PartySession) error {
	_, err := t.tx.Exec(`
		INSERT INTO party_sessions (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Code, s.HostPlayerID, s.MinPlayers, s.MaxPlayers, s.PromptsPerPlayer,
		s.CopiesPerPlayer, s.VotesPerPlayer, s.Status, s.CurrentPhase, tns(s.PhaseStartedAt),
		tnsPtr(s.PhaseExpiresAt), tnsPtr(s.LockedAt), tnsPtr(s.CompletedAt), tns(s.CreatedAt))
	return wrapStoreErr("InsertSession", err)
}

// GetSession returns the session or nil.
func (t *Tx) GetSession(id string) (*types.PartySession, error) {
	s, err := scanSession(t.tx.QueryRow(`SELECT `+sessionCols+` FROM party_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetSession", err)
	}
	return s, nil
}

// GetSessionByCode returns the non-terminal session with the code, nil if
// none. Codes are unique only among non-terminal sessions.
func (t *Tx) GetSessionByCode(code string) (*types.PartySession, error) {
	s, err := scanSession(t.tx.QueryRow(`
		SELECT `+sessionCols+` FROM party_sessions
		WHERE code = ? AND status NOT IN (?, ?)`,
		code, types.SessionCompleted, types.SessionAbandoned))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetSessionByCode", err)
	}
	return s, nil
}

// CodeInUse reports whether the code belongs to a non-terminal session.
func (t *Tx) CodeInUse(code string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM party_sessions WHERE code = ? AND status NOT IN (?, ?)`,
		code, types.SessionCompleted, types.SessionAbandoned).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("CodeInUse", err)
	}
	return n > 0, nil
}

// UpdateSession writes the mutable session fields.
func (t *Tx) UpdateSession(s *types.PartySession) error {
	_, err := t.tx.Exec(`
		UPDATE party_sessions SET host_player_id = ?, status = ?, current_phase = ?,
			phase_started_at = ?, phase_expires_at = ?, locked_at = ?, completed_at = ?
		WHERE id = ?`,
		s.HostPlayerID, s.Status, s.CurrentPhase,
		tns(s.PhaseStartedAt), tnsPtr(s.PhaseExpiresAt), tnsPtr(s.LockedAt), tnsPtr(s.CompletedAt), s.ID)
	return wrapStoreErr("UpdateSession", err)
}

// AdvanceSessionPhase updates phase fields with a guard on the current
// phase so transitions are first-wins and phase monotonicity holds.
func (t *Tx) AdvanceSessionPhase(id string, from, to types.SessionPhase, startedAt time.Time, expiresAt *time.Time) (bool, error) {
	res, err := t.tx.Exec(`
		UPDATE party_sessions SET current_phase = ?, phase_started_at = ?, phase_expires_at = ?
		WHERE id = ? AND current_phase = ?`,
		to, tns(startedAt), tnsPtr(expiresAt), id, from)
	if err != nil {
		return false, wrapStoreErr("AdvanceSessionPhase", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteSession removes the session; participants cascade. Party rounds and
// phrasesets are detached, not deleted, so ledger references stay intact.
func (t *Tx) DeleteSession(id string) error {
	if _, err := t.tx.Exec(`UPDATE rounds SET session_id = '' WHERE session_id = ?`, id); err != nil {
		return wrapStoreErr("DeleteSession rounds", err)
	}
	if _, err := t.tx.Exec(`UPDATE phrasesets SET session_id = '' WHERE session_id = ?`, id); err != nil {
		return wrapStoreErr("DeleteSession phrasesets", err)
	}
	if _, err := t.tx.Exec(`DELETE FROM party_participants WHERE session_id = ?`, id); err != nil {
		return wrapStoreErr("DeleteSession participants", err)
	}
	_, err := t.tx.Exec(`DELETE FROM party_sessions WHERE id = ?`, id)
	return wrapStoreErr("DeleteSession", err)
}

// GetActiveSessionForPlayer returns the non-terminal session the player is
// in, nil if none. At most one exists by construction.
func (t *Tx) GetActiveSessionForPlayer(playerID string) (*types.PartySession, error) {
	s, err := scanSession(t.tx.QueryRow(`
		SELECT `+sessionCols+` FROM party_sessions
		WHERE status NOT IN (?, ?) AND id IN (
			SELECT session_id FROM party_participants WHERE player_id = ?
		) LIMIT 1`,
		types.SessionCompleted, types.SessionAbandoned, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetActiveSessionForPlayer", err)
	}
	return s, nil
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

const participantCols = `session_id, player_id, status, is_host, prompts_submitted,
	copies_submitted, votes_submitted, connected, joined_at`

func scanParticipant(row interface{ Scan(...any) error }) (*types.Participant, error) {
	var p types.Participant
	var joined int64
	err := row.Scan(&p.SessionID, &p.PlayerID, &p.Status, &p.IsHost, &p.PromptsSubmitted,
		&p.CopiesSubmitted, &p.VotesSubmitted, &p.Connected, &joined)
	if err != nil {
		return nil, err
	}
	p.JoinedAt = fromNS(joined)
	return &p, nil
}

// InsertParticipant adds a player to a session.
func (t *Tx) InsertParticipant(p *types.Participant) error {
	_, err := t.tx.Exec(`
		INSERT INTO party_participants (`+participantCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.PlayerID, p.Status, p.IsHost, p.PromptsSubmitted,
		p.CopiesSubmitted, p.VotesSubmitted, p.Connected, tns(p.JoinedAt))
	if err != nil && isUniqueViolation(err) {
		return types.ErrAlreadyInSession
	}
	return wrapStoreErr("InsertParticipant", err)
}

// GetParticipant returns the participant or nil.
func (t *Tx) GetParticipant(sessionID, playerID string) (*types.Participant, error) {
	p, err := scanParticipant(t.tx.QueryRow(`
		SELECT `+participantCols+` FROM party_participants
		WHERE session_id = ? AND player_id = ?`, sessionID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetParticipant", err)
	}
	return p, nil
}

// ListParticipants returns the session's participants in join order.
func (t *Tx) ListParticipants(sessionID string) ([]*types.Participant, error) {
	rows, err := t.tx.Query(`
		SELECT `+participantCols+` FROM party_participants
		WHERE session_id = ? ORDER BY joined_at ASC`, sessionID)
	if err != nil {
		return nil, wrapStoreErr("ListParticipants", err)
	}
	defer rows.Close()
	var out []*types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapStoreErr("ListParticipants scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateParticipant writes the mutable participant fields.
func (t *Tx) UpdateParticipant(p *types.Participant) error {
	_, err := t.tx.Exec(`
		UPDATE party_participants SET status = ?, is_host = ?, connected = ?
		WHERE session_id = ? AND player_id = ?`,
		p.Status, p.IsHost, p.Connected, p.SessionID, p.PlayerID)
	return wrapStoreErr("UpdateParticipant", err)
}

// RemoveParticipant deletes the participant row.
func (t *Tx) RemoveParticipant(sessionID, playerID string) error {
	_, err := t.tx.Exec(`
		DELETE FROM party_participants WHERE session_id = ? AND player_id = ?`,
		sessionID, playerID)
	return wrapStoreErr("RemoveParticipant", err)
}

// IncrementProgress bumps the participant's counter for a phase with
// compare-and-update so the counter never exceeds the per-player quota.
func (t *Tx) IncrementProgress(sessionID, playerID string, phase types.SessionPhase, max int) error {
	var col string
	switch phase {
	case types.PhasePrompt:
		col = "prompts_submitted"
	case types.PhaseCopy:
		col = "copies_submitted"
	case types.PhaseVote:
		col = "votes_submitted"
	default:
		return fmt.Errorf("phase %s has no progress counter", phase)
	}
	res, err := t.tx.Exec(`
		UPDATE party_participants SET `+col+` = `+col+` + 1
		WHERE session_id = ? AND player_id = ? AND `+col+` < ?`,
		sessionID, playerID, max)
	if err != nil {
		return wrapStoreErr("IncrementProgress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("progress for %s already at quota in %s", playerID, phase)
	}
	return nil
}
