package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const roundCols = `id, player_id, game, round_type, status, cost, created_at, expires_at,
	prompt_text, submitted_phrase, copy_phrase, chosen_entry_id, prompt_round_id,
	phraseset_id, set_id, session_id, submitted_at`

func scanRound(row interface{ Scan(...any) error }) (*types.Round, error) {
	var r types.Round
	var created, expires int64
	var submitted sql.NullInt64
	err := row.Scan(&r.ID, &r.PlayerID, &r.Game, &r.Type, &r.Status, &r.Cost, &created, &expires,
		&r.PromptText, &r.SubmittedPhrase, &r.CopyPhrase, &r.ChosenEntryID, &r.PromptRoundID,
		&r.PhrasesetID, &r.SetID, &r.SessionID, &submitted)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromNS(created)
	r.ExpiresAt = fromNS(expires)
	r.SubmittedAt = fromNSPtr(submitted)
	return &r, nil
}

// InsertRound persists a new round.
func (t *Tx) InsertRound(r *types.Round) error {
	_, err := t.tx.Exec(`
		INSERT INTO rounds (`+roundCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PlayerID, r.Game, r.Type, r.Status, r.Cost, tns(r.CreatedAt), tns(r.ExpiresAt),
		r.PromptText, r.SubmittedPhrase, r.CopyPhrase, r.ChosenEntryID, r.PromptRoundID,
		r.PhrasesetID, r.SetID, r.SessionID, tnsPtr(r.SubmittedAt))
	return wrapStoreErr("InsertRound", err)
}

// GetRound returns the round or nil when absent.
func (t *Tx) GetRound(id string) (*types.Round, error) {
	r, err := scanRound(t.tx.QueryRow(`SELECT `+roundCols+` FROM rounds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetRound", err)
	}
	return r, nil
}

// GetActiveRound returns the player's single active round in a game, nil if
// none. The invariant "at most one active round per (player, game)" is
// enforced by the engine under the per-player lock.
func (t *Tx) GetActiveRound(playerID string, game types.GameType) (*types.Round, error) {
	r, err := scanRound(t.tx.QueryRow(`
		SELECT `+roundCols+` FROM rounds
		WHERE player_id = ? AND game = ? AND status = ?`,
		playerID, game, types.RoundActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetActiveRound", err)
	}
	return r, nil
}

// TransitionRound moves a round from one status to another, writing the
// mutable fields. The status guard makes concurrent transitions first-wins.
func (t *Tx) TransitionRound(r *types.Round, from types.RoundStatus) error {
	res, err := t.tx.Exec(`
		UPDATE rounds SET status = ?, submitted_phrase = ?, copy_phrase = ?, chosen_entry_id = ?,
			prompt_round_id = ?, phraseset_id = ?, set_id = ?, submitted_at = ?
		WHERE id = ? AND status = ?`,
		r.Status, r.SubmittedPhrase, r.CopyPhrase, r.ChosenEntryID,
		r.PromptRoundID, r.PhrasesetID, r.SetID, tnsPtr(r.SubmittedAt),
		r.ID, from)
	if err != nil {
		return wrapStoreErr("TransitionRound", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("round %s: %w", r.ID, types.ErrRoundNotActive)
	}
	return nil
}

// ListExpiredActive returns active rounds whose grace window has passed.
func (t *Tx) ListExpiredActive(deadline time.Time, limit int) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at ASC LIMIT ?`,
		types.RoundActive, tns(deadline), limit)
	if err != nil {
		return nil, wrapStoreErr("ListExpiredActive", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// ListSessionRounds returns all rounds linked to a party session, oldest
// first. Used by phase progress checks and result tallying.
func (t *Tx) ListSessionRounds(sessionID string) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, wrapStoreErr("ListSessionRounds", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// ListSessionPromptRounds returns the party's submitted prompt rounds in
// created_at ascending order, the iteration order the copy matcher uses.
func (t *Tx) ListSessionPromptRounds(sessionID string) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE session_id = ? AND round_type = ? AND status = ?
		ORDER BY created_at ASC`,
		sessionID, types.RoundPrompt, types.RoundSubmitted)
	if err != nil {
		return nil, wrapStoreErr("ListSessionPromptRounds", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// ListStalledPromptRounds returns submitted global prompt rounds that never
// attracted a copy, oldest first. Party prompts are excluded; the party AI
// fill covers those.
func (t *Tx) ListStalledPromptRounds(cutoff time.Time, limit int) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE round_type = ? AND status = ? AND session_id = ''
			AND submitted_at < ?
			AND id NOT IN (
				SELECT prompt_round_id FROM rounds
				WHERE round_type = ? AND status IN (?, ?, ?)
			)
		ORDER BY submitted_at ASC LIMIT ?`,
		types.RoundPrompt, types.RoundSubmitted, tns(cutoff),
		types.RoundCopy, types.RoundActive, types.RoundSubmitted, types.RoundCompleted,
		limit)
	if err != nil {
		return nil, wrapStoreErr("ListStalledPromptRounds", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// ListCopyablePromptRounds returns submitted global prompt rounds that still
// need copies (fewer than two copy rounds in flight or done), oldest first.
// Queue rehydration at boot reloads the copy queue from this set.
func (t *Tx) ListCopyablePromptRounds(limit int) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds r
		WHERE r.round_type = ? AND r.status = ? AND r.session_id = ''
			AND (
				SELECT COUNT(*) FROM rounds c
				WHERE c.round_type = ? AND c.prompt_round_id = r.id
					AND c.status IN (?, ?, ?)
			) < 2
		ORDER BY r.submitted_at ASC LIMIT ?`,
		types.RoundPrompt, types.RoundSubmitted,
		types.RoundCopy, types.RoundActive, types.RoundSubmitted, types.RoundCompleted,
		limit)
	if err != nil {
		return nil, wrapStoreErr("ListCopyablePromptRounds", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// ListRoundsByPhraseset returns every round linked to a phraseset: the
// contributing prompt/copy rounds and the vote rounds cast on it.
// Finalization drives these to completed.
func (t *Tx) ListRoundsByPhraseset(phrasesetID string) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE phraseset_id = ? ORDER BY created_at ASC`, phrasesetID)
	if err != nil {
		return nil, wrapStoreErr("ListRoundsByPhraseset", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// ListRoundsBySet returns every round linked to a backronym set.
func (t *Tx) ListRoundsBySet(setID string) ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE set_id = ? ORDER BY created_at ASC`, setID)
	if err != nil {
		return nil, wrapStoreErr("ListRoundsBySet", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

// HasCopied reports whether the player has a live or submitted copy round
// against the prompt round.
func (t *Tx) HasCopied(playerID, promptRoundID string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM rounds
		WHERE player_id = ? AND round_type = ? AND prompt_round_id = ? AND status IN (?, ?, ?)`,
		playerID, types.RoundCopy, promptRoundID,
		types.RoundActive, types.RoundSubmitted, types.RoundCompleted).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("HasCopied", err)
	}
	return n > 0, nil
}

// AbandonedPromptSince reports whether the player abandoned a copy round on
// this prompt within the cooldown window.
func (t *Tx) AbandonedPromptSince(playerID, promptRoundID string, since time.Time) (bool, error) {
	var n int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM rounds
		WHERE player_id = ? AND round_type = ? AND prompt_round_id = ? AND status = ? AND created_at > ?`,
		playerID, types.RoundCopy, promptRoundID, types.RoundAbandoned, tns(since)).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("AbandonedPromptSince", err)
	}
	return n > 0, nil
}

// CountOutstandingPrompts counts the player's submitted prompt rounds that
// have not rolled into a finalized phraseset yet. Drives the
// max_outstanding_quips anti-abuse limit.
func (t *Tx) CountOutstandingPrompts(playerID string) (int, error) {
	var n int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM rounds r
		WHERE r.player_id = ? AND r.round_type = ? AND r.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM phrasesets p WHERE p.prompt_round_id = r.id AND p.status = ?
		)`,
		playerID, types.RoundPrompt, types.RoundSubmitted, types.PhrasesetFinalized).Scan(&n)
	if err != nil {
		return 0, wrapStoreErr("CountOutstandingPrompts", err)
	}
	return n, nil
}

// ListOrphanRounds returns active rounds owned by anonymized players; the
// cleanup CLI expires them.
func (t *Tx) ListOrphanRounds() ([]*types.Round, error) {
	rows, err := t.tx.Query(`
		SELECT `+roundCols+` FROM rounds
		WHERE status = ? AND player_id IN (SELECT id FROM players WHERE anonymized_at IS NOT NULL)`,
		types.RoundActive)
	if err != nil {
		return nil, wrapStoreErr("ListOrphanRounds", err)
	}
	defer rows.Close()
	return collectRounds(rows)
}

func collectRounds(rows *sql.Rows) ([]*types.Round, error) {
	var out []*types.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, wrapStoreErr("scan round", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
