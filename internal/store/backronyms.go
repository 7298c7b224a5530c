package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const setCols = `id, word, mode, status, entry_count, participant_vote_count, non_participant_vote_count,
	transitions_to_voting_at, voting_finalized_at, created_at, last_human_activity_at`

func scanSet(row interface{ Scan(...any) error }) (*types.BackronymSet, error) {
	var s types.BackronymSet
	var toVoting, finalized sql.NullInt64
	var created, lastHuman int64
	err := row.Scan(&s.ID, &s.Word, &s.Mode, &s.Status, &s.EntryCount,
		&s.ParticipantVoteCount, &s.NonParticipantVoteCount,
		&toVoting, &finalized, &created, &lastHuman)
	if err != nil {
		return nil, err
	}
	s.TransitionsToVotingAt = fromNSPtr(toVoting)
	s.VotingFinalizedAt = fromNSPtr(finalized)
	s.CreatedAt = fromNS(created)
	s.LastHumanActivityAt = fromNS(lastHuman)
	return &s, nil
}

// InsertBackronymSet persists a fresh set.
func (t *Tx) InsertBackronymSet(s *types.BackronymSet) error {
	_, err := t.tx.Exec(`
		INSERT INTO backronym_sets (`+setCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Word, s.Mode, s.Status, s.EntryCount,
		s.ParticipantVoteCount, s.NonParticipantVoteCount,
		tnsPtr(s.TransitionsToVotingAt), tnsPtr(s.VotingFinalizedAt),
		tns(s.CreatedAt), tns(s.LastHumanActivityAt))
	return wrapStoreErr("InsertBackronymSet", err)
}

// GetBackronymSet returns the set or nil when absent.
func (t *Tx) GetBackronymSet(id string) (*types.BackronymSet, error) {
	s, err := scanSet(t.tx.QueryRow(`SELECT `+setCols+` FROM backronym_sets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetBackronymSet", err)
	}
	return s, nil
}

// UpdateBackronymSetStatus performs a guarded status transition with timer
// fields. Finalization is terminal and first-wins.
func (t *Tx) UpdateBackronymSetStatus(id string, from, to types.SetStatus, toVoting, finalized *time.Time) (bool, error) {
	res, err := t.tx.Exec(`
		UPDATE backronym_sets SET status = ?, transitions_to_voting_at = COALESCE(?, transitions_to_voting_at),
			voting_finalized_at = COALESCE(?, voting_finalized_at)
		WHERE id = ? AND status = ?`,
		to, tnsPtr(toVoting), tnsPtr(finalized), id, from)
	if err != nil {
		return false, wrapStoreErr("UpdateBackronymSetStatus", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TouchSetHumanActivity bumps the stall clock after a human submission.
func (t *Tx) TouchSetHumanActivity(id string, at time.Time) error {
	_, err := t.tx.Exec(`UPDATE backronym_sets SET last_human_activity_at = ? WHERE id = ?`, tns(at), id)
	return wrapStoreErr("TouchSetHumanActivity", err)
}

// FindJoinableSet returns the most recently created open set with room that
// the player has no entry in, or nil. Most-recent-first concentrates players
// into fewer sets.
func (t *Tx) FindJoinableSet(playerID string) (*types.BackronymSet, error) {
	s, err := scanSet(t.tx.QueryRow(`
		SELECT `+setCols+` FROM backronym_sets
		WHERE status = ? AND entry_count < 5
		AND id NOT IN (SELECT set_id FROM backronym_entries WHERE player_id = ?)
		ORDER BY created_at DESC LIMIT 1`,
		types.SetOpen, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("FindJoinableSet", err)
	}
	return s, nil
}

// FindVotableSet returns the oldest voting set the player has not voted on,
// or nil. Both vote counters must have room for the player's class, which the
// engine re-checks on insert.
func (t *Tx) FindVotableSet(playerID string) (*types.BackronymSet, error) {
	s, err := scanSet(t.tx.QueryRow(`
		SELECT `+setCols+` FROM backronym_sets
		WHERE status = ? AND (participant_vote_count < 5 OR non_participant_vote_count < 5)
		AND id NOT IN (SELECT set_id FROM backronym_votes WHERE voter_id = ?)
		ORDER BY created_at ASC LIMIT 1`,
		types.SetVoting, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("FindVotableSet", err)
	}
	return s, nil
}

// WordUsedSince reports whether a set with this word was created in the
// cooldown window.
func (t *Tx) WordUsedSince(word string, since time.Time) (bool, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM backronym_sets WHERE word = ? AND created_at > ?`,
		word, tns(since)).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("WordUsedSince", err)
	}
	return n > 0, nil
}

// ListSetsDueForVoting returns open sets whose entry timer has elapsed or
// that are full.
func (t *Tx) ListSetsDueForVoting(now time.Time, limit int) ([]*types.BackronymSet, error) {
	rows, err := t.tx.Query(`
		SELECT `+setCols+` FROM backronym_sets
		WHERE status = ? AND (entry_count >= 5 OR (transitions_to_voting_at IS NOT NULL AND transitions_to_voting_at <= ?))
		ORDER BY created_at ASC LIMIT ?`,
		types.SetOpen, tns(now), limit)
	if err != nil {
		return nil, wrapStoreErr("ListSetsDueForVoting", err)
	}
	defer rows.Close()
	return collectSets(rows)
}

// ListSetsDueForFinalize returns voting sets past their finalization time or
// with full vote counts.
func (t *Tx) ListSetsDueForFinalize(now time.Time, limit int) ([]*types.BackronymSet, error) {
	rows, err := t.tx.Query(`
		SELECT `+setCols+` FROM backronym_sets
		WHERE status = ?
		AND ((voting_finalized_at IS NOT NULL AND voting_finalized_at <= ?)
			OR (participant_vote_count >= 5 AND non_participant_vote_count >= 5))
		ORDER BY created_at ASC LIMIT ?`,
		types.SetVoting, tns(now), limit)
	if err != nil {
		return nil, wrapStoreErr("ListSetsDueForFinalize", err)
	}
	defer rows.Close()
	return collectSets(rows)
}

// ListStalledSets returns sets in the given status with no human activity
// since the cutoff, FIFO.
func (t *Tx) ListStalledSets(status types.SetStatus, cutoff time.Time, limit int) ([]*types.BackronymSet, error) {
	rows, err := t.tx.Query(`
		SELECT `+setCols+` FROM backronym_sets
		WHERE status = ? AND last_human_activity_at < ?
		ORDER BY created_at ASC LIMIT ?`,
		status, tns(cutoff), limit)
	if err != nil {
		return nil, wrapStoreErr("ListStalledSets", err)
	}
	defer rows.Close()
	return collectSets(rows)
}

func collectSets(rows *sql.Rows) ([]*types.BackronymSet, error) {
	var out []*types.BackronymSet
	for rows.Next() {
		s, err := scanSet(rows)
		if err != nil {
			return nil, wrapStoreErr("scan set", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// ENTRIES
// =============================================================================

// InsertBackronymEntry appends an entry and bumps entry_count with
// compare-and-update: the insert only lands if the set is open with room.
func (t *Tx) InsertBackronymEntry(e *types.BackronymEntry) error {
	res, err := t.tx.Exec(`
		UPDATE backronym_sets SET entry_count = entry_count + 1
		WHERE id = ? AND status = ? AND entry_count < 5`,
		e.SetID, types.SetOpen)
	if err != nil {
		return wrapStoreErr("InsertBackronymEntry count", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set %s not accepting entries", e.SetID)
	}
	_, err = t.tx.Exec(`
		INSERT INTO backronym_entries (id, set_id, player_id, words, votes, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		e.ID, e.SetID, e.PlayerID, marshalJSON(e.Words), tns(e.CreatedAt))
	if err != nil && isUniqueViolation(err) {
		return types.ErrAlreadySubmitted
	}
	return wrapStoreErr("InsertBackronymEntry", err)
}

// HasBackronymEntry reports whether the player already entered the set.
func (t *Tx) HasBackronymEntry(playerID, setID string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM backronym_entries WHERE set_id = ? AND player_id = ?`,
		setID, playerID).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("HasBackronymEntry", err)
	}
	return n > 0, nil
}

// ListBackronymEntries returns the set's entries, oldest first.
func (t *Tx) ListBackronymEntries(setID string) ([]*types.BackronymEntry, error) {
	rows, err := t.tx.Query(`
		SELECT id, set_id, player_id, words, votes, created_at
		FROM backronym_entries WHERE set_id = ? ORDER BY created_at ASC`, setID)
	if err != nil {
		return nil, wrapStoreErr("ListBackronymEntries", err)
	}
	defer rows.Close()
	var out []*types.BackronymEntry
	for rows.Next() {
		var e types.BackronymEntry
		var words string
		var created int64
		if err := rows.Scan(&e.ID, &e.SetID, &e.PlayerID, &words, &e.Votes, &created); err != nil {
			return nil, wrapStoreErr("ListBackronymEntries scan", err)
		}
		e.Words = unmarshalStrings(words)
		e.CreatedAt = fromNS(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// =============================================================================
// VOTES
// =============================================================================

// InsertBackronymVote records one vote and bumps the matching counter with
// compare-and-update semantics (participant and non-participant votes cap at
// 5 each).
func (t *Tx) InsertBackronymVote(v *types.BackronymVote) error {
	col := "non_participant_vote_count"
	if v.Participant {
		col = "participant_vote_count"
	}
	res, err := t.tx.Exec(`
		UPDATE backronym_sets SET `+col+` = `+col+` + 1
		WHERE id = ? AND status = ? AND `+col+` < 5`,
		v.SetID, types.SetVoting)
	if err != nil {
		return wrapStoreErr("InsertBackronymVote count", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set %s not accepting votes", v.SetID)
	}
	if _, err := t.tx.Exec(`
		UPDATE backronym_entries SET votes = votes + 1 WHERE id = ?`, v.EntryID); err != nil {
		return wrapStoreErr("InsertBackronymVote entry", err)
	}
	_, err = t.tx.Exec(`
		INSERT INTO backronym_votes (id, set_id, voter_id, entry_id, participant, correct, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		v.ID, v.SetID, v.VoterID, v.EntryID, v.Participant, tns(v.CreatedAt))
	if err != nil && isUniqueViolation(err) {
		return types.ErrAlreadyVoted
	}
	return wrapStoreErr("InsertBackronymVote", err)
}

// HasBackronymVote reports a prior vote by the player on the set.
func (t *Tx) HasBackronymVote(playerID, setID string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM backronym_votes WHERE set_id = ? AND voter_id = ?`,
		setID, playerID).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("HasBackronymVote", err)
	}
	return n > 0, nil
}

// ListBackronymVotes returns the set's votes, oldest first.
func (t *Tx) ListBackronymVotes(setID string) ([]*types.BackronymVote, error) {
	rows, err := t.tx.Query(`
		SELECT id, set_id, voter_id, entry_id, participant, correct, created_at
		FROM backronym_votes WHERE set_id = ? ORDER BY created_at ASC`, setID)
	if err != nil {
		return nil, wrapStoreErr("ListBackronymVotes", err)
	}
	defer rows.Close()
	var out []*types.BackronymVote
	for rows.Next() {
		var v types.BackronymVote
		var correct sql.NullBool
		var created int64
		if err := rows.Scan(&v.ID, &v.SetID, &v.VoterID, &v.EntryID, &v.Participant, &correct, &created); err != nil {
			return nil, wrapStoreErr("ListBackronymVotes scan", err)
		}
		if correct.Valid {
			c := correct.Bool
			v.Correct = &c
		}
		v.CreatedAt = fromNS(created)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// SetBackronymVoteCorrect records correctness at finalization.
func (t *Tx) SetBackronymVoteCorrect(voteID string, correct bool) error {
	_, err := t.tx.Exec(`UPDATE backronym_votes SET correct = ? WHERE id = ?`, correct, voteID)
	return wrapStoreErr("SetBackronymVoteCorrect", err)
}
