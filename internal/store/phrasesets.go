package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const phrasesetCols = `id, prompt_round_id, prompt_text, original_phrase, copy_phrase_1, copy_phrase_2,
	prompt_player_id, copy1_player_id, copy2_player_id, status, votes_original, votes_copy1, votes_copy2,
	prize_pool, available_for_voting, session_id, created_at, closing_at, finalized_at`

func scanPhraseset(row interface{ Scan(...any) error }) (*types.Phraseset, error) {
	var p types.Phraseset
	var created int64
	var closing, finalized sql.NullInt64
	err := row.Scan(&p.ID, &p.PromptRoundID, &p.PromptText, &p.OriginalPhrase, &p.CopyPhrase1, &p.CopyPhrase2,
		&p.PromptPlayerID, &p.Copy1PlayerID, &p.Copy2PlayerID, &p.Status, &p.VotesOriginal, &p.VotesCopy1, &p.VotesCopy2,
		&p.PrizePool, &p.AvailableForVoting, &p.SessionID, &created, &closing, &finalized)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromNS(created)
	p.ClosingAt = fromNSPtr(closing)
	p.FinalizedAt = fromNSPtr(finalized)
	return &p, nil
}

// InsertPhraseset persists a new phraseset.
func (t *Tx) InsertPhraseset(p *types.Phraseset) error {
	_, err := t.tx.Exec(`
		INSERT INTO phrasesets (`+phrasesetCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PromptRoundID, p.PromptText, p.OriginalPhrase, p.CopyPhrase1, p.CopyPhrase2,
		p.PromptPlayerID, p.Copy1PlayerID, p.Copy2PlayerID, p.Status, p.VotesOriginal, p.VotesCopy1, p.VotesCopy2,
		p.PrizePool, p.AvailableForVoting, p.SessionID, tns(p.CreatedAt), tnsPtr(p.ClosingAt), tnsPtr(p.FinalizedAt))
	return wrapStoreErr("InsertPhraseset", err)
}

// GetPhraseset returns the phraseset or nil when absent.
func (t *Tx) GetPhraseset(id string) (*types.Phraseset, error) {
	p, err := scanPhraseset(t.tx.QueryRow(`SELECT `+phrasesetCols+` FROM phrasesets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetPhraseset", err)
	}
	return p, nil
}

// GetPhrasesetByPromptRound returns the phraseset built from a prompt round.
func (t *Tx) GetPhrasesetByPromptRound(promptRoundID string) (*types.Phraseset, error) {
	p, err := scanPhraseset(t.tx.QueryRow(`SELECT `+phrasesetCols+` FROM phrasesets WHERE prompt_round_id = ?`, promptRoundID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetPhrasesetByPromptRound", err)
	}
	return p, nil
}

// UpdatePhraseset writes the mutable phraseset fields.
func (t *Tx) UpdatePhraseset(p *types.Phraseset) error {
	_, err := t.tx.Exec(`
		UPDATE phrasesets SET copy_phrase_1 = ?, copy_phrase_2 = ?, copy1_player_id = ?, copy2_player_id = ?,
			status = ?, prize_pool = ?, available_for_voting = ?, closing_at = ?, finalized_at = ?
		WHERE id = ?`,
		p.CopyPhrase1, p.CopyPhrase2, p.Copy1PlayerID, p.Copy2PlayerID,
		p.Status, p.PrizePool, p.AvailableForVoting, tnsPtr(p.ClosingAt), tnsPtr(p.FinalizedAt), p.ID)
	return wrapStoreErr("UpdatePhraseset", err)
}

// AddPhrasesetVote appends a vote with compare-and-update semantics: the
// counter increments only while the set is in a voting-capable state, so
// appends are linearizable through the row.
func (t *Tx) AddPhrasesetVote(phrasesetID, column string) error {
	var col string
	switch column {
	case "original":
		col = "votes_original"
	case "copy1":
		col = "votes_copy1"
	case "copy2":
		col = "votes_copy2"
	default:
		return fmt.Errorf("unknown vote column %q", column)
	}
	res, err := t.tx.Exec(`
		UPDATE phrasesets SET `+col+` = `+col+` + 1
		WHERE id = ? AND status IN (?, ?)`,
		phrasesetID, types.PhrasesetVoting, types.PhrasesetClosing)
	if err != nil {
		return wrapStoreErr("AddPhrasesetVote", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("phraseset %s not accepting votes", phrasesetID)
	}
	return nil
}

// AddToPrizePool accumulates vote costs into the pool.
func (t *Tx) AddToPrizePool(phrasesetID string, amount int) error {
	_, err := t.tx.Exec(`UPDATE phrasesets SET prize_pool = prize_pool + ? WHERE id = ?`, amount, phrasesetID)
	return wrapStoreErr("AddToPrizePool", err)
}

// ListPhrasesetsByStatus returns phrasesets in a status, oldest first.
func (t *Tx) ListPhrasesetsByStatus(status types.PhrasesetStatus, limit int) ([]*types.Phraseset, error) {
	rows, err := t.tx.Query(`
		SELECT `+phrasesetCols+` FROM phrasesets WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		status, limit)
	if err != nil {
		return nil, wrapStoreErr("ListPhrasesetsByStatus", err)
	}
	defer rows.Close()
	return collectPhrasesets(rows)
}

// ListSessionPhrasesets returns a party's linked phrasesets.
func (t *Tx) ListSessionPhrasesets(sessionID string) ([]*types.Phraseset, error) {
	rows, err := t.tx.Query(`
		SELECT `+phrasesetCols+` FROM phrasesets WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, wrapStoreErr("ListSessionPhrasesets", err)
	}
	defer rows.Close()
	return collectPhrasesets(rows)
}

// MarkSessionPhrasesetsVotable flips all the party's phrasesets to
// available_for_voting when the session enters the VOTE phase.
func (t *Tx) MarkSessionPhrasesetsVotable(sessionID string) error {
	_, err := t.tx.Exec(`
		UPDATE phrasesets SET available_for_voting = 1, status = ?
		WHERE session_id = ? AND status = ?`,
		types.PhrasesetVoting, sessionID, types.PhrasesetOpen)
	return wrapStoreErr("MarkSessionPhrasesetsVotable", err)
}

// ListStalledPhrasesets returns open or voting phrasesets with no human
// activity since the cutoff, FIFO, for the AI orchestrator.
func (t *Tx) ListStalledPhrasesets(status types.PhrasesetStatus, cutoff time.Time, limit int) ([]*types.Phraseset, error) {
	rows, err := t.tx.Query(`
		SELECT `+phrasesetCols+` FROM phrasesets
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`,
		status, tns(cutoff), limit)
	if err != nil {
		return nil, wrapStoreErr("ListStalledPhrasesets", err)
	}
	defer rows.Close()
	return collectPhrasesets(rows)
}

func collectPhrasesets(rows *sql.Rows) ([]*types.Phraseset, error) {
	var out []*types.Phraseset
	for rows.Next() {
		p, err := scanPhraseset(rows)
		if err != nil {
			return nil, wrapStoreErr("scan phraseset", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// QF VOTES
// =============================================================================

// InsertQFVote records one vote; the UNIQUE constraint makes repeats
// surface as ErrAlreadyVoted.
func (t *Tx) InsertQFVote(id, phrasesetID, voterID, choice string, at time.Time) error {
	_, err := t.tx.Exec(`
		INSERT INTO qf_votes (id, phraseset_id, voter_id, choice, correct, created_at)
		VALUES (?, ?, ?, ?, NULL, ?)`,
		id, phrasesetID, voterID, choice, tns(at))
	if err != nil && isUniqueViolation(err) {
		return types.ErrAlreadyVoted
	}
	return wrapStoreErr("InsertQFVote", err)
}

// HasVotedOnPhraseset reports a prior vote by the player.
func (t *Tx) HasVotedOnPhraseset(playerID, phrasesetID string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM qf_votes WHERE phraseset_id = ? AND voter_id = ?`,
		phrasesetID, playerID).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("HasVotedOnPhraseset", err)
	}
	return n > 0, nil
}

// QFVote is a vote row used by finalization and result tallying.
type QFVote struct {
	ID      string
	VoterID string
	Choice  string
	Correct *bool
}

// ListQFVotes returns all votes on a phraseset.
func (t *Tx) ListQFVotes(phrasesetID string) ([]*QFVote, error) {
	rows, err := t.tx.Query(`
		SELECT id, voter_id, choice, correct FROM qf_votes WHERE phraseset_id = ? ORDER BY created_at ASC`,
		phrasesetID)
	if err != nil {
		return nil, wrapStoreErr("ListQFVotes", err)
	}
	defer rows.Close()
	var out []*QFVote
	for rows.Next() {
		var v QFVote
		var correct sql.NullBool
		if err := rows.Scan(&v.ID, &v.VoterID, &v.Choice, &correct); err != nil {
			return nil, wrapStoreErr("ListQFVotes scan", err)
		}
		if correct.Valid {
			c := correct.Bool
			v.Correct = &c
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// SetVoteCorrect records correctness once the phraseset finalizes.
func (t *Tx) SetVoteCorrect(voteID string, correct bool) error {
	_, err := t.tx.Exec(`UPDATE qf_votes SET correct = ? WHERE id = ?`, correct, voteID)
	return wrapStoreErr("SetVoteCorrect", err)
}
