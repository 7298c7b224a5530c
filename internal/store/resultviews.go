package store

import (
	"database/sql"
	"errors"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// RecordResultView inserts the view at most once per (player, ref). When a
// view already exists the stored row comes back, so reads are idempotent.
func (t *Tx) RecordResultView(v *types.ResultView) (*types.ResultView, error) {
	_, err := t.tx.Exec(`
		INSERT INTO result_views (id, player_id, ref_id, payout, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.PlayerID, v.RefID, v.Payout, tns(v.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return t.GetResultView(v.PlayerID, v.RefID)
		}
		return nil, wrapStoreErr("RecordResultView", err)
	}
	return v, nil
}

// GetResultView returns the stored view or nil.
func (t *Tx) GetResultView(playerID, refID string) (*types.ResultView, error) {
	var v types.ResultView
	var created int64
	err := t.tx.QueryRow(`
		SELECT id, player_id, ref_id, payout, created_at
		FROM result_views WHERE player_id = ? AND ref_id = ?`, playerID, refID).
		Scan(&v.ID, &v.PlayerID, &v.RefID, &v.Payout, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetResultView", err)
	}
	v.CreatedAt = fromNS(created)
	return &v, nil
}
