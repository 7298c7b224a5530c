package store

import (
	"database/sql"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// InsertTransaction appends a ledger row. The ledger computes balance_after
// under the unit of work, so per-player sequences stay gap-free.
func (t *Tx) InsertTransaction(txn *types.Transaction) error {
	_, err := t.tx.Exec(`
		INSERT INTO transactions (id, player_id, game, amount, balance_after, kind, vault, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.PlayerID, txn.Game, txn.Amount, txn.BalanceAfter, txn.Kind, txn.Vault, txn.RefID,
		tns(txn.CreatedAt))
	return wrapStoreErr("InsertTransaction", err)
}

// ListTransactionsByPlayer returns the player's ledger for a game, oldest
// first.
func (t *Tx) ListTransactionsByPlayer(playerID string, game types.GameType) ([]*types.Transaction, error) {
	rows, err := t.tx.Query(`
		SELECT id, player_id, game, amount, balance_after, kind, vault, ref_id, created_at
		FROM transactions WHERE player_id = ? AND game = ? ORDER BY created_at ASC, id ASC`,
		playerID, game)
	if err != nil {
		return nil, wrapStoreErr("ListTransactionsByPlayer", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListTransactionsByRefs returns ledger rows referencing any of the IDs.
// Used by party result tallying (spent/earned per participant).
func (t *Tx) ListTransactionsByRefs(refs []string) ([]*types.Transaction, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	args := make([]any, len(refs))
	for i, r := range refs {
		args[i] = r
	}
	rows, err := t.tx.Query(`
		SELECT id, player_id, game, amount, balance_after, kind, vault, ref_id, created_at
		FROM transactions WHERE ref_id IN (`+inPlaceholders(len(refs))+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, wrapStoreErr("ListTransactionsByRefs", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// SumWalletTransactions returns the signed sum of the player's wallet rows.
// The ledger invariant check compares it against the current wallet.
func (t *Tx) SumWalletTransactions(playerID string, game types.GameType) (int, error) {
	var sum sql.NullInt64
	err := t.tx.QueryRow(`
		SELECT SUM(amount) FROM transactions WHERE player_id = ? AND game = ? AND vault = 0`,
		playerID, game).Scan(&sum)
	if err != nil {
		return 0, wrapStoreErr("SumWalletTransactions", err)
	}
	return int(sum.Int64), nil
}

func collectTransactions(rows *sql.Rows) ([]*types.Transaction, error) {
	var out []*types.Transaction
	for rows.Next() {
		var txn types.Transaction
		var created int64
		if err := rows.Scan(&txn.ID, &txn.PlayerID, &txn.Game, &txn.Amount, &txn.BalanceAfter,
			&txn.Kind, &txn.Vault, &txn.RefID, &created); err != nil {
			return nil, wrapStoreErr("scan transaction", err)
		}
		txn.CreatedAt = fromNS(created)
		out = append(out, &txn)
	}
	return out, rows.Err()
}
