package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// CreatePlayer inserts the player row.
func (t *Tx) CreatePlayer(p *types.Player) error {
	_, err := t.tx.Exec(`
		INSERT INTO players (id, username, username_lower, email, is_guest, created_at, last_active_at, anonymized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, p.UsernameLower, nullStr(p.Email), p.IsGuest,
		tns(p.CreatedAt), tns(p.LastActiveAt), tnsPtr(p.AnonymizedAt))
	return wrapStoreErr("CreatePlayer", err)
}

func scanPlayer(row interface{ Scan(...any) error }) (*types.Player, error) {
	var p types.Player
	var email sql.NullString
	var created, lastActive int64
	var anon sql.NullInt64
	err := row.Scan(&p.ID, &p.Username, &p.UsernameLower, &email, &p.IsGuest, &created, &lastActive, &anon)
	if err != nil {
		return nil, err
	}
	p.Email = strOrEmpty(email)
	p.CreatedAt = fromNS(created)
	p.LastActiveAt = fromNS(lastActive)
	p.AnonymizedAt = fromNSPtr(anon)
	return &p, nil
}

const playerCols = `id, username, username_lower, email, is_guest, created_at, last_active_at, anonymized_at`

// GetPlayer returns the player or nil when absent.
func (t *Tx) GetPlayer(id string) (*types.Player, error) {
	p, err := scanPlayer(t.tx.QueryRow(`SELECT `+playerCols+` FROM players WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetPlayer", err)
	}
	return p, nil
}

// GetPlayerByUsername looks up by canonical lowercased name.
func (t *Tx) GetPlayerByUsername(lower string) (*types.Player, error) {
	p, err := scanPlayer(t.tx.QueryRow(`SELECT `+playerCols+` FROM players WHERE username_lower = ?`, lower))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetPlayerByUsername", err)
	}
	return p, nil
}

// UsernameExists reports whether the lowercased name is taken.
func (t *Tx) UsernameExists(lower string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM players WHERE username_lower = ?`, lower).Scan(&n)
	if err != nil {
		return false, wrapStoreErr("UsernameExists", err)
	}
	return n > 0, nil
}

// TouchLastActive bumps the player's activity timestamp.
func (t *Tx) TouchLastActive(playerID string, at time.Time) error {
	_, err := t.tx.Exec(`UPDATE players SET last_active_at = ? WHERE id = ?`, tns(at), playerID)
	return wrapStoreErr("TouchLastActive", err)
}

// AnonymizePlayer soft-anonymizes a retired account so submitted rounds stay
// intact. The username is replaced with a recycled placeholder.
func (t *Tx) AnonymizePlayer(playerID, placeholder string, at time.Time) error {
	res, err := t.tx.Exec(`
		UPDATE players
		SET username = ?, username_lower = ?, email = NULL, anonymized_at = ?
		WHERE id = ? AND anonymized_at IS NULL`,
		placeholder, placeholder, tns(at), playerID)
	if err != nil {
		return wrapStoreErr("AnonymizePlayer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("player %s not found or already anonymized", playerID)
	}
	return nil
}

// ListInactiveGuests returns guest accounts with no activity since the cutoff
// that have not been anonymized yet.
func (t *Tx) ListInactiveGuests(cutoff time.Time) ([]*types.Player, error) {
	rows, err := t.tx.Query(`
		SELECT `+playerCols+` FROM players
		WHERE is_guest = 1 AND anonymized_at IS NULL AND last_active_at < ?`, tns(cutoff))
	if err != nil {
		return nil, wrapStoreErr("ListInactiveGuests", err)
	}
	defer rows.Close()
	var out []*types.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, wrapStoreErr("ListInactiveGuests scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// PER-GAME DATA
// =============================================================================

// CreateGameData inserts the per-game subrecord.
func (t *Tx) CreateGameData(d *types.PlayerGameData) error {
	_, err := t.tx.Exec(`
		INSERT INTO player_game_data (player_id, game, wallet, vault, tutorial_progress, consecutive_bad_votes, vote_lockout_until, last_bonus_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.PlayerID, d.Game, d.Wallet, d.Vault, d.TutorialProgress, d.ConsecutiveBadVotes,
		tnsPtr(d.VoteLockoutUntil), tnsPtr(d.LastBonusAt))
	return wrapStoreErr("CreateGameData", err)
}

// GetGameData returns the subrecord or nil when absent.
func (t *Tx) GetGameData(playerID string, game types.GameType) (*types.PlayerGameData, error) {
	var d types.PlayerGameData
	var lockout, bonus sql.NullInt64
	err := t.tx.QueryRow(`
		SELECT player_id, game, wallet, vault, tutorial_progress, consecutive_bad_votes, vote_lockout_until, last_bonus_at
		FROM player_game_data WHERE player_id = ? AND game = ?`, playerID, game).
		Scan(&d.PlayerID, &d.Game, &d.Wallet, &d.Vault, &d.TutorialProgress, &d.ConsecutiveBadVotes, &lockout, &bonus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetGameData", err)
	}
	d.VoteLockoutUntil = fromNSPtr(lockout)
	d.LastBonusAt = fromNSPtr(bonus)
	return &d, nil
}

// UpdateBalances writes the wallet and vault values.
func (t *Tx) UpdateBalances(playerID string, game types.GameType, wallet, vault int) error {
	res, err := t.tx.Exec(`
		UPDATE player_game_data SET wallet = ?, vault = ? WHERE player_id = ? AND game = ?`,
		wallet, vault, playerID, game)
	if err != nil {
		return wrapStoreErr("UpdateBalances", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no game data for player %s game %s", playerID, game)
	}
	return nil
}

// UpdateVoteLockout writes the guest vote lockout state.
func (t *Tx) UpdateVoteLockout(playerID string, game types.GameType, badVotes int, until *time.Time) error {
	_, err := t.tx.Exec(`
		UPDATE player_game_data SET consecutive_bad_votes = ?, vote_lockout_until = ?
		WHERE player_id = ? AND game = ?`,
		badVotes, tnsPtr(until), playerID, game)
	return wrapStoreErr("UpdateVoteLockout", err)
}

// UpdateLastBonus records a daily bonus claim.
func (t *Tx) UpdateLastBonus(playerID string, game types.GameType, at time.Time) error {
	_, err := t.tx.Exec(`
		UPDATE player_game_data SET last_bonus_at = ? WHERE player_id = ? AND game = ?`,
		tns(at), playerID, game)
	return wrapStoreErr("UpdateLastBonus", err)
}

// UpdateTutorialProgress advances the tutorial counter.
func (t *Tx) UpdateTutorialProgress(playerID string, game types.GameType, progress int) error {
	_, err := t.tx.Exec(`
		UPDATE player_game_data SET tutorial_progress = ? WHERE player_id = ? AND game = ?`,
		progress, playerID, game)
	return wrapStoreErr("UpdateTutorialProgress", err)
}

// =============================================================================
// AI POOL
// =============================================================================

// AddAIRole binds a player to an AI pool role.
func (t *Tx) AddAIRole(playerID string, role types.AIRole) error {
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO ai_roles (player_id, role) VALUES (?, ?)`, playerID, role)
	return wrapStoreErr("AddAIRole", err)
}

// ListAIPlayers returns pool members for a role, oldest first.
func (t *Tx) ListAIPlayers(role types.AIRole) ([]*types.Player, error) {
	rows, err := t.tx.Query(`
		SELECT `+playerCols+` FROM players
		JOIN ai_roles ON ai_roles.player_id = players.id
		WHERE ai_roles.role = ?
		ORDER BY players.created_at ASC`, role)
	if err != nil {
		return nil, wrapStoreErr("ListAIPlayers", err)
	}
	defer rows.Close()
	var out []*types.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, wrapStoreErr("ListAIPlayers scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
