package aiplayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// aiSeedWallet funds new backup accounts generously; they exist to keep
// content moving, not to run out of coins mid-fill.
const aiSeedWallet = 10000

var roleBaseNames = map[types.AIRole]string{
	types.RoleQFQuip:     "quipbot",
	types.RoleQFImpostor: "copybot",
	types.RoleQFVoter:    "votebot",
	types.RoleQFParty:    "partybot",
	types.RoleIRPlayer:   "racerbot",
}

// acquireAccount picks a pool member for the role that has no active round
// in the game, enough wallet, and has not already acted on the content
// (actedOn, optional). When the pool is exhausted it mints a new account.
func (o *Orchestrator) acquireAccount(ctx context.Context, role types.AIRole, game types.GameType,
	minWallet int, actedOn func(*store.Tx, string) (bool, error)) (string, error) {

	var playerID string
	err := o.store.WithTx(ctx, func(tx *store.Tx) error {
		pool, err := tx.ListAIPlayers(role)
		if err != nil {
			return err
		}
		for _, p := range pool {
			gd, err := tx.GetGameData(p.ID, game)
			if err != nil {
				return err
			}
			if gd == nil {
				if err := o.seedGameData(tx, p.ID, game); err != nil {
					return err
				}
			} else if gd.Wallet < minWallet {
				continue
			}
			active, err := tx.GetActiveRound(p.ID, game)
			if err != nil {
				return err
			}
			if active != nil {
				continue
			}
			if actedOn != nil {
				acted, err := actedOn(tx, p.ID)
				if err != nil {
					return err
				}
				if acted {
					continue
				}
			}
			playerID = p.ID
			return nil
		}
		playerID, err = o.createAccount(tx, role, game)
		return err
	})
	if err != nil {
		return "", err
	}
	return playerID, nil
}

// createAccount mints a new AI player bound to the role, with a
// collision-checked username and the marker email domain.
func (o *Orchestrator) createAccount(tx *store.Tx, role types.AIRole, game types.GameType) (string, error) {
	base, ok := roleBaseNames[role]
	if !ok {
		return "", fmt.Errorf("unknown AI role %s", role)
	}
	var username string
	for attempt := 0; attempt < 50; attempt++ {
		candidate := fmt.Sprintf("%s_%04d", base, o.intn(10000))
		exists, err := tx.UsernameExists(strings.ToLower(candidate))
		if err != nil {
			return "", err
		}
		if !exists {
			username = candidate
			break
		}
	}
	if username == "" {
		return "", fmt.Errorf("could not find a free username for role %s", role)
	}
	now := o.clk.Now()
	p := &types.Player{
		ID:            uuid.NewString(),
		Username:      username,
		UsernameLower: strings.ToLower(username),
		Email:         strings.ToLower(username) + types.AIEmailDomain,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if err := tx.CreatePlayer(p); err != nil {
		return "", err
	}
	if err := o.seedGameData(tx, p.ID, game); err != nil {
		return "", err
	}
	if err := tx.AddAIRole(p.ID, role); err != nil {
		return "", err
	}
	return p.ID, nil
}

// seedGameData creates the per-game row and funds it through the ledger, so
// the transaction sum matches the wallet from the first coin.
func (o *Orchestrator) seedGameData(tx *store.Tx, playerID string, game types.GameType) error {
	if err := tx.CreateGameData(&types.PlayerGameData{PlayerID: playerID, Game: game}); err != nil {
		return err
	}
	_, err := o.bank.Credit(tx, playerID, game, aiSeedWallet, types.TxnStartingGrant, "", o.clk.Now())
	return err
}

// ensureFunds tops an AI account back up when a fill drained it.
func (o *Orchestrator) ensureFunds(ctx context.Context, playerID string, game types.GameType, min int) error {
	return o.store.WithTx(ctx, func(tx *store.Tx) error {
		gd, err := tx.GetGameData(playerID, game)
		if err != nil {
			return err
		}
		if gd == nil {
			return o.seedGameData(tx, playerID, game)
		}
		if gd.Wallet >= min {
			return nil
		}
		_, err = o.bank.Credit(tx, playerID, game, aiSeedWallet, types.TxnAdminAdjust, "", o.clk.Now())
		return err
	})
}
