package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

const dailyBonusWindow = 24 * time.Hour

func (e *Engine) bonusAmount(game types.GameType) int {
	switch game {
	case types.GameIR:
		return e.cfg.Economy.IRDailyBonusAmount
	case types.GameTL:
		return e.cfg.Economy.TLDailyBonusAmount
	default:
		return e.cfg.Economy.DailyBonusAmount
	}
}

// ClaimDailyBonus credits the per-game daily bonus, at most once per
// 24-hour window.
func (e *Engine) ClaimDailyBonus(ctx context.Context, playerID string, game types.GameType) (int, error) {
	ctx, lease, err := e.lockPlayer(ctx, playerID, game)
	if err != nil {
		return 0, err
	}
	defer lease.Release()

	amount := e.bonusAmount(game)
	now := e.clk.Now()
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		gd, err := tx.GetGameData(playerID, game)
		if err != nil {
			return err
		}
		if gd == nil {
			// First touch of this game: the claim bootstraps the row.
			if err := tx.CreateGameData(&types.PlayerGameData{PlayerID: playerID, Game: game}); err != nil {
				return err
			}
		} else if gd.LastBonusAt != nil && now.Sub(*gd.LastBonusAt) < dailyBonusWindow {
			return types.ErrBonusAlreadyClaimed
		}
		if _, err := e.bank.Credit(tx, playerID, game, amount, types.TxnDailyBonus, "", now); err != nil {
			return err
		}
		return tx.UpdateLastBonus(playerID, game, now)
	})
	if err != nil {
		return 0, err
	}
	logging.Ledger("daily bonus: player=%s game=%s amount=%d", playerID, game, amount)
	return amount, nil
}

// ViewResult records the player's first look at a finalized outcome (a
// phraseset or backronym set) and returns the stored view. The payout is
// captured on the first call so later reads return the same number even
// after further ledger activity references the same content.
func (e *Engine) ViewResult(ctx context.Context, playerID, refID string) (*types.ResultView, error) {
	var view *types.ResultView
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		txns, err := tx.ListTransactionsByRefs([]string{refID})
		if err != nil {
			return err
		}
		payout := 0
		for _, t := range txns {
			if t.PlayerID != playerID || t.Vault || t.Amount <= 0 {
				continue
			}
			payout += t.Amount
		}
		view, err = tx.RecordResultView(&types.ResultView{
			ID:        uuid.NewString(),
			PlayerID:  playerID,
			RefID:     refID,
			Payout:    payout,
			CreatedAt: e.clk.Now(),
		})
		return err
	})
	return view, err
}
