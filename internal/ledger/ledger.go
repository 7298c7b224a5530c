// Package ledger implements the double-entry style balance ledger. Every
// balance change happens through Debit, Credit or PayoutWithRake inside the
// caller's unit of work, so the wallet value and the transaction row commit
// or roll back together and balance_after sequences stay gap-free.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Service applies balance changes. Stateless; safe for concurrent use.
type Service struct {
	payouts config.PayoutConfig
}

// NewService creates a ledger service with the payout policy.
func NewService(payouts config.PayoutConfig) *Service {
	return &Service{payouts: payouts}
}

// Debit removes amount from the player's wallet, failing with
// ErrInsufficientBalance when the wallet cannot cover it. Amount must be
// positive; the ledger row records it negative.
func (s *Service) Debit(tx *store.Tx, playerID string, game types.GameType, amount int, kind types.TransactionKind, refID string, at time.Time) (*types.Transaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("debit amount must be >= 0, got %d", amount)
	}
	d, err := tx.GetGameData(playerID, game)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("no %s game data for player %s", game, playerID)
	}
	if d.Wallet < amount {
		return nil, fmt.Errorf("player %s wallet %d cannot cover %d: %w",
			playerID, d.Wallet, amount, types.ErrInsufficientBalance)
	}
	after := d.Wallet - amount
	if err := tx.UpdateBalances(playerID, game, after, d.Vault); err != nil {
		return nil, err
	}
	txn := &types.Transaction{
		ID: uuid.NewString(), PlayerID: playerID, Game: game,
		Amount: -amount, BalanceAfter: after, Kind: kind, RefID: refID, CreatedAt: at,
	}
	if err := tx.InsertTransaction(txn); err != nil {
		return nil, err
	}
	logging.Ledger("debit %d from %s/%s (%s, ref=%s) -> %d", amount, playerID, game, kind, refID, after)
	return txn, nil
}

// Credit adds amount to the player's wallet.
func (s *Service) Credit(tx *store.Tx, playerID string, game types.GameType, amount int, kind types.TransactionKind, refID string, at time.Time) (*types.Transaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("credit amount must be >= 0, got %d", amount)
	}
	d, err := tx.GetGameData(playerID, game)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("no %s game data for player %s", game, playerID)
	}
	after := d.Wallet + amount
	if err := tx.UpdateBalances(playerID, game, after, d.Vault); err != nil {
		return nil, err
	}
	txn := &types.Transaction{
		ID: uuid.NewString(), PlayerID: playerID, Game: game,
		Amount: amount, BalanceAfter: after, Kind: kind, RefID: refID, CreatedAt: at,
	}
	if err := tx.InsertTransaction(txn); err != nil {
		return nil, err
	}
	logging.Ledger("credit %d to %s/%s (%s, ref=%s) -> %d", amount, playerID, game, kind, refID, after)
	return txn, nil
}

// CreditVault adds amount to the player's locked vault balance.
func (s *Service) CreditVault(tx *store.Tx, playerID string, game types.GameType, amount int, kind types.TransactionKind, refID string, at time.Time) (*types.Transaction, error) {
	if amount < 0 {
		return nil, fmt.Errorf("vault credit amount must be >= 0, got %d", amount)
	}
	d, err := tx.GetGameData(playerID, game)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("no %s game data for player %s", game, playerID)
	}
	after := d.Vault + amount
	if err := tx.UpdateBalances(playerID, game, d.Wallet, after); err != nil {
		return nil, err
	}
	txn := &types.Transaction{
		ID: uuid.NewString(), PlayerID: playerID, Game: game,
		Amount: amount, BalanceAfter: after, Kind: kind, Vault: true, RefID: refID, CreatedAt: at,
	}
	if err := tx.InsertTransaction(txn); err != nil {
		return nil, err
	}
	logging.LedgerDebug("vault credit %d to %s/%s (%s) -> %d", amount, playerID, game, kind, after)
	return txn, nil
}

// SplitRake divides a gross payout into the wallet and vault portions. The
// rake applies only to the excess above the threshold, so small wins are
// untouched.
func (s *Service) SplitRake(game types.GameType, gross int) (wallet, vault int) {
	pct := s.rakePercent(game)
	if gross <= s.payouts.VaultRakeThreshold || pct <= 0 {
		return gross, 0
	}
	excess := gross - s.payouts.VaultRakeThreshold
	vault = excess * pct / 100
	return gross - vault, vault
}

func (s *Service) rakePercent(game types.GameType) int {
	switch game {
	case types.GameQF:
		return s.payouts.QFVaultRakePercent
	case types.GameIR:
		return s.payouts.IRVaultRakePercent
	case types.GameTL:
		return s.payouts.TLVaultRakePercent
	default:
		return 0
	}
}

// PayoutWithRake credits a gross payout split between wallet and vault and
// returns the two amounts.
func (s *Service) PayoutWithRake(tx *store.Tx, playerID string, game types.GameType, gross int, kind types.TransactionKind, refID string, at time.Time) (int, int, error) {
	walletAmt, vaultAmt := s.SplitRake(game, gross)
	if _, err := s.Credit(tx, playerID, game, walletAmt, kind, refID, at); err != nil {
		return 0, 0, err
	}
	if vaultAmt > 0 {
		if _, err := s.CreditVault(tx, playerID, game, vaultAmt, types.TxnVaultRake, refID, at); err != nil {
			return 0, 0, err
		}
	}
	return walletAmt, vaultAmt, nil
}

// CheckInvariant verifies the wallet equals the signed sum of its ledger
// rows. Used by tests and the admin CLI, never in the hot path.
func (s *Service) CheckInvariant(tx *store.Tx, playerID string, game types.GameType) error {
	d, err := tx.GetGameData(playerID, game)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("no %s game data for player %s", game, playerID)
	}
	sum, err := tx.SumWalletTransactions(playerID, game)
	if err != nil {
		return err
	}
	if sum != d.Wallet {
		return fmt.Errorf("ledger drift for %s/%s: wallet %d, transaction sum %d", playerID, game, d.Wallet, sum)
	}
	return nil
}
