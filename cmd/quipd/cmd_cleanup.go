package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheegaon/quipflip-sub002/internal/store"
)

var inactiveDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one maintenance pass and retire inactive guests",
	Long: `Runs a single sweep (round expiry, vote finalization, backronym set
timers) and then anonymizes guest accounts with no activity inside the
inactivity window. Anonymized accounts keep their transaction history but
lose their username and email, freeing the username for reuse.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&inactiveDays, "inactive-days", 90, "Guest inactivity window before anonymization")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.st.Close()

	ctx := context.Background()
	if err := s.sw.Sweep(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -inactiveDays)
	var retired int
	err = s.st.WithTx(ctx, func(tx *store.Tx) error {
		guests, err := tx.ListInactiveGuests(cutoff)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, g := range guests {
			placeholder := "retired_" + g.ID[:8]
			if err := tx.AnonymizePlayer(g.ID, placeholder, now); err != nil {
				return fmt.Errorf("anonymizing %s: %w", g.ID, err)
			}
			retired++
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("cleanup finished", zap.Int("guests_retired", retired))
	fmt.Printf("Retired %d inactive guests\n", retired)
	return nil
}
