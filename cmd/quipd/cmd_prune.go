package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheegaon/quipflip-sub002/internal/cluster"
	"github.com/sheegaon/quipflip-sub002/internal/store"
)

var pruneCorpusCmd = &cobra.Command{
	Use:   "prune-corpus",
	Short: "Prune oversized ThoughtLink answer corpora",
	Long: `Deactivates the least useful answers for every prompt whose active
corpus exceeds the configured cap. Each cluster keeps at least one active
answer so coverage scoring stays meaningful.`,
	RunE: runPruneCorpus,
}

func runPruneCorpus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(filepath.Join(cfg.DataDir, dbFilename))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	emb, err := cluster.NewEngine(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedding engine: %w", err)
	}
	tl := cluster.NewService(emb, cfg.TL)

	var total int
	err = st.WithTx(context.Background(), func(tx *store.Tx) error {
		prompts, err := tx.ListTLPrompts(false)
		if err != nil {
			return err
		}
		for _, p := range prompts {
			n, err := tl.PruneCorpus(tx, p.ID)
			if err != nil {
				return fmt.Errorf("pruning prompt %s: %w", p.ID, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("corpus pruned", zap.Int("deactivated", total))
	fmt.Printf("Deactivated %d answers\n", total)
	return nil
}
