package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheegaon/quipflip-sub002/internal/store"
)

var seedPromptsCmd = &cobra.Command{
	Use:   "seed-prompts [file]",
	Short: "Load ThoughtLink prompts from a text file",
	Long: `Reads prompts from a text file, one per line, and inserts any that are
not already present. Blank lines and lines starting with # are skipped.
Guess rounds can only start against seeded prompts, so a fresh deployment
runs this before opening ThoughtLink.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeedPrompts,
}

func runSeedPrompts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := store.New(filepath.Join(cfg.DataDir, dbFilename))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	var added, skipped int
	err = st.WithTx(context.Background(), func(tx *store.Tx) error {
		existing, err := tx.ListTLPrompts(false)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(existing))
		for _, p := range existing {
			seen[strings.ToLower(p.Text)] = true
		}

		now := time.Now()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			if seen[strings.ToLower(text)] {
				skipped++
				continue
			}
			if err := tx.InsertTLPrompt(uuid.NewString(), text, now); err != nil {
				return err
			}
			seen[strings.ToLower(text)] = true
			added++
		}
		return scanner.Err()
	})
	if err != nil {
		return err
	}

	logger.Info("prompts seeded", zap.Int("added", added), zap.Int("skipped", skipped))
	fmt.Printf("Added %d prompts (%d already present)\n", added, skipped)
	return nil
}
