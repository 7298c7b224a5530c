package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheegaon/quipflip-sub002/internal/aiplayer"
	"github.com/sheegaon/quipflip-sub002/internal/clock"
	"github.com/sheegaon/quipflip-sub002/internal/cluster"
	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/engine"
	"github.com/sheegaon/quipflip-sub002/internal/ledger"
	"github.com/sheegaon/quipflip-sub002/internal/lockq"
	"github.com/sheegaon/quipflip-sub002/internal/matcher"
	"github.com/sheegaon/quipflip-sub002/internal/party"
	"github.com/sheegaon/quipflip-sub002/internal/phrasecache"
	"github.com/sheegaon/quipflip-sub002/internal/realtime"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/sweeper"
	"github.com/sheegaon/quipflip-sub002/internal/validate"
)

const dbFilename = "quipd.db"

var sweepInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator loop",
	Long: `Starts the coordinator: opens the database, wires the round engine,
party controller, realtime hub and AI backup orchestrator, then runs the
sweeper until interrupted. The sweeper expires overdue rounds, finalizes
phrasesets and backronym sets on their timers, and periodically lets the AI
orchestrator fill in for missing human activity.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 30*time.Second, "Sweeper tick interval")
}

// stack is the fully wired coordinator.
type stack struct {
	st    *store.Store
	eng   *engine.Engine
	party *party.Service
	hub   *realtime.Hub
	orch  *aiplayer.Orchestrator
	sw    *sweeper.Sweeper
}

// buildStack opens the database and wires every component. The caller owns
// closing the returned store.
func buildStack(cfg config.Config) (*stack, error) {
	st, err := store.New(filepath.Join(cfg.DataDir, dbFilename))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	clk := clock.Real()
	locks := lockq.NewService()
	bank := ledger.NewService(cfg.Payouts)
	match := matcher.New(cfg.Abuse, cfg.Timing, clk)
	val := validate.New(nil)

	emb, err := cluster.NewEngine(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("embedding engine: %w", err)
	}
	tl := cluster.NewService(emb, cfg.TL)

	provider, err := phrasecache.NewProvider(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	corpus, err := phrasecache.LoadCorpus(cfg.LLM.CorpusPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("phrase corpus: %w", err)
	}
	cache := phrasecache.NewManager(st, locks, provider, corpus, val, clk)

	eng := engine.New(cfg, engine.Deps{
		Store:     st,
		Locks:     locks,
		Bank:      bank,
		Match:     match,
		Validator: val,
		Cache:     cache,
		TL:        tl,
		Clock:     clk,
	})

	hub := realtime.NewHub(st)
	orch := aiplayer.New(cfg, st, eng, bank, cache, clk)

	ps := party.New(cfg, st, locks, clk)
	ps.SetBroadcaster(hub)
	ps.SetFinalizer(eng)
	ps.SetAIFiller(orch)
	eng.SetProgressSink(ps)

	sw := sweeper.New(cfg, st, eng, clk)
	sw.SetStallChecker(orch)

	return &stack{st: st, eng: eng, party: ps, hub: hub, orch: orch, sw: sw}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The work queues are process memory; reload open work before serving.
	if err := s.eng.Rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrating work queues: %w", err)
	}

	logger.Info("coordinator started",
		zap.String("data_dir", cfg.DataDir),
		zap.Duration("sweep_interval", sweepInterval),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider))

	err = s.sw.Run(ctx, sweepInterval)
	if errors.Is(err, context.Canceled) {
		logger.Info("coordinator stopped")
		return nil
	}
	return err
}
