package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/store"
	"github.com/sheegaon/quipflip-sub002/internal/types"
	"github.com/sheegaon/quipflip-sub002/internal/validate"
)

// Service performs embedding lookups and cluster maintenance for guess
// rounds. Embeddings are cached in two tiers: a process map for the life of
// the service and the store's embedding_cache table across restarts.
type Service struct {
	engine EmbeddingEngine
	cfg    config.TLConfig

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewService creates the cluster service.
func NewService(engine EmbeddingEngine, cfg config.TLConfig) *Service {
	return &Service{
		engine: engine,
		cfg:    cfg,
		cache:  make(map[string][]float32),
	}
}

// Engine exposes the underlying embedding engine.
func (s *Service) Engine() EmbeddingEngine { return s.engine }

// EmbedCached returns the embedding for phrase, consulting the process cache,
// then the store cache, then the provider. Store writes happen inside the
// caller's unit of work so a rolled-back round leaves no cache rows.
func (s *Service) EmbedCached(ctx context.Context, tx *store.Tx, phrase string, at time.Time) ([]float32, error) {
	key := validate.Normalize(phrase)

	s.mu.RLock()
	vec, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := tx.GetCachedEmbedding(key, s.modelName(), s.engine.Name())
	if err != nil {
		return nil, err
	}
	if vec == nil {
		logging.ClusterDebug("embedding cache miss for %q, calling provider", key)
		vec, err = s.engine.Embed(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := tx.PutCachedEmbedding(key, s.modelName(), s.engine.Name(), vec, at); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.cache[key] = vec
	s.mu.Unlock()
	return vec, nil
}

func (s *Service) modelName() string {
	return s.engine.Name()
}

// MatchSnapshot returns the snapshot cluster most similar to the guess and
// whether it clears the match threshold.
func (s *Service) MatchSnapshot(guess []float32, snapshot []*types.Cluster) (clusterID string, sim float64, matched bool) {
	centroids := make([][]float32, len(snapshot))
	for i, c := range snapshot {
		centroids[i] = c.Centroid
	}
	idx, best := BestMatch(guess, centroids)
	if idx == -1 {
		return "", 0, false
	}
	return snapshot[idx].ID, best, best >= s.cfg.MatchThreshold
}

// OnTopic reports whether the guess is at least loosely related to the
// prompt's corpus.
func (s *Service) OnTopic(guess []float32, clusters []*types.Cluster) bool {
	centroids := make([][]float32, len(clusters))
	for i, c := range clusters {
		centroids[i] = c.Centroid
	}
	_, best := BestMatch(guess, centroids)
	return best >= s.cfg.TopicThreshold
}

// Assign places an answer embedding into a cluster under the prompt. The
// nearest cluster absorbs it when similarity clears the join threshold (the
// centroid moves to the running mean); otherwise a new singleton cluster is
// created. The duplicate flag is set when the answer is near identical to
// the centroid it joined.
func (s *Service) Assign(tx *store.Tx, promptID, answerText string, emb []float32, at time.Time) (clusterID string, duplicate bool, err error) {
	clusters, err := tx.ListClusters(promptID)
	if err != nil {
		return "", false, err
	}

	centroids := make([][]float32, len(clusters))
	for i, c := range clusters {
		centroids[i] = c.Centroid
	}
	idx, best := BestMatch(emb, centroids)

	if idx >= 0 && best >= s.cfg.ClusterJoinThreshold {
		c := clusters[idx]
		next := MeanUpdate(c.Centroid, emb, c.Size)
		if err := tx.UpdateClusterCentroid(c.ID, next, c.Size+1); err != nil {
			return "", false, err
		}
		logging.ClusterDebug("answer joined cluster %s (sim=%.3f, size=%d)", c.ID, best, c.Size+1)
		return c.ID, best >= s.cfg.ClusterDuplicateThreshold, nil
	}

	c := &types.Cluster{
		ID:            uuid.NewString(),
		PromptID:      promptID,
		Centroid:      emb,
		Size:          1,
		ExampleAnswer: answerText,
		CreatedAt:     at,
	}
	if err := tx.InsertCluster(c); err != nil {
		return "", false, err
	}
	logging.Cluster("new cluster %s under prompt %s (best existing sim=%.3f)", c.ID, promptID, best)
	return c.ID, false, nil
}

// PruneCorpus deactivates the least useful answers until the prompt's active
// corpus fits the cap. An answer that is the last active member of its
// cluster is never pruned, so cluster coverage cannot silently vanish.
func (s *Service) PruneCorpus(tx *store.Tx, promptID string) (pruned int, err error) {
	answers, err := tx.ListActiveAnswers(promptID)
	if err != nil {
		return 0, err
	}
	excess := len(answers) - s.cfg.ActiveCorpusCap
	if excess <= 0 {
		return 0, nil
	}

	sort.Slice(answers, func(i, j int) bool {
		return answers[i].Usefulness() < answers[j].Usefulness()
	})

	for _, a := range answers {
		if pruned >= excess {
			break
		}
		n, err := tx.CountActiveAnswersInCluster(a.ClusterID)
		if err != nil {
			return pruned, err
		}
		if n <= 1 {
			continue
		}
		if err := tx.DeactivateAnswer(a.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	if pruned > 0 {
		logging.Cluster("pruned %d answers from prompt %s corpus", pruned, promptID)
	}
	return pruned, nil
}
