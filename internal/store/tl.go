package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// =============================================================================
// TL PROMPTS
// =============================================================================

// TLPrompt is a seeded guessing prompt.
type TLPrompt struct {
	ID     string
	Text   string
	Active bool
}

// InsertTLPrompt seeds a prompt; duplicates by text are ignored.
func (t *Tx) InsertTLPrompt(id, text string, at time.Time) error {
	_, err := t.tx.Exec(`
		INSERT OR IGNORE INTO tl_prompts (id, text, active, created_at) VALUES (?, ?, 1, ?)`,
		id, text, tns(at))
	return wrapStoreErr("InsertTLPrompt", err)
}

// GetTLPrompt returns the prompt or nil.
func (t *Tx) GetTLPrompt(id string) (*TLPrompt, error) {
	var p TLPrompt
	err := t.tx.QueryRow(`SELECT id, text, active FROM tl_prompts WHERE id = ?`, id).
		Scan(&p.ID, &p.Text, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetTLPrompt", err)
	}
	return &p, nil
}

// ListTLPrompts returns prompts, active first.
func (t *Tx) ListTLPrompts(activeOnly bool) ([]*TLPrompt, error) {
	q := `SELECT id, text, active FROM tl_prompts`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	rows, err := t.tx.Query(q + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, wrapStoreErr("ListTLPrompts", err)
	}
	defer rows.Close()
	var out []*TLPrompt
	for rows.Next() {
		var p TLPrompt
		if err := rows.Scan(&p.ID, &p.Text, &p.Active); err != nil {
			return nil, wrapStoreErr("ListTLPrompts scan", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =============================================================================
// TL ROUNDS / GUESSES
// =============================================================================

// InsertTLRound freezes the snapshot for a guess round.
func (t *Tx) InsertTLRound(r *types.TLRound) error {
	_, err := t.tx.Exec(`
		INSERT INTO tl_rounds (round_id, prompt_id, snapshot_answer_ids, snapshot_cluster_ids,
			snapshot_weight, matched_clusters, strikes, final_coverage, gross_payout, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RoundID, r.PromptID, marshalJSON(r.SnapshotAnswerIDs), marshalJSON(r.SnapshotClusterIDs),
		r.SnapshotWeight, marshalJSON(r.MatchedClusters), r.Strikes, r.FinalCoverage, r.GrossPayout,
		tnsPtr(r.FinalizedAt))
	return wrapStoreErr("InsertTLRound", err)
}

// GetTLRound returns the TL extension row or nil.
func (t *Tx) GetTLRound(roundID string) (*types.TLRound, error) {
	var r types.TLRound
	var answers, clusters, matched string
	var finalized sql.NullInt64
	err := t.tx.QueryRow(`
		SELECT round_id, prompt_id, snapshot_answer_ids, snapshot_cluster_ids, snapshot_weight,
			matched_clusters, strikes, final_coverage, gross_payout, finalized_at
		FROM tl_rounds WHERE round_id = ?`, roundID).
		Scan(&r.RoundID, &r.PromptID, &answers, &clusters, &r.SnapshotWeight,
			&matched, &r.Strikes, &r.FinalCoverage, &r.GrossPayout, &finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetTLRound", err)
	}
	r.SnapshotAnswerIDs = unmarshalStrings(answers)
	r.SnapshotClusterIDs = unmarshalStrings(clusters)
	r.MatchedClusters = unmarshalStrings(matched)
	r.FinalizedAt = fromNSPtr(finalized)
	return &r, nil
}

// UpdateTLRound writes the mutable guess-round fields.
func (t *Tx) UpdateTLRound(r *types.TLRound) error {
	_, err := t.tx.Exec(`
		UPDATE tl_rounds SET matched_clusters = ?, strikes = ?, final_coverage = ?,
			gross_payout = ?, finalized_at = ?
		WHERE round_id = ?`,
		marshalJSON(r.MatchedClusters), r.Strikes, r.FinalCoverage, r.GrossPayout,
		tnsPtr(r.FinalizedAt), r.RoundID)
	return wrapStoreErr("UpdateTLRound", err)
}

// InsertGuess records a guess with its embedding for self-similarity checks.
func (t *Tx) InsertGuess(id, roundID, text string, embedding []float32, matched bool, at time.Time) error {
	_, err := t.tx.Exec(`
		INSERT INTO tl_guesses (id, round_id, text, embedding, matched, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, roundID, text, marshalVector(embedding), matched, tns(at))
	return wrapStoreErr("InsertGuess", err)
}

// ListGuessEmbeddings returns prior guess embeddings for a round.
func (t *Tx) ListGuessEmbeddings(roundID string) ([][]float32, error) {
	rows, err := t.tx.Query(`SELECT embedding FROM tl_guesses WHERE round_id = ? ORDER BY created_at ASC`, roundID)
	if err != nil {
		return nil, wrapStoreErr("ListGuessEmbeddings", err)
	}
	defer rows.Close()
	var out [][]float32
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, wrapStoreErr("ListGuessEmbeddings scan", err)
		}
		out = append(out, unmarshalVector(s))
	}
	return out, rows.Err()
}

// CountGuesses returns the number of guesses on a round.
func (t *Tx) CountGuesses(roundID string) (int, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM tl_guesses WHERE round_id = ?`, roundID).Scan(&n)
	if err != nil {
		return 0, wrapStoreErr("CountGuesses", err)
	}
	return n, nil
}

// =============================================================================
// TL ANSWERS
// =============================================================================

const answerCols = `id, prompt_id, text, cluster_id, weight, contributed_matches, shows, active, created_at`

func scanAnswer(row interface{ Scan(...any) error }) (*types.TLAnswer, error) {
	var a types.TLAnswer
	var created int64
	err := row.Scan(&a.ID, &a.PromptID, &a.Text, &a.ClusterID, &a.Weight,
		&a.ContributedMatches, &a.Shows, &a.Active, &created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = fromNS(created)
	return &a, nil
}

// InsertTLAnswer adds an answer to the corpus.
func (t *Tx) InsertTLAnswer(a *types.TLAnswer) error {
	_, err := t.tx.Exec(`
		INSERT INTO tl_answers (`+answerCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PromptID, a.Text, a.ClusterID, a.Weight,
		a.ContributedMatches, a.Shows, a.Active, tns(a.CreatedAt))
	return wrapStoreErr("InsertTLAnswer", err)
}

// ListActiveAnswers returns the active corpus for a prompt, oldest first.
func (t *Tx) ListActiveAnswers(promptID string) ([]*types.TLAnswer, error) {
	rows, err := t.tx.Query(`
		SELECT `+answerCols+` FROM tl_answers
		WHERE prompt_id = ? AND active = 1 ORDER BY created_at ASC`, promptID)
	if err != nil {
		return nil, wrapStoreErr("ListActiveAnswers", err)
	}
	defer rows.Close()
	var out []*types.TLAnswer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, wrapStoreErr("ListActiveAnswers scan", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListTLAnswersByIDs resolves snapshot answer IDs to rows, inactive ones
// included, so old snapshots keep computing the same coverage.
func (t *Tx) ListTLAnswersByIDs(ids []string) ([]*types.TLAnswer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	marks := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		marks[i] = "?"
	}
	rows, err := t.tx.Query(`
		SELECT `+answerCols+` FROM tl_answers WHERE id IN (`+strings.Join(marks, ",")+`)`, args...)
	if err != nil {
		return nil, wrapStoreErr("ListTLAnswersByIDs", err)
	}
	defer rows.Close()
	var out []*types.TLAnswer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, wrapStoreErr("ListTLAnswersByIDs scan", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// BumpAnswerStats adds to the shows/matches counters used by pruning.
func (t *Tx) BumpAnswerStats(id string, shows, matches int) error {
	_, err := t.tx.Exec(`
		UPDATE tl_answers SET shows = shows + ?, contributed_matches = contributed_matches + ?
		WHERE id = ?`, shows, matches, id)
	return wrapStoreErr("BumpAnswerStats", err)
}

// DeactivateAnswer removes an answer from the active corpus; the row stays
// so past snapshots still resolve.
func (t *Tx) DeactivateAnswer(id string) error {
	_, err := t.tx.Exec(`UPDATE tl_answers SET active = 0 WHERE id = ?`, id)
	return wrapStoreErr("DeactivateAnswer", err)
}

// CountActiveAnswersInCluster counts the cluster's remaining active members,
// used to protect the last answer of every cluster from pruning.
func (t *Tx) CountActiveAnswersInCluster(clusterID string) (int, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM tl_answers WHERE cluster_id = ? AND active = 1`, clusterID).Scan(&n)
	if err != nil {
		return 0, wrapStoreErr("CountActiveAnswersInCluster", err)
	}
	return n, nil
}

// =============================================================================
// CLUSTERS
// =============================================================================

// InsertCluster persists a new singleton cluster.
func (t *Tx) InsertCluster(c *types.Cluster) error {
	_, err := t.tx.Exec(`
		INSERT INTO clusters (id, prompt_id, centroid, size, example_answer, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.PromptID, marshalVector(c.Centroid), c.Size, c.ExampleAnswer, tns(c.CreatedAt))
	return wrapStoreErr("InsertCluster", err)
}

// GetCluster returns the cluster or nil.
func (t *Tx) GetCluster(id string) (*types.Cluster, error) {
	var c types.Cluster
	var centroid string
	var created int64
	err := t.tx.QueryRow(`
		SELECT id, prompt_id, centroid, size, example_answer, created_at FROM clusters WHERE id = ?`, id).
		Scan(&c.ID, &c.PromptID, &centroid, &c.Size, &c.ExampleAnswer, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetCluster", err)
	}
	c.Centroid = unmarshalVector(centroid)
	c.CreatedAt = fromNS(created)
	return &c, nil
}

// ListClusters returns all clusters for a prompt, oldest first.
func (t *Tx) ListClusters(promptID string) ([]*types.Cluster, error) {
	rows, err := t.tx.Query(`
		SELECT id, prompt_id, centroid, size, example_answer, created_at
		FROM clusters WHERE prompt_id = ? ORDER BY created_at ASC`, promptID)
	if err != nil {
		return nil, wrapStoreErr("ListClusters", err)
	}
	defer rows.Close()
	var out []*types.Cluster
	for rows.Next() {
		var c types.Cluster
		var centroid string
		var created int64
		if err := rows.Scan(&c.ID, &c.PromptID, &centroid, &c.Size, &c.ExampleAnswer, &created); err != nil {
			return nil, wrapStoreErr("ListClusters scan", err)
		}
		c.Centroid = unmarshalVector(centroid)
		c.CreatedAt = fromNS(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateClusterCentroid writes the running-mean centroid and new size.
func (t *Tx) UpdateClusterCentroid(id string, centroid []float32, size int) error {
	_, err := t.tx.Exec(`UPDATE clusters SET centroid = ?, size = ? WHERE id = ?`,
		marshalVector(centroid), size, id)
	return wrapStoreErr("UpdateClusterCentroid", err)
}

// =============================================================================
// EMBEDDING CACHE (persistent tier)
// =============================================================================

// GetCachedEmbedding returns the stored vector or nil on miss.
func (t *Tx) GetCachedEmbedding(phrase, model, provider string) ([]float32, error) {
	var vec string
	err := t.tx.QueryRow(`
		SELECT vector FROM embedding_cache WHERE phrase = ? AND model = ? AND provider = ?`,
		phrase, model, provider).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("GetCachedEmbedding", err)
	}
	return unmarshalVector(vec), nil
}

// PutCachedEmbedding stores a vector; repeats are ignored.
func (t *Tx) PutCachedEmbedding(phrase, model, provider string, vec []float32, at time.Time) error {
	_, err := t.tx.Exec(`
		INSERT OR IGNORE INTO embedding_cache (phrase, model, provider, vector, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		phrase, model, provider, marshalVector(vec), tns(at))
	return wrapStoreErr("PutCachedEmbedding", err)
}
