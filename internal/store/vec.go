package store

import (
	"github.com/sheegaon/quipflip-sub002/internal/logging"
)

// detectVecExtension probes for sqlite-vec by creating a vec0 virtual table.
// The extension is only present when the binary is built with -tags=sqlite_vec.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		logging.Store("sqlite-vec extension detected and enabled")
		return
	}
	s.vectorExt = false
	logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; falling back to in-process similarity")
}

// VecAvailable reports whether sqlite-vec distance functions can be used.
func (s *Store) VecAvailable() bool { return s.vectorExt }

// ClusterDistance pairs a cluster ID with its cosine distance to a query.
type ClusterDistance struct {
	ClusterID string
	Distance  float64
}

// NearestClustersVec ranks a prompt's clusters by cosine distance to the
// query embedding using vec_distance_cosine. Centroids are stored as JSON
// arrays, which the vec functions accept directly. Callers must check
// VecAvailable first; without the extension the query errors.
func (t *Tx) NearestClustersVec(promptID string, embedding []float32, limit int) ([]ClusterDistance, error) {
	rows, err := t.tx.Query(`
		SELECT id, vec_distance_cosine(centroid, ?) AS distance
		FROM clusters WHERE prompt_id = ?
		ORDER BY distance ASC LIMIT ?`,
		marshalVector(embedding), promptID, limit)
	if err != nil {
		return nil, wrapStoreErr("NearestClustersVec", err)
	}
	defer rows.Close()
	var out []ClusterDistance
	for rows.Next() {
		var cd ClusterDistance
		if err := rows.Scan(&cd.ClusterID, &cd.Distance); err != nil {
			return nil, wrapStoreErr("NearestClustersVec scan", err)
		}
		out = append(out, cd)
	}
	return out, rows.Err()
}
