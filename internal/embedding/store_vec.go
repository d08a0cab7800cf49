//go:build sqlite_vec && cgo

// This file is only compiled when the sqlite_vec build tag is set together
// with cgo. The default build stays cgo-free. The cycle manager's
// contradiction sampler does not call this store in any build: its
// embedding tier compares vectors from an llm.EmbeddingCapability with
// CosineSimilarity directly.
package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Register the sqlite-vec extension as an auto-loadable extension for
	// the mattn/go-sqlite3 driver.
	vec.Auto()
}

// VectorStore is an on-disk sqlite-vec index of axiom embeddings keyed by
// axiom id. Nothing else in the module opens or queries it.
type VectorStore struct {
	db  *sql.DB
	dim int
}

// OpenVectorStore opens (creating if absent) a sqlite-vec index at path.
func OpenVectorStore(path string, dim int) (*VectorStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("embedding: open vector store: %w", err)
	}
	schema := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS axiom_vectors USING vec0(axiom_id TEXT PRIMARY KEY, embedding float[%d])`, dim)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("embedding: create vec table: %w", err)
	}
	return &VectorStore{db: db, dim: dim}, nil
}

// Upsert replaces the stored embedding for an axiom id.
func (s *VectorStore) Upsert(ctx context.Context, axiomID string, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO axiom_vectors(axiom_id, embedding) VALUES (?, ?)`, axiomID, serializeVector(vector))
	return err
}

// NearestAxiom returns the axiom id whose stored embedding is nearest the
// query vector, and its cosine-equivalent distance.
func (s *VectorStore) NearestAxiom(ctx context.Context, query []float32) (string, float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT axiom_id, distance FROM axiom_vectors WHERE embedding MATCH ? ORDER BY distance LIMIT 1`,
		serializeVector(query))
	var id string
	var dist float64
	if err := row.Scan(&id, &dist); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, nil
		}
		return "", 0, err
	}
	return id, dist, nil
}

// Close releases the underlying database handle.
func (s *VectorStore) Close() error { return s.db.Close() }

func serializeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}
