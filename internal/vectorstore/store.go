// Package vectorstore implements the Vector Index Adapter (spec.md §4.1):
// a thin contract over a persistent vector store exposing open/create,
// count, query, insert, batch-insert, and an integrity check with one
// recovery attempt.
//
// Per-class collections are modeled as a single document_chunks table with
// a class_num column rather than twelve physical collections, since the
// embedding model and distance metric are identical across classes — the
// invariant spec.md §4.1 requires. Grounded on the teacher's
// internal/repository/chunk.go (cosine-distance SQL shape, pgx.Batch for
// batch insert) generalized to the class-partitioned schema.
package vectorstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sage-edu/rag-core/internal/model"
)

// Embedder turns text into an embedding vector. Implemented by
// internal/modeladapter against the (black-box, out of scope) embedding
// model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the Vector Index Adapter.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	readOnly bool
	corrupt  atomic.Bool
}

// New constructs a Store. Collections (classes 1..12) are assumed to be
// seeded by the migration; OpenOrCreate is idempotent against that seed.
func New(pool *pgxpool.Pool, embedder Embedder) *Store {
	return &Store{pool: pool, embedder: embedder}
}

// OpenOrCreate ensures a class collection exists. Since every class shares
// one physical table, this only validates the class number and seeds the
// document_classes row if somehow missing — idempotent.
func (s *Store) OpenOrCreate(ctx context.Context, classNum int) error {
	if classNum < 1 || classNum > 12 {
		return fmt.Errorf("vectorstore.OpenOrCreate: class %d out of range [1,12]", classNum)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_classes (class_num, name)
		VALUES ($1, $2)
		ON CONFLICT (class_num) DO NOTHING
	`, classNum, fmt.Sprintf("class%d", classNum))
	if err != nil {
		return fmt.Errorf("vectorstore.OpenOrCreate: %w", err)
	}
	return nil
}

// Count returns the number of chunks indexed for a class.
func (s *Store) Count(ctx context.Context, classNum int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM document_chunks WHERE class_num = $1`, classNum,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore.Count: %w", err)
	}
	return n, nil
}

const defaultExcludeType = "question"

// Query returns up to k Candidates for classNum, ordered by ascending
// distance. If fewer than k results come back with the exclude_type filter
// applied, it retries once without that filter and manually skips entries
// tagged type == "question" until k or exhaustion — spec.md §4.1.
func (s *Store) Query(ctx context.Context, classNum int, queryText string, k int, excludeType string) ([]model.Candidate, error) {
	if excludeType == "" {
		excludeType = defaultExcludeType
	}

	vecs, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("vectorstore.Query: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("vectorstore.Query: embedder returned no vectors")
	}
	queryVec := pgvector.NewVector(vecs[0])

	candidates, err := s.queryFiltered(ctx, classNum, queryVec, k, excludeType)
	if err != nil {
		return nil, err
	}
	if len(candidates) >= k {
		return candidates, nil
	}

	// Retry without the filter, manually skipping excluded-type rows.
	unfiltered, err := s.queryUnfiltered(ctx, classNum, queryVec, k*3+k, excludeType)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.ChunkID] = true
	}
	for _, c := range unfiltered {
		if len(candidates) >= k {
			break
		}
		if seen[c.ChunkID] {
			continue
		}
		candidates = append(candidates, c)
		seen[c.ChunkID] = true
	}
	return candidates, nil
}

func (s *Store) queryFiltered(ctx context.Context, classNum int, queryVec pgvector.Vector, k int, excludeType string) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, subject, metadata, (embedding <=> $1) AS distance
		FROM document_chunks
		WHERE class_num = $2 AND chunk_type != $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`, queryVec, classNum, excludeType, k)
	if err != nil {
		return nil, fmt.Errorf("vectorstore.Query: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows, classNum)
}

func (s *Store) queryUnfiltered(ctx context.Context, classNum int, queryVec pgvector.Vector, limit int, excludeType string) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, subject, metadata, (embedding <=> $1) AS distance,
		       chunk_type
		FROM document_chunks
		WHERE class_num = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, queryVec, classNum, limit)
	if err != nil {
		return nil, fmt.Errorf("vectorstore.Query retry: %w", err)
	}
	defer rows.Close()
	return scanUnfilteredExcluding(rows, classNum, excludeType)
}

func scanCandidates(rows pgx.Rows, classNum int) ([]model.Candidate, error) {
	var out []model.Candidate
	for rows.Next() {
		var (
			id, content string
			subject     *string
			metadataRaw map[string]string
			distance    float64
		)
		if err := rows.Scan(&id, &content, &subject, &metadataRaw, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore.Query: scan: %w", err)
		}
		c := model.NewCandidate(content, distance, classNum, metadataRaw)
		c.ChunkID = id
		if subject != nil {
			c.Subject = *subject
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore.Query: rows: %w", err)
	}
	return out, nil
}

func scanUnfilteredExcluding(rows pgx.Rows, classNum int, excludeType string) ([]model.Candidate, error) {
	var out []model.Candidate
	for rows.Next() {
		var (
			id, content string
			subject     *string
			metadataRaw map[string]string
			distance    float64
			chunkType   string
		)
		if err := rows.Scan(&id, &content, &subject, &metadataRaw, &distance, &chunkType); err != nil {
			return nil, fmt.Errorf("vectorstore.Query retry: scan: %w", err)
		}
		if chunkType == excludeType {
			continue
		}
		c := model.NewCandidate(content, distance, classNum, metadataRaw)
		c.ChunkID = id
		if subject != nil {
			c.Subject = *subject
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore.Query retry: rows: %w", err)
	}
	return out, nil
}

// Insert stores one document and returns its stable id.
func (s *Store) Insert(ctx context.Context, classNum int, documentText string, metadata map[string]string) (string, error) {
	if s.readOnly {
		return "", fmt.Errorf("vectorstore.Insert: store is read-only")
	}
	vecs, err := s.embedder.Embed(ctx, []string{documentText})
	if err != nil {
		return "", fmt.Errorf("vectorstore.Insert: embed: %w", err)
	}
	id := uuid.New().String()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO document_chunks (id, class_num, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
	`, id, classNum, documentText, metadata, pgvector.NewVector(vecs[0]))
	if err != nil {
		return "", fmt.Errorf("vectorstore.Insert: %w", err)
	}
	return id, nil
}

// BatchItem is one (text, metadata) pair for BatchInsert.
type BatchItem struct {
	Text     string
	Metadata map[string]string
}

// BatchInsert inserts many documents. Failure is per-item: a failed item's
// id is omitted from the result and its error is returned alongside,
// allowing partial success.
func (s *Store) BatchInsert(ctx context.Context, classNum int, items []BatchItem) ([]string, []error) {
	ids := make([]string, len(items))
	errs := make([]error, len(items))
	if s.readOnly {
		for i := range items {
			errs[i] = fmt.Errorf("vectorstore.BatchInsert: store is read-only")
		}
		return ids, errs
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		for i := range items {
			errs[i] = fmt.Errorf("vectorstore.BatchInsert: embed: %w", err)
		}
		return ids, errs
	}

	batch := &pgx.Batch{}
	itemIDs := make([]string, len(items))
	for i, it := range items {
		id := uuid.New().String()
		itemIDs[i] = id
		batch.Queue(`
			INSERT INTO document_chunks (id, class_num, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, id, classNum, it.Text, it.Metadata, pgvector.NewVector(vecs[i]))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range items {
		_, err := br.Exec()
		if err != nil {
			errs[i] = fmt.Errorf("vectorstore.BatchInsert: item %d: %w", i, err)
			continue
		}
		ids[i] = itemIDs[i]
	}
	return ids, errs
}
