package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/pkg/dbutil"
)

// ChunkRepo persists document chunks with their embeddings and serves the
// hybrid search query. Relevance is a weighted blend of vector cosine
// similarity and keyword rank so that exact terminology (document numbers,
// section identifiers) can surface documents the embedding missed.
type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// InsertChunks replaces all chunks of one document atomically.
func (r *ChunkRepo) InsertChunks(ctx context.Context, docNumber, docType, title string, chunks []model.DocumentChunk, embeddings [][]float32) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sqlStr, args, err := builder.BuildDelete("doc_chunks", map[string]interface{}{"document_number": docNumber})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}

	const insert = `
		INSERT INTO doc_chunks (document_number, doc_type, title, chunk_index, chunk_title, content, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now().Unix()
	for i, chunk := range chunks {
		var embedding interface{}
		if i < len(embeddings) && len(embeddings[i]) > 0 {
			embedding = pgvector.NewVector(embeddings[i])
		}
		if _, err := tx.ExecContext(ctx, insert,
			docNumber, docType, title, chunk.Index, chunk.Title, chunk.Text, embedding, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search runs the hybrid query. The keyword term list may be empty, in
// which case only vector similarity contributes.
func (r *ChunkRepo) Search(ctx context.Context, embedding []float32, keywords string, topK int) ([]model.SearchResult, error) {
	const query = `
		SELECT document_number, doc_type, title, content,
			($3 * (1 - (embedding <=> $1))) +
			($4 * COALESCE(ts_rank(content_tsv, plainto_tsquery('english', $2)), 0)) AS score
		FROM doc_chunks
		WHERE embedding IS NOT NULL
		ORDER BY score DESC
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query,
		pgvector.NewVector(embedding), keywords, vectorWeight, keywordWeight, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.SearchResult
	for rows.Next() {
		var item model.SearchResult
		if err := rows.Scan(&item.DocumentNumber, &item.DocType, &item.Title, &item.Chunk, &item.Score); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// KeywordSearch matches on keyword rank alone, for callers without an
// embedding capability.
func (r *ChunkRepo) KeywordSearch(ctx context.Context, keywords string, topK int) ([]model.SearchResult, error) {
	const query = `
		SELECT document_number, doc_type, title, content,
			ts_rank(content_tsv, plainto_tsquery('english', $1)) AS score
		FROM doc_chunks
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, keywords, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.SearchResult
	for rows.Next() {
		var item model.SearchResult
		if err := rows.Scan(&item.DocumentNumber, &item.DocType, &item.Title, &item.Chunk, &item.Score); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// ListIndexedNumbers returns the distinct document numbers present in the
// index, used by the queue worker for deduplication.
func (r *ChunkRepo) ListIndexedNumbers(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT document_number FROM doc_chunks`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	return numbers, rows.Err()
}

// Count returns the number of indexed chunks.
func (r *ChunkRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM doc_chunks`).Scan(&count)
	return count, err
}

// DeleteAll drops every indexed chunk, used by the reindex flow.
func (r *ChunkRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM doc_chunks`)
	return err
}
