package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/ai"
	"github.com/xxxsen/certquery/internal/drs"
	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/repo"
)

// SearchIndex fronts the hybrid retrieval store. Indexing embeds every
// chunk; querying blends vector similarity with keyword rank. Without an
// embedding capability the index degrades to keyword-only search.
type SearchIndex struct {
	chunks   *repo.ChunkRepo
	embedder ai.IEmbedder
	chunker  *Chunker
	topK     int
}

func NewSearchIndex(chunks *repo.ChunkRepo, embedder ai.IEmbedder, chunker *Chunker, topK int) *SearchIndex {
	if topK <= 0 {
		topK = 5
	}
	return &SearchIndex{chunks: chunks, embedder: embedder, chunker: chunker, topK: topK}
}

// Available reports whether new documents can be indexed.
func (s *SearchIndex) Available() bool {
	return s.embedder != nil
}

func (s *SearchIndex) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	if s.embedder == nil {
		return s.chunks.KeywordSearch(ctx, query, s.topK)
	}
	embedding, err := s.embedder.Embed(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		logutil.GetLogger(ctx).Warn("query embedding failed, keyword search only", zap.Error(err))
		return s.chunks.KeywordSearch(ctx, query, s.topK)
	}
	return s.chunks.Search(ctx, embedding, query, s.topK)
}

// IndexDocument chunks the text, embeds each chunk and replaces the
// document's chunks in the store.
func (s *SearchIndex) IndexDocument(ctx context.Context, docNumber, docType, title, text string) error {
	if s.embedder == nil {
		return ai.ErrUnavailable
	}
	result := s.chunker.Chunk(ctx, text, title)
	embeddings := make([][]float32, len(result.Chunks))
	for i, chunk := range result.Chunks {
		embedding, err := s.embedder.Embed(ctx, chunk.Text, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return err
		}
		embeddings[i] = embedding
	}
	logutil.GetLogger(ctx).Info("indexing document",
		zap.String("doc_number", docNumber),
		zap.Int("chunks", len(result.Chunks)),
		zap.String("method", result.Method))
	return s.chunks.InsertChunks(ctx, docNumber, docType, title, result.Chunks, embeddings)
}

// IndexedNumbers returns the normalized set of indexed document numbers.
func (s *SearchIndex) IndexedNumbers(ctx context.Context) (map[string]bool, error) {
	numbers, err := s.chunks.ListIndexedNumbers(ctx)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]bool, len(numbers))
	for _, number := range numbers {
		indexed[drs.NormalizeDocNumber(number)] = true
	}
	return indexed, nil
}

func (s *SearchIndex) Count(ctx context.Context) (int64, error) {
	return s.chunks.Count(ctx)
}

// Clear drops the whole index, used by the reindex flow.
func (s *SearchIndex) Clear(ctx context.Context) error {
	return s.chunks.DeleteAll(ctx)
}
