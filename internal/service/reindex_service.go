package service

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/model"
)

// Seed search terms per document type for bulk discovery. Kept short on
// purpose: the repository search fans out one request per term.
var reindexTopics = map[string][]string{
	"AC":    {"airworthiness", "certification", "flight test", "structures", "systems", "propulsion"},
	"ORDER": {"type certification", "production approval", "designee"},
	"TSO":   {"technical standard order"},
}

type indexClearer interface {
	Clear(ctx context.Context) error
}

type repositorySearcher interface {
	Search(ctx context.Context, query, docType string) ([]model.RepositoryDocument, error)
}

// ReindexService rebuilds the search index by discovering repository
// documents per topic and feeding them to the background queue.
type ReindexService struct {
	index      indexClearer
	repository repositorySearcher
	queue      indexEnqueuer
}

func NewReindexService(index indexClearer, repository repositorySearcher, queue indexEnqueuer) *ReindexService {
	return &ReindexService{index: index, repository: repository, queue: queue}
}

// ReindexOptions narrows a reindex run. Empty DocTypes means every
// configured type; Limit caps the discovered document list, zero is
// unlimited.
type ReindexOptions struct {
	ClearIndex bool
	DocTypes   []string
	Limit      int
}

// Reindex discovers documents for the requested topics, deduplicates by
// GUID and enqueues them for background indexing. With ClearIndex set the
// whole index is dropped first.
func (s *ReindexService) Reindex(ctx context.Context, opts ReindexOptions) (*model.ReindexReport, error) {
	logger := logutil.GetLogger(ctx)
	report := &model.ReindexReport{}
	if opts.ClearIndex {
		if err := s.index.Clear(ctx); err != nil {
			return nil, err
		}
		report.Cleared = true
		logger.Info("search index cleared")
	}
	requested := make(map[string]bool, len(opts.DocTypes))
	for _, dt := range opts.DocTypes {
		dt = strings.ToUpper(strings.TrimSpace(dt))
		if _, known := reindexTopics[dt]; !known {
			logger.Warn("unknown doc type requested, skipping", zap.String("doc_type", dt))
			continue
		}
		requested[dt] = true
	}
	seen := make(map[string]bool)
	var discovered []model.RepositoryDocument
	for docType, topics := range reindexTopics {
		if len(opts.DocTypes) > 0 && !requested[docType] {
			continue
		}
		for _, topic := range topics {
			docs, err := s.repository.Search(ctx, topic, docType)
			if err != nil {
				logger.Warn("discovery search failed",
					zap.String("doc_type", docType), zap.String("topic", topic), zap.Error(err))
				continue
			}
			for _, doc := range docs {
				if doc.GUID != "" && seen[doc.GUID] {
					continue
				}
				seen[doc.GUID] = true
				discovered = append(discovered, doc)
			}
		}
	}
	if opts.Limit > 0 && len(discovered) > opts.Limit {
		discovered = discovered[:opts.Limit]
	}
	report.Discovered = len(discovered)
	report.Documents = discovered
	report.Enqueued = s.queue.EnqueueForIndexing(ctx, discovered)
	logger.Info("reindex kicked off",
		zap.Int("discovered", report.Discovered), zap.Int("enqueued", report.Enqueued))
	return report, nil
}
