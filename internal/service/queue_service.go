package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/drs"
	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/repo"
)

const truncationMarker = "\n\n[document truncated for indexing]"

type processOutcome int

const (
	outcomeDone processOutcome = iota
	outcomeRetry
	outcomeDiscard
)

type documentIndexer interface {
	Available() bool
	IndexedNumbers(ctx context.Context) (map[string]bool, error)
	IndexDocument(ctx context.Context, docNumber, docType, title, text string) error
}

type documentFetcher interface {
	FetchDirect(ctx context.Context, doc model.RepositoryDocument, docType string) (*model.FetchedDocument, error)
}

// QueueService drains the background index queue. Outcomes distinguish
// malformed messages, which are discarded outright, from failed ones, which
// stay invisible until the visibility window lapses and are then redelivered.
type QueueService struct {
	queue             *repo.QueueRepo
	index             documentIndexer
	fetcher           documentFetcher
	batch             int
	visibilitySeconds int
	maxDequeue        int
	maxDocumentChars  int
}

func NewQueueService(queue *repo.QueueRepo, index documentIndexer, fetcher documentFetcher, batch, visibilitySeconds, maxDequeue, maxDocumentChars int) *QueueService {
	if batch <= 0 {
		batch = 5
	}
	if visibilitySeconds <= 0 {
		visibilitySeconds = 300
	}
	if maxDequeue <= 0 {
		maxDequeue = 5
	}
	if maxDocumentChars <= 0 {
		maxDocumentChars = 100000
	}
	return &QueueService{
		queue:             queue,
		index:             index,
		fetcher:           fetcher,
		batch:             batch,
		visibilitySeconds: visibilitySeconds,
		maxDequeue:        maxDequeue,
		maxDocumentChars:  maxDocumentChars,
	}
}

// EnqueueForIndexing writes one queue message per candidate that carries a
// download URL. Candidates without one are skipped, not errors. Returns the
// count actually enqueued.
func (s *QueueService) EnqueueForIndexing(ctx context.Context, docs []model.RepositoryDocument) int {
	logger := logutil.GetLogger(ctx)
	enqueued := 0
	now := time.Now().Unix()
	for _, doc := range docs {
		if doc.DownloadURL == "" {
			logger.Debug("skipping candidate without download url", zap.String("doc_number", doc.DocumentNumber))
			continue
		}
		msg := model.IndexQueueMessage{
			GUID:           doc.GUID,
			DocumentNumber: doc.DocumentNumber,
			Title:          doc.Title,
			DocType:        doc.DocType,
			DownloadURL:    doc.DownloadURL,
			EnqueuedAt:     now,
		}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			logger.Error("failed to enqueue document", zap.String("doc_number", doc.DocumentNumber), zap.Error(err))
			continue
		}
		enqueued++
	}
	return enqueued
}

// ProcessMessage runs one unit of indexing work. Every failure is converted
// to an outcome rather than propagated.
func (s *QueueService) ProcessMessage(ctx context.Context, msg model.IndexQueueMessage) processOutcome {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_number", msg.DocumentNumber))
	if !msg.Valid() {
		logger.Warn("discarding malformed queue message")
		return outcomeDiscard
	}
	indexed, err := s.index.IndexedNumbers(ctx)
	if err != nil {
		logger.Error("failed to list indexed documents", zap.Error(err))
		return outcomeRetry
	}
	if indexed[drs.NormalizeDocNumber(msg.DocumentNumber)] {
		logger.Debug("document already indexed, skipping")
		return outcomeDone
	}
	if !s.index.Available() {
		logger.Warn("embedding capability unavailable, will retry")
		return outcomeRetry
	}
	fetched, err := s.fetcher.FetchDirect(ctx, model.RepositoryDocument{
		GUID:           msg.GUID,
		DocumentNumber: msg.DocumentNumber,
		Title:          msg.Title,
		DocType:        msg.DocType,
		DownloadURL:    msg.DownloadURL,
	}, msg.DocType)
	if err != nil {
		logger.Error("document fetch failed", zap.Error(err))
		return outcomeRetry
	}
	if fetched == nil {
		logger.Warn("discarding message for unfetchable document")
		return outcomeDiscard
	}
	text := fetched.Text
	if runes := []rune(text); len(runes) > s.maxDocumentChars {
		text = string(runes[:s.maxDocumentChars]) + truncationMarker
	}
	if err := s.index.IndexDocument(ctx, msg.DocumentNumber, msg.DocType, msg.Title, text); err != nil {
		logger.Error("indexing failed", zap.Error(err))
		return outcomeRetry
	}
	logger.Info("document indexed")
	return outcomeDone
}

// Run drains one batch of visible messages. Retry outcomes leave the
// message in place for redelivery after the visibility window.
func (s *QueueService) Run(ctx context.Context) error {
	items, err := s.queue.Dequeue(ctx, s.batch, s.visibilitySeconds, s.maxDequeue)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	for _, item := range items {
		switch s.ProcessMessage(ctx, item.Msg) {
		case outcomeDone:
			if err := s.queue.Complete(ctx, item.ID); err != nil {
				logger.Error("failed to complete queue message", zap.Int64("id", item.ID), zap.Error(err))
			}
		case outcomeDiscard:
			if err := s.queue.Discard(ctx, item.ID); err != nil {
				logger.Error("failed to discard queue message", zap.Int64("id", item.ID), zap.Error(err))
			}
		case outcomeRetry:
			// left invisible until the visibility window lapses
		}
	}
	return nil
}

func (s *QueueService) Stats(ctx context.Context) (*model.QueueStats, error) {
	return s.queue.Stats(ctx)
}
