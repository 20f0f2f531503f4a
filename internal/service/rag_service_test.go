package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/certquery/internal/blobstore"
	"github.com/xxxsen/certquery/internal/cachestore"
	"github.com/xxxsen/certquery/internal/drs"
	"github.com/xxxsen/certquery/internal/model"
	appErr "github.com/xxxsen/certquery/internal/pkg/errors"
)

type fakeHybrid struct {
	available bool
	results   []model.SearchResult
	err       error
	indexed   map[string]bool
}

func (f *fakeHybrid) Available() bool { return f.available }

func (f *fakeHybrid) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	return f.results, f.err
}

func (f *fakeHybrid) IndexedNumbers(ctx context.Context) (map[string]bool, error) {
	if f.indexed == nil {
		return map[string]bool{}, nil
	}
	return f.indexed, nil
}

type fakeRegs struct {
	sections []model.RegulationSection
	hits     []model.RegulationSearchResult
}

func (f *fakeRegs) FetchSections(ctx context.Context, title int, sections []string) []model.RegulationSection {
	return f.sections
}

func (f *fakeRegs) Search(ctx context.Context, query string, title, part int) []model.RegulationSearchResult {
	return f.hits
}

type fakeRepo struct {
	docs       []model.RepositoryDocument
	fetched    map[string]*model.FetchedDocument
	batchCalls int
	batchReqs  []drs.FetchRequest
}

func (f *fakeRepo) Search(ctx context.Context, query, docType string) ([]model.RepositoryDocument, error) {
	return f.docs, nil
}

func (f *fakeRepo) FetchWithCache(ctx context.Context, docNumber, docType string) (*model.FetchedDocument, error) {
	return f.fetched[docNumber], nil
}

func (f *fakeRepo) FetchBatch(ctx context.Context, requests []drs.FetchRequest) []*model.FetchedDocument {
	f.batchCalls++
	f.batchReqs = append(f.batchReqs, requests...)
	results := make([]*model.FetchedDocument, len(requests))
	for i, req := range requests {
		results[i] = f.fetched[req.DocNumber]
	}
	return results
}

type fakeEnqueuer struct {
	got []model.RepositoryDocument
}

func (f *fakeEnqueuer) EnqueueForIndexing(ctx context.Context, docs []model.RepositoryDocument) int {
	f.got = append(f.got, docs...)
	enqueued := 0
	for _, doc := range docs {
		if doc.DownloadURL != "" {
			enqueued++
		}
	}
	return enqueued
}

type fakeClassifierSvc struct {
	cls   *model.QueryClassification
	calls int
}

func (f *fakeClassifierSvc) Classify(ctx context.Context, question string) *model.QueryClassification {
	f.calls++
	if f.cls != nil {
		return f.cls
	}
	return defaultClassification("test")
}

func newRAG(t *testing.T, index *fakeHybrid, regs *fakeRegs, repository *fakeRepo,
	queue *fakeEnqueuer, cls *fakeClassifierSvc, gen *fakeGenerator) *RAGService {
	t.Helper()
	conv := NewConversationStore(cachestore.New(blobstore.NewMemory()), 30, 40)
	return NewRAGService(index, NewEvaluator(0.7), cls, regs, repository, queue, conv, gen, 6)
}

func TestAskQuestionSufficientHybrid(t *testing.T) {
	index := &fakeHybrid{
		available: true,
		results: []model.SearchResult{
			{DocumentNumber: "AC 25-7D", Title: "Flight Test Guide", Chunk: "stall speed is determined per 25.103", Score: 0.9},
		},
	}
	cls := &fakeClassifierSvc{}
	gen := &fakeGenerator{reply: "Stall speed testing follows AC 25-7D."}
	s := newRAG(t, index, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, cls, gen)

	got, err := s.AskQuestion(context.Background(), "how is stall speed determined", AskOptions{})
	require.NoError(t, err)
	require.Equal(t, "Stall speed testing follows AC 25-7D.", got.Answer)
	require.True(t, got.VectorSearchUsed)
	require.False(t, got.ClassificationUsed)
	require.Zero(t, cls.calls, "no classification when results are sufficient")
	require.Equal(t, 1, got.SourceCount)
	require.Contains(t, got.Sources[0], "AC 25-7D")
	require.Contains(t, got.Context, "stall speed is determined")
	require.NotEmpty(t, got.SessionID)
}

func TestAskQuestionZeroSourcesSkipsLLM(t *testing.T) {
	gen := &fakeGenerator{reply: "should never be used"}
	cls := &fakeClassifierSvc{}
	s := newRAG(t, &fakeHybrid{}, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, cls, gen)

	got, err := s.AskQuestion(context.Background(), "something entirely unknown", AskOptions{})
	require.NoError(t, err)
	require.Equal(t, notFoundAnswer, got.Answer)
	require.Zero(t, got.SourceCount)
	require.Zero(t, gen.calls, "no LLM call with empty context")
	require.True(t, got.ClassificationUsed)
}

func TestAskQuestionFallbackRetrieval(t *testing.T) {
	index := &fakeHybrid{available: true, indexed: map[string]bool{}}
	regs := &fakeRegs{sections: []model.RegulationSection{
		{Title: 14, Part: 25, Section: "25.629", Heading: "§ 25.629 Aeroelastic stability requirements.", Text: "must be free from flutter"},
	}}
	repository := &fakeRepo{
		docs: []model.RepositoryDocument{
			{GUID: "g1", DocumentNumber: "AC 25.629-1B", DocType: "AC", Title: "Aeroelastic Stability", DownloadURL: "http://example.test/a.pdf"},
		},
		fetched: map[string]*model.FetchedDocument{
			"AC 25.629-1B": {Doc: model.RepositoryDocument{DocumentNumber: "AC 25.629-1B", Title: "Aeroelastic Stability"}, Text: "acceptable means of compliance for flutter"},
		},
	}
	queue := &fakeEnqueuer{}
	cls := &fakeClassifierSvc{cls: &model.QueryClassification{
		Intent:      model.IntentRegulatoryLookup,
		CFRParts:    []int{25},
		CFRSections: []string{"25.629"},
		DocTypes:    []string{"AC"},
		Confidence:  0.9,
	}}
	gen := &fakeGenerator{reply: "Flutter requirements are in 14 CFR 25.629, with guidance in AC 25.629-1B."}
	s := newRAG(t, index, regs, repository, queue, cls, gen)

	got, err := s.AskQuestion(context.Background(), "flutter requirements for transport airplanes", AskOptions{})
	require.NoError(t, err)
	require.True(t, got.ClassificationUsed)
	require.True(t, got.ECFRUsed)
	require.Equal(t, []string{"14 CFR 25.629"}, got.CFRSources)
	require.Equal(t, []string{"AC 25.629-1B"}, got.DRSSources)
	require.Contains(t, got.Context, "must be free from flutter")
	require.Contains(t, got.Context, "acceptable means of compliance")
	require.Equal(t, 1, repository.batchCalls, "keyword candidates fetched as one batch")
	require.Len(t, queue.got, 1, "unindexed repository doc enqueued")
	require.Equal(t, "g1", queue.got[0].GUID)
}

func TestAskQuestionRepositoryFetchBatched(t *testing.T) {
	repository := &fakeRepo{
		docs: []model.RepositoryDocument{
			{GUID: "g1", DocumentNumber: "AC 25-7D", DocType: "AC"},
			{GUID: "g2", DocumentNumber: "AC 23-8C", DocType: "AC"},
			{GUID: "g3", DocumentNumber: "AC 20-107B", DocType: "AC"},
			{GUID: "g4", DocumentNumber: "AC 21-44A", DocType: "AC"},
			{GUID: "g5", DocumentNumber: "AC 43-18", DocType: "AC"},
		},
		fetched: map[string]*model.FetchedDocument{
			"AC 25-7D":   {Doc: model.RepositoryDocument{DocumentNumber: "AC 25-7D"}, Text: "flight test guidance"},
			"AC 20-107B": {Doc: model.RepositoryDocument{DocumentNumber: "AC 20-107B"}, Text: "composite structures guidance"},
		},
	}
	gen := &fakeGenerator{reply: "See AC 25-7D and AC 20-107B."}
	s := newRAG(t, &fakeHybrid{}, &fakeRegs{}, repository, &fakeEnqueuer{}, &fakeClassifierSvc{}, gen)

	got, err := s.AskQuestion(context.Background(), "general certification guidance", AskOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, repository.batchCalls)
	require.Len(t, repository.batchReqs, maxRepositoryCandidates, "batch capped at the candidate limit")
	// the unfetchable middle candidate is skipped without breaking the rest
	require.Equal(t, []string{"AC 25-7D", "AC 20-107B"}, got.DRSSources)
}

func TestAskQuestionRateLimitDistinguished(t *testing.T) {
	index := &fakeHybrid{available: true, results: []model.SearchResult{
		{DocumentNumber: "AC 25-7D", Chunk: "text", Score: 0.9},
	}}
	s := newRAG(t, index, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, &fakeClassifierSvc{},
		&fakeGenerator{err: errors.New("429 resource exhausted")})

	got, err := s.AskQuestion(context.Background(), "anything", AskOptions{})
	require.ErrorIs(t, err, appErr.ErrRateLimited)
	require.NotEmpty(t, got.Error)
	require.Empty(t, got.Answer)

	s = newRAG(t, index, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, &fakeClassifierSvc{},
		&fakeGenerator{err: errors.New("connection refused")})
	_, err = s.AskQuestion(context.Background(), "anything", AskOptions{})
	require.ErrorIs(t, err, appErr.ErrAIUnavailable)
	require.NotErrorIs(t, err, appErr.ErrRateLimited)
}

func TestAskQuestionClarifyingReply(t *testing.T) {
	index := &fakeHybrid{available: true, results: []model.SearchResult{
		{DocumentNumber: "AC 25-7D", Chunk: "text", Score: 0.9},
	}}
	gen := &fakeGenerator{reply: "CLARIFY: Which aircraft category do you mean, part 23 or part 25?"}
	s := newRAG(t, index, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, &fakeClassifierSvc{}, gen)

	got, err := s.AskQuestion(context.Background(), "what are the stall requirements", AskOptions{})
	require.NoError(t, err)
	require.True(t, got.NeedsClarification)
	require.Equal(t, "Which aircraft category do you mean, part 23 or part 25?", got.ClarifyingQuestion)
	require.Empty(t, got.Answer)
}

func TestAskQuestionConversationPersisted(t *testing.T) {
	index := &fakeHybrid{available: true, results: []model.SearchResult{
		{DocumentNumber: "AC 25-7D", Title: "Flight Test Guide", Chunk: "text", Score: 0.9},
	}}
	gen := &fakeGenerator{reply: "answer one"}
	s := newRAG(t, index, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, &fakeClassifierSvc{}, gen)
	ctx := context.Background()

	first, err := s.AskQuestion(ctx, "first question", AskOptions{})
	require.NoError(t, err)

	conv, err := s.conversations.Get(ctx, first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Turns, 2)
	require.Equal(t, model.RoleUser, conv.Turns[0].Role)
	require.Equal(t, "first question", conv.Turns[0].Content)
	require.Equal(t, model.RoleAssistant, conv.Turns[1].Role)
	require.NotEmpty(t, conv.Turns[1].Sources)

	second, err := s.AskQuestion(ctx, "second question", AskOptions{SessionID: first.SessionID})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
	conv, err = s.conversations.Get(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 4)
}

func TestAskQuestionAnswerCache(t *testing.T) {
	index := &fakeHybrid{available: true, results: []model.SearchResult{
		{DocumentNumber: "AC 25-7D", Chunk: "text", Score: 0.9},
	}}
	gen := &fakeGenerator{reply: "cached answer"}
	s := newRAG(t, index, &fakeRegs{}, &fakeRepo{}, &fakeEnqueuer{}, &fakeClassifierSvc{}, gen)
	ctx := context.Background()

	first, err := s.AskQuestion(ctx, "what is a type certificate", AskOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)

	second, err := s.AskQuestion(ctx, "what is a type certificate", AskOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls, "identical sessionless question served from cache")
	require.Equal(t, first.Answer, second.Answer)
	require.NotEqual(t, first.SessionID, second.SessionID)
}
