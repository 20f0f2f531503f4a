package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/ai"
	"github.com/xxxsen/certquery/internal/drs"
	"github.com/xxxsen/certquery/internal/model"
	appErr "github.com/xxxsen/certquery/internal/pkg/errors"
)

const notFoundAnswer = "I could not find any relevant material in the indexed documents, the regulations, or the document repository for this question. Try rephrasing it, or name the specific regulation section or document number you are interested in."

const clarifyPrefix = "CLARIFY:"

const answerPrompt = `You are an assistant for FAA aircraft certification questions.
Answer ONLY from the context passages below. Always cite the specific source
(regulation section or document number) for every statement. If the context
does not address the question, say so explicitly instead of guessing.
Distinguish mandatory requirements (14 CFR regulations) from advisory
guidance (advisory circulars and similar documents).
If the question is too ambiguous to answer from the context, reply with a
single clarifying question on one line prefixed with "CLARIFY:".`

const (
	maxRepositoryCandidates = 3
	maxPassageChars         = 4000
)

type hybridSearcher interface {
	Available() bool
	Search(ctx context.Context, query string) ([]model.SearchResult, error)
	IndexedNumbers(ctx context.Context) (map[string]bool, error)
}

type regulationClient interface {
	FetchSections(ctx context.Context, title int, sections []string) []model.RegulationSection
	Search(ctx context.Context, query string, title, part int) []model.RegulationSearchResult
}

type repositoryClient interface {
	Search(ctx context.Context, query, docType string) ([]model.RepositoryDocument, error)
	FetchWithCache(ctx context.Context, docNumber, docType string) (*model.FetchedDocument, error)
	FetchBatch(ctx context.Context, requests []drs.FetchRequest) []*model.FetchedDocument
}

type queryClassifier interface {
	Classify(ctx context.Context, question string) *model.QueryClassification
}

type indexEnqueuer interface {
	EnqueueForIndexing(ctx context.Context, docs []model.RepositoryDocument) int
}

// AskOptions carries per-request conversation state.
type AskOptions struct {
	SessionID    string
	IsClarifying bool
}

type passage struct {
	label string
	text  string
}

// RAGService answers questions by hybrid retrieval with evaluated fallback
// to live regulation text and the document repository.
type RAGService struct {
	index         hybridSearcher
	evaluator     *Evaluator
	classifier    queryClassifier
	regulations   regulationClient
	repository    repositoryClient
	queue         indexEnqueuer
	conversations *ConversationStore
	generator     ai.IGenerator
	contextTurns  int
	answerCache   *expirable.LRU[string, model.RAGResponse]
}

func NewRAGService(index hybridSearcher, evaluator *Evaluator, classifier queryClassifier,
	regulations regulationClient, repository repositoryClient, queue indexEnqueuer,
	conversations *ConversationStore, generator ai.IGenerator, contextTurns int) *RAGService {
	if contextTurns <= 0 {
		contextTurns = 6
	}
	return &RAGService{
		index:         index,
		evaluator:     evaluator,
		classifier:    classifier,
		regulations:   regulations,
		repository:    repository,
		queue:         queue,
		conversations: conversations,
		generator:     generator,
		contextTurns:  contextTurns,
		answerCache:   expirable.NewLRU[string, model.RAGResponse](1000, nil, 2*time.Hour),
	}
}

func (s *RAGService) AskQuestion(ctx context.Context, question string, opts AskOptions) (*model.RAGResponse, error) {
	question = strings.TrimSpace(question)
	logger := logutil.GetLogger(ctx).With(zap.String("question", truncate(question, 120)))

	sessionID := opts.SessionID
	var conv *model.StoredConversation
	if sessionID != "" {
		loaded, err := s.conversations.Get(ctx, sessionID)
		if err != nil {
			logger.Warn("conversation load failed", zap.Error(err))
		}
		conv = loaded
	} else {
		sessionID = s.conversations.NewSessionID()
	}
	if conv == nil {
		conv = &model.StoredConversation{SessionID: sessionID}
	}
	history := FormatForContext(conv, s.contextTurns)

	cacheKey := answerCacheKey(question)
	if history == "" {
		if cached, ok := s.answerCache.Get(cacheKey); ok {
			cached.SessionID = sessionID
			s.appendTurns(ctx, conv, question, &cached, opts.IsClarifying)
			return &cached, nil
		}
	}

	resp := &model.RAGResponse{
		SessionID: sessionID,
		Sources:   []string{},
	}
	passages := s.retrieve(ctx, question, resp)
	for _, p := range passages {
		resp.Sources = append(resp.Sources, p.label)
	}
	resp.SourceCount = len(passages)
	resp.Context = buildContextBlock(passages)

	if len(passages) == 0 {
		resp.Answer = notFoundAnswer
		s.appendTurns(ctx, conv, question, resp, opts.IsClarifying)
		return resp, nil
	}

	if s.generator == nil {
		resp.Error = "no chat capability configured"
		return resp, appErr.ErrAIUnavailable
	}
	answer, err := s.generator.Generate(ctx, renderPrompt(history, resp.Context, question))
	if err != nil {
		logger.Error("answer generation failed", zap.Error(err))
		resp.Error = err.Error()
		if ai.IsRateLimit(err) {
			return resp, fmt.Errorf("%w: %v", appErr.ErrRateLimited, err)
		}
		return resp, fmt.Errorf("%w: %v", appErr.ErrAIUnavailable, err)
	}
	answer = strings.TrimSpace(answer)
	if rest, ok := strings.CutPrefix(answer, clarifyPrefix); ok {
		resp.NeedsClarification = true
		resp.ClarifyingQuestion = strings.TrimSpace(rest)
	} else {
		resp.Answer = answer
	}

	s.appendTurns(ctx, conv, question, resp, opts.IsClarifying)
	if history == "" && !resp.NeedsClarification {
		cached := *resp
		s.answerCache.Add(cacheKey, cached)
	}
	return resp, nil
}

// retrieve runs the retrieval state machine: hybrid search, evaluation,
// then classified fallback against the live sources.
func (s *RAGService) retrieve(ctx context.Context, question string, resp *model.RAGResponse) []passage {
	logger := logutil.GetLogger(ctx)

	var results []model.SearchResult
	if s.index != nil {
		found, err := s.index.Search(ctx, question)
		if err != nil {
			logger.Warn("hybrid search failed", zap.Error(err))
		} else {
			results = found
			resp.VectorSearchUsed = s.index.Available() && len(found) > 0
		}
	}

	evaluation := s.evaluator.Evaluate(results, question)
	passages := resultPassages(results)
	if evaluation.Sufficient {
		return passages
	}
	logger.Info("search results insufficient, running fallback retrieval",
		zap.String("reason", evaluation.Reason), zap.Float64("score", evaluation.Score))

	// Classification and repository keyword search are independent, run
	// them concurrently.
	var (
		cls         *model.QueryClassification
		keywordDocs []model.RepositoryDocument
		wg          sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if quick := QuickClassifyDocumentRequest(question); quick != nil {
			cls = quick
			return
		}
		cls = s.classifier.Classify(ctx, question)
	}()
	go func() {
		defer wg.Done()
		if s.repository == nil {
			return
		}
		docs, err := s.repository.Search(ctx, question, "")
		if err != nil {
			logger.Warn("repository keyword search failed", zap.Error(err))
			return
		}
		keywordDocs = docs
	}()
	wg.Wait()
	resp.ClassificationUsed = true

	var mu sync.Mutex
	wg.Add(2)
	go func() {
		defer wg.Done()
		found := s.fetchRegulations(ctx, question, cls, resp, &mu)
		mu.Lock()
		passages = append(passages, found...)
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		found := s.fetchRepositoryDocs(ctx, cls, keywordDocs, resp, &mu)
		mu.Lock()
		passages = append(passages, found...)
		mu.Unlock()
	}()
	wg.Wait()

	s.enqueueUnindexed(ctx, keywordDocs)
	return passages
}

func (s *RAGService) fetchRegulations(ctx context.Context, question string, cls *model.QueryClassification, resp *model.RAGResponse, mu *sync.Mutex) []passage {
	if s.regulations == nil {
		return nil
	}
	var passages []passage
	if len(cls.CFRSections) > 0 {
		for _, sec := range s.regulations.FetchSections(ctx, 14, cls.CFRSections) {
			label := "14 CFR " + sec.Section
			if sec.Heading != "" {
				label = sec.Heading
			}
			passages = append(passages, passage{label: label, text: clipPassage(sec.Text)})
			mu.Lock()
			resp.ECFRUsed = true
			resp.CFRSources = append(resp.CFRSources, "14 CFR "+sec.Section)
			mu.Unlock()
		}
	}
	if len(passages) == 0 {
		for _, part := range cls.CFRParts {
			taken := 0
			for _, hit := range s.regulations.Search(ctx, question, 14, part) {
				if hit.Excerpt == "" {
					continue
				}
				ref := "14 CFR " + hit.Section
				if hit.Section == "" {
					ref = "14 CFR part " + hit.Part
				}
				passages = append(passages, passage{label: ref, text: clipPassage(hit.Excerpt)})
				mu.Lock()
				resp.ECFRUsed = true
				resp.CFRSources = append(resp.CFRSources, ref)
				mu.Unlock()
				taken++
				if taken >= 3 {
					break
				}
			}
		}
	}
	return passages
}

func (s *RAGService) fetchRepositoryDocs(ctx context.Context, cls *model.QueryClassification, keywordDocs []model.RepositoryDocument, resp *model.RAGResponse, mu *sync.Mutex) []passage {
	if s.repository == nil {
		return nil
	}
	logger := logutil.GetLogger(ctx)
	var passages []passage
	add := func(fetched *model.FetchedDocument) {
		label := fetched.Doc.DocumentNumber
		if fetched.Doc.Title != "" {
			label += " - " + fetched.Doc.Title
		}
		passages = append(passages, passage{label: label, text: clipPassage(fetched.Text)})
		mu.Lock()
		resp.DRSSources = append(resp.DRSSources, fetched.Doc.DocumentNumber)
		mu.Unlock()
	}

	if cls.SpecificDoc != "" && !strings.HasPrefix(cls.SpecificDoc, "14 CFR") {
		docType := ""
		if len(cls.DocTypes) > 0 {
			docType = cls.DocTypes[0]
		}
		fetched, err := s.repository.FetchWithCache(ctx, cls.SpecificDoc, docType)
		if err != nil {
			logger.Warn("named document fetch failed", zap.String("doc_number", cls.SpecificDoc), zap.Error(err))
		} else if fetched != nil {
			add(fetched)
			return passages
		}
	}

	requests := make([]drs.FetchRequest, 0, maxRepositoryCandidates)
	for i, doc := range keywordDocs {
		if i >= maxRepositoryCandidates {
			break
		}
		requests = append(requests, drs.FetchRequest{DocNumber: doc.DocumentNumber, DocType: doc.DocType})
	}
	if len(requests) == 0 {
		return passages
	}
	for _, fetched := range s.repository.FetchBatch(ctx, requests) {
		if fetched == nil {
			continue
		}
		add(fetched)
	}
	return passages
}

func (s *RAGService) enqueueUnindexed(ctx context.Context, docs []model.RepositoryDocument) {
	if s.queue == nil || s.index == nil || len(docs) == 0 {
		return
	}
	indexed, err := s.index.IndexedNumbers(ctx)
	if err != nil {
		logutil.GetLogger(ctx).Warn("failed to list indexed documents", zap.Error(err))
		return
	}
	var candidates []model.RepositoryDocument
	for _, doc := range docs {
		if !indexed[normalizeForMatch(doc.DocumentNumber)] {
			candidates = append(candidates, doc)
		}
	}
	if len(candidates) == 0 {
		return
	}
	count := s.queue.EnqueueForIndexing(ctx, candidates)
	logutil.GetLogger(ctx).Info("enqueued documents for background indexing", zap.Int("count", count))
}

func (s *RAGService) appendTurns(ctx context.Context, conv *model.StoredConversation, question string, resp *model.RAGResponse, isClarifying bool) {
	now := time.Now().Unix()
	conv.Turns = append(conv.Turns, model.ConversationTurn{
		Role:       model.RoleUser,
		Content:    question,
		Timestamp:  now,
		Clarifying: isClarifying,
	})
	content := resp.Answer
	if resp.NeedsClarification {
		content = resp.ClarifyingQuestion
	}
	conv.Turns = append(conv.Turns, model.ConversationTurn{
		Role:       model.RoleAssistant,
		Content:    content,
		Timestamp:  now,
		Sources:    resp.Sources,
		Clarifying: resp.NeedsClarification,
	})
	if err := s.conversations.Save(ctx, conv); err != nil {
		logutil.GetLogger(ctx).Warn("conversation save failed", zap.String("session_id", conv.SessionID), zap.Error(err))
	}
}

func resultPassages(results []model.SearchResult) []passage {
	var passages []passage
	for _, r := range results {
		label := r.DocumentNumber
		if r.Title != "" {
			label += " - " + r.Title
		}
		passages = append(passages, passage{label: label, text: clipPassage(r.Chunk)})
	}
	return passages
}

func buildContextBlock(passages []passage) string {
	var sb strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", p.label, p.text)
	}
	return strings.TrimSpace(sb.String())
}

func renderPrompt(history, contextBlock, question string) string {
	var sb strings.Builder
	sb.WriteString(answerPrompt)
	sb.WriteString("\n\n")
	if history != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Context:\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func clipPassage(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPassageChars {
		return text
	}
	return string(runes[:maxPassageChars]) + " [...]"
}

func answerCacheKey(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(question)))
	return hex.EncodeToString(sum[:])
}
