package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/certquery/internal/model"
	appErr "github.com/xxxsen/certquery/internal/pkg/errors"
	"github.com/xxxsen/certquery/internal/service"
)

type fakeAsker struct {
	resp *model.RAGResponse
	err  error
	got  string
}

func (f *fakeAsker) AskQuestion(ctx context.Context, question string, opts service.AskOptions) (*model.RAGResponse, error) {
	f.got = question
	if f.err != nil {
		return f.resp, f.err
	}
	return f.resp, nil
}

func newAskRouter(asker *fakeAsker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	RegisterRoutes(engine.Group("/api"), RouterDeps{
		Ask:     NewAskHandler(asker),
		Health:  NewHealthHandler(nil, nil, false),
		Reindex: &ReindexHandler{},
	})
	return engine
}

func doAsk(t *testing.T, engine *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAskBlankQuestionRejected(t *testing.T) {
	engine := newAskRouter(&fakeAsker{})
	for _, body := range []string{`{}`, `{"question": "   "}`, `not json`} {
		rec := doAsk(t, engine, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestAskSuccess(t *testing.T) {
	asker := &fakeAsker{resp: &model.RAGResponse{
		Answer:      "flutter substantiation follows 14 CFR 25.629",
		Sources:     []string{"14 CFR 25.629"},
		SourceCount: 1,
		SessionID:   "sid-1",
		ECFRUsed:    true,
	}}
	engine := newAskRouter(asker)

	rec := doAsk(t, engine, `{"question": "what about flutter", "sessionId": "sid-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "what about flutter", asker.got)
	require.Contains(t, rec.Body.String(), "flutter substantiation")
	require.Contains(t, rec.Body.String(), `"sessionId":"sid-1"`)
	require.Contains(t, rec.Body.String(), `"ecfrUsed":true`)
}

func TestAskRateLimited(t *testing.T) {
	asker := &fakeAsker{
		resp: &model.RAGResponse{
			Error:     "upstream 429 quota",
			Sources:   []string{},
			SessionID: "sid-429",
		},
		err: fmt.Errorf("%w: upstream 429", appErr.ErrRateLimited),
	}
	engine := newAskRouter(asker)
	rec := doAsk(t, engine, `{"question": "anything"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "retry")
	// the failure body still carries the service response, not a bare envelope
	require.Contains(t, body, `"error":"upstream 429 quota"`)
	require.Contains(t, body, `"answer":""`)
	require.Contains(t, body, `"sources":[]`)
	require.Contains(t, body, `"sessionId":"sid-429"`)
}

func TestAskInternalError(t *testing.T) {
	asker := &fakeAsker{
		resp: &model.RAGResponse{Error: "boom", Sources: []string{}},
		err:  fmt.Errorf("%w: backend down", appErr.ErrAIUnavailable),
	}
	engine := newAskRouter(asker)
	rec := doAsk(t, engine, `{"question": "anything"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"error":"boom"`)
}

type fakeIndexStatus struct {
	available bool
	count     int64
}

func (f *fakeIndexStatus) Available() bool { return f.available }

func (f *fakeIndexStatus) Count(ctx context.Context) (int64, error) { return f.count, nil }

type fakeQueueStatus struct{}

func (f *fakeQueueStatus) Stats(ctx context.Context) (*model.QueueStats, error) {
	return &model.QueueStats{Pending: 2, InFlight: 1}, nil
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/api/health", NewHealthHandler(&fakeIndexStatus{available: true, count: 42}, &fakeQueueStatus{}, true).Health)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `"chat":true`)
	require.Contains(t, body, `"embedding":true`)
	require.Contains(t, body, `"indexed_chunks":42`)
	require.Contains(t, body, `"pending":2`)
}
