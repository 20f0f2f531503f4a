package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/certquery/internal/model"
)

type fakeIndexer struct {
	available bool
	indexed   map[string]bool
	indexErr  error
	calls     []string
	lastText  string
}

func (f *fakeIndexer) Available() bool { return f.available }

func (f *fakeIndexer) IndexedNumbers(ctx context.Context) (map[string]bool, error) {
	if f.indexed == nil {
		return map[string]bool{}, nil
	}
	return f.indexed, nil
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, docNumber, docType, title, text string) error {
	f.calls = append(f.calls, docNumber)
	f.lastText = text
	return f.indexErr
}

type fakeFetcher struct {
	fetched *model.FetchedDocument
	err     error
}

func (f *fakeFetcher) FetchDirect(ctx context.Context, doc model.RepositoryDocument, docType string) (*model.FetchedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fetched, nil
}

func validMessage() model.IndexQueueMessage {
	return model.IndexQueueMessage{
		GUID:           "g1",
		DocumentNumber: "AC 25-7D",
		Title:          "Flight Test Guide",
		DocType:        "AC",
		DownloadURL:    "http://example.test/a.pdf",
	}
}

func TestProcessMessageMalformedIsDiscarded(t *testing.T) {
	s := NewQueueService(nil, &fakeIndexer{available: true}, &fakeFetcher{}, 5, 300, 5, 1000)
	msg := validMessage()
	msg.DownloadURL = ""
	require.Equal(t, outcomeDiscard, s.ProcessMessage(context.Background(), msg))
}

func TestProcessMessageAlreadyIndexedIsDone(t *testing.T) {
	idx := &fakeIndexer{available: true, indexed: map[string]bool{"AC 25-7D": true}}
	s := NewQueueService(nil, idx, &fakeFetcher{}, 5, 300, 5, 1000)
	require.Equal(t, outcomeDone, s.ProcessMessage(context.Background(), validMessage()))
	require.Empty(t, idx.calls, "no indexing work for a duplicate")
}

func TestProcessMessageEmbedderUnavailableRetries(t *testing.T) {
	s := NewQueueService(nil, &fakeIndexer{available: false}, &fakeFetcher{}, 5, 300, 5, 1000)
	require.Equal(t, outcomeRetry, s.ProcessMessage(context.Background(), validMessage()))
}

func TestProcessMessageFetchFailureRetries(t *testing.T) {
	s := NewQueueService(nil, &fakeIndexer{available: true}, &fakeFetcher{err: errors.New("timeout")}, 5, 300, 5, 1000)
	require.Equal(t, outcomeRetry, s.ProcessMessage(context.Background(), validMessage()))
}

func TestProcessMessageUnfetchableIsDiscarded(t *testing.T) {
	s := NewQueueService(nil, &fakeIndexer{available: true}, &fakeFetcher{fetched: nil}, 5, 300, 5, 1000)
	require.Equal(t, outcomeDiscard, s.ProcessMessage(context.Background(), validMessage()))
}

func TestProcessMessageIndexesWithTruncation(t *testing.T) {
	idx := &fakeIndexer{available: true}
	fetcher := &fakeFetcher{fetched: &model.FetchedDocument{Text: strings.Repeat("a", 2000)}}
	s := NewQueueService(nil, idx, fetcher, 5, 300, 5, 1000)

	require.Equal(t, outcomeDone, s.ProcessMessage(context.Background(), validMessage()))
	require.Equal(t, []string{"AC 25-7D"}, idx.calls)
	require.True(t, strings.HasSuffix(idx.lastText, truncationMarker))
	require.Len(t, idx.lastText, 1000+len(truncationMarker))
}

func TestProcessMessageIndexFailureRetries(t *testing.T) {
	idx := &fakeIndexer{available: true, indexErr: errors.New("db down")}
	fetcher := &fakeFetcher{fetched: &model.FetchedDocument{Text: "short text"}}
	s := NewQueueService(nil, idx, fetcher, 5, 300, 5, 1000)
	require.Equal(t, outcomeRetry, s.ProcessMessage(context.Background(), validMessage()))
}
