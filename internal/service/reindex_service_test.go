package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/certquery/internal/model"
)

type fakeClearer struct {
	cleared bool
}

func (f *fakeClearer) Clear(ctx context.Context) error {
	f.cleared = true
	return nil
}

type fakeDiscovery struct {
	docs     []model.RepositoryDocument
	calls    int
	docTypes []string
}

func (f *fakeDiscovery) Search(ctx context.Context, query, docType string) ([]model.RepositoryDocument, error) {
	f.calls++
	f.docTypes = append(f.docTypes, docType)
	return f.docs, nil
}

func TestReindexDeduplicatesByGUID(t *testing.T) {
	clearer := &fakeClearer{}
	discovery := &fakeDiscovery{docs: []model.RepositoryDocument{
		{GUID: "g1", DocumentNumber: "AC 25-7D", DownloadURL: "http://example.test/a.pdf"},
		{GUID: "g2", DocumentNumber: "AC 23-8C"},
	}}
	queue := &fakeEnqueuer{}
	s := NewReindexService(clearer, discovery, queue)

	report, err := s.Reindex(context.Background(), ReindexOptions{ClearIndex: true})
	require.NoError(t, err)
	require.True(t, report.Cleared)
	require.True(t, clearer.cleared)
	// every topic search returns the same two docs; dedup leaves two
	require.Equal(t, 2, report.Discovered)
	// only the candidate with a download url is enqueued
	require.Equal(t, 1, report.Enqueued)
}

func TestReindexWithoutClear(t *testing.T) {
	clearer := &fakeClearer{}
	s := NewReindexService(clearer, &fakeDiscovery{}, &fakeEnqueuer{})
	report, err := s.Reindex(context.Background(), ReindexOptions{})
	require.NoError(t, err)
	require.False(t, report.Cleared)
	require.False(t, clearer.cleared)
	require.Zero(t, report.Discovered)
}

func TestReindexFiltersDocTypes(t *testing.T) {
	discovery := &fakeDiscovery{docs: []model.RepositoryDocument{
		{GUID: "g1", DocumentNumber: "TSO-C90d", DownloadURL: "http://example.test/t.pdf"},
	}}
	s := NewReindexService(&fakeClearer{}, discovery, &fakeEnqueuer{})

	report, err := s.Reindex(context.Background(), ReindexOptions{DocTypes: []string{"tso"}})
	require.NoError(t, err)
	// the TSO type has a single topic term, so exactly one search ran
	require.Equal(t, 1, discovery.calls)
	require.Equal(t, []string{"TSO"}, discovery.docTypes)
	require.Equal(t, 1, report.Discovered)
}

func TestReindexUnknownDocTypeSearchesNothing(t *testing.T) {
	discovery := &fakeDiscovery{docs: []model.RepositoryDocument{
		{GUID: "g1", DocumentNumber: "AC 25-7D"},
	}}
	s := NewReindexService(&fakeClearer{}, discovery, &fakeEnqueuer{})

	report, err := s.Reindex(context.Background(), ReindexOptions{DocTypes: []string{"NOPE"}})
	require.NoError(t, err)
	require.Zero(t, discovery.calls)
	require.Zero(t, report.Discovered)
}

func TestReindexLimitCapsDiscovery(t *testing.T) {
	discovery := &fakeDiscovery{docs: []model.RepositoryDocument{
		{GUID: "g1", DocumentNumber: "AC 25-7D", DownloadURL: "http://example.test/a.pdf"},
		{GUID: "g2", DocumentNumber: "AC 23-8C", DownloadURL: "http://example.test/b.pdf"},
		{GUID: "g3", DocumentNumber: "AC 20-107B", DownloadURL: "http://example.test/c.pdf"},
	}}
	queue := &fakeEnqueuer{}
	s := NewReindexService(&fakeClearer{}, discovery, queue)

	report, err := s.Reindex(context.Background(), ReindexOptions{DocTypes: []string{"AC"}, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, report.Discovered)
	require.Len(t, report.Documents, 2)
	require.Equal(t, 2, report.Enqueued)
	require.Len(t, queue.got, 2)
}
