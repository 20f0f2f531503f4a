package model

import "strings"

// IndexQueueMessage is one background-indexing work item. A message without
// a download URL is invalid and must be discarded, never retried.
type IndexQueueMessage struct {
	GUID           string `json:"guid"`
	DocumentNumber string `json:"document_number"`
	Title          string `json:"title"`
	DocType        string `json:"doc_type"`
	DownloadURL    string `json:"download_url"`
	EnqueuedAt     int64  `json:"enqueued_at"`
	DequeueCount   int    `json:"dequeue_count"`
}

func (m *IndexQueueMessage) Valid() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.DocumentNumber) != "" && strings.TrimSpace(m.DownloadURL) != ""
}

// QueueStats is a point-in-time snapshot of queue depth, surfaced via the
// health endpoint.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
	Poisoned int64 `json:"poisoned"`
}

// ReindexReport summarizes one reindex run.
type ReindexReport struct {
	Cleared    bool                 `json:"cleared"`
	Discovered int                  `json:"discovered"`
	Enqueued   int                  `json:"enqueued"`
	Documents  []RepositoryDocument `json:"documents"`
}
