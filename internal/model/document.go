package model

// RepositoryDocument is metadata for one document in the FAA document
// repository (advisory circulars, airworthiness directives, orders, ...).
// Discovered via search; full text is resolved separately via download.
type RepositoryDocument struct {
	GUID           string `json:"guid"`
	DocumentNumber string `json:"document_number"`
	Title          string `json:"title"`
	DocType        string `json:"doc_type"`
	Status         string `json:"status"`
	LastModified   string `json:"last_modified"`
	DownloadURL    string `json:"download_url,omitempty"`
	FileName       string `json:"file_name,omitempty"`
}

// DocumentChunk is a contiguous slice of a document's text sized for
// retrieval. Chunks are ordered and together cover the source document.
type DocumentChunk struct {
	Index int    `json:"index"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// FetchedDocument pairs repository metadata with its extracted full text.
type FetchedDocument struct {
	Doc  RepositoryDocument `json:"doc"`
	Text string             `json:"text"`
}

// SearchResult is one hit from the hybrid search index.
type SearchResult struct {
	DocumentNumber string  `json:"document_number"`
	DocType        string  `json:"doc_type"`
	Title          string  `json:"title"`
	Chunk          string  `json:"chunk"`
	Score          float64 `json:"score"`
}
