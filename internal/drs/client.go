package drs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/cachestore"
	"github.com/xxxsen/certquery/internal/model"
	"github.com/xxxsen/certquery/internal/pdftext"
)

const (
	defaultDocType    = "AC"
	defaultMaxResults = 50
	maxKeywords       = 10
)

// Client talks to the FAA document repository search and download API.
// Full-text fetches are routed through the document cache so a repeatedly
// referenced advisory circular is downloaded and extracted once per TTL.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	cache   *cachestore.Cache
	ttl     int
}

func New(baseURL, apiKey string, timeoutSeconds int, cache *cachestore.Cache, cacheTTLHours int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		client:  &http.Client{},
		cache:   cache,
		ttl:     cacheTTLHours,
	}
}

// SearchOptions narrows a filtered repository search.
type SearchOptions struct {
	Status          string
	MaxResults      int
	DocNumberPrefix string
}

type filteredSearchRequest struct {
	DocType    string   `json:"docTypeName"`
	Keywords   []string `json:"keywordValues"`
	Status     string   `json:"statusFilter,omitempty"`
	MaxResults int      `json:"maxResults"`
}

type filteredSearchResponse struct {
	Documents []struct {
		GUID           string `json:"documentGuid"`
		DocumentNumber string `json:"documentNumber"`
		Title          string `json:"title"`
		Status         string `json:"status"`
		LastModified   string `json:"lastModified"`
		DownloadURL    string `json:"downloadUrl"`
		FileName       string `json:"fileName"`
	} `json:"documents"`
}

// SearchFiltered posts a keyword+status filter to the repository search
// endpoint. Keyword values are bounded to 10 per call; the request carries
// a 15 second deadline and is retried once on timeout.
func (c *Client) SearchFiltered(ctx context.Context, keywords []string, docType string, opts SearchOptions) ([]model.RepositoryDocument, error) {
	if docType == "" {
		docType = defaultDocType
	}
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	body, err := json.Marshal(filteredSearchRequest{
		DocType:    docType,
		Keywords:   keywords,
		Status:     opts.Status,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, err
	}
	var out filteredSearchResponse
	if err := c.postWithRetry(ctx, "/api/search/filtered", body, &out); err != nil {
		return nil, err
	}
	docs := make([]model.RepositoryDocument, 0, len(out.Documents))
	prefix := NormalizeDocNumber(opts.DocNumberPrefix)
	for _, d := range out.Documents {
		if prefix != "" && !strings.HasPrefix(NormalizeDocNumber(d.DocumentNumber), prefix) {
			continue
		}
		docs = append(docs, model.RepositoryDocument{
			GUID:           d.GUID,
			DocumentNumber: d.DocumentNumber,
			Title:          d.Title,
			DocType:        docType,
			Status:         d.Status,
			LastModified:   d.LastModified,
			DownloadURL:    d.DownloadURL,
			FileName:       d.FileName,
		})
	}
	return docs, nil
}

// Search runs a simple keyword search against the default or given doc type.
func (c *Client) Search(ctx context.Context, query string, docType string) ([]model.RepositoryDocument, error) {
	return c.SearchFiltered(ctx, strings.Fields(query), docType, SearchOptions{Status: "Current"})
}

// SearchByDocumentNumber resolves one document by number using tiered match
// escalation over the filtered result set, strictest criterion first.
func (c *Client) SearchByDocumentNumber(ctx context.Context, docNumber, docType, status string) (*model.RepositoryDocument, error) {
	docs, err := c.SearchFiltered(ctx, []string{docNumber}, docType, SearchOptions{Status: status})
	if err != nil {
		return nil, err
	}
	return firstMatch(docs, docNumber), nil
}

// Download fetches the raw document payload.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// FetchWithCache resolves a document number to its extracted full text,
// consulting the document cache before searching and downloading. Returns
// (nil, nil) when no repository document matches the number.
func (c *Client) FetchWithCache(ctx context.Context, docNumber, docType string) (*model.FetchedDocument, error) {
	if docType == "" {
		docType = defaultDocType
	}
	key := cachestore.Key("drs:"+docType, docNumber)
	var cached model.FetchedDocument
	if ok, err := c.cache.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}
	doc, err := c.SearchByDocumentNumber(ctx, docNumber, docType, "Current")
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return c.fetchAndCache(ctx, *doc, docType, key)
}

// FetchDirect skips the search step when the caller already holds resolved
// metadata, as the queue worker does.
func (c *Client) FetchDirect(ctx context.Context, doc model.RepositoryDocument, docType string) (*model.FetchedDocument, error) {
	if docType == "" {
		docType = doc.DocType
	}
	if docType == "" {
		docType = defaultDocType
	}
	key := cachestore.Key("drs:"+docType, doc.DocumentNumber)
	var cached model.FetchedDocument
	if ok, err := c.cache.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}
	return c.fetchAndCache(ctx, doc, docType, key)
}

func (c *Client) fetchAndCache(ctx context.Context, doc model.RepositoryDocument, docType, key string) (*model.FetchedDocument, error) {
	if doc.DownloadURL == "" {
		return nil, nil
	}
	payload, err := c.Download(ctx, doc.DownloadURL)
	if err != nil {
		return nil, err
	}
	text, err := pdftext.ExtractText(payload)
	if err != nil {
		return nil, err
	}
	doc.DocType = docType
	fetched := &model.FetchedDocument{Doc: doc, Text: text}
	if err := c.cache.Set(ctx, key, fetched, c.ttl); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache document text",
			zap.String("doc_number", doc.DocumentNumber), zap.Error(err))
	}
	return fetched, nil
}

// FetchRequest identifies one document for a batch fetch.
type FetchRequest struct {
	DocNumber string
	DocType   string
}

// FetchBatch fetches documents in parallel. Positions whose fetch failed or
// matched nothing hold nil; one failure never fails the batch.
func (c *Client) FetchBatch(ctx context.Context, requests []FetchRequest) []*model.FetchedDocument {
	results := make([]*model.FetchedDocument, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req FetchRequest) {
			defer wg.Done()
			fetched, err := c.FetchWithCache(ctx, req.DocNumber, req.DocType)
			if err != nil {
				logutil.GetLogger(ctx).Warn("batch document fetch failed",
					zap.String("doc_number", req.DocNumber), zap.Error(err))
				return
			}
			results[i] = fetched
		}(i, req)
	}
	wg.Wait()
	return results
}

func (c *Client) postWithRetry(ctx context.Context, path string, body []byte, dst interface{}) error {
	err := c.postJSON(ctx, path, body, dst)
	if err == nil || !isTimeout(err) {
		return err
	}
	logutil.GetLogger(ctx).Warn("repository search timed out, retrying once", zap.String("path", path))
	return c.postJSON(ctx, path, body, dst)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, dst interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repository search failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
