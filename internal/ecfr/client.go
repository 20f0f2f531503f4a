package ecfr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/certquery/internal/model"
)

const defaultBaseURL = "https://www.ecfr.gov"

// sectionRe accepts identifiers like "25.629" or "21.101". Anything else
// is malformed and skipped rather than sent upstream.
var sectionRe = regexp.MustCompile(`^\d+\.[\d]+[a-zA-Z0-9.-]*$`)

// Client fetches current regulation section text from the eCFR API.
// Every operation degrades to "no data" instead of raising: a missing
// section must never abort a multi-section fetch or a whole question.
type Client struct {
	baseURL string
	client  *http.Client
	// Latest available effective date, memoized per title. Refreshed
	// by TTL; concurrent first-callers share one upstream request.
	dates *expirable.LRU[int, string]
	sf    singleflight.Group
}

func NewClient(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		dates:   expirable.NewLRU[int, string](64, nil, 12*time.Hour),
	}
}

type titlesResponse struct {
	Titles []struct {
		Number          int    `json:"number"`
		UpToDateAsOf    string `json:"up_to_date_as_of"`
		LatestIssueDate string `json:"latest_issue_date"`
	} `json:"titles"`
}

// LatestDate resolves the most recent effective date available for a title.
func (c *Client) LatestDate(ctx context.Context, title int) (string, error) {
	if date, ok := c.dates.Get(title); ok {
		return date, nil
	}
	value, err, _ := c.sf.Do(strconv.Itoa(title), func() (interface{}, error) {
		if date, ok := c.dates.Get(title); ok {
			return date, nil
		}
		var out titlesResponse
		if err := c.getJSON(ctx, "/api/versioner/v1/titles.json", nil, &out); err != nil {
			return "", err
		}
		for _, t := range out.Titles {
			if t.Number != title {
				continue
			}
			date := t.UpToDateAsOf
			if date == "" {
				date = t.LatestIssueDate
			}
			if date == "" {
				break
			}
			c.dates.Add(title, date)
			return date, nil
		}
		return "", fmt.Errorf("title %d not listed by upstream", title)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// FetchSection resolves the full text of one regulation section. Returns
// (nil, nil) when the section does not exist or the upstream call fails in
// any recognizable way.
func (c *Client) FetchSection(ctx context.Context, title, part int, section string) (*model.RegulationSection, error) {
	logger := logutil.GetLogger(ctx).With(zap.Int("title", title), zap.Int("part", part), zap.String("section", section))
	if !sectionRe.MatchString(section) {
		logger.Warn("skipping malformed section identifier")
		return nil, nil
	}
	date, err := c.LatestDate(ctx, title)
	if err != nil {
		logger.Warn("latest date lookup failed", zap.Error(err))
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/api/versioner/v1/full/%s/title-%d.xml", c.baseURL, date, title)
	query := url.Values{}
	query.Set("part", strconv.Itoa(part))
	query.Set("section", section)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("section fetch failed", zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn("section fetch returned error status", zap.Int("status", resp.StatusCode))
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		logger.Warn("section markup parse failed", zap.Error(err))
		return nil, nil
	}
	heading, body := splitSectionText(doc.Text())
	if body == "" {
		return nil, nil
	}
	return &model.RegulationSection{
		Title:         title,
		Part:          part,
		Section:       section,
		Heading:       heading,
		Text:          body,
		EffectiveDate: date,
		URL:           fmt.Sprintf("%s/current/title-%d/part-%d/section-%s", c.baseURL, title, part, section),
	}, nil
}

// FetchSections fetches all requested sections of one title concurrently.
// Failures and malformed identifiers are filtered out, never propagated.
func (c *Client) FetchSections(ctx context.Context, title int, sections []string) []model.RegulationSection {
	results := make([]*model.RegulationSection, len(sections))
	var wg sync.WaitGroup
	for i, section := range sections {
		part, ok := partOfSection(section)
		if !ok {
			logutil.GetLogger(ctx).Warn("skipping malformed section identifier", zap.String("section", section))
			continue
		}
		wg.Add(1)
		go func(i, part int, section string) {
			defer wg.Done()
			sec, _ := c.FetchSection(ctx, title, part, section)
			results[i] = sec
		}(i, part, section)
	}
	wg.Wait()
	out := make([]model.RegulationSection, 0, len(sections))
	for _, sec := range results {
		if sec != nil {
			out = append(out, *sec)
		}
	}
	return out
}

// PartStructure returns the structure subtree for one part, best-effort.
func (c *Client) PartStructure(ctx context.Context, title, part int) *model.PartStructure {
	date, err := c.LatestDate(ctx, title)
	if err != nil {
		return nil
	}
	var root model.PartStructure
	path := fmt.Sprintf("/api/versioner/v1/structure/%s/title-%d.json", date, title)
	if err := c.getJSON(ctx, path, nil, &root); err != nil {
		logutil.GetLogger(ctx).Warn("structure fetch failed", zap.Int("title", title), zap.Error(err))
		return nil
	}
	return findPart(&root, strconv.Itoa(part))
}

type searchResponse struct {
	Results []struct {
		Hierarchy struct {
			Title   string `json:"title"`
			Part    string `json:"part"`
			Section string `json:"section"`
		} `json:"hierarchy"`
		HeadingsSection string `json:"full_text_excerpt"`
		Excerpt         string `json:"excerpt"`
		Heading         string `json:"heading"`
	} `json:"results"`
}

// Search runs a free-text query against the eCFR search endpoint. Returns
// an empty slice on any failure.
func (c *Client) Search(ctx context.Context, query string, title, part int) []model.RegulationSearchResult {
	params := url.Values{}
	params.Set("query", query)
	if title > 0 {
		params.Set("conditions[title]", strconv.Itoa(title))
	}
	if part > 0 {
		params.Set("conditions[part]", strconv.Itoa(part))
	}
	var out searchResponse
	if err := c.getJSON(ctx, "/api/search/v1/results", params, &out); err != nil {
		logutil.GetLogger(ctx).Warn("ecfr search failed", zap.String("query", query), zap.Error(err))
		return []model.RegulationSearchResult{}
	}
	results := make([]model.RegulationSearchResult, 0, len(out.Results))
	for _, r := range out.Results {
		titleNum, _ := strconv.Atoi(r.Hierarchy.Title)
		excerpt := r.Excerpt
		if excerpt == "" {
			excerpt = r.HeadingsSection
		}
		results = append(results, model.RegulationSearchResult{
			Title:   titleNum,
			Part:    r.Hierarchy.Part,
			Section: r.Hierarchy.Section,
			Heading: r.Heading,
			Excerpt: excerpt,
			URL:     fmt.Sprintf("%s/current/title-%s/part-%s", c.baseURL, r.Hierarchy.Title, r.Hierarchy.Part),
		})
	}
	return results
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dst interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ecfr request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// splitSectionText derives a heading from parsed section markup. The first
// non-empty line starting with the section symbol is the heading; the rest
// is the body.
func splitSectionText(raw string) (string, string) {
	lines := strings.Split(raw, "\n")
	heading := ""
	var body []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if heading == "" && strings.HasPrefix(line, "§") {
			heading = line
			continue
		}
		body = append(body, line)
	}
	return heading, strings.TrimSpace(strings.Join(body, "\n"))
}

func partOfSection(section string) (int, bool) {
	if !sectionRe.MatchString(section) {
		return 0, false
	}
	idx := strings.Index(section, ".")
	part, err := strconv.Atoi(section[:idx])
	if err != nil {
		return 0, false
	}
	return part, true
}

func findPart(node *model.PartStructure, part string) *model.PartStructure {
	if node == nil {
		return nil
	}
	if strings.EqualFold(node.Type, "part") && node.Identifier == part {
		return node
	}
	for i := range node.Children {
		if found := findPart(&node.Children[i], part); found != nil {
			return found
		}
	}
	return nil
}
