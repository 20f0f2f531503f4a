package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xxxsen/certquery/internal/model"
)

// Evaluation is the verdict on one hybrid search result set.
type Evaluation struct {
	Sufficient  bool    `json:"sufficient"`
	Reason      string  `json:"reason"`
	Score       float64 `json:"score"`
	SpecificDoc string  `json:"specific_doc,omitempty"`
}

// Citation formats users put in questions, one family per document type.
// The first capture group is the bare document identifier.
var citationPatterns = []struct {
	docType string
	re      *regexp.Regexp
}{
	{"AC", regexp.MustCompile(`(?i)\bAC\s*-?\s*(\d+(?:[.\-]\d+)*[A-Za-z]?)`)},
	{"AD", regexp.MustCompile(`(?i)\bAD\s*-?\s*(\d{2,4}-\d{2}-\d{2}\w*)`)},
	{"ORDER", regexp.MustCompile(`(?i)\border\s+(\d{4}\.\d+\w*)`)},
	{"TSO", regexp.MustCompile(`(?i)\bTSO\s*-?\s*([A-Za-z]\d+\w*)`)},
	{"CFR", regexp.MustCompile(`(?i)\b14\s*CFR\s*(?:part\s*)?(\d+(?:\.\d+)?)`)},
}

// Evaluator judges whether hybrid search results are good enough to answer
// from, or whether fallback retrieval is needed.
type Evaluator struct {
	minScore float64
}

func NewEvaluator(minScore float64) *Evaluator {
	if minScore <= 0 {
		minScore = 0.7
	}
	return &Evaluator{minScore: minScore}
}

// Evaluate applies the sufficiency policy in order: empty set, weak top
// score, then named-document presence. A high-scoring result set is still
// insufficient when the user named a document none of the results contain.
func (e *Evaluator) Evaluate(results []model.SearchResult, query string) *Evaluation {
	citation, bareID := extractCitation(query)
	if len(results) == 0 {
		return &Evaluation{
			Sufficient:  false,
			Reason:      "no results from search index",
			Score:       0,
			SpecificDoc: citation,
		}
	}
	top := results[0].Score
	for _, r := range results[1:] {
		if r.Score > top {
			top = r.Score
		}
	}
	if top < e.minScore {
		return &Evaluation{
			Sufficient:  false,
			Reason:      fmt.Sprintf("top relevance score %.2f below threshold %.2f", top, e.minScore),
			Score:       top,
			SpecificDoc: citation,
		}
	}
	if citation != "" && !resultsMention(results, citation, bareID) {
		return &Evaluation{
			Sufficient:  false,
			Reason:      fmt.Sprintf("query names %s but no result contains it", citation),
			Score:       top / 2,
			SpecificDoc: citation,
		}
	}
	return &Evaluation{
		Sufficient: true,
		Reason:     "results relevant",
		Score:      top,
	}
}

// extractCitation finds the first document citation in the query text and
// returns its canonical form plus the bare identifier, e.g.
// ("AC 25.1309-1", "25.1309-1") or ("14 CFR 25.629", "25.629").
func extractCitation(query string) (string, string) {
	for _, p := range citationPatterns {
		m := p.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		id := strings.ToUpper(m[1])
		switch p.docType {
		case "CFR":
			return "14 CFR " + id, id
		case "TSO":
			return "TSO-" + id, id
		default:
			return p.docType + " " + id, id
		}
	}
	return "", ""
}

func resultsMention(results []model.SearchResult, citation, bareID string) bool {
	needle := normalizeForMatch(citation)
	bare := normalizeForMatch(bareID)
	for _, r := range results {
		haystack := normalizeForMatch(r.DocumentNumber + " " + r.Title + " " + r.Chunk)
		if strings.Contains(haystack, needle) {
			return true
		}
		if bare != "" && strings.Contains(haystack, bare) {
			return true
		}
	}
	return false
}

func normalizeForMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}
