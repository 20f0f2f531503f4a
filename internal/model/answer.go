package model

// RAGResponse is the full answer payload for one question, including the
// raw context block and diagnostic flags showing which retrieval sources
// actually contributed text.
type RAGResponse struct {
	Answer             string   `json:"answer"`
	Sources            []string `json:"sources"`
	SourceCount        int      `json:"sourceCount"`
	Context            string   `json:"context"`
	Error              string   `json:"error,omitempty"`
	SessionID          string   `json:"sessionId"`
	NeedsClarification bool     `json:"needsClarification,omitempty"`
	ClarifyingQuestion string   `json:"clarifyingQuestion,omitempty"`
	ECFRUsed           bool     `json:"ecfrUsed,omitempty"`
	CFRSources         []string `json:"cfrSources,omitempty"`
	DRSSources         []string `json:"drsSources,omitempty"`
	ClassificationUsed bool     `json:"classificationUsed,omitempty"`
	VectorSearchUsed   bool     `json:"vectorSearchUsed,omitempty"`
}
