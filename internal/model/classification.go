package model

// Query intents form a closed set; anything the classifier cannot validate
// falls back to IntentGeneralQuestion.
const (
	IntentRegulatoryLookup   = "regulatory_lookup"
	IntentComplianceGuidance = "compliance_guidance"
	IntentDocumentRequest    = "document_request"
	IntentGeneralQuestion    = "general_question"
)

// QueryClassification is the advisory routing decision for one question.
// Produced fresh per query, never persisted.
type QueryClassification struct {
	Intent      string   `json:"intent"`
	Topics      []string `json:"topics"`
	CFRParts    []int    `json:"cfr_parts"`
	CFRSections []string `json:"cfr_sections"`
	DocTypes    []string `json:"doc_types"`
	SpecificDoc string   `json:"specific_doc,omitempty"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning,omitempty"`
}
