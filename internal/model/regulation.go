package model

// RegulationSection is a single retrievable unit of primary regulation text,
// fetched live from the eCFR API. Immutable once fetched.
type RegulationSection struct {
	Title         int    `json:"title"`
	Part          int    `json:"part"`
	Section       string `json:"section"`
	Heading       string `json:"heading"`
	Text          string `json:"text"`
	EffectiveDate string `json:"effective_date"`
	URL           string `json:"url"`
}

// RegulationSearchResult is one hit from the eCFR full-text search endpoint.
type RegulationSearchResult struct {
	Title      int    `json:"title"`
	Part       string `json:"part"`
	Section    string `json:"section"`
	Heading    string `json:"heading"`
	Excerpt    string `json:"excerpt"`
	URL        string `json:"url"`
}

// PartStructure is a best-effort subtree of the eCFR structure endpoint.
type PartStructure struct {
	Identifier string          `json:"identifier"`
	Label      string          `json:"label"`
	Type       string          `json:"type"`
	Children   []PartStructure `json:"children,omitempty"`
}
