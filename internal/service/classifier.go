package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/ai"
	"github.com/xxxsen/certquery/internal/model"
)

var knownDocTypes = map[string]bool{
	"AC":     true,
	"AD":     true,
	"ORDER":  true,
	"TSO":    true,
	"POLICY": true,
	"NOTICE": true,
}

const classifyPrompt = `You are a routing classifier for questions about FAA aircraft certification.
Classify the question and reply with a single JSON object, no other text:
{
  "intent": one of "regulatory_lookup" | "compliance_guidance" | "document_request" | "general_question",
  "topics": short free-text topic keywords,
  "cfr_parts": 14 CFR part numbers likely relevant (integers),
  "cfr_sections": specific section identifiers like "25.629" if determinable,
  "doc_types": document type tags from: AC, AD, ORDER, TSO, POLICY, NOTICE,
  "specific_doc": the exact document number if the question names one, else "",
  "confidence": 0.0 to 1.0,
  "reasoning": one sentence
}
Part subject areas: 21 certification procedures, 23 normal category airplanes,
25 transport category airplanes, 27 normal category rotorcraft, 29 transport
category rotorcraft, 33 engines, 35 propellers, 36 noise, 39 airworthiness
directives, 43 maintenance, 45 identification and marking, 91 operating rules,
121 air carriers, 135 commuter and on demand, 145 repair stations.
Common section mappings: flutter and aeroelastic stability 25.629, system
safety 25.1309, fatigue and damage tolerance 25.571, stall speed 25.103,
bird strike 25.631, emergency evacuation 25.803.

Question: `

// Classifier routes a question to retrieval sources. Its output is
// advisory: every failure path yields a usable default instead of an error.
type Classifier struct {
	generator ai.IGenerator
}

func NewClassifier(generator ai.IGenerator) *Classifier {
	return &Classifier{generator: generator}
}

func (c *Classifier) Classify(ctx context.Context, question string) *model.QueryClassification {
	logger := logutil.GetLogger(ctx)
	if c.generator == nil {
		return defaultClassification("no chat capability configured")
	}
	reply, err := c.generator.Generate(ctx, classifyPrompt+question)
	if err != nil {
		logger.Warn("classification call failed", zap.Error(err))
		return defaultClassification("classification call failed")
	}
	parsed, err := parseClassification(reply)
	if err != nil {
		logger.Warn("classification reply unparseable", zap.Error(err), zap.String("reply", truncate(reply, 200)))
		return defaultClassification("classification reply unparseable")
	}
	return parsed
}

func parseClassification(reply string) (*model.QueryClassification, error) {
	var raw model.QueryClassification
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &raw); err != nil {
		return nil, err
	}
	switch raw.Intent {
	case model.IntentRegulatoryLookup, model.IntentComplianceGuidance,
		model.IntentDocumentRequest, model.IntentGeneralQuestion:
	default:
		raw.Intent = model.IntentGeneralQuestion
	}
	filtered := make([]string, 0, len(raw.DocTypes))
	for _, dt := range raw.DocTypes {
		dt = strings.ToUpper(strings.TrimSpace(dt))
		if knownDocTypes[dt] {
			filtered = append(filtered, dt)
		}
	}
	raw.DocTypes = filtered
	if raw.Confidence < 0 {
		raw.Confidence = 0
	}
	if raw.Confidence > 1 {
		raw.Confidence = 1
	}
	if raw.Topics == nil {
		raw.Topics = []string{}
	}
	if raw.CFRParts == nil {
		raw.CFRParts = []int{}
	}
	if raw.CFRSections == nil {
		raw.CFRSections = []string{}
	}
	return &raw, nil
}

func defaultClassification(reason string) *model.QueryClassification {
	return &model.QueryClassification{
		Intent:      model.IntentGeneralQuestion,
		Topics:      []string{},
		CFRParts:    []int{},
		CFRSections: []string{},
		DocTypes:    []string{},
		Confidence:  0.1,
		Reasoning:   reason,
	}
}

// QuickClassifyDocumentRequest is a pure pre-filter: when a question names
// a specific document it can be routed without the LLM round trip. Returns
// nil when no citation is found.
func QuickClassifyDocumentRequest(question string) *model.QueryClassification {
	citation, bareID := extractCitation(question)
	if citation == "" {
		return nil
	}
	if strings.HasPrefix(citation, "14 CFR ") {
		cls := &model.QueryClassification{
			Intent:      model.IntentRegulatoryLookup,
			Topics:      []string{},
			CFRParts:    []int{},
			CFRSections: []string{},
			DocTypes:    []string{},
			Confidence:  0.9,
			Reasoning:   "question cites a regulation directly",
		}
		if strings.Contains(bareID, ".") {
			cls.CFRSections = append(cls.CFRSections, bareID)
			if part, err := strconv.Atoi(bareID[:strings.Index(bareID, ".")]); err == nil {
				cls.CFRParts = append(cls.CFRParts, part)
			}
		} else if part, err := strconv.Atoi(bareID); err == nil {
			cls.CFRParts = append(cls.CFRParts, part)
		}
		return cls
	}
	docType := citation[:strings.IndexAny(citation, " -")]
	return &model.QueryClassification{
		Intent:      model.IntentDocumentRequest,
		Topics:      []string{},
		CFRParts:    []int{},
		CFRSections: []string{},
		DocTypes:    []string{docType},
		SpecificDoc: citation,
		Confidence:  0.9,
		Reasoning:   "question cites a repository document directly",
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
