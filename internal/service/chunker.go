package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/certquery/internal/ai"
	"github.com/xxxsen/certquery/internal/model"
)

const (
	ChunkMethodSingle   = "single"
	ChunkMethodSemantic = "semantic"
	ChunkMethodFallback = "fallback"
)

// ChunkResult carries the produced chunks and which method produced them.
type ChunkResult struct {
	Chunks []model.DocumentChunk
	Method string
}

// Chunker splits document text for indexing. It asks the LLM for section
// boundaries and falls back to a deterministic fixed-length splitter when
// the reply is unusable.
type Chunker struct {
	generator     ai.IGenerator
	targetSize    int
	minSize       int
	maxChunks     int
	analysisLimit int
}

func NewChunker(generator ai.IGenerator, targetSize, minSize, maxChunks, analysisLimit int) *Chunker {
	if targetSize <= 0 {
		targetSize = 2000
	}
	if minSize <= 0 {
		minSize = 200
	}
	if maxChunks <= 0 {
		maxChunks = 50
	}
	if analysisLimit <= 0 {
		analysisLimit = 30000
	}
	return &Chunker{
		generator:     generator,
		targetSize:    targetSize,
		minSize:       minSize,
		maxChunks:     maxChunks,
		analysisLimit: analysisLimit,
	}
}

func (c *Chunker) Chunk(ctx context.Context, text, title string) *ChunkResult {
	runes := []rune(text)
	if len(runes) <= c.targetSize {
		return &ChunkResult{
			Chunks: []model.DocumentChunk{{Index: 0, Title: title, Text: text, Start: 0, End: len(runes)}},
			Method: ChunkMethodSingle,
		}
	}
	if c.generator != nil {
		if chunks := c.semanticChunks(ctx, runes, title); len(chunks) > 0 {
			return &ChunkResult{Chunks: chunks, Method: ChunkMethodSemantic}
		}
	}
	return &ChunkResult{Chunks: c.fallbackChunks(runes, title), Method: ChunkMethodFallback}
}

type boundary struct {
	Start int    `json:"start"`
	Title string `json:"title"`
}

func (c *Chunker) semanticChunks(ctx context.Context, runes []rune, title string) []model.DocumentChunk {
	logger := logutil.GetLogger(ctx).With(zap.String("title", title))
	analysis := runes
	if len(analysis) > c.analysisLimit {
		analysis = analysis[:c.analysisLimit]
	}
	target := int(math.Ceil(float64(len(runes)) / float64(c.targetSize)))
	if target > c.maxChunks {
		target = c.maxChunks
	}
	prompt := fmt.Sprintf(`Split the document below into about %d logical sections.
Reply with a JSON array only: [{"start": <character offset>, "title": "<short section title>"}, ...].
The first start must be 0 and offsets must be increasing and less than %d.

Document:
%s`, target, len(analysis), string(analysis))
	reply, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Warn("boundary proposal failed, using fallback chunker", zap.Error(err))
		return nil
	}
	var boundaries []boundary
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &boundaries); err != nil {
		logger.Warn("boundary reply unparseable, using fallback chunker", zap.Error(err))
		return nil
	}
	return c.boundariesToChunks(runes, boundaries, title)
}

// boundariesToChunks pairs each boundary with the next. Out-of-range
// offsets are dropped, short chunks are merged away unless final. When the
// proposal exceeds the chunk cap, the chunk at the cap absorbs the rest of
// the text, same as the fallback chunker.
func (c *Chunker) boundariesToChunks(runes []rune, boundaries []boundary, title string) []model.DocumentChunk {
	valid := make([]boundary, 0, len(boundaries))
	for _, b := range boundaries {
		if b.Start >= 0 && b.Start < len(runes) {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })
	if valid[0].Start != 0 {
		valid = append([]boundary{{Start: 0, Title: title}}, valid...)
	}
	var chunks []model.DocumentChunk
	for i, b := range valid {
		end := len(runes)
		if i+1 < len(valid) && len(chunks) < c.maxChunks-1 {
			end = valid[i+1].Start
		}
		if end <= b.Start {
			continue
		}
		text := strings.TrimSpace(string(runes[b.Start:end]))
		if text == "" {
			continue
		}
		final := end == len(runes)
		if len([]rune(text)) < c.minSize && !final {
			continue
		}
		chunks = append(chunks, model.DocumentChunk{
			Index: len(chunks),
			Title: b.Title,
			Text:  text,
			Start: b.Start,
			End:   end,
		})
		if final {
			break
		}
	}
	return chunks
}

// fallbackChunks slides a fixed-size window across the text, preferring a
// paragraph break, then a sentence break, within the window. Consecutive
// chunks overlap by a tenth of the window so no sentence is orphaned at a
// cut point.
func (c *Chunker) fallbackChunks(runes []rune, title string) []model.DocumentChunk {
	overlap := c.targetSize / 10
	var chunks []model.DocumentChunk
	start := 0
	for start < len(runes) {
		end := start + c.targetSize
		last := len(chunks) == c.maxChunks-1
		if end >= len(runes) || last {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}
		chunks = append(chunks, model.DocumentChunk{
			Index: len(chunks),
			Title: title,
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end >= len(runes) {
			break
		}
		start = end - overlap
		if start <= chunks[len(chunks)-1].Start {
			start = end
		}
	}
	return chunks
}

// breakPoint picks a cut position inside (start, limit], preferring a
// paragraph boundary in the back half of the window, then a sentence
// boundary, then the hard limit.
func breakPoint(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	floor := len(window) / 2
	if idx := strings.LastIndex(window, "\n\n"); idx > floor {
		return start + len([]rune(window[:idx+2]))
	}
	if idx := strings.LastIndex(window, ". "); idx > floor {
		return start + len([]rune(window[:idx+2]))
	}
	return limit
}
