package pdftext

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	appErr "github.com/xxxsen/certquery/internal/pkg/errors"
)

// ExtractText extracts plain text from a PDF document. pdfcpu works on
// files, so the payload goes through a temp dir. An extraction that yields
// no text at all is a hard error: indexing an empty document would poison
// retrieval silently.
func ExtractText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", appErr.ErrEmptyDocument
	}
	tempDir, err := os.MkdirTemp("", "certquery-pdf-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "doc.pdf")
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}

	outDir := filepath.Join(tempDir, "content")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}
	if err := api.ExtractContentFile(tempFile, outDir, nil, nil); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read content dir: %w", err)
	}
	pages := make(map[int]string, len(entries))
	order := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
				continue
			}
		}
		pages[pageNum] = cleanContentStream(string(content))
		order = append(order, pageNum)
	}
	sort.Ints(order)

	var sb strings.Builder
	for _, pageNum := range order {
		text := strings.TrimSpace(pages[pageNum])
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	result := strings.TrimSpace(sb.String())
	if result == "" {
		return "", appErr.ErrEmptyDocument
	}
	return result, nil
}

// cleanContentStream pulls the literal strings out of a PDF content stream.
// Tj/TJ operands carry the visible text; everything else is positioning.
func cleanContentStream(content string) string {
	var sb strings.Builder
	depth := 0
	escaped := false
	for _, r := range content {
		switch {
		case escaped:
			if depth > 0 {
				sb.WriteRune(r)
			}
			escaped = false
		case r == '\\':
			escaped = true
		case r == '(':
			depth++
			if depth == 1 {
				continue
			}
			sb.WriteRune(r)
		case r == ')':
			depth--
			if depth == 0 {
				sb.WriteRune(' ')
				continue
			}
			if depth > 0 {
				sb.WriteRune(r)
			}
		case depth > 0:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
