package drs

import (
	"regexp"
	"strings"

	"github.com/xxxsen/certquery/internal/model"
)

// Change and revision markers appended to a document number, e.g.
// "AC 25-7D CHG 1" or "Order 8110.4C REV 2". Stripping them yields the
// base number shared by all revisions of the same document.
var suffixRe = regexp.MustCompile(`\s+(?:W/)?(?:CHG|CHANGE|REV|REVISION)\.?\s*[A-Z0-9]*$`)

// NormalizeDocNumber makes document numbers comparable despite case and
// whitespace variation.
func NormalizeDocNumber(number string) string {
	return strings.Join(strings.Fields(strings.ToUpper(number)), " ")
}

// BaseDocNumber strips change/revision suffixes from a normalized number.
func BaseDocNumber(number string) string {
	base := NormalizeDocNumber(number)
	for {
		stripped := suffixRe.ReplaceAllString(base, "")
		if stripped == base {
			return base
		}
		base = stripped
	}
}

// matcher reports whether a candidate document number satisfies the query
// number under one matching criterion. Matchers are pure and evaluated in
// strict precedence order, broadest last.
type matcher func(candidate, query string) bool

func exactMatch(candidate, query string) bool {
	return NormalizeDocNumber(candidate) == NormalizeDocNumber(query)
}

func baseMatch(candidate, query string) bool {
	return BaseDocNumber(candidate) == BaseDocNumber(query)
}

func prefixMatch(candidate, query string) bool {
	return strings.HasPrefix(NormalizeDocNumber(candidate), NormalizeDocNumber(query))
}

func containsMatch(candidate, query string) bool {
	return strings.Contains(NormalizeDocNumber(candidate), NormalizeDocNumber(query))
}

var matchTiers = []matcher{exactMatch, baseMatch, prefixMatch, containsMatch}

// firstMatch scans the full candidate set once per tier, so a stricter
// match anywhere in the set always wins over a looser one earlier in it.
func firstMatch(docs []model.RepositoryDocument, number string) *model.RepositoryDocument {
	if NormalizeDocNumber(number) == "" {
		return nil
	}
	for _, match := range matchTiers {
		for i := range docs {
			if match(docs[i].DocumentNumber, number) {
				return &docs[i]
			}
		}
	}
	return nil
}
