package services

import (
	"strings"
	"unicode"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/logger"
)

// Citation extraction parameters.
const (
	// citationWindow is the target quote length around a term match.
	citationWindow = 220

	// citationFallback is the quote length when no term matches.
	citationFallback = 200

	// maxCitationsPerHit caps the citations attached to one hit.
	maxCitationsPerHit = 2

	// maxQueryTerms caps how many query terms are scanned for.
	maxQueryTerms = 20
)

// queryTerms extracts the match terms from a raw query: double-quoted
// phrases are kept whole, the remainder is split into words. Terms are
// lowercased and deduplicated preserving first-seen order.
func queryTerms(query string) []string {
	//nolint:prealloc // size unknown until parsed
	var terms []string
	seen := make(map[string]bool)

	add := func(t string) {
		t = asciiLower(strings.TrimSpace(t))
		if len(t) < 2 || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}

	rest := query
	for {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open+1:], '"')
		if end < 0 {
			break
		}
		add(rest[open+1 : open+1+end])
		rest = rest[:open] + " " + rest[open+2+end:]
	}

	for _, w := range strings.FieldsFunc(rest, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		add(w)
	}

	if len(terms) > maxQueryTerms {
		terms = terms[:maxQueryTerms]
	}
	return terms
}

// extractCitations produces up to maxCitationsPerHit verified quote spans
// from the chunk text. Each quote is a window around a term match, snapped
// to whitespace so it never starts or ends mid-word. When no term matches,
// a single leading-text quote is used so every hit carries at least one
// citation. Every span is re-verified against the text before it is kept.
func extractCitations(text string, terms []string, sourceURL string) []domain.Citation {
	if text == "" {
		return nil
	}
	lower := asciiLower(text)

	//nolint:prealloc // size unknown until matched
	var spans [][2]int
	searchFrom := 0
	for len(spans) < maxCitationsPerHit {
		pos, termLen := firstMatch(lower, terms, searchFrom)
		if pos < 0 {
			break
		}
		start, end := window(text, pos, pos+termLen, citationWindow)
		spans = append(spans, [2]int{start, end})
		// Continue past this window so a second citation covers new text.
		searchFrom = end
	}

	if len(spans) == 0 {
		end := min(len(text), citationFallback)
		_, end = window(text, 0, end, citationFallback)
		spans = append(spans, [2]int{0, end})
	}

	//nolint:prealloc // spans may fail verification
	var citations []domain.Citation
	for _, sp := range spans {
		quote := text[sp[0]:sp[1]]
		if err := verifyQuote(text, quote, sp[0], sp[1]); err != nil {
			// Never emit a quote that does not match the source text.
			logger.Warn("Dropping citation: %v", err)
			continue
		}
		citations = append(citations, domain.Citation{
			Idx:       len(citations),
			Quote:     quote,
			Start:     sp[0],
			End:       sp[1],
			SourceURL: sourceURL,
		})
	}
	return citations
}

// asciiLower folds only 'A'-'Z', byte for byte. Unicode case folding can
// change byte length (e.g. İ lowercases to a two-rune sequence), which
// would shift match positions relative to the original text. Matching
// stays case-sensitive for non-ASCII letters; offsets stay exact.
func asciiLower(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// firstMatch finds the earliest occurrence of any term at or after from.
// Returns the byte position and the matched term's length, or (-1, 0).
func firstMatch(lower string, terms []string, from int) (int, int) {
	if from >= len(lower) {
		return -1, 0
	}
	best, bestLen := -1, 0
	for _, t := range terms {
		pos := strings.Index(lower[from:], t)
		if pos < 0 {
			continue
		}
		pos += from
		if best < 0 || pos < best {
			best, bestLen = pos, len(t)
		}
	}
	return best, bestLen
}

// window expands the span [matchStart, matchEnd) to roughly size bytes,
// centred on the match, then snaps both edges to whitespace boundaries so
// the quote reads cleanly.
func window(text string, matchStart, matchEnd, size int) (int, int) {
	pad := (size - (matchEnd - matchStart)) / 2
	if pad < 0 {
		pad = 0
	}
	start := max(0, matchStart-pad)
	end := min(len(text), matchEnd+pad)

	// Snap inward to the nearest word boundary, unless already at a
	// text edge.
	if start > 0 {
		for start < matchStart && !isBoundary(text, start) {
			start++
		}
	}
	if end < len(text) {
		for end > matchEnd && !isBoundary(text, end) {
			end--
		}
	}

	// Leave edge whitespace out of the quote.
	for start < matchStart && (text[start] == ' ' || text[start] == '\n') {
		start++
	}
	for end > matchEnd && (text[end-1] == ' ' || text[end-1] == '\n') {
		end--
	}
	return start, end
}

// isBoundary reports whether position i sits on a word boundary: the
// previous byte is whitespace or the byte at i is whitespace.
func isBoundary(text string, i int) bool {
	if i <= 0 || i >= len(text) {
		return true
	}
	return text[i-1] == ' ' || text[i-1] == '\n' || text[i] == ' ' || text[i] == '\n'
}

// verifyQuote checks the extracted quote against the source span. A
// failure means an internal offset bug; the citation is discarded rather
// than persisted wrong.
func verifyQuote(text, quote string, start, end int) error {
	if start < 0 || end > len(text) || start >= end {
		return domain.ErrCitationMismatch
	}
	if text[start:end] != quote {
		return domain.ErrCitationMismatch
	}
	return nil
}
