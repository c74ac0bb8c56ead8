// Package chunker turns normalized document text into an ordered sequence of
// offset-addressable chunks. Chunking is a pure function: identical input
// text and config always yield an identical chunk sequence.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// Default chunk sizing, in whitespace-delimited words.
const (
	DefaultMinWords    = 600
	DefaultTargetWords = 900
	DefaultMaxWords    = 1200
)

// Boundary scan windows around the target cut point, in words.
const (
	paragraphScanWords = 80
	sentenceScanWords  = 40
)

// Config controls chunk sizing. The zero value is not valid; use
// DefaultConfig and override fields as needed.
type Config struct {
	// MinWords is the smallest allowed chunk, except when the whole
	// document is shorter.
	MinWords int

	// TargetWords is the preferred chunk length; cuts snap to the nearest
	// paragraph or sentence boundary around it.
	TargetWords int

	// MaxWords is the hard upper bound per chunk.
	MaxWords int

	// OverlapWords is the number of words each chunk repeats from its
	// predecessor. Zero produces exact coverage with no overlap.
	OverlapWords int
}

// DefaultConfig returns the standard 600/900/1200 sizing with no overlap.
func DefaultConfig() Config {
	return Config{
		MinWords:    DefaultMinWords,
		TargetWords: DefaultTargetWords,
		MaxWords:    DefaultMaxWords,
	}
}

// Validate checks the sizing invariants.
func (c Config) Validate() error {
	if c.OverlapWords < 0 {
		return fmt.Errorf("overlap words must be >= 0: %w", domain.ErrInvalidInput)
	}
	if !(0 < c.MinWords && c.MinWords <= c.TargetWords && c.TargetWords <= c.MaxWords) {
		return fmt.Errorf("expected 0 < min <= target <= max words: %w", domain.ErrInvalidInput)
	}
	return nil
}

var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// Normalize applies the stable text normalization chunk offsets address:
// CRLF/CR to LF, tabs to spaces, trailing whitespace stripped per line, and
// runs of 3+ newlines collapsed to exactly 2. No lowercasing or diacritics
// folding, so normalization is locale-independent and idempotent.
func Normalize(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", " ")

	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRightFunc(ln, unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")

	return collapseNewlines.ReplaceAllString(s, "\n\n")
}

// span is one word's half-open byte range in the normalized text.
type span struct {
	start int
	end   int
}

// wordSpans returns the byte span of every maximal run of non-whitespace.
func wordSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start: start, end: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}

// hasParagraphBoundary reports whether the whitespace after word endIdx-1
// contains a blank line.
func hasParagraphBoundary(text string, spans []span, endIdx int) bool {
	if endIdx <= 0 || endIdx > len(spans) {
		return false
	}
	lastEnd := spans[endIdx-1].end
	nextStart := len(text)
	if endIdx < len(spans) {
		nextStart = spans[endIdx].start
	}
	return strings.Contains(text[lastEnd:nextStart], "\n\n")
}

// hasSentenceBoundary reports whether word endIdx-1 ends with a sentence
// terminator.
func hasSentenceBoundary(text string, spans []span, endIdx int) bool {
	if endIdx <= 0 || endIdx > len(spans) {
		return false
	}
	lastEnd := spans[endIdx-1].end
	if lastEnd <= 0 {
		return false
	}
	switch text[lastEnd-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// bestBoundary picks the candidate boundary closest to target (ties to the
// smaller index) in [lo, hi], or -1 when none qualifies.
func bestBoundary(text string, spans []span, lo, hi, target int, check func(string, []span, int) bool) int {
	best := -1
	bestDist := 0
	for j := lo; j <= hi; j++ {
		if !check(text, spans, j) {
			continue
		}
		d := j - target
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist || (d == bestDist && j < best) {
			best = j
			bestDist = d
		}
	}
	return best
}

// Chunk splits normalized text into chunks for the given document. Offsets
// are byte offsets into text; word counts are whitespace-delimited token
// counts inside each span. The cut point prefers a paragraph boundary near
// the target length, then a sentence boundary, then the target itself.
//
// Every produced chunk is verified against the source text before being
// returned; a violation yields domain.ErrChunkConsistency and no chunks.
func Chunk(documentID, text string, cfg Config) ([]domain.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	spans := wordSpans(text)
	n := len(spans)
	if n == 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	if n <= cfg.MaxWords {
		c := makeChunk(documentID, 0, text, spans, 0, n, now)
		if err := verifyChunks(text, []domain.Chunk{c}, cfg); err != nil {
			return nil, err
		}
		return []domain.Chunk{c}, nil
	}

	var chunks []domain.Chunk
	i := 0
	for i < n {
		var endIdx int
		if n-i <= cfg.MaxWords {
			endIdx = n
		} else {
			target := min(i+cfg.TargetWords, n)
			lo := min(i+cfg.MinWords, n)
			hi := min(i+cfg.MaxWords, n)

			pLo := max(lo, target-paragraphScanWords)
			pHi := min(hi, target+paragraphScanWords)
			endIdx = bestBoundary(text, spans, pLo, pHi, target, hasParagraphBoundary)
			if endIdx < 0 {
				sLo := max(lo, target-sentenceScanWords)
				sHi := min(hi, target+sentenceScanWords)
				endIdx = bestBoundary(text, spans, sLo, sHi, target, hasSentenceBoundary)
			}
			if endIdx < 0 {
				endIdx = max(lo, min(target, hi))
			}
			if endIdx <= i {
				endIdx = min(n, i+max(cfg.MinWords, 1))
			}
		}

		chunks = append(chunks, makeChunk(documentID, len(chunks), text, spans, i, endIdx, now))

		next := endIdx - cfg.OverlapWords
		if next <= i {
			next = endIdx
		}
		i = next
	}

	if err := verifyChunks(text, chunks, cfg); err != nil {
		return nil, err
	}
	return chunks, nil
}

func makeChunk(documentID string, index int, text string, spans []span, fromWord, toWord int, now time.Time) domain.Chunk {
	start := spans[fromWord].start
	end := spans[toWord-1].end
	return domain.Chunk{
		ID:          domain.ChunkID(documentID, index),
		DocumentID:  documentID,
		ChunkIndex:  index,
		StartOffset: start,
		EndOffset:   end,
		WordCount:   toWord - fromWord,
		Text:        text[start:end],
		CreatedAt:   now,
	}
}

// verifyChunks checks the structural invariants of a produced sequence:
// offsets in bounds and ordered, text equal to the addressed span, word
// counts matching the span content, and (without overlap) strictly
// increasing, non-overlapping spans.
func verifyChunks(text string, chunks []domain.Chunk, cfg Config) error {
	prevStart := -1
	prevEnd := 0
	for i, c := range chunks {
		if c.ChunkIndex != i {
			return fmt.Errorf("chunk %d: index %d not dense: %w", i, c.ChunkIndex, domain.ErrChunkConsistency)
		}
		if c.StartOffset < 0 || c.EndOffset > len(text) || c.StartOffset >= c.EndOffset {
			return fmt.Errorf("chunk %d: offsets [%d,%d) out of bounds: %w",
				i, c.StartOffset, c.EndOffset, domain.ErrChunkConsistency)
		}
		if c.Text != text[c.StartOffset:c.EndOffset] {
			return fmt.Errorf("chunk %d: text does not match addressed span: %w", i, domain.ErrChunkConsistency)
		}
		if got := len(wordSpans(c.Text)); got != c.WordCount {
			return fmt.Errorf("chunk %d: word count %d, span contains %d: %w",
				i, c.WordCount, got, domain.ErrChunkConsistency)
		}
		if c.StartOffset <= prevStart {
			return fmt.Errorf("chunk %d: start offset not increasing: %w", i, domain.ErrChunkConsistency)
		}
		if cfg.OverlapWords == 0 && c.StartOffset < prevEnd {
			return fmt.Errorf("chunk %d: overlaps predecessor without overlap configured: %w",
				i, domain.ErrChunkConsistency)
		}
		prevStart = c.StartOffset
		prevEnd = c.EndOffset
	}
	return nil
}
