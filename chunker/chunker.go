// Package chunker splits resolved markdown into store-ready chunks.
// Splitting respects formula blocks: a $$...$$ span is atomic and is
// never divided across chunks, so retrieval always sees whole formulas.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/brunobiangulo/texrag/store"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per chunk.
	Overlap   int // Token overlap between consecutive chunks.
}

// Chunker converts markdown into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 128
	}
	return &Chunker{cfg: cfg}
}

// block is one indivisible unit of markdown: a heading, a paragraph, or
// a display formula.
type block struct {
	text      string
	heading   string // set when the block IS a heading line
	isFormula bool
}

// Chunk splits markdown into ordered chunks. Each chunk carries the
// heading it appeared under. DocumentID is left for the caller to fill
// in before insertion.
func (c *Chunker) Chunk(markdown string) []store.Chunk {
	blocks := splitBlocks(markdown)

	var chunks []store.Chunk
	var current strings.Builder
	currentTokens := 0
	currentHeading := ""
	chunkHeading := ""
	pos := 0

	flush := func(overlapNext bool) string {
		text := strings.TrimSpace(current.String())
		if text == "" {
			return ""
		}
		chunks = append(chunks, store.Chunk{
			Content:       text,
			Heading:       chunkHeading,
			PositionInDoc: pos,
			TokenCount:    estimateTokens(text),
			HasFormula:    strings.Contains(text, "$$"),
			ContentHash:   contentHash(text),
		})
		pos++
		current.Reset()
		currentTokens = 0
		if overlapNext {
			return extractOverlap(text, c.cfg.Overlap)
		}
		return ""
	}

	add := func(text string, tokens int) {
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(text)
		currentTokens += tokens
	}

	for _, b := range blocks {
		if b.heading != "" {
			// A heading starts a new context; flush without overlap so
			// the next chunk opens cleanly at the section boundary.
			flush(false)
			currentHeading = b.heading
			chunkHeading = currentHeading
			add(b.text, estimateTokens(b.text))
			continue
		}

		tokens := estimateTokens(b.text)

		// Oversized prose blocks split at sentence boundaries. Formula
		// blocks stay whole no matter their size.
		if tokens > c.cfg.MaxTokens && !b.isFormula {
			for _, frag := range c.splitBySentences(b.text) {
				fragTokens := estimateTokens(frag)
				if currentTokens+fragTokens > c.cfg.MaxTokens && current.Len() > 0 {
					if ov := flush(true); ov != "" {
						chunkHeading = currentHeading
						add(ov, estimateTokens(ov))
					} else {
						chunkHeading = currentHeading
					}
				}
				add(frag, fragTokens)
			}
			continue
		}

		if currentTokens+tokens > c.cfg.MaxTokens && current.Len() > 0 {
			if ov := flush(true); ov != "" {
				chunkHeading = currentHeading
				add(ov, estimateTokens(ov))
			} else {
				chunkHeading = currentHeading
			}
		}
		if current.Len() == 0 {
			chunkHeading = currentHeading
		}
		add(b.text, tokens)
	}
	flush(false)

	return chunks
}

// splitBlocks breaks markdown into headings, paragraphs and formula
// blocks. Blank lines separate paragraphs, except inside an open
// $$...$$ span, which is kept as a single block.
func splitBlocks(markdown string) []block {
	lines := strings.Split(markdown, "\n")
	var blocks []block
	var buf []string
	inFormula := false

	endBlock := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if text == "" {
			return
		}
		blocks = append(blocks, block{text: text, isFormula: isFormulaBlock(text)})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inFormula && trimmed == "" {
			endBlock()
			continue
		}

		if !inFormula && strings.HasPrefix(trimmed, "#") {
			endBlock()
			blocks = append(blocks, block{
				text:    trimmed,
				heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#")),
			})
			continue
		}

		buf = append(buf, line)

		// An odd number of $$ on the accumulated lines means the span is
		// still open and blank lines must not break the block.
		if strings.Count(line, "$$")%2 == 1 {
			inFormula = !inFormula
		}
	}
	endBlock()

	return blocks
}

// isFormulaBlock reports whether a block is a bare display formula, as
// opposed to prose that merely contains one inline.
func isFormulaBlock(text string) bool {
	return strings.HasPrefix(text, "$$") && strings.HasSuffix(text, "$$")
}

// splitBySentences breaks prose into fragments at sentence boundaries,
// each within MaxTokens. Inline formulas are protected because sentence
// boundaries are never taken inside a $$ span.
func (c *Chunker) splitBySentences(text string) []string {
	sentences := splitSentences(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)
		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}
	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}
	return fragments
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// splitSentences is a simple sentence tokeniser. It splits on
// period/question-mark/exclamation followed by whitespace or end of
// string, and never inside a $$ span.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	inFormula := false

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '$' && i+1 < len(runes) && runes[i+1] == '$' {
			cur.WriteRune(runes[i+1])
			i++
			inFormula = !inFormula
			continue
		}
		if inFormula {
			continue
		}
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens. The window never cuts into a
// formula: if the tail would open mid-span, the overlap is dropped.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords > len(words) {
		maxWords = len(words)
	}
	if maxWords == 0 {
		return ""
	}
	tail := strings.Join(words[len(words)-maxWords:], " ")
	if strings.Count(tail, "$$")%2 != 0 {
		return ""
	}
	return tail
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
