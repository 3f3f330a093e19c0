package pipeline

import (
	"strings"
	"unicode"
)

// ChunkConfig tunes the sliding-window text chunker. MaxChunkSize is the
// character budget per chunk before overlap (default 1000). OverlapSize is
// the number of characters copied from the previous chunk's tail into the
// next chunk (default MaxChunkSize/10). SplitSentences splits oversized
// sections on sentence boundaries; when false, paragraph boundaries are
// used instead.
type ChunkConfig struct {
	MaxChunkSize   int
	OverlapSize    int
	SplitSentences bool
}

// DefaultChunkConfig returns the pipeline defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChunkSize:   1000,
		OverlapSize:    100,
		SplitSentences: true,
	}
}

func (c ChunkConfig) normalized() ChunkConfig {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 1000
	}
	if c.OverlapSize <= 0 {
		c.OverlapSize = c.MaxChunkSize / 10
	}
	return c
}

// pageMarker is an explicit section boundary some extractors emit.
const pageMarker = "---PAGE---"

// splitSections breaks markdown into sections at heading lines or explicit
// page markers. Zero boundaries means the whole input is one section.
func splitSections(markdown string) []string {
	lines := strings.Split(markdown, "\n")

	var sections []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == pageMarker {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			flush()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		return []string{markdown}
	}
	return sections
}

// chunkSection splits one section into chunks no longer than
// MaxChunkSize+OverlapSize. Sections within budget pass through untouched.
// Each subsequent chunk starts with the tail of its predecessor so context
// bleeds across the boundary.
func chunkSection(section string, cfg ChunkConfig) []string {
	cfg = cfg.normalized()

	if len(section) <= cfg.MaxChunkSize {
		return []string{section}
	}

	var parts []string
	if cfg.SplitSentences {
		parts = splitSentences(section)
	} else {
		parts = splitParagraphs(section)
	}

	var chunks []string
	var current strings.Builder
	seedLen := 0 // bytes of current that are overlap carried from the previous chunk

	flush := func() {
		text := current.String()
		chunks = append(chunks, text)
		current.Reset()
		seedLen = 0

		// seed the next chunk with the tail of this one
		if cfg.OverlapSize > 0 && len(text) > cfg.OverlapSize {
			current.WriteString(text[len(text)-cfg.OverlapSize:])
			seedLen = cfg.OverlapSize
		}
	}

	for _, part := range parts {
		if current.Len()+len(part) > cfg.MaxChunkSize+cfg.OverlapSize {
			// flush accumulated content first, unless it is only the seed
			if current.Len() > seedLen {
				flush()
			}
			// hard-split anything that still cannot fit
			for current.Len()+len(part) > cfg.MaxChunkSize+cfg.OverlapSize {
				room := cfg.MaxChunkSize + cfg.OverlapSize - current.Len()
				current.WriteString(part[:room])
				part = part[room:]
				flush()
			}
		}
		current.WriteString(part)
	}
	if current.Len() > seedLen && strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// splitSentences cuts text after ./!/? followed by whitespace, keeping the
// trailing whitespace attached so concatenation reproduces the input.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			// consume following whitespace into this sentence
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				current.WriteRune(runes[j])
				j++
			}
			if j > i+1 || j == len(runes) {
				sentences = append(sentences, current.String())
				current.Reset()
				i = j - 1
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// splitParagraphs cuts text on blank lines, keeping separators attached.
func splitParagraphs(text string) []string {
	parts := strings.SplitAfter(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}
