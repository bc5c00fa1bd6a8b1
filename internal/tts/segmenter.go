package tts

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ambiware-labs/verba/internal/config"
)

// sentenceEndRe matches a sentence terminator (with any trailing closing
// quotes or brackets) followed by whitespace.
var sentenceEndRe = regexp.MustCompile(`[.!?]+['")\]]*\s+`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// softBreakSuffixes are clause separators where an over-long sentence may be
// cut early once the minimum chunk size is satisfied.
var softBreakSuffixes = []string{";", ":", "—", "-"}

// Segmenter splits text into synthesis-sized chunks. Shorter chunks start
// playback sooner; too-short chunks sound clipped, so both directions are
// bounded.
type Segmenter struct {
	minChars int
	minWords int
	maxChars int
	maxWords int
}

func NewSegmenter(cfg config.SegmentationConfig) *Segmenter {
	return &Segmenter{
		minChars: cfg.MinChars,
		minWords: cfg.MinWords,
		maxChars: cfg.MaxChars,
		maxWords: cfg.MaxWords,
	}
}

// Split turns one sentence or utterance into segments, each within the
// configured bounds unless a single word alone exceeds them.
func (s *Segmenter) Split(text string) []string {
	normalized := normalizeWhitespace(text)
	if normalized == "" {
		return nil
	}
	units := splitSentenceUnits(normalized)
	if len(units) == 0 {
		return []string{normalized}
	}
	units = s.mergeShort(units)

	var expanded []string
	for _, unit := range units {
		if s.tooLong(unit) {
			expanded = append(expanded, s.chunkByWords(unit)...)
		} else {
			expanded = append(expanded, unit)
		}
	}
	var cleaned []string
	for _, unit := range expanded {
		if trimmed := strings.TrimSpace(unit); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	// Re-chunking can produce fresh short fragments.
	cleaned = s.mergeShort(cleaned)
	if len(cleaned) == 0 {
		return []string{normalized}
	}
	return cleaned
}

func (s *Segmenter) tooShort(text string) bool {
	return len(strings.Fields(text)) < s.minWords
}

func (s *Segmenter) tooLong(text string) bool {
	if utf8.RuneCountInString(text) > s.maxChars {
		return true
	}
	return len(strings.Fields(text)) > s.maxWords
}

// mergeShort concatenates units shorter than the minimum bound onto their
// successor. A trailing unit that is still short is merged backward into its
// predecessor rather than emitted alone.
func (s *Segmenter) mergeShort(units []string) []string {
	var merged []string
	buffer := ""
	for _, unit := range units {
		if buffer == "" {
			buffer = unit
			continue
		}
		if s.tooShort(buffer) {
			buffer = strings.TrimSpace(buffer + " " + unit)
		} else {
			merged = append(merged, buffer)
			buffer = unit
		}
	}
	if buffer != "" {
		if s.tooShort(buffer) && len(merged) > 0 {
			merged[len(merged)-1] = merged[len(merged)-1] + " " + buffer
		} else {
			merged = append(merged, buffer)
		}
	}
	return merged
}

// chunkByWords re-chunks an over-long unit by accumulating words, closing a
// chunk when the next word would exceed the character or word budget, or at
// a soft break once the minimum size is reached.
func (s *Segmenter) chunkByWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	var current []string
	for _, word := range words {
		if len(current) == 0 {
			current = append(current, word)
			continue
		}
		joined := strings.Join(current, " ")
		candidateLen := utf8.RuneCountInString(joined) + 1 + utf8.RuneCountInString(word)
		if candidateLen > s.maxChars || len(current)+1 > s.maxWords {
			chunks = append(chunks, joined)
			current = []string{word}
			continue
		}
		current = append(current, word)
		if utf8.RuneCountInString(strings.Join(current, " ")) >= s.minChars && hasSoftBreak(word) {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func hasSoftBreak(word string) bool {
	for _, suffix := range softBreakSuffixes {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// splitSentenceUnits splits normalized text on sentence-terminal punctuation
// followed by whitespace, keeping the terminator with its sentence.
func splitSentenceUnits(text string) []string {
	var units []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		end := loc[1]
		if unit := strings.TrimSpace(text[start:end]); unit != "" {
			units = append(units, unit)
		}
		start = end
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		units = append(units, tail)
	}
	return units
}
