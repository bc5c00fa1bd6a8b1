package tts

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ambiware-labs/verba/internal/config"
)

func testSegCfg() config.SegmentationConfig {
	return config.SegmentationConfig{
		Enabled:  true,
		MinChars: 10,
		MinWords: 2,
		MaxChars: 48,
		MaxWords: 12,
	}
}

func TestSplitBoundsSegmentLength(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	text := "The quick brown fox jumps over the lazy dog near the river bank and keeps running until sunset falls over the quiet hills."

	segments := seg.Split(text)
	if len(segments) < 2 {
		t.Fatalf("expected long text to split, got %d segments: %v", len(segments), segments)
	}
	for _, s := range segments {
		if utf8.RuneCountInString(s) > 48 {
			t.Errorf("segment exceeds max chars: %q (%d runes)", s, utf8.RuneCountInString(s))
		}
		if len(strings.Fields(s)) > 12 {
			t.Errorf("segment exceeds max words: %q", s)
		}
	}
}

func TestSplitLosesNoText(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	text := "First sentence is here. Second one follows! And a third, with a comma, trails off without punctuation"

	segments := seg.Split(text)
	stripped := func(s string) string {
		return strings.Join(strings.Fields(s), "")
	}
	if got, want := stripped(strings.Join(segments, " ")), stripped(text); got != want {
		t.Fatalf("segmentation dropped or altered text:\n got %q\nwant %q", got, want)
	}
}

func TestSplitMergesShortSentenceForward(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	segments := seg.Split("Hi. Let's talk about the weather today.")
	if len(segments) != 1 {
		t.Fatalf("expected short leading sentence to merge, got %v", segments)
	}
	if segments[0] != "Hi. Let's talk about the weather today." {
		t.Fatalf("unexpected merged segment: %q", segments[0])
	}
}

func TestSplitMergesShortTrailingSentenceBackward(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	segments := seg.Split("This is a complete sentence. OK.")
	if len(segments) != 1 {
		t.Fatalf("expected trailing short sentence to merge backward, got %v", segments)
	}
	if segments[0] != "This is a complete sentence. OK." {
		t.Fatalf("unexpected merged segment: %q", segments[0])
	}
}

func TestSplitBreaksAtClauseSeparator(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	segments := seg.Split("alpha beta gamma; delta epsilon zeta eta theta iota kappa lambda mu")
	if len(segments) < 2 {
		t.Fatalf("expected over-long clause to split, got %v", segments)
	}
	if !strings.HasSuffix(segments[0], ";") {
		t.Fatalf("expected first chunk to end at the clause separator, got %q", segments[0])
	}
}

func TestSplitKeepsUnsplittableWordWhole(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	word := strings.Repeat("a", 60)
	segments := seg.Split(word)
	if len(segments) != 1 || segments[0] != word {
		t.Fatalf("expected single over-long word to stay whole, got %v", segments)
	}
}

func TestSplitEmptyAndWhitespace(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	if got := seg.Split(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := seg.Split("   \n\t "); got != nil {
		t.Fatalf("expected nil for whitespace input, got %v", got)
	}
}

func TestSplitNormalizesWhitespace(t *testing.T) {
	seg := NewSegmenter(testSegCfg())
	segments := seg.Split("Hello   there,\n\nhow are    you today?")
	if len(segments) != 1 {
		t.Fatalf("expected one segment, got %v", segments)
	}
	if segments[0] != "Hello there, how are you today?" {
		t.Fatalf("whitespace not normalized: %q", segments[0])
	}
}
