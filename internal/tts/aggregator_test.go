package tts

import "testing"

func TestAggregatorCarriesShortSentence(t *testing.T) {
	agg := NewSentenceAggregator(true, 3)

	var ready []string
	for _, fragment := range []string{"Hi", ". ", "Let's talk about", " the weather", " today. "} {
		ready = append(ready, agg.Push(fragment)...)
	}
	if len(ready) != 1 {
		t.Fatalf("expected exactly one sentence, got %v", ready)
	}
	if ready[0] != "Hi. Let's talk about the weather today." {
		t.Fatalf("unexpected sentence: %q", ready[0])
	}
	if rest := agg.Flush(); rest != "" {
		t.Fatalf("expected empty flush, got %q", rest)
	}
}

func TestAggregatorHoldsTerminatorAtBufferEnd(t *testing.T) {
	agg := NewSentenceAggregator(true, 1)

	// "3." may still be extended by the next fragment, so nothing pops yet.
	if ready := agg.Push("Pi is 3."); len(ready) != 0 {
		t.Fatalf("expected nothing before trailing whitespace, got %v", ready)
	}
	ready := agg.Push("14159, roughly. ")
	if len(ready) != 1 || ready[0] != "Pi is 3.14159, roughly." {
		t.Fatalf("decimal split across fragments: %v", ready)
	}
}

func TestAggregatorFlushEmitsTrailingText(t *testing.T) {
	agg := NewSentenceAggregator(true, 3)

	if ready := agg.Push("OK."); len(ready) != 0 {
		t.Fatalf("expected terminator at buffer end to hold, got %v", ready)
	}
	if got := agg.Flush(); got != "OK." {
		t.Fatalf("flush dropped trailing text: %q", got)
	}
}

func TestAggregatorFlushJoinsCarry(t *testing.T) {
	agg := NewSentenceAggregator(true, 5)

	// "Sure. " pops but is below the word floor, so it becomes the carry.
	if ready := agg.Push("Sure. One moment"); len(ready) != 0 {
		t.Fatalf("expected short sentence to be carried, got %v", ready)
	}
	if got := agg.Flush(); got != "Sure. One moment" {
		t.Fatalf("flush lost the carry: %q", got)
	}
}

func TestAggregatorResetDiscardsEverything(t *testing.T) {
	agg := NewSentenceAggregator(true, 3)

	agg.Push("This will never be spoken")
	agg.Reset()
	ready := agg.Push("A fresh answer starts here. ")
	if len(ready) != 1 || ready[0] != "A fresh answer starts here." {
		t.Fatalf("expected only post-reset text, got %v", ready)
	}
	if got := agg.Flush(); got != "" {
		t.Fatalf("expected empty flush after reset, got %q", got)
	}
}

func TestAggregatorDisabledHoldsUntilFlush(t *testing.T) {
	agg := NewSentenceAggregator(false, 3)

	for _, fragment := range []string{"First sentence. ", "Second sentence. "} {
		if ready := agg.Push(fragment); len(ready) != 0 {
			t.Fatalf("disabled aggregator must not emit, got %v", ready)
		}
	}
	if got := agg.Flush(); got != "First sentence. Second sentence." {
		t.Fatalf("unexpected flush in disabled mode: %q", got)
	}
}
