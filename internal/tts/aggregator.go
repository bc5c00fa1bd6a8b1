package tts

import "strings"

// SentenceAggregator buffers streaming response-text fragments and releases
// only complete, adequately long sentences, so the segmenter and worker are
// never fed a half-formed one.
//
// It splits on sentence-ending punctuation only, never on commas. A popped
// sentence with fewer than minWords words is held back (the carry) and
// prefixed onto the next sentence instead of being spoken alone.
//
// The aggregator is not safe for concurrent use; it is owned by a single
// per-session pipeline goroutine.
type SentenceAggregator struct {
	enabled  bool
	minWords int
	buffer   string
	carry    string
}

func NewSentenceAggregator(enabled bool, minWords int) *SentenceAggregator {
	if minWords < 1 {
		minWords = 1
	}
	return &SentenceAggregator{enabled: enabled, minWords: minWords}
}

// Push appends a text fragment and returns any sentences that became ready.
// When aggregation is disabled, text is held until Flush.
func (a *SentenceAggregator) Push(fragment string) []string {
	a.buffer += fragment
	if !a.enabled {
		return nil
	}

	var ready []string
	for {
		sentence, ok := a.popSentence()
		if !ok {
			break
		}
		if merged := a.mergeOrCarry(sentence); merged != "" {
			ready = append(ready, merged)
		}
	}
	return ready
}

// Flush returns whatever remains at end-of-response: the carry joined with
// any unterminated tail, even if short. Trailing text is never dropped.
func (a *SentenceAggregator) Flush() string {
	remaining := strings.TrimSpace(a.buffer)
	if a.carry != "" {
		remaining = strings.TrimSpace(a.carry + " " + remaining)
	}
	a.buffer = ""
	a.carry = ""
	return remaining
}

// Reset discards all buffered text without emitting it. Used on
// interruption or cancellation.
func (a *SentenceAggregator) Reset() {
	a.buffer = ""
	a.carry = ""
}

// popSentence removes and returns the first complete sentence in the
// buffer. A terminator at the very end of the buffer does not count: the
// next fragment may still extend the sentence (e.g. "3." followed by "14").
func (a *SentenceAggregator) popSentence() (string, bool) {
	loc := sentenceEndRe.FindStringIndex(a.buffer)
	if loc == nil {
		return "", false
	}
	sentence := strings.TrimSpace(a.buffer[:loc[1]])
	a.buffer = a.buffer[loc[1]:]
	return sentence, sentence != ""
}

func (a *SentenceAggregator) mergeOrCarry(sentence string) string {
	if a.carry != "" {
		sentence = strings.TrimSpace(a.carry + " " + sentence)
		a.carry = ""
	}
	if len(strings.Fields(sentence)) < a.minWords {
		a.carry = sentence
		return ""
	}
	return sentence
}
