package tts

import "context"

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	SessionID   string
	UtteranceID string
	Text        string
	// Interrupter, when set, lets the synthesizer abandon work after a
	// user interruption. May be nil for warmup-style calls.
	Interrupter *Interrupter
}

// Frame is one slice of synthesized PCM, tagged with enough metadata for a
// consumer to reconstruct ordering and correlate audio with its text.
type Frame struct {
	Sequence     int
	SegmentIndex int
	SegmentCount int
	SegmentText  string
	SampleRate   int
	Channels     int
	PCM          []byte
	Final        bool
}

// Synthesizer is the contract for producing audio from text.
type Synthesizer interface {
	// Warmup makes sure the backend is loaded and ready.
	Warmup(ctx context.Context) error
	// WarmupGenerate additionally exercises one short generation so the
	// first real utterance pays no model-warmup latency.
	WarmupGenerate(ctx context.Context, text string) error
	// Synthesize streams audio frames for the request. The frames channel
	// closes when the utterance is done or abandoned; at most one error is
	// delivered on the error channel.
	Synthesize(ctx context.Context, req SynthRequest) (<-chan Frame, <-chan error)
}
