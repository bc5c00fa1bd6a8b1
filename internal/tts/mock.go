package tts

import (
	"context"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
)

// mockSynth fabricates silent audio. Used in development and tests where no
// worker backend is available.
type mockSynth struct {
	cfg     config.SpeechConfig
	seg     *Segmenter
	emitter *Emitter
}

func NewMockSynth(cfg config.SpeechConfig) Synthesizer {
	return &mockSynth{
		cfg:     cfg,
		seg:     NewSegmenter(cfg.Segmentation),
		emitter: NewEmitter(cfg),
	}
}

func (m *mockSynth) Warmup(context.Context) error { return nil }

func (m *mockSynth) WarmupGenerate(context.Context, string) error { return nil }

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan Frame, <-chan error) {
	frames := make(chan Frame)
	errs := make(chan error, 1)
	go func() {
		defer close(frames)
		defer close(errs)

		epoch := req.Interrupter.Epoch()
		aborted := func() bool { return req.Interrupter.Interrupted(epoch) }

		segments := []string{req.Text}
		if m.cfg.Segmentation.Enabled {
			if split := m.seg.Split(req.Text); len(split) > 0 {
				segments = split
			}
		}

		// 200ms of silence per segment, regardless of text.
		pcm := make([]byte, m.cfg.SampleRate*m.cfg.Channels*2/5)
		seq := 0
		for index, segment := range segments {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(5 * time.Millisecond):
			}
			if aborted() {
				return
			}
			final := index == len(segments)-1
			if !m.emitter.Emit(ctx, frames, &seq, pcm, index, len(segments), segment, final, aborted) {
				return
			}
		}
	}()
	return frames, errs
}
