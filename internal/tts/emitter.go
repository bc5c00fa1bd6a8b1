package tts

import (
	"context"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
)

// Emitter slices decoded segment audio into fixed-size frames and paces
// their emission so audio sending interleaves fairly with other work.
type Emitter struct {
	sampleRate int
	channels   int
	chunkSize  int
	pace       time.Duration
}

func NewEmitter(cfg config.SpeechConfig) *Emitter {
	// 16-bit PCM: two bytes per sample per channel.
	chunkSize := cfg.ChunkDurationMS * cfg.SampleRate * cfg.Channels * 2 / 1000
	return &Emitter{
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		chunkSize:  chunkSize,
		pace:       time.Millisecond,
	}
}

// Emit streams one segment's PCM as frames on out, advancing *seq for each.
// abort is consulted before every frame; Emit returns false as soon as it
// reports true or the context ends, emitting nothing further. final marks
// the last frame of the last segment.
func (e *Emitter) Emit(ctx context.Context, out chan<- Frame, seq *int, pcm []byte, segIndex, segCount int, text string, final bool, abort func() bool) bool {
	if len(pcm) == 0 {
		return true
	}
	chunkSize := e.chunkSize
	if chunkSize <= 0 {
		// No configured frame size: the whole buffer is one frame.
		chunkSize = len(pcm)
	}
	for offset := 0; offset < len(pcm); offset += chunkSize {
		if ctx.Err() != nil || (abort != nil && abort()) {
			return false
		}
		end := offset + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := Frame{
			Sequence:     *seq,
			SegmentIndex: segIndex,
			SegmentCount: segCount,
			SegmentText:  text,
			SampleRate:   e.sampleRate,
			Channels:     e.channels,
			PCM:          pcm[offset:end],
			Final:        final && end == len(pcm),
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return false
		}
		*seq++
		time.Sleep(e.pace)
	}
	return true
}
