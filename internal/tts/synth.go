package tts

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/ambiware-labs/verba/internal/config"
	"github.com/ambiware-labs/verba/internal/tts/worker"
)

// WorkerSynth produces audio through an isolated worker subprocess managed
// by the worker pool. The actual voice model runs entirely inside the
// worker; this side only speaks the line protocol and orders the output.
type WorkerSynth struct {
	cfg     config.SpeechConfig
	pool    *worker.Pool
	sig     worker.Signature
	seg     *Segmenter
	emitter *Emitter
	log     *slog.Logger
}

func NewWorkerSynth(cfg config.SpeechConfig, pool *worker.Pool, log *slog.Logger) *WorkerSynth {
	return &WorkerSynth{
		cfg:     cfg,
		pool:    pool,
		sig:     worker.NewSignature(cfg),
		seg:     NewSegmenter(cfg.Segmentation),
		emitter: NewEmitter(cfg),
		log:     log.With(slog.String("component", "worker-synth")),
	}
}

func (s *WorkerSynth) initCommand() worker.Command {
	cmd := worker.Command{
		"cmd":   "init",
		"model": s.cfg.Model,
		"voice": s.cfg.Voice,
	}
	if s.cfg.Language != "" {
		cmd["language"] = s.cfg.Language
	}
	for key, value := range s.cfg.ExtraSettings {
		cmd[key] = value
	}
	return cmd
}

func (s *WorkerSynth) generateCommand(text string) worker.Command {
	cmd := worker.Command{
		"cmd":  "generate",
		"text": text,
	}
	for key, value := range s.cfg.ExtraSettings {
		cmd[key] = value
	}
	return cmd
}

// Warmup preloads the worker and its model.
func (s *WorkerSynth) Warmup(ctx context.Context) error {
	return s.pool.EnsureInitialized(ctx, s.sig, s.initCommand())
}

// WarmupGenerate warms the model further by synthesizing a short sample and
// discarding the audio.
func (s *WorkerSynth) WarmupGenerate(ctx context.Context, text string) error {
	if err := s.Warmup(ctx); err != nil {
		return err
	}
	_, err := s.generate(ctx, text)
	return err
}

// Configure pushes runtime settings to the worker without reinitializing.
func (s *WorkerSynth) Configure(ctx context.Context, settings map[string]any) error {
	cmd := worker.Command{"cmd": "configure"}
	for key, value := range settings {
		cmd[key] = value
	}
	resp, err := s.pool.Exchange(ctx, s.sig, cmd)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return &worker.GenerationError{Reason: resp.Error}
	}
	if !resp.Success {
		return &worker.ProtocolError{Reason: "configure response reported neither success nor error"}
	}
	return nil
}

func (s *WorkerSynth) generate(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.pool.Exchange(ctx, s.sig, s.generateCommand(text))
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &worker.GenerationError{Reason: resp.Error}
	}
	if !resp.Success || resp.Audio == nil {
		return nil, &worker.ProtocolError{Reason: "generate response missing audio payload"}
	}
	pcm, err := base64.StdEncoding.DecodeString(*resp.Audio)
	if err != nil {
		return nil, &worker.ProtocolError{Reason: "audio payload is not valid base64"}
	}
	return pcm, nil
}

// Synthesize segments the text and streams ordered audio frames. The
// interrupt epoch is re-checked before every worker call and every frame;
// on mismatch the operation is abandoned silently with no error.
func (s *WorkerSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan Frame, <-chan error) {
	frames := make(chan Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		epoch := req.Interrupter.Epoch()
		aborted := func() bool { return req.Interrupter.Interrupted(epoch) }

		if err := s.Warmup(ctx); err != nil {
			errs <- err
			return
		}
		if aborted() {
			return
		}

		segments := []string{req.Text}
		if s.cfg.Segmentation.Enabled {
			if split := s.seg.Split(req.Text); len(split) > 0 {
				segments = split
			}
		}

		seq := 0
		for index, segment := range segments {
			if segment == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			if aborted() {
				return
			}
			pcm, err := s.generate(ctx, segment)
			if err != nil {
				errs <- err
				return
			}
			if aborted() {
				return
			}
			final := index == len(segments)-1
			if !s.emitter.Emit(ctx, frames, &seq, pcm, index, len(segments), segment, final, aborted) {
				return
			}
		}
	}()

	return frames, errs
}
