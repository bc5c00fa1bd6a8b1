package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ambiware-labs/verba/internal/bus"
	"github.com/ambiware-labs/verba/internal/config"
	"github.com/ambiware-labs/verba/internal/eventstore"
	"github.com/ambiware-labs/verba/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

type controlKind int

const (
	eventResponseStart controlKind = iota
	eventResponseDelta
	eventResponseEnd
	eventInterrupt
	eventSpeak
)

// controlEvent is one typed message on a session's control channel. The
// epoch is captured when the event is enqueued; events carrying a stale
// epoch belong to an interrupted response and are dropped unprocessed.
type controlEvent struct {
	kind        controlKind
	text        string
	utteranceID string
	epoch       uint64
}

// session serializes all speech work for one conversation: a single
// goroutine consumes the control channel, feeds the aggregator and runs
// synthesis, so sentence order within a session is always preserved.
type session struct {
	id          string
	agg         *SentenceAggregator
	interrupter *Interrupter
	events      chan controlEvent
}

// sessionIdleTimeout is how long a session may sit with no control traffic
// before its goroutine exits and its state is dropped.
const sessionIdleTimeout = 5 * time.Minute

// Service connects the speech pipeline to the bus: it aggregates streamed
// response text into sentences, synthesizes them and publishes ordered
// audio frames, reacting to interruptions along the way.
type Service struct {
	cfg    config.SpeechConfig
	bus    *bus.Client
	synth  Synthesizer
	store  *eventstore.Store
	logger *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	subs        []*nats.Subscription
	wg          sync.WaitGroup
	sem         *semaphore.Weighted
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	utterances    metric.Int64Counter
	interruptions metric.Int64Counter
	synthSeconds  metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, synth Synthesizer, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		synth:    synth,
		store:    store,
		ctx:         ctx,
		cancel:      cancel,
		sem:         semaphore.NewWeighted(int64(max(cfg.MaxConcurrent, 1))),
		idleTimeout: sessionIdleTimeout,
		sessions:    make(map[string]*session),
		logger:      log.With(slog.String("component", "speech-service")),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/ambiware-labs/verba/speech")
	var err error
	if s.utterances, err = meter.Int64Counter("verba.speech.utterances",
		metric.WithDescription("Utterances synthesized, by result")); err != nil {
		s.logger.Warn("failed to create utterance counter", slogError(err))
	}
	if s.interruptions, err = meter.Int64Counter("verba.speech.interruptions",
		metric.WithDescription("User interruptions observed")); err != nil {
		s.logger.Warn("failed to create interruption counter", slogError(err))
	}
	if s.synthSeconds, err = meter.Float64Histogram("verba.speech.synthesis.duration",
		metric.WithDescription("Wall time per utterance synthesis"),
		metric.WithUnit("s")); err != nil {
		s.logger.Warn("failed to create synthesis histogram", slogError(err))
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSpeakRequest, s.handleSpeak},
		{protocol.SubjectResponseDelta, s.handleDelta},
		{protocol.SubjectResponseStart, s.handleResponseStart},
		{protocol.SubjectResponseEnd, s.handleResponseEnd},
		{protocol.SubjectInterrupt, s.handleInterrupt},
	}
	for _, entry := range subjects {
		sub, err := s.bus.Conn().Subscribe(entry.subject, entry.handler)
		if err != nil {
			for _, prev := range s.subs {
				_ = prev.Drain()
			}
			s.subs = nil
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

// Warmup preloads the synthesizer, optionally generating a sample.
func (s *Service) Warmup(ctx context.Context, generate bool) error {
	if generate {
		text := s.cfg.WarmupText
		if text == "" {
			text = "Hello"
		}
		return s.synth.WarmupGenerate(ctx, text)
	}
	return s.synth.Warmup(ctx)
}

func (s *Service) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(id)
}

// sessionLocked returns the session, creating it and starting its goroutine
// on first use. Caller holds s.mu.
func (s *Service) sessionLocked(id string) *session {
	sess := s.sessions[id]
	if sess == nil {
		sess = &session{
			id:          id,
			agg:         NewSentenceAggregator(s.cfg.Segmentation.Enabled, s.cfg.Segmentation.MinWords),
			interrupter: NewInterrupter(),
			events:      make(chan controlEvent, 256),
		}
		s.sessions[id] = sess
		s.wg.Add(1)
		go s.runSession(sess)
	}
	return sess
}

func (s *Service) runSession(sess *session) {
	defer s.wg.Done()
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-idle.C:
			if s.retireSession(sess) {
				return
			}
			idle.Reset(s.idleTimeout)
		case ev := <-sess.events:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleTimeout)
			if ev.kind != eventInterrupt && sess.interrupter.Epoch() != ev.epoch {
				// Enqueued before an interruption landed.
				continue
			}
			switch ev.kind {
			case eventResponseStart:
				sess.agg.Reset()
			case eventResponseDelta:
				for _, sentence := range sess.agg.Push(ev.text) {
					s.speak(sess, sentence, "")
				}
			case eventResponseEnd:
				if remaining := sess.agg.Flush(); remaining != "" {
					s.speak(sess, remaining, "")
				}
			case eventInterrupt:
				sess.agg.Reset()
			case eventSpeak:
				s.speak(sess, ev.text, ev.utteranceID)
			}
		}
	}
}

// retireSession drops an idle session's state. Enqueueing happens under the
// same mutex, so either the pending event is seen here and the session is
// kept, or a later dispatch recreates the session fresh; an event can never
// land on a retired goroutine.
func (s *Service) retireSession(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sess.events) > 0 {
		return false
	}
	delete(s.sessions, sess.id)
	s.logger.Debug("retired idle session", slog.String("session", sess.id))
	return true
}

// speak synthesizes one sentence and publishes its frames in order. Runs on
// the session goroutine; the semaphore bounds synthesis concurrency across
// sessions without stalling bus callbacks.
func (s *Service) speak(sess *session, text, utteranceID string) {
	if text == "" {
		return
	}
	if utteranceID == "" {
		utteranceID = uuid.NewString()
	}
	s.recordEvent(sess.id, utteranceID, eventstore.EventUtteranceRequested, text)

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	epoch := sess.interrupter.Epoch()
	start := time.Now()
	frames, errs := s.synth.Synthesize(s.ctx, SynthRequest{
		SessionID:   sess.id,
		UtteranceID: utteranceID,
		Text:        text,
		Interrupter: sess.interrupter,
	})

	var synthErr error
	for frames != nil || errs != nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.publishFrame(sess.id, utteranceID, frame)
		case err, ok := <-errs:
			if ok && err != nil {
				synthErr = err
			}
			errs = nil
		case <-s.ctx.Done():
			return
		}
	}

	elapsed := time.Since(start)
	interrupted := sess.interrupter.Interrupted(epoch)

	status := protocol.SpeechStatus{
		SessionID:   sess.id,
		UtteranceID: utteranceID,
		Timestamp:   time.Now().UTC(),
	}
	result := "completed"
	switch {
	case synthErr != nil:
		result = "failed"
		status.Error = synthErr.Error()
		s.logger.Warn("synthesis failed", slog.String("session", sess.id), slogError(synthErr))
		s.recordEvent(sess.id, utteranceID, eventstore.EventUtteranceFailed, synthErr.Error())
	case interrupted:
		result = "interrupted"
		status.Interrupted = true
		s.recordEvent(sess.id, utteranceID, eventstore.EventUtteranceInterrupted, text)
	default:
		status.Completed = true
		s.recordEvent(sess.id, utteranceID, eventstore.EventUtteranceCompleted, text)
	}

	if s.utterances != nil {
		s.utterances.Add(s.ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if s.synthSeconds != nil {
		s.synthSeconds.Record(s.ctx, elapsed.Seconds())
	}

	s.publishStatus(status)
}

func (s *Service) publishFrame(sessionID, utteranceID string, frame Frame) {
	packet := protocol.AudioFrame{
		SessionID:    sessionID,
		UtteranceID:  utteranceID,
		Sequence:     frame.Sequence,
		SegmentIndex: frame.SegmentIndex,
		SegmentCount: frame.SegmentCount,
		SegmentText:  frame.SegmentText,
		SampleRate:   frame.SampleRate,
		Channels:     frame.Channels,
		PCM:          frame.PCM,
		Final:        frame.Final,
	}
	if err := s.bus.PublishJSON(protocol.SubjectSpeechAudio, packet); err != nil {
		s.logger.Warn("failed to publish audio frame", slogError(err))
	}
}

func (s *Service) publishStatus(status protocol.SpeechStatus) {
	if err := s.bus.PublishJSON(protocol.SubjectSpeechStatus, status); err != nil {
		s.logger.Warn("failed to publish speech status", slogError(err))
	}
}

func (s *Service) recordEvent(sessionID, utteranceID, eventType, detail string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.EnsureSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to record session", slogError(err))
		return
	}
	evt := eventstore.Event{SessionID: sessionID, UtteranceID: utteranceID, Type: eventType, Detail: detail}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record speech event", slogError(err))
	}
}

// dispatch looks up or creates the session and enqueues the event under one
// lock, stamping the current epoch. Interrupt events also bump the epoch
// synchronously so in-flight synthesis stops emitting before the queued
// aggregator reset is processed.
func (s *Service) dispatch(sessionID string, ev controlEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessionLocked(sessionID)
	if ev.kind == eventInterrupt {
		sess.interrupter.Interrupt()
	} else {
		ev.epoch = sess.interrupter.Epoch()
	}
	select {
	case sess.events <- ev:
	default:
		s.logger.Warn("session control channel full, dropping event", slog.String("session", sess.id))
	}
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	if req.Text == "" {
		return
	}
	s.dispatch(req.SessionID, controlEvent{kind: eventSpeak, text: req.Text, utteranceID: req.UtteranceID})
}

func (s *Service) handleDelta(msg *nats.Msg) {
	var delta protocol.ResponseDelta
	if err := json.Unmarshal(msg.Data, &delta); err != nil {
		s.logger.Warn("failed to decode response delta", slogError(err))
		return
	}
	s.dispatch(delta.SessionID, controlEvent{kind: eventResponseDelta, text: delta.Text})
}

func (s *Service) handleResponseStart(msg *nats.Msg) {
	var boundary protocol.ResponseBoundary
	if err := json.Unmarshal(msg.Data, &boundary); err != nil {
		s.logger.Warn("failed to decode response boundary", slogError(err))
		return
	}
	s.dispatch(boundary.SessionID, controlEvent{kind: eventResponseStart})
}

func (s *Service) handleResponseEnd(msg *nats.Msg) {
	var boundary protocol.ResponseBoundary
	if err := json.Unmarshal(msg.Data, &boundary); err != nil {
		s.logger.Warn("failed to decode response boundary", slogError(err))
		return
	}
	s.dispatch(boundary.SessionID, controlEvent{kind: eventResponseEnd})
}

func (s *Service) handleInterrupt(msg *nats.Msg) {
	var signal protocol.InterruptSignal
	if err := json.Unmarshal(msg.Data, &signal); err != nil {
		s.logger.Warn("failed to decode interrupt signal", slogError(err))
		return
	}
	s.dispatch(signal.SessionID, controlEvent{kind: eventInterrupt})
	if s.interruptions != nil {
		s.interruptions.Add(s.ctx, 1)
	}
	s.recordEvent(signal.SessionID, "", eventstore.EventSessionInterrupted, signal.Reason)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
