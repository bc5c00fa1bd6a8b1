package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
)

// Command is one structured request written to the worker as a single JSON
// line. The "cmd" field selects the operation (init, configure, generate).
type Command map[string]any

func (c Command) name() string {
	s, _ := c["cmd"].(string)
	return s
}

// Response is the worker's reply to exactly one Command. Audio is a pointer
// so an intermediate success line without a payload can be told apart from
// an empty payload.
type Response struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error"`
	Audio           *string  `json:"audio"`
	AvailableVoices []string `json:"availableVoices"`
}

// workerState is the shared per-signature record. The process handle and
// initialized flag are only touched while holding mu, which also serializes
// whole write-then-read exchanges so responses are never interleaved.
type workerState struct {
	mu          sync.Mutex
	proc        *process
	initialized bool
}

// Pool owns every worker subprocess, keyed by signature. At most one live
// process exists per signature; crashed or timed-out workers are reclaimed
// and respawned transparently on the next call.
type Pool struct {
	cfg config.WorkerConfig
	log *slog.Logger

	mu      sync.Mutex
	workers map[Signature]*workerState
}

func NewPool(cfg config.WorkerConfig, log *slog.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		log:     log.With(slog.String("component", "worker-pool")),
		workers: make(map[Signature]*workerState),
	}
}

func (p *Pool) state(sig Signature) *workerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.workers[sig]
	if st == nil {
		st = &workerState{}
		p.workers[sig] = st
	}
	return st
}

// Exchange sends one command and returns its response. Cancellation is
// checked before the send only: once a command is on the wire the exchange
// runs to the command-class deadline, because abandoning the read would
// desynchronize the line protocol for the next caller.
func (p *Pool) Exchange(ctx context.Context, sig Signature, cmd Command) (Response, error) {
	st := p.state(sig)
	st.mu.Lock()
	defer st.mu.Unlock()
	return p.exchangeLocked(ctx, st, sig, cmd)
}

// EnsureInitialized makes sure the signature's worker is running and has
// accepted the given init command. Reusing a live, already initialized
// worker is a no-op.
func (p *Pool) EnsureInitialized(ctx context.Context, sig Signature, initCmd Command) error {
	st := p.state(sig)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.proc.alive() && st.initialized {
		return nil
	}

	resp, err := p.exchangeLocked(ctx, st, sig, initCmd)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return &InitError{Reason: resp.Error, AvailableVoices: resp.AvailableVoices}
	}
	if !resp.Success {
		return &ProtocolError{Reason: "init response reported neither success nor error"}
	}
	st.initialized = true
	p.log.Info("worker initialized",
		slog.String("backend", sig.Backend),
		slog.String("model", sig.Model),
		slog.Int("pid", st.proc.pid()))
	return nil
}

// Reset terminates the signature's worker and clears its state. The next
// call respawns and reinitializes.
func (p *Pool) Reset(sig Signature, reason string) {
	st := p.state(sig)
	st.mu.Lock()
	defer st.mu.Unlock()
	p.resetLocked(st, reason)
}

// WorkerPID reports the pid of the signature's live worker, 0 if none.
func (p *Pool) WorkerPID(sig Signature) int {
	st := p.state(sig)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.proc.alive() {
		return 0
	}
	return st.proc.pid()
}

// Shutdown terminates every worker. Only called at application exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	states := make([]*workerState, 0, len(p.workers))
	for _, st := range p.workers {
		states = append(states, st)
	}
	p.workers = make(map[Signature]*workerState)
	p.mu.Unlock()

	grace := p.terminateGrace()
	for _, st := range states {
		st.mu.Lock()
		if st.proc != nil {
			st.proc.terminate(grace)
			st.proc = nil
			st.initialized = false
		}
		st.mu.Unlock()
	}
}

func (p *Pool) exchangeLocked(ctx context.Context, st *workerState, sig Signature, cmd Command) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	if !st.proc.alive() {
		proc, err := startProcess(p.cfg.Command, p.cfg.Env)
		if err != nil {
			return Response{}, &StartupError{Err: err}
		}
		st.proc = proc
		st.initialized = false
		p.log.Info("started worker process",
			slog.String("backend", sig.Backend),
			slog.Int("pid", proc.pid()))
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("encode worker command: %w", err)
	}
	if err := st.proc.send(data); err != nil {
		stderr := st.proc.stderrTail()
		p.resetLocked(st, "write to worker failed")
		return Response{}, &CrashError{Command: cmd.name(), Stderr: stderr}
	}

	timeout := p.timeoutFor(sig, cmd)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	proc := st.proc
	for {
		select {
		case line, ok := <-proc.lines:
			if !ok {
				<-proc.done
				stderr := proc.stderrTail()
				p.resetLocked(st, "worker process died")
				return Response{}, &CrashError{Command: cmd.name(), Stderr: stderr}
			}
			resp, valid := parseResponseLine(line)
			if !valid {
				p.log.Debug("ignoring non-JSON worker output", slog.String("line", line))
				continue
			}
			if cmd.name() == "generate" && resp.Success && resp.Audio == nil {
				// Intermediate status line; the real result follows.
				p.log.Warn("worker returned success without audio, waiting for audio response")
				continue
			}
			return resp, nil
		case <-timer.C:
			p.resetLocked(st, "response timeout")
			return Response{}, &TimeoutError{Command: cmd.name(), After: timeout}
		}
	}
}

// resetLocked terminates the process and clears the signature's state.
// Caller holds st.mu.
func (p *Pool) resetLocked(st *workerState, reason string) {
	if st.proc != nil {
		p.log.Warn("resetting worker", slog.String("reason", reason), slog.Int("pid", st.proc.pid()))
		st.proc.terminate(p.terminateGrace())
	}
	st.proc = nil
	st.initialized = false
}

func (p *Pool) timeoutFor(sig Signature, cmd Command) time.Duration {
	switch cmd.name() {
	case "init":
		if slices.Contains(p.cfg.LargeBackends, sig.Backend) && p.cfg.LargeInitTimeoutMS > 0 {
			return time.Duration(p.cfg.LargeInitTimeoutMS) * time.Millisecond
		}
		return time.Duration(p.cfg.InitTimeoutMS) * time.Millisecond
	default:
		return time.Duration(p.cfg.GenerateTimeoutMS) * time.Millisecond
	}
}

func (p *Pool) terminateGrace() time.Duration {
	if p.cfg.TerminateGraceMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.cfg.TerminateGraceMS) * time.Millisecond
}

func parseResponseLine(line string) (Response, bool) {
	text := strings.TrimSpace(line)
	if text == "" || text[0] != '{' {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}
