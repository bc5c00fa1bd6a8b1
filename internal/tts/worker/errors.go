package worker

import (
	"fmt"
	"strings"
	"time"
)

// StartupError means the worker subprocess could not be spawned at all.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("start worker: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// InitError means the backend rejected the model/voice during init. The
// worker may report which voices it does support.
type InitError struct {
	Reason          string
	AvailableVoices []string
}

func (e *InitError) Error() string {
	if len(e.AvailableVoices) > 0 {
		return fmt.Sprintf("worker init failed: %s (available voices: %s)", e.Reason, strings.Join(e.AvailableVoices, ", "))
	}
	return fmt.Sprintf("worker init failed: %s", e.Reason)
}

// ProtocolError means the worker is alive but its reply was malformed or
// missing a required field.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("worker protocol error: %s", e.Reason) }

// TimeoutError means no valid response arrived within the command-class
// deadline. The supervisor has already reclaimed the process.
type TimeoutError struct {
	Command string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker %q response timeout after %s", e.Command, e.After)
}

// CrashError means the worker process exited while a response was pending.
type CrashError struct {
	Command string
	Stderr  string
}

func (e *CrashError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("worker process died during %q: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("worker process died during %q", e.Command)
}

// GenerationError means the worker explicitly reported a generate failure,
// e.g. silent audio or missing reference material.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %s", e.Reason) }
