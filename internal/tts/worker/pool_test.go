package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorkerCfg(command string) config.WorkerConfig {
	return config.WorkerConfig{
		Command:           command,
		GenerateTimeoutMS: 5000,
		InitTimeoutMS:     5000,
		TerminateGraceMS:  500,
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake worker: %v", err)
	}
	return "sh " + path
}

// fakeWorker is a shell stand-in for the synthesis subprocess. It records
// every init it accepts and answers generate with a fixed base64 payload.
func fakeWorker(t *testing.T, audioB64 string) (command, initLog string) {
	t.Helper()
	initLog = filepath.Join(t.TempDir(), "inits")
	body := fmt.Sprintf(`#!/bin/sh
while IFS= read -r line; do
  case "$line" in
  *'"cmd":"init"'*)
    echo init >> %s
    echo '{"success":true}'
    ;;
  *'"cmd":"generate"'*)
    echo '{"success":true,"audio":"%s"}'
    ;;
  esac
done
`, initLog, audioB64)
	return writeScript(t, body), initLog
}

func countInits(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read init log: %v", err)
	}
	return len(strings.Fields(string(data)))
}

func TestWorkerReusedAcrossCalls(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 32)
	command, initLog := fakeWorker(t, base64.StdEncoding.EncodeToString(pcm))

	pool := NewPool(testWorkerCfg(command), discardLogger())
	defer pool.Shutdown()

	sig := Signature{Backend: "kokoro", Model: "kokoro-82m", Voice: "af_heart", SampleRate: 24000}
	initCmd := Command{"cmd": "init", "model": "kokoro-82m", "voice": "af_heart"}
	ctx := context.Background()

	if err := pool.EnsureInitialized(ctx, sig, initCmd); err != nil {
		t.Fatalf("first init: %v", err)
	}
	pid := pool.WorkerPID(sig)
	if pid == 0 {
		t.Fatal("expected a live worker after init")
	}
	if err := pool.EnsureInitialized(ctx, sig, initCmd); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if got := pool.WorkerPID(sig); got != pid {
		t.Fatalf("worker not reused: pid %d then %d", pid, got)
	}
	if n := countInits(t, initLog); n != 1 {
		t.Fatalf("expected exactly one init command, worker saw %d", n)
	}

	resp, err := pool.Exchange(ctx, sig, Command{"cmd": "generate", "text": "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Audio == nil {
		t.Fatal("generate response missing audio")
	}
	decoded, err := base64.StdEncoding.DecodeString(*resp.Audio)
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Fatalf("audio payload mismatch: got %d bytes", len(decoded))
	}
}

func TestDistinctSignaturesGetDistinctWorkers(t *testing.T) {
	command, initLog := fakeWorker(t, base64.StdEncoding.EncodeToString([]byte{0, 0}))

	pool := NewPool(testWorkerCfg(command), discardLogger())
	defer pool.Shutdown()

	ctx := context.Background()
	heart := Signature{Backend: "kokoro", Model: "kokoro-82m", Voice: "af_heart"}
	bella := Signature{Backend: "kokoro", Model: "kokoro-82m", Voice: "af_bella"}

	if err := pool.EnsureInitialized(ctx, heart, Command{"cmd": "init", "voice": "af_heart"}); err != nil {
		t.Fatalf("init heart: %v", err)
	}
	if err := pool.EnsureInitialized(ctx, bella, Command{"cmd": "init", "voice": "af_bella"}); err != nil {
		t.Fatalf("init bella: %v", err)
	}
	if pool.WorkerPID(heart) == pool.WorkerPID(bella) {
		t.Fatal("different signatures must not share a worker process")
	}
	if n := countInits(t, initLog); n != 2 {
		t.Fatalf("expected one init per signature, worker saw %d", n)
	}
}

func TestCrashReportsStderrAndRespawns(t *testing.T) {
	command := writeScript(t, `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
  *'"cmd":"init"'*) echo '{"success":true}' ;;
  *'"cmd":"generate"'*) echo 'model exploded' >&2; exit 3 ;;
  esac
done
`)
	pool := NewPool(testWorkerCfg(command), discardLogger())
	defer pool.Shutdown()

	ctx := context.Background()
	sig := Signature{Backend: "kokoro", Model: "kokoro-82m", Voice: "af_heart"}
	if err := pool.EnsureInitialized(ctx, sig, Command{"cmd": "init"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := pool.Exchange(ctx, sig, Command{"cmd": "generate", "text": "boom"})
	var crash *CrashError
	if !errors.As(err, &crash) {
		t.Fatalf("expected CrashError, got %v", err)
	}
	if !strings.Contains(crash.Stderr, "model exploded") {
		t.Fatalf("crash should carry stderr tail, got %q", crash.Stderr)
	}
	if pid := pool.WorkerPID(sig); pid != 0 {
		t.Fatalf("crashed worker state not cleared, pid %d", pid)
	}

	// The next call transparently respawns and reinitializes.
	if err := pool.EnsureInitialized(ctx, sig, Command{"cmd": "init"}); err != nil {
		t.Fatalf("reinit after crash: %v", err)
	}
	if pool.WorkerPID(sig) == 0 {
		t.Fatal("expected a fresh worker after crash")
	}
}

func TestTimeoutReclaimsWorker(t *testing.T) {
	command := writeScript(t, `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
  *'"cmd":"init"'*) echo '{"success":true}' ;;
  *'"cmd":"generate"'*) : ;;
  esac
done
`)
	cfg := testWorkerCfg(command)
	cfg.GenerateTimeoutMS = 200
	pool := NewPool(cfg, discardLogger())
	defer pool.Shutdown()

	ctx := context.Background()
	sig := Signature{Backend: "kokoro", Model: "kokoro-82m", Voice: "af_heart"}
	if err := pool.EnsureInitialized(ctx, sig, Command{"cmd": "init"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := pool.Exchange(ctx, sig, Command{"cmd": "generate", "text": "never answered"})
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.After != 200*time.Millisecond {
		t.Fatalf("unexpected deadline in error: %s", timeout.After)
	}
	if pid := pool.WorkerPID(sig); pid != 0 {
		t.Fatalf("timed-out worker state not cleared, pid %d", pid)
	}
}

func TestTimeoutRecoveryWithLateChatter(t *testing.T) {
	// A worker that ignores SIGTERM, blows the response deadline and then
	// floods stdout with diagnostics on its way out. Reclamation must still
	// observe process exit and return the timeout to the caller.
	command := writeScript(t, `#!/bin/sh
trap '' TERM
while IFS= read -r line; do
  case "$line" in
  *'"cmd":"generate"'*)
    sleep 1
    i=0
    while [ $i -lt 100 ]; do
      echo "diagnostic noise $i"
      i=$((i+1))
    done
    ;;
  esac
done
`)
	cfg := testWorkerCfg(command)
	cfg.GenerateTimeoutMS = 200
	cfg.TerminateGraceMS = 2000
	pool := NewPool(cfg, discardLogger())
	defer pool.Shutdown()

	sig := Signature{Backend: "kokoro"}
	result := make(chan error, 1)
	go func() {
		_, err := pool.Exchange(context.Background(), sig, Command{"cmd": "generate", "text": "hi"})
		result <- err
	}()

	select {
	case err := <-result:
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("expected TimeoutError, got %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("timeout recovery never returned, worker reclamation is stuck")
	}
	if pid := pool.WorkerPID(sig); pid != 0 {
		t.Fatalf("timed-out worker state not cleared, pid %d", pid)
	}
}

func TestSkipsChatterAndIntermediateSuccess(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB})
	command := writeScript(t, fmt.Sprintf(`#!/bin/sh
while IFS= read -r line; do
  case "$line" in
  *'"cmd":"generate"'*)
    echo 'Loading model weights from cache'
    echo '{"success":true}'
    echo '{"success":true,"audio":"%s"}'
    ;;
  esac
done
`, audio))
	pool := NewPool(testWorkerCfg(command), discardLogger())
	defer pool.Shutdown()

	sig := Signature{Backend: "kokoro"}
	resp, err := pool.Exchange(context.Background(), sig, Command{"cmd": "generate", "text": "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Audio == nil || *resp.Audio != audio {
		t.Fatalf("expected the audio-bearing response, got %+v", resp)
	}
}

func TestInitFailureReportsAvailableVoices(t *testing.T) {
	command := writeScript(t, `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
  *'"cmd":"init"'*)
    echo '{"success":false,"error":"unknown voice bad_voice","availableVoices":["af_heart","af_bella"]}'
    ;;
  esac
done
`)
	pool := NewPool(testWorkerCfg(command), discardLogger())
	defer pool.Shutdown()

	sig := Signature{Backend: "kokoro", Voice: "bad_voice"}
	err := pool.EnsureInitialized(context.Background(), sig, Command{"cmd": "init", "voice": "bad_voice"})
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitError, got %v", err)
	}
	if !strings.Contains(initErr.Reason, "unknown voice") {
		t.Fatalf("unexpected reason: %q", initErr.Reason)
	}
	if len(initErr.AvailableVoices) != 2 {
		t.Fatalf("expected voice suggestions, got %v", initErr.AvailableVoices)
	}
}

func TestStartupErrorForMissingBinary(t *testing.T) {
	pool := NewPool(testWorkerCfg("definitely-not-a-real-binary-zzz"), discardLogger())
	defer pool.Shutdown()

	_, err := pool.Exchange(context.Background(), Signature{Backend: "kokoro"}, Command{"cmd": "generate"})
	var startup *StartupError
	if !errors.As(err, &startup) {
		t.Fatalf("expected StartupError, got %v", err)
	}
}
