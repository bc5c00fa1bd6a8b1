package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
)

// process wraps one running worker subprocess. A dedicated goroutine drains
// stdout into the lines channel so reads can be raced against deadlines and
// process death; stderr is kept in a bounded tail for crash diagnostics.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}
	stderr *tailBuffer

	waitErr error
}

func startProcess(command string, extraEnv []string) (*process, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("worker command is empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	env := append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(env, extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, 16),
		done:   make(chan struct{}),
		stderr: newTailBuffer(8 * 1024),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		close(p.lines)
	}()
	go func() {
		defer readers.Done()
		_, _ = io.Copy(p.stderr, stderr)
	}()
	go func() {
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *process) pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) alive() bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) send(line []byte) error {
	if _, err := p.stdin.Write(line); err != nil {
		return err
	}
	_, err := p.stdin.Write([]byte{'\n'})
	return err
}

// terminate asks the process to exit and force-kills it after the grace
// period. Safe to call on an already dead process.
//
// No exchange is waiting on lines once terminate is called, so the channel
// is drained here: a worker that keeps emitting chatter on its way out
// would otherwise block the stdout reader on the full channel and process
// exit could never be observed.
func (p *process) terminate(grace time.Duration) {
	if p == nil || !p.alive() {
		return
	}
	go func() {
		for range p.lines {
		}
	}()
	_ = p.stdin.Close()
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func (p *process) stderrTail() string {
	if p == nil {
		return ""
	}
	return p.stderr.String()
}

// tailBuffer keeps the last cap bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
