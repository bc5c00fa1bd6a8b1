package tts

import (
	"context"
	"testing"
	"time"
)

func TestIdleSessionRetired(t *testing.T) {
	cfg := synthTestCfg("")
	cfg.Mode = "mock"
	svc := NewService(context.Background(), cfg, nil, NewMockSynth(cfg), nil, synthTestLogger())
	defer svc.Close()
	svc.idleTimeout = 50 * time.Millisecond

	first := svc.session("idle-session")
	if first == nil {
		t.Fatal("expected a session")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		svc.mu.Lock()
		_, live := svc.sessions["idle-session"]
		svc.mu.Unlock()
		if !live {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle session never retired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Traffic after retirement gets a fresh session, not the dead goroutine.
	second := svc.session("idle-session")
	if second == first {
		t.Fatal("expected a fresh session after retirement")
	}
}

func TestDispatchKeepsBusySessionAlive(t *testing.T) {
	cfg := synthTestCfg("")
	cfg.Mode = "mock"
	svc := NewService(context.Background(), cfg, nil, NewMockSynth(cfg), nil, synthTestLogger())
	defer svc.Close()
	svc.idleTimeout = 250 * time.Millisecond

	first := svc.session("busy-session")
	for i := 0; i < 8; i++ {
		svc.dispatch("busy-session", controlEvent{kind: eventResponseStart})
		time.Sleep(50 * time.Millisecond)
	}

	svc.mu.Lock()
	current, live := svc.sessions["busy-session"]
	svc.mu.Unlock()
	if !live || current != first {
		t.Fatal("session with regular traffic must not be retired")
	}
}
