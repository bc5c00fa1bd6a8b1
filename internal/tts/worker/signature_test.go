package worker

import (
	"testing"

	"github.com/ambiware-labs/verba/internal/config"
)

func TestSignatureSeparatesConfigurations(t *testing.T) {
	base := config.SpeechConfig{
		Backend:    "kokoro",
		Model:      "kokoro-82m",
		Voice:      "af_heart",
		SampleRate: 24000,
	}

	a := NewSignature(base)
	b := NewSignature(base)
	if a != b {
		t.Fatal("identical configurations must produce equal signatures")
	}

	other := base
	other.Voice = "af_bella"
	if NewSignature(other) == a {
		t.Fatal("changing the voice must change the signature")
	}
}

func TestSignatureHashesExtraSettings(t *testing.T) {
	base := config.SpeechConfig{Backend: "qwen3", Model: "qwen3-tts"}

	withSpeaker := base
	withSpeaker.ExtraSettings = map[string]any{"speaker": "Ryan"}
	same := base
	same.ExtraSettings = map[string]any{"speaker": "Ryan"}
	different := base
	different.ExtraSettings = map[string]any{"speaker": "Vivian"}

	if NewSignature(withSpeaker) != NewSignature(same) {
		t.Fatal("equal extra settings must hash equally")
	}
	if NewSignature(withSpeaker) == NewSignature(different) {
		t.Fatal("different extra settings must not share a worker")
	}
	if NewSignature(base) == NewSignature(withSpeaker) {
		t.Fatal("absent and present extra settings must differ")
	}
}
