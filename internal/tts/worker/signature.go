package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ambiware-labs/verba/internal/config"
)

// Signature identifies which synthesis requests may share one worker
// process. Requests with equal signatures reuse the same process; any
// difference in backend, model, voice, language, sample rate or extended
// settings forces a separate one.
type Signature struct {
	Backend    string
	Model      string
	Voice      string
	Language   string
	SampleRate int
	// SettingsHash digests the backend-specific extra settings so the
	// struct stays comparable.
	SettingsHash string
}

// NewSignature derives the worker signature for a speech configuration.
func NewSignature(cfg config.SpeechConfig) Signature {
	return Signature{
		Backend:      cfg.Backend,
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		Language:     cfg.Language,
		SampleRate:   cfg.SampleRate,
		SettingsHash: hashSettings(cfg.ExtraSettings),
	}
}

func hashSettings(settings map[string]any) string {
	if len(settings) == 0 {
		return ""
	}
	// json.Marshal sorts map keys, so equal settings hash equally.
	data, err := json.Marshal(settings)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
