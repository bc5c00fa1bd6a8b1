package protocol

import "time"

// SpeakRequest asks the speech service to voice a complete piece of text.
type SpeakRequest struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id,omitempty"`
	Text        string    `json:"text"`
	Voice       string    `json:"voice,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResponseDelta is a fragment of generated response text streamed by the
// language-model side of the pipeline.
type ResponseDelta struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ResponseBoundary marks the start or end of one generated response.
type ResponseBoundary struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// InterruptSignal tells the speech pipeline the user started talking over
// the assistant. Everything buffered or in flight for the session is dropped.
type InterruptSignal struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioFrame is one slice of synthesized PCM. SegmentIndex, SegmentCount and
// SegmentText let consumers reconstruct ordering and correlate audio with
// the text that produced it.
type AudioFrame struct {
	SessionID    string `json:"session_id"`
	UtteranceID  string `json:"utterance_id"`
	Sequence     int    `json:"sequence"`
	SegmentIndex int    `json:"segment_index"`
	SegmentCount int    `json:"segment_count"`
	SegmentText  string `json:"segment_text,omitempty"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	PCM          []byte `json:"pcm"`
	Final        bool   `json:"final"`
}

// SpeechStatus reports completion or failure of one utterance.
type SpeechStatus struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	Completed   bool      `json:"completed"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectSpeakRequest  = "speech.say"
	SubjectResponseDelta = "llm.stream.delta"
	SubjectResponseStart = "llm.stream.start"
	SubjectResponseEnd   = "llm.stream.end"
	SubjectInterrupt     = "session.interrupt"
	SubjectSpeechAudio   = "speech.audio"
	SubjectSpeechStatus  = "speech.status"
)
