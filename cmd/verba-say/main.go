// verba-say publishes a synthesis request on the bus, collects the ordered
// audio frames and writes them to a WAV file. Handy for smoke-testing a
// worker backend without a full conversation pipeline.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ambiware-labs/verba/internal/protocol"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func main() {
	var (
		server  string
		session string
		text    string
		voice   string
		out     string
		timeout time.Duration
	)

	flag.StringVar(&server, "server", nats.DefaultURL, "NATS server URL")
	flag.StringVar(&session, "session", "verba-say", "Session ID to speak under")
	flag.StringVar(&text, "text", "", "Text to synthesize")
	flag.StringVar(&voice, "voice", "", "Voice override")
	flag.StringVar(&out, "out", "out.wav", "Output WAV path")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "How long to wait for synthesis")
	flag.Parse()

	if text == "" {
		fmt.Fprintln(os.Stderr, "-text is required")
		os.Exit(2)
	}

	if err := run(server, session, text, voice, out, timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(server, session, text, voice, out string, timeout time.Duration) error {
	conn, err := nats.Connect(server, nats.Name("verba-say"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	utteranceID := uuid.NewString()
	frames := make(chan protocol.AudioFrame, 1024)
	done := make(chan protocol.SpeechStatus, 1)

	subAudio, err := conn.Subscribe(protocol.SubjectSpeechAudio, func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			return
		}
		if frame.UtteranceID != utteranceID {
			return
		}
		// Never block the NATS callback; a stalled collector would otherwise
		// back up the subscription into slow-consumer territory.
		if !offerFrame(frames, frame) {
			fmt.Fprintf(os.Stderr, "dropping frame %d: collector backlog full\n", frame.Sequence)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe audio: %w", err)
	}
	defer subAudio.Drain()

	subStatus, err := conn.Subscribe(protocol.SubjectSpeechStatus, func(msg *nats.Msg) {
		var status protocol.SpeechStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			return
		}
		if status.UtteranceID == utteranceID {
			done <- status
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe status: %w", err)
	}
	defer subStatus.Drain()

	req := protocol.SpeakRequest{
		SessionID:   session,
		UtteranceID: utteranceID,
		Text:        text,
		Voice:       voice,
		Timestamp:   time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectSpeakRequest, data); err != nil {
		return fmt.Errorf("publish speak request: %w", err)
	}

	var pcm []byte
	sampleRate := 0
	channels := 1
	deadline := time.After(timeout)

collect:
	for {
		select {
		case frame := <-frames:
			sampleRate = frame.SampleRate
			channels = frame.Channels
			pcm = append(pcm, frame.PCM...)
		case status := <-done:
			if status.Error != "" {
				return fmt.Errorf("synthesis failed: %s", status.Error)
			}
			if status.Interrupted {
				return fmt.Errorf("synthesis interrupted")
			}
			// Drain any frames that raced the status message.
			for {
				select {
				case frame := <-frames:
					pcm = append(pcm, frame.PCM...)
				default:
					break collect
				}
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for synthesis after %s", timeout)
		}
	}

	if len(pcm) == 0 {
		return fmt.Errorf("no audio received")
	}
	if err := writeWAV(out, pcm, sampleRate, channels); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes of PCM at %d Hz)\n", out, len(pcm), sampleRate)
	return nil
}

// offerFrame hands a frame to the collector without blocking.
func offerFrame(frames chan<- protocol.AudioFrame, frame protocol.AudioFrame) bool {
	select {
	case frames <- frame:
		return true
	default:
		return false
	}
}

func writeWAV(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}
