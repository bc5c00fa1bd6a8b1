package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Speech      SpeechConfig     `yaml:"speech"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SegmentationConfig bounds the size of text chunks handed to the worker in
// a single generate call.
type SegmentationConfig struct {
	Enabled  bool `yaml:"enabled"`
	MinChars int  `yaml:"min_chars"`
	MinWords int  `yaml:"min_words"`
	MaxChars int  `yaml:"max_chars"`
	MaxWords int  `yaml:"max_words"`
}

// WorkerConfig controls the synthesis subprocess and the per-command-class
// response deadlines. Init deadlines are much longer than generate deadlines
// because init may pull a multi-gigabyte model into memory.
type WorkerConfig struct {
	Command            string   `yaml:"command"`
	GenerateTimeoutMS  int      `yaml:"generate_timeout_ms"`
	InitTimeoutMS      int      `yaml:"init_timeout_ms"`
	LargeInitTimeoutMS int      `yaml:"large_init_timeout_ms"`
	LargeBackends      []string `yaml:"large_backends"`
	TerminateGraceMS   int      `yaml:"terminate_grace_ms"`
	Env                []string `yaml:"env"`
}

type SpeechConfig struct {
	Enabled         bool               `yaml:"enabled"`
	Mode            string             `yaml:"mode"`
	Backend         string             `yaml:"backend"`
	Model           string             `yaml:"model"`
	Voice           string             `yaml:"voice"`
	Language        string             `yaml:"language"`
	SampleRate      int                `yaml:"sample_rate"`
	Channels        int                `yaml:"channels"`
	ChunkDurationMS int                `yaml:"chunk_duration_ms"`
	MaxConcurrent   int                `yaml:"max_concurrent"`
	WarmupOnStart   bool               `yaml:"warmup_on_start"`
	WarmupText      string             `yaml:"warmup_text"`
	Segmentation    SegmentationConfig `yaml:"segmentation"`
	Worker          WorkerConfig       `yaml:"worker"`
	ExtraSettings   map[string]any     `yaml:"extra_settings"`
}

func Default() Config {
	return Config{
		RuntimeName: "verba-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/verba-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Speech: SpeechConfig{
			Enabled:         false,
			Mode:            "mock",
			Backend:         "kokoro",
			Model:           "kokoro-82m",
			Voice:           "af_heart",
			SampleRate:      24000,
			Channels:        1,
			ChunkDurationMS: 400,
			MaxConcurrent:   2,
			WarmupText:      "Hello",
			Segmentation: SegmentationConfig{
				Enabled:  true,
				MinChars: 20,
				MinWords: 3,
				MaxChars: 220,
				MaxWords: 40,
			},
			Worker: WorkerConfig{
				GenerateTimeoutMS:  10000,
				InitTimeoutMS:      240000,
				LargeInitTimeoutMS: 600000,
				TerminateGraceMS:   5000,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VERBA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VERBA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VERBA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VERBA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VERBA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VERBA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VERBA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VERBA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VERBA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VERBA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VERBA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VERBA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VERBA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VERBA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VERBA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VERBA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VERBA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VERBA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VERBA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VERBA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VERBA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Speech.Enabled, "VERBA_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "VERBA_SPEECH_MODE")
	overrideString(&cfg.Speech.Backend, "VERBA_SPEECH_BACKEND")
	overrideString(&cfg.Speech.Model, "VERBA_SPEECH_MODEL")
	overrideString(&cfg.Speech.Voice, "VERBA_SPEECH_VOICE")
	overrideString(&cfg.Speech.Language, "VERBA_SPEECH_LANGUAGE")
	overrideInt(&cfg.Speech.SampleRate, "VERBA_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "VERBA_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.ChunkDurationMS, "VERBA_SPEECH_CHUNK_DURATION_MS")
	overrideInt(&cfg.Speech.MaxConcurrent, "VERBA_SPEECH_MAX_CONCURRENT")
	overrideBool(&cfg.Speech.WarmupOnStart, "VERBA_SPEECH_WARMUP_ON_START")
	overrideString(&cfg.Speech.WarmupText, "VERBA_SPEECH_WARMUP_TEXT")
	overrideBool(&cfg.Speech.Segmentation.Enabled, "VERBA_SPEECH_SEGMENTATION_ENABLED")
	overrideInt(&cfg.Speech.Segmentation.MinChars, "VERBA_SPEECH_SEGMENTATION_MIN_CHARS")
	overrideInt(&cfg.Speech.Segmentation.MinWords, "VERBA_SPEECH_SEGMENTATION_MIN_WORDS")
	overrideInt(&cfg.Speech.Segmentation.MaxChars, "VERBA_SPEECH_SEGMENTATION_MAX_CHARS")
	overrideInt(&cfg.Speech.Segmentation.MaxWords, "VERBA_SPEECH_SEGMENTATION_MAX_WORDS")
	overrideString(&cfg.Speech.Worker.Command, "VERBA_SPEECH_WORKER_COMMAND")
	overrideInt(&cfg.Speech.Worker.GenerateTimeoutMS, "VERBA_SPEECH_WORKER_GENERATE_TIMEOUT_MS")
	overrideInt(&cfg.Speech.Worker.InitTimeoutMS, "VERBA_SPEECH_WORKER_INIT_TIMEOUT_MS")
	overrideInt(&cfg.Speech.Worker.LargeInitTimeoutMS, "VERBA_SPEECH_WORKER_LARGE_INIT_TIMEOUT_MS")
	overrideStringSlice(&cfg.Speech.Worker.LargeBackends, "VERBA_SPEECH_WORKER_LARGE_BACKENDS")
	overrideInt(&cfg.Speech.Worker.TerminateGraceMS, "VERBA_SPEECH_WORKER_TERMINATE_GRACE_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "worker":
		default:
			return errors.New("speech.mode must be one of mock|worker")
		}
		if cfg.Speech.Mode == "worker" && cfg.Speech.Worker.Command == "" {
			return errors.New("speech.worker.command must be set when mode=worker")
		}
		if cfg.Speech.SampleRate <= 0 {
			return errors.New("speech.sample_rate must be positive")
		}
		if cfg.Speech.Channels <= 0 {
			return errors.New("speech.channels must be positive")
		}
		if cfg.Speech.MaxConcurrent <= 0 {
			return errors.New("speech.max_concurrent must be >= 1")
		}
		seg := cfg.Speech.Segmentation
		if seg.Enabled {
			if seg.MinChars <= 0 || seg.MaxChars <= 0 || seg.MinWords <= 0 || seg.MaxWords <= 0 {
				return errors.New("speech.segmentation bounds must be positive")
			}
			if seg.MinChars >= seg.MaxChars {
				return errors.New("speech.segmentation.min_chars must be below max_chars")
			}
			if seg.MinWords >= seg.MaxWords {
				return errors.New("speech.segmentation.min_words must be below max_words")
			}
		}
		if cfg.Speech.Worker.GenerateTimeoutMS <= 0 {
			return errors.New("speech.worker.generate_timeout_ms must be positive")
		}
		if cfg.Speech.Worker.InitTimeoutMS <= 0 {
			return errors.New("speech.worker.init_timeout_ms must be positive")
		}
	}
	return nil
}
