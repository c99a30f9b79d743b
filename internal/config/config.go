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
	LogFormat      string `yaml:"log_format"` // text, json
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	SentryDSN      string `yaml:"sentry_dsn"`
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
	Settings    SettingsConfig   `yaml:"settings"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Surfaces    SurfacesConfig   `yaml:"surfaces"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	RequestTimeout int      `yaml:"request_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type SynthesisConfig struct {
	Mode        string `yaml:"mode"` // openai, mock
	Endpoint    string `yaml:"endpoint"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	MockDelayMS int    `yaml:"mock_delay_ms"`
}

type PlaybackConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, bus
	Command        string `yaml:"command"`
	FileExtension  string `yaml:"file_extension"`
	MockDurationMS int    `yaml:"mock_duration_ms"`
	BlobBucket     string `yaml:"blob_bucket"`
}

type SurfacesConfig struct {
	InitDelayMS int  `yaml:"init_delay_ms"`
	Websocket   bool `yaml:"websocket"`
	// AllowedOrigins lists browser origins, besides the daemon's own host,
	// that may open /ws (for example "chrome-extension://<id>").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-reader",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			LogMaxSizeMB:   20,
			LogMaxBackups:  3,
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			RequestTimeout: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/reader-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Settings: SettingsConfig{
			Path: "./data/settings.json",
		},
		Synthesis: SynthesisConfig{
			Mode:        "openai",
			Endpoint:    "https://api.openai.com/v1/audio/speech",
			TimeoutMS:   60000,
			MockDelayMS: 50,
		},
		Playback: PlaybackConfig{
			Mode:           "mock",
			FileExtension:  ".mp3",
			MockDurationMS: 1500,
			BlobBucket:     "READER_AUDIO",
		},
		Surfaces: SurfacesConfig{
			InitDelayMS: 100,
			Websocket:   true,
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
	overrideString(&cfg.RuntimeName, "LOQA_READER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_READER_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_READER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_READER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_READER_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_READER_LOG_FORMAT")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_READER_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_READER_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_READER_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_READER_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.SentryDSN, "LOQA_READER_SENTRY_DSN")
	overrideBool(&cfg.Bus.Embedded, "LOQA_READER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_READER_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_READER_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_READER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_READER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_READER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_READER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_READER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_READER_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.RequestTimeout, "LOQA_READER_BUS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_READER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_READER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_READER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_READER_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_READER_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Settings.Path, "LOQA_READER_SETTINGS_PATH")
	overrideString(&cfg.Synthesis.Mode, "LOQA_READER_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Endpoint, "LOQA_READER_SYNTHESIS_ENDPOINT")
	overrideInt(&cfg.Synthesis.TimeoutMS, "LOQA_READER_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.MockDelayMS, "LOQA_READER_SYNTHESIS_MOCK_DELAY_MS")
	overrideString(&cfg.Playback.Mode, "LOQA_READER_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "LOQA_READER_PLAYBACK_COMMAND")
	overrideString(&cfg.Playback.FileExtension, "LOQA_READER_PLAYBACK_FILE_EXTENSION")
	overrideInt(&cfg.Playback.MockDurationMS, "LOQA_READER_PLAYBACK_MOCK_DURATION_MS")
	overrideString(&cfg.Playback.BlobBucket, "LOQA_READER_PLAYBACK_BLOB_BUCKET")
	overrideInt(&cfg.Surfaces.InitDelayMS, "LOQA_READER_SURFACES_INIT_DELAY_MS")
	overrideBool(&cfg.Surfaces.Websocket, "LOQA_READER_SURFACES_WEBSOCKET")
	overrideStringSlice(&cfg.Surfaces.AllowedOrigins, "LOQA_READER_SURFACES_ALLOWED_ORIGINS")
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
	switch cfg.Telemetry.LogFormat {
	case "text", "json":
	default:
		return errors.New("telemetry.log_format must be one of text|json")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Bus.RequestTimeout <= 0 {
		return errors.New("bus.request_timeout_ms must be positive")
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
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	switch cfg.Synthesis.Mode {
	case "openai":
		if cfg.Synthesis.Endpoint == "" {
			return errors.New("synthesis.endpoint must be set when mode=openai")
		}
	case "mock":
	default:
		return errors.New("synthesis.mode must be one of openai|mock")
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	switch cfg.Playback.Mode {
	case "mock":
		if cfg.Playback.MockDurationMS < 0 {
			return errors.New("playback.mock_duration_ms must be >= 0")
		}
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
	case "bus":
		if cfg.Playback.BlobBucket == "" {
			return errors.New("playback.blob_bucket must be set when mode=bus")
		}
	default:
		return errors.New("playback.mode must be one of mock|exec|bus")
	}
	if cfg.Surfaces.InitDelayMS < 0 {
		return errors.New("surfaces.init_delay_ms must be >= 0")
	}
	return nil
}
