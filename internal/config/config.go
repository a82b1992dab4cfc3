package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DataDir      string `env:"DATA_DIR" envDefault:"./voechoal"`
	AudioDir     string `env:"AUDIO_DIR"`    // defaults to DataDir
	CatalogFile  string `env:"CATALOG_FILE"` // defaults to DataDir/data.json
	WatchCatalog bool   `env:"WATCH_CATALOG" envDefault:"true"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	STTProvider     string        `env:"STT_PROVIDER" envDefault:"whisper"` // whisper or elevenlabs
	WhisperURL      string        `env:"WHISPER_URL" envDefault:"http://127.0.0.1:8000/v1/audio/transcriptions"`
	WhisperModel    string        `env:"WHISPER_MODEL" envDefault:"base.en"`
	WhisperTimeout  time.Duration `env:"WHISPER_TIMEOUT" envDefault:"60s"`
	WhisperLanguage string        `env:"WHISPER_LANGUAGE" envDefault:"en"`
	STTPrompt       string        `env:"STT_PROMPT" envDefault:"Transcribe the first 24 words the user is saying."`

	ElevenLabsAPIKey   string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	ElevenLabsKeyterms string `env:"ELEVENLABS_KEYTERMS"`

	STTSampleRate   int           `env:"STT_SAMPLE_RATE" envDefault:"16000"`
	STTMaxSeconds   int           `env:"STT_MAX_SECONDS" envDefault:"5"`
	STTPollInterval time.Duration `env:"STT_POLL_INTERVAL" envDefault:"10ms"`

	EventRingSize int `env:"EVENT_RING_SIZE" envDefault:"256"`

	S3   S3Config
	MQTT MQTTConfig
}

// S3Config configures the optional S3-compatible recording backend.
type S3Config struct {
	Bucket        string `env:"S3_BUCKET"`
	Endpoint      string `env:"S3_ENDPOINT"`
	Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey     string `env:"S3_ACCESS_KEY"`
	SecretKey     string `env:"S3_SECRET_KEY"`
	Prefix        string `env:"S3_PREFIX"`
	LocalCache    bool   `env:"S3_LOCAL_CACHE" envDefault:"true"`
	UploadWorkers int    `env:"S3_UPLOAD_WORKERS" envDefault:"2"`
	UploadQueue   int    `env:"S3_UPLOAD_QUEUE" envDefault:"64"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// MQTTConfig configures optional event forwarding to an MQTT broker.
type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"memo-engine"`
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"memo-engine"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.BrokerURL != ""
}

// STTWindow returns the listener capture capacity in samples.
func (c *Config) STTWindow() int {
	return c.STTSampleRate * c.STTMaxSeconds
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	DataDir    string
	AudioDir   string
	WhisperURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}

	// Derived paths follow the (possibly overridden) data dir.
	if cfg.AudioDir == "" {
		cfg.AudioDir = cfg.DataDir
	}
	if cfg.CatalogFile == "" {
		cfg.CatalogFile = filepath.Join(cfg.DataDir, "data.json")
	}

	return cfg, nil
}
