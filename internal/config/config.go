package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/sidechain/domain/entities"
	"github.com/satriahrh/sidechain/internal/ducking"
)

// Transcription providers
const (
	ProviderAssemblyAI = "assemblyai"
	ProviderGoogle     = "google"
	ProviderMock       = "mock"
)

// Audio sources
const (
	SourceDevice = "device"
	SourceWAV    = "wav"
)

// Dispatch modes
const (
	DispatchHTTP   = "http"
	DispatchGemini = "gemini"
)

// Chunk stores
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config represents the complete capture process configuration
type Config struct {
	SessionID string         `yaml:"session_id"`
	Audio     AudioConfig    `yaml:"audio"`
	STT       STTConfig      `yaml:"stt"`
	Ducking   DuckingConfig  `yaml:"ducking"`
	Flush     FlushConfig    `yaml:"flush"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Store     StoreConfig    `yaml:"store"`
	HTTP      HTTPConfig     `yaml:"http"`
	Logging   LoggingConfig  `yaml:"logging"`

	// Warnings collects non-fatal problems found while loading
	Warnings []string `yaml:"-"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	Source        string        `yaml:"source"`
	WAVPath       string        `yaml:"wav_path"`
	WAVRealtime   bool          `yaml:"wav_realtime"`
	DeviceIndex   int           `yaml:"device_index"` // -1 is the system default
	Channels      int           `yaml:"channels"`     // 0 uses the device-reported count
	ForceMono     bool          `yaml:"force_mono"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	QueueCapacity int           `yaml:"queue_capacity"`
}

// STTConfig selects and configures the transcription service
type STTConfig struct {
	Provider         string `yaml:"provider"`
	AssemblyAIAPIKey string `yaml:"assemblyai_api_key"`
	FormatTurns      bool   `yaml:"format_turns"`
	Language         string `yaml:"language"`
}

// DuckingConfig enables the side-chain processor
type DuckingConfig struct {
	Enabled        bool `yaml:"enabled"`
	ducking.Config `yaml:",inline"`
}

// FlushConfig contains the dispatch cadence and question list
type FlushConfig struct {
	Interval      time.Duration `yaml:"interval"`
	OnStop        bool          `yaml:"on_stop"`
	AppendReplies bool          `yaml:"append_replies"`
	Questions     []string      `yaml:"questions"`
}

// DispatchConfig selects the backend
type DispatchConfig struct {
	Mode         string        `yaml:"mode"`
	BackendURL   string        `yaml:"backend_url"`
	Timeout      time.Duration `yaml:"timeout"`
	JWTSecret    string        `yaml:"jwt_secret"`
	GeminiAPIKey string        `yaml:"gemini_api_key"`
	GeminiModel  string        `yaml:"gemini_model"`
}

// StoreConfig selects the chunk store
type StoreConfig struct {
	Kind          string `yaml:"kind"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// HTTPConfig contains the status server configuration
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultQuestions seeds the question list when QUESTIONS is not set
func DefaultQuestions() []string {
	return []string{
		"How would you handle a situation where a project you're working on is behind schedule?",
		"How do you handle feedback and criticism of your code?",
	}
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Source:        SourceDevice,
			WAVRealtime:   true,
			DeviceIndex:   -1,
			Channels:      0,
			ReadTimeout:   2 * time.Second,
			QueueCapacity: 10,
		},
		STT: STTConfig{
			Provider:    ProviderAssemblyAI,
			FormatTurns: true,
			Language:    "en-US",
		},
		Ducking: DuckingConfig{
			Enabled: true,
			Config:  ducking.DefaultConfig(),
		},
		Flush: FlushConfig{
			Interval:      10 * time.Second,
			OnStop:        true,
			AppendReplies: true,
			Questions:     DefaultQuestions(),
		},
		Dispatch: DispatchConfig{
			Mode:        DispatchHTTP,
			BackendURL:  "http://localhost:5001/from-python",
			Timeout:     10 * time.Second,
			GeminiModel: "gemini-2.0-flash",
		},
		Store: StoreConfig{
			Kind:          StoreMongo,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "sidechain",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, then CONFIG_FILE, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Build(os.LookupEnv)
}

// Build assembles the configuration from an optional YAML file named by
// CONFIG_FILE and environment overrides read through lookup
func Build(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	cfg.applyEnv(&env)
	if len(env.errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %w", errors.Join(env.errs...))
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(env *envReader) {
	env.String("SESSION_ID", &c.SessionID)

	env.String("AUDIO_SOURCE", &c.Audio.Source)
	env.String("AUDIO_WAV_PATH", &c.Audio.WAVPath)
	env.Bool("AUDIO_WAV_REALTIME", &c.Audio.WAVRealtime)
	if v, ok := env.lookup("AUDIO_DEVICE_INDEX"); ok && v != "" {
		index, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || index < 0 {
			c.Warnings = append(c.Warnings,
				fmt.Sprintf("invalid AUDIO_DEVICE_INDEX %q, using the default device", v))
			c.Audio.DeviceIndex = -1
		} else {
			c.Audio.DeviceIndex = index
		}
	}
	env.Int("AUDIO_CHANNELS", &c.Audio.Channels)
	env.Bool("FORCE_MONO", &c.Audio.ForceMono)
	env.Duration("AUDIO_READ_TIMEOUT", &c.Audio.ReadTimeout)
	env.Int("QUEUE_CAPACITY", &c.Audio.QueueCapacity)

	env.String("STT_PROVIDER", &c.STT.Provider)
	env.String("ASSEMBLYAI_KEY", &c.STT.AssemblyAIAPIKey)
	env.String("ASSEMBLYAI_API_KEY", &c.STT.AssemblyAIAPIKey)
	env.Bool("ASSEMBLYAI_FORMAT_TURNS", &c.STT.FormatTurns)
	env.String("STT_LANGUAGE", &c.STT.Language)

	env.Bool("DUCK_ENABLED", &c.Ducking.Enabled)
	env.Float("DUCK_THRESHOLD_DB", &c.Ducking.ThresholdDB)
	env.Int("DUCK_ATTACK_FRAMES", &c.Ducking.AttackFrames)
	env.Int("DUCK_RELEASE_FRAMES", &c.Ducking.ReleaseFrames)
	env.Float("DUCK_ALPHA", &c.Ducking.Alpha)
	env.Float("DUCK_ATTENUATION", &c.Ducking.Attenuation)
	env.Int("DUCK_LOCAL_CHANNEL", &c.Ducking.LocalChannel)
	env.Int("DUCK_REMOTE_CHANNEL", &c.Ducking.RemoteChannel)

	env.Duration("FLUSH_INTERVAL", &c.Flush.Interval)
	env.Bool("FLUSH_ON_STOP", &c.Flush.OnStop)
	env.Bool("APPEND_REPLIES", &c.Flush.AppendReplies)
	if v, ok := env.lookup("QUESTIONS"); ok {
		c.Flush.Questions = splitQuestions(v)
	}

	env.String("DISPATCH_MODE", &c.Dispatch.Mode)
	env.String("BACKEND_URL", &c.Dispatch.BackendURL)
	env.Duration("BACKEND_TIMEOUT", &c.Dispatch.Timeout)
	env.String("BACKEND_JWT_SECRET", &c.Dispatch.JWTSecret)
	env.String("GEMINI_API_KEY", &c.Dispatch.GeminiAPIKey)
	env.String("GEMINI_MODEL", &c.Dispatch.GeminiModel)

	env.String("STORE", &c.Store.Kind)
	env.String("MONGODB_URI", &c.Store.MongoURI)
	env.String("MONGODB_DATABASE", &c.Store.MongoDatabase)

	// An explicitly empty HTTP_ADDR disables the server
	if v, ok := env.lookup("HTTP_ADDR"); ok {
		c.HTTP.Addr = strings.TrimSpace(v)
	}

	env.String("LOG_LEVEL", &c.Logging.Level)
	env.String("LOG_FORMAT", &c.Logging.Format)
}

func splitQuestions(v string) []string {
	var out []string
	for _, q := range strings.Split(v, "|") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if c.Ducking.Enabled {
		if err := c.Ducking.Config.Validate(); err != nil {
			return fmt.Errorf("ducking config: %w", err)
		}
	}
	if c.Flush.Interval <= 0 {
		return fmt.Errorf("flush config: interval must be positive, got %s", c.Flush.Interval)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Source {
	case SourceDevice:
	case SourceWAV:
		if a.WAVPath == "" {
			return fmt.Errorf("wav_path is required when source is %q", SourceWAV)
		}
	default:
		return fmt.Errorf("unknown audio source %q", a.Source)
	}
	if a.Channels < 0 {
		return fmt.Errorf("channels must not be negative, got %d", a.Channels)
	}
	if a.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %s", a.ReadTimeout)
	}
	if a.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", a.QueueCapacity)
	}
	return nil
}

// Validate validates transcription configuration
func (s *STTConfig) Validate() error {
	switch s.Provider {
	case ProviderAssemblyAI:
		if s.AssemblyAIAPIKey == "" {
			return errors.New("ASSEMBLYAI_API_KEY is required for the assemblyai provider")
		}
	case ProviderGoogle, ProviderMock:
	default:
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	return nil
}

// Validate validates dispatch configuration
func (d *DispatchConfig) Validate() error {
	switch d.Mode {
	case DispatchHTTP:
		if d.BackendURL == "" {
			return errors.New("backend_url is required for http dispatch")
		}
	case DispatchGemini:
		if d.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for gemini dispatch")
		}
	default:
		return fmt.Errorf("unknown dispatch mode %q", d.Mode)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", d.Timeout)
	}
	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	switch s.Kind {
	case StoreMongo:
		if s.MongoURI == "" {
			return errors.New("mongo_uri is required for the mongo store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", s.Kind)
	}
	return nil
}

// Session builds the immutable session for the format the audio source
// reported on open
func (c *Config) Session(format entities.AudioFormat) *entities.Session {
	session := entities.NewSession(c.SessionID, format, c.Audio.ForceMono)
	session.Language = c.STT.Language
	return session
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) String(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) Int(key string, dst *int) {
	if v, ok := e.value(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) Float(key string, dst *float64) {
	if v, ok := e.value(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) Bool(key string, dst *bool) {
	if v, ok := e.value(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		}
	}
}

func (e *envReader) Duration(key string, dst *time.Duration) {
	if v, ok := e.value(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
