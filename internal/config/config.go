// Package config loads daemon settings from an optional YAML file, an optional
// .env file and SAKHI_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sakhivox/internal/form"
)

const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

type Config struct {
	// Provider selects the voice services: "http" (dashboard backend) or
	// "openai".
	Provider  string          `yaml:"provider"`
	Voice     VoiceConfig     `yaml:"voice"`
	API       APIConfig       `yaml:"api"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Audio     AudioConfig     `yaml:"audio"`
	Dashboard DashboardConfig `yaml:"dashboard"`

	Proxy          string        `yaml:"proxy"`   // SOCKS5 address, empty = direct
	Timeout        time.Duration `yaml:"timeout"` // per remote call
	Socket         string        `yaml:"socket"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	TranscriptSize int           `yaml:"transcript_size"` // 0 = unbounded
	InitialMetrics form.Metrics  `yaml:"initial_metrics"`
}

type VoiceConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Token           string   `yaml:"token"`
	Language        string   `yaml:"language"`         // hint sent to STT, "auto" to detect
	DefaultLanguage string   `yaml:"default_language"` // used when nothing was detected
	Accepts         []string `yaml:"accepts"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	STTModel  string `yaml:"stt_model"`
	TTSModel  string `yaml:"tts_model"`
	TTSVoice  string `yaml:"tts_voice"`
	ChatModel string `yaml:"chat_model"`
}

type AudioConfig struct {
	SampleRate      int           `yaml:"sample_rate"`
	FrameSize       int           `yaml:"frame_size"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	SilenceDuration time.Duration `yaml:"silence_duration"`
	SpeakerRate     int           `yaml:"speaker_rate"`
	Cue             bool          `yaml:"cue"`
}

type DashboardConfig struct {
	URL       string        `yaml:"url"` // websocket hub, empty = disabled
	Reconnect time.Duration `yaml:"reconnect"`
	Views     []string      `yaml:"views"`
	Default   string        `yaml:"default_view"`
}

func Default() Config {
	return Config{
		Provider: ProviderHTTP,
		Voice: VoiceConfig{
			BaseURL:         "http://localhost:8000",
			Language:        "auto",
			DefaultLanguage: "en",
		},
		API: APIConfig{BaseURL: "http://localhost:8000"},
		Audio: AudioConfig{
			SampleRate:  16000,
			FrameSize:   1024,
			MaxDuration: 15 * time.Second,
			SpeakerRate: 24000,
			Cue:         true,
		},
		Dashboard: DashboardConfig{
			Reconnect: 3 * time.Second,
			Views:     []string{"dashboard", "history", "loan"},
			Default:   "dashboard",
		},
		Timeout: 60 * time.Second,
		Socket:  "/tmp/sakhivox.sock",
		InitialMetrics: form.Metrics{
			Savings:    1000,
			Attendance: 80,
			Repayment:  80,
		},
	}
}

// Load builds a Config from defaults, then yamlPath, then envFile, then the
// process environment. Missing files are not an error.
func Load(yamlPath, envFile string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", yamlPath, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read %s: %w", yamlPath, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("SAKHI_PROVIDER", &c.Provider)
	str("SAKHI_VOICE_URL", &c.Voice.BaseURL)
	str("SAKHI_VOICE_TOKEN", &c.Voice.Token)
	str("SAKHI_LANGUAGE", &c.Voice.Language)
	str("SAKHI_DEFAULT_LANGUAGE", &c.Voice.DefaultLanguage)
	list("SAKHI_VOICE_ACCEPTS", &c.Voice.Accepts)
	str("SAKHI_API_URL", &c.API.BaseURL)
	str("SAKHI_API_TOKEN", &c.API.Token)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("SAKHI_OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("SAKHI_DASHBOARD_URL", &c.Dashboard.URL)
	list("SAKHI_VIEWS", &c.Dashboard.Views)
	str("SAKHI_PROXY", &c.Proxy)
	str("SAKHI_SOCKET", &c.Socket)
	str("SAKHI_METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup("SAKHI_TRANSCRIPT_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SAKHI_TRANSCRIPT_SIZE: %w", err)
		}
		c.TranscriptSize = n
	}

	for key, dst := range map[string]*time.Duration{
		"SAKHI_TIMEOUT":      &c.Timeout,
		"SAKHI_MAX_DURATION": &c.Audio.MaxDuration,
		"SAKHI_SILENCE":      &c.Audio.SilenceDuration,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderHTTP:
		if c.Voice.BaseURL == "" {
			errs = append(errs, errors.New("voice base url is required for the http provider"))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	if c.Voice.DefaultLanguage == "" || strings.EqualFold(c.Voice.DefaultLanguage, "auto") {
		errs = append(errs, errors.New("default language must be a concrete language"))
	}
	if c.Audio.SampleRate <= 0 || c.Audio.FrameSize <= 0 {
		errs = append(errs, errors.New("audio sample rate and frame size must be positive"))
	}
	if c.TranscriptSize < 0 {
		errs = append(errs, errors.New("transcript size must not be negative"))
	}
	for _, f := range form.Fields {
		if err := form.Validate(f, c.InitialMetrics.Get(f)); err != nil {
			errs = append(errs, fmt.Errorf("initial metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
