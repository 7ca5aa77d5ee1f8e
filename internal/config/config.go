package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrNotFound is returned by ResolveConfigPath when no config file exists
// in any of the searched locations.
var ErrNotFound = errors.New("no config file found")

type Config struct {
	Search     Search     `yaml:"search"`
	Exclusive  Exclusive  `yaml:"exclusive"`
	Feeds      []Feed     `yaml:"feeds"`
	Classifier Classifier `yaml:"classifier"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Notify     Notify     `yaml:"notify"`
	Auth       Auth       `yaml:"auth"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Search struct {
	BaseURL           string   `yaml:"base_url"`
	ClientIDEnv       string   `yaml:"client_id_env"`
	ClientSecretEnv   string   `yaml:"client_secret_env"`
	Queries           []string `yaml:"queries"`
	Display           int      `yaml:"display"`
	Sort              string   `yaml:"sort"`
	MaxPages          int      `yaml:"max_pages"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Timeout           string   `yaml:"timeout"`
}

type Exclusive struct {
	Markers []string `yaml:"markers"`
	Match   string   `yaml:"match"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Classifier struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OpenAIModel string `yaml:"openai_model"`
	OllamaURL   string `yaml:"ollama_url"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
	GroupSize   int    `yaml:"group_size"`
	GroupDelay  string `yaml:"group_delay"`
}

type Pipeline struct {
	MaxItems                 int    `yaml:"max_items"`
	Constrained              bool   `yaml:"constrained"`
	ConstrainedMaxItems      int    `yaml:"constrained_max_items"`
	ConstrainedClassifyItems int    `yaml:"constrained_classify_items"`
	PersistGroupSize         int    `yaml:"persist_group_size"`
	FetchContent             bool   `yaml:"fetch_content"`
	SchedulerTick            string `yaml:"scheduler_tick"`
}

type Notify struct {
	Kafka    Kafka    `yaml:"kafka"`
	Telegram Telegram `yaml:"telegram"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Telegram struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	ChatID   int64  `yaml:"chat_id"`
}

type Auth struct {
	CronSecretEnv string    `yaml:"cron_secret_env"`
	JWTSecretEnv  string    `yaml:"jwt_secret_env"`
	TokenTTL      string    `yaml:"token_ttl"`
	MagicLink     MagicLink `yaml:"magic_link"`
}

type MagicLink struct {
	Provider    string `yaml:"provider"`
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	RedirectURL string `yaml:"redirect_url"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port       int       `yaml:"port"`
	TrustProxy bool      `yaml:"trust_proxy"`
	RateLimit  RateLimit `yaml:"rate_limit"`
}

type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Secrets holds credentials resolved from the environment. It is built once
// per process and handed to the components that need it.
type Secrets struct {
	SearchClientID     string
	SearchClientSecret string
	LLMAPIKey          string
	CronSecret         string
	JWTSecret          string
	TelegramToken      string
	MagicLinkAPIKey    string
}

// ConfigDir returns the XDG config directory for scoopfeed.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "scoopfeed")
}

// DataDir returns the XDG data directory for scoopfeed.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "scoopfeed")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > $XDG_CONFIG_HOME/scoopfeed/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf("%w; searched %s and ./config.yaml", ErrNotFound, xdgConfig)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Search: Search{
			BaseURL:           "https://openapi.naver.com/v1/search/news.json",
			ClientIDEnv:       "NAVER_CLIENT_ID",
			ClientSecretEnv:   "NAVER_CLIENT_SECRET",
			Queries:           []string{"[단독]"},
			Display:           100,
			Sort:              "date",
			MaxPages:          2,
			RequestsPerSecond: 5,
			Timeout:           "15s",
		},
		Exclusive: Exclusive{
			Markers: []string{"[단독]", "<단독>"},
			Match:   "contains",
		},
		Classifier: Classifier{
			Provider:    "anthropic",
			Model:       "claude-3-haiku-20240307",
			OpenAIModel: "gpt-4o-mini",
			OllamaURL:   "http://localhost:11434",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			MaxTokens:   10,
			GroupSize:   3,
			GroupDelay:  "500ms",
		},
		Pipeline: Pipeline{
			MaxItems:                 100,
			ConstrainedMaxItems:      30,
			ConstrainedClassifyItems: 10,
			PersistGroupSize:         5,
			SchedulerTick:            "1m",
		},
		Notify: Notify{
			Kafka:    Kafka{Topic: "scoopfeed.articles"},
			Telegram: Telegram{TokenEnv: "TELEGRAM_BOT_TOKEN"},
		},
		Auth: Auth{
			CronSecretEnv: "CRON_SECRET",
			JWTSecretEnv:  "JWT_SECRET",
			TokenTTL:      "24h",
			MagicLink: MagicLink{
				Provider:  "log",
				APIKeyEnv: "MAGIC_LINK_API_KEY",
			},
		},
		Server: Server{
			Port:      8000,
			RateLimit: RateLimit{RequestsPerSecond: 2, Burst: 10},
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// Debug reports whether per-item debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}

// IsConstrained reports whether the pipeline should use the reduced item
// caps of a time-limited hosting environment.
func (c *Config) IsConstrained() bool {
	return c.Pipeline.Constrained || os.Getenv("VERCEL") == "1"
}

// ItemCap returns the maximum number of articles one pipeline run may fetch.
func (c *Config) ItemCap() int {
	if c.IsConstrained() {
		return c.Pipeline.ConstrainedMaxItems
	}
	return c.Pipeline.MaxItems
}

// ClassifyCap returns how many articles one run may send to the classifier.
// Zero means no limit.
func (c *Config) ClassifyCap() int {
	if c.IsConstrained() {
		return c.Pipeline.ConstrainedClassifyItems
	}
	return 0
}

func (c *Classifier) Delay() time.Duration {
	return parseDuration(c.GroupDelay, 500*time.Millisecond)
}

func (s *Search) RequestTimeout() time.Duration {
	return parseDuration(s.Timeout, 15*time.Second)
}

func (a *Auth) TTL() time.Duration {
	return parseDuration(a.TokenTTL, 24*time.Hour)
}

func (p *Pipeline) Tick() time.Duration {
	return parseDuration(p.SchedulerTick, time.Minute)
}

// Secrets resolves every credential named in the config from the environment.
func (c *Config) Secrets() Secrets {
	return Secrets{
		SearchClientID:     getEnv(c.Search.ClientIDEnv),
		SearchClientSecret: getEnv(c.Search.ClientSecretEnv),
		LLMAPIKey:          getEnv(c.Classifier.APIKeyEnv),
		CronSecret:         getEnv(c.Auth.CronSecretEnv),
		JWTSecret:          getEnv(c.Auth.JWTSecretEnv),
		TelegramToken:      getEnv(c.Notify.Telegram.TokenEnv),
		MagicLinkAPIKey:    getEnv(c.Auth.MagicLink.APIKeyEnv),
	}
}

func getEnv(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
