// Package config loads service configuration from defaults and
// FINGENIE_* environment variables. API keys are optional: a missing key
// disables the capability it serves instead of failing startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fingenie/fingenie/internal/gemini"
	"github.com/fingenie/fingenie/internal/market"
	"github.com/fingenie/fingenie/internal/news"
)

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Market  MarketConfig
	News    NewsConfig
	Storage StorageConfig
	Chat    ChatConfig
	Log     LogConfig
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Port       int
	MCPPort    int
	AdminToken string
}

type GeminiConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
}

type MarketConfig struct {
	BaseURL string
	APIKey  string
}

type NewsConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type ChatConfig struct {
	MaxContextChars        int
	RelatedNewsProbability float64
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Gemini: GeminiConfig{
			BaseURL:    gemini.DefaultBaseURL,
			Model:      "gemini-1.5-flash",
			EmbedModel: "embedding-001",
		},
		Market: MarketConfig{
			BaseURL: market.DefaultBaseURL,
		},
		News: NewsConfig{
			BaseURL: news.DefaultBaseURL,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chat: ChatConfig{
			MaxContextChars:        6000,
			RelatedNewsProbability: 0.3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fingenie"
	}
	return filepath.Join(home, ".fingenie")
}

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "FINGENIE_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "FINGENIE_SERVER_MCP_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		env: "FINGENIE_ADMIN_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
	},
	{
		env: "FINGENIE_GEMINI_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
	},
	{
		env: "FINGENIE_GEMINI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
	},
	{
		env: "FINGENIE_GEMINI_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
	},
	{
		env: "FINGENIE_GEMINI_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
	},
	{
		env: "FINGENIE_MARKET_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Market.BaseURL = v.(string) },
	},
	{
		env: "FINGENIE_MARKET_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Market.APIKey = v.(string) },
	},
	{
		env: "FINGENIE_NEWS_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.News.BaseURL = v.(string) },
	},
	{
		env: "FINGENIE_NEWS_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.News.APIKey = v.(string) },
	},
	{
		env: "FINGENIE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "FINGENIE_MAX_CONTEXT_CHARS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chat.MaxContextChars = v.(int) },
	},
	{
		env: "FINGENIE_RELATED_NEWS_PROBABILITY", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Chat.RelatedNewsProbability = v.(float64) },
	},
	{
		env: "FINGENIE_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

// Load builds the configuration from defaults and environment
// overrides.
func Load() (Config, error) {
	cfg := defaults()
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	for _, spec := range specs {
		raw, ok := os.LookupEnv(spec.env)
		if !ok || raw == "" {
			continue
		}
		switch spec.typ {
		case kString:
			spec.apply(cfg, raw)
		case kInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s: %q is not an integer", spec.env, raw)
			}
			spec.apply(cfg, n)
		case kFloat:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("%s: %q is not a number", spec.env, raw)
			}
			spec.apply(cfg, f)
		}
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MCPPort < 1 || cfg.Server.MCPPort > 65535 {
		return fmt.Errorf("mcp port %d out of range", cfg.Server.MCPPort)
	}
	if cfg.Chat.RelatedNewsProbability < 0 || cfg.Chat.RelatedNewsProbability > 1 {
		return fmt.Errorf("related news probability %v out of range [0,1]", cfg.Chat.RelatedNewsProbability)
	}
	if cfg.Chat.MaxContextChars < 0 {
		return fmt.Errorf("max context chars must be non-negative")
	}
	return nil
}
