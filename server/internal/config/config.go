package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Store   StoreConfig   `yaml:"store"`
	Blob    BlobConfig    `yaml:"blob"`
	Checkin CheckinConfig `yaml:"checkin"`
	Canvas  CanvasConfig  `yaml:"canvas"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Paths   PathsConfig   `yaml:"paths"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins CORS 与 WebSocket 共用的白名单
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig 对话补全配置
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai", "anthropic" or "mock"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string        `yaml:"api_key"`
	APIURL      string        `yaml:"api_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig 记录存储配置
type StoreConfig struct {
	// Driver 决定存储实现：memory | mongo | redis
	Driver   string        `yaml:"driver"`
	MongoURI string        `yaml:"mongo_uri"`
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BlobConfig 照片存储配置
type BlobConfig struct {
	// Driver 决定文件存储实现：local | supabase
	Driver         string `yaml:"driver"`
	LocalDir       string `yaml:"local_dir"`
	PublicBaseURL  string `yaml:"public_base_url"`
	SupabaseURL    string `yaml:"supabase_url"`
	SupabaseKey    string `yaml:"supabase_key"`
	SupabaseBucket string `yaml:"supabase_bucket"`
}

type CheckinConfig struct {
	// RevealInterval 逐字显示的间隔
	RevealInterval time.Duration `yaml:"reveal_interval"`
	// PromptSettle 情绪提示后到展示标记面板的停顿
	PromptSettle time.Duration `yaml:"prompt_settle"`
	// PromptLead 回复显示完之后追加情绪提示的额外停顿
	PromptLead time.Duration `yaml:"prompt_lead"`
	// Timezone 决定“今天”的日期
	Timezone string `yaml:"timezone"`
}

type CanvasConfig struct {
	Width         int `yaml:"width"`
	Height        int `yaml:"height"`
	DisplayWidth  int `yaml:"display_width"`
	DisplayHeight int `yaml:"display_height"`
}

type SessionConfig struct {
	MaxInactiveTime time.Duration `yaml:"max_inactive_time"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type PathsConfig struct {
	Script string `yaml:"script"`
	EnvDir string `yaml:"env_dir"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// .env 只补充环境变量，不覆盖已经存在的值；文件不存在时忽略
	envDir := cfg.Paths.EnvDir
	if envDir == "" {
		envDir = filepath.Dir(path)
	}
	dotEnvPath := filepath.Join(envDir, ".env")
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", dotEnvPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	// 验证必需配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息
func (c *Config) applyEnv() {
	if llmKey := os.Getenv("LLM_API_KEY"); llmKey != "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.OpenAI.APIKey = llmKey
		case "anthropic":
			c.LLM.Anthropic.APIKey = llmKey
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		c.Store.MongoURI = uri
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Store.RedisURL = url
	}
	if url := os.Getenv("SUPABASE_PROJECT_URL"); url != "" {
		c.Blob.SupabaseURL = url
	}
	if key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); key != "" {
		c.Blob.SupabaseKey = key
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "mock"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.Temperature == 0 {
		c.LLM.OpenAI.Temperature = 0.7
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = "local"
	}
	if c.Blob.LocalDir == "" {
		c.Blob.LocalDir = "data/blobs"
	}
	if c.Blob.SupabaseBucket == "" {
		c.Blob.SupabaseBucket = "image"
	}
	if c.Checkin.RevealInterval == 0 {
		c.Checkin.RevealInterval = 30 * time.Millisecond
	}
	if c.Checkin.PromptLead == 0 {
		c.Checkin.PromptLead = 500 * time.Millisecond
	}
	if c.Checkin.PromptSettle == 0 {
		c.Checkin.PromptSettle = 2 * time.Second
	}
	if c.Checkin.Timezone == "" {
		c.Checkin.Timezone = "Asia/Seoul"
	}
	if c.Canvas.Width == 0 {
		c.Canvas.Width = 800
	}
	if c.Canvas.Height == 0 {
		c.Canvas.Height = 600
	}
	if c.Canvas.DisplayWidth == 0 {
		c.Canvas.DisplayWidth = c.Canvas.Width
	}
	if c.Canvas.DisplayHeight == 0 {
		c.Canvas.DisplayHeight = c.Canvas.Height
	}
	if c.Session.MaxInactiveTime == 0 {
		c.Session.MaxInactiveTime = 30 * time.Minute
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = 10 * time.Minute
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY env var or config)")
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY env var or config)")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	switch c.Store.Driver {
	case "memory":
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("mongo_uri is required for mongo store")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis_url is required for redis store")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	switch c.Blob.Driver {
	case "local":
	case "supabase":
		if c.Blob.SupabaseURL == "" || c.Blob.SupabaseKey == "" {
			return fmt.Errorf("supabase_url and supabase_key are required for supabase blob store")
		}
	default:
		return fmt.Errorf("unsupported blob driver: %s", c.Blob.Driver)
	}

	if _, err := time.LoadLocation(c.Checkin.Timezone); err != nil {
		return fmt.Errorf("invalid checkin timezone %q: %w", c.Checkin.Timezone, err)
	}
	return nil
}
