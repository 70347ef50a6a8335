package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Provider names accepted by AI_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderMock   = "mock"
)

// SessionScope decides which channels share a transcript.
type SessionScope string

const (
	// ScopeCharacter shares one transcript between every channel opened for
	// the same character id.
	ScopeCharacter SessionScope = "character"
	// ScopeConnection gives each channel its own transcript.
	ScopeConnection SessionScope = "connection"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Session    SessionConfig
	Characters CharactersConfig
	Log        LogConfig
	Telemetry  TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.Session.validate(); err != nil {
		return nil, err
	}
	if err := cfg.AI.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8000"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*,http://127.0.0.1:5173"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Addr is derived from Port.
	Addr string
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string  `env:"AI_PROVIDER" envDefault:"gemini"`
	Temperature float32 `env:"AI_TEMPERATURE" envDefault:"0.7"`
	TopP        float32 `env:"AI_TOP_P"`
	MaxTokens   int     `env:"AI_MAX_TOKENS"`

	GoogleAPIKey string `env:"GOOGLE_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	ArkAPIKey    string `env:"ARK_API_KEY"`
	ArkAccessKey string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `env:"ARK_SECRET_KEY"`
	ArkModel     string `env:"ARK_MODEL"`
	ArkBaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion    string `env:"ARK_REGION" envDefault:"cn-beijing"`
}

// Enabled 表示所选 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GoogleAPIKey != "" && c.GeminiModel != ""
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	case ProviderMock:
		return true
	default:
		return false
	}
}

func (c *AIConfig) validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case ProviderGemini, ProviderArk, ProviderMock:
	default:
		return fmt.Errorf("invalid AI_PROVIDER value %q", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("invalid AI_TEMPERATURE value %v", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("invalid AI_MAX_TOKENS value %d", c.MaxTokens)
	}
	return nil
}

// SessionConfig 描述会话登记表的作用域与容量。
type SessionConfig struct {
	Scope    SessionScope `env:"SESSION_SCOPE" envDefault:"character"`
	Capacity int          `env:"SESSION_CAPACITY" envDefault:"0"`
}

func (c *SessionConfig) validate() error {
	c.Scope = SessionScope(strings.ToLower(strings.TrimSpace(string(c.Scope))))
	switch c.Scope {
	case ScopeCharacter, ScopeConnection:
	default:
		return fmt.Errorf("invalid SESSION_SCOPE value %q", c.Scope)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("invalid SESSION_CAPACITY value %d", c.Capacity)
	}
	return nil
}

// CharactersConfig 指向角色数据集。
type CharactersConfig struct {
	Path string `env:"CHARACTERS_FILE" envDefault:"characters.json"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// TelemetryConfig 控制链路追踪导出。
type TelemetryConfig struct {
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"z-tavern-relay"`
	TraceStdout bool   `env:"TRACE_STDOUT" envDefault:"false"`
}
