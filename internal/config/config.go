package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	AI      AIConfig
	Speech  SpeechConfig
	Chat    ChatConfig
	Storage StorageConfig
	Market  MarketConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	addr, err := resolveListenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Speech.applyFallbacks(cfg.AI)
	cfg.Chat.normalize()
	cfg.Storage.normalize()

	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	Addr            string        `env:"-"`
}

// resolveListenAddr 解析服务器监听地址。
func resolveListenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"` // console | json
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string   `env:"ARK_API_KEY"`
	AccessKey   string   `env:"ARK_ACCESS_KEY"`
	SecretKey   string   `env:"ARK_SECRET_KEY"`
	Model       string   `env:"ARK_MODEL"`
	VisionModel string   `env:"ARK_VISION_MODEL"`
	BaseURL     string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature *float64 `env:"ARK_TEMPERATURE"`
	TopP        *float64 `env:"ARK_TOP_P"`
	MaxTokens   *int     `env:"ARK_MAX_TOKENS"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return strings.TrimSpace(c.Model) != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	return c.newArkModel(ctx, c.Model)
}

// NewVisionModel returns the model used for image diagnosis; it falls back to
// the chat model when ARK_VISION_MODEL is unset.
func (c AIConfig) NewVisionModel(ctx context.Context) (model.ChatModel, error) {
	name := strings.TrimSpace(c.VisionModel)
	if name == "" {
		name = c.Model
	}
	return c.newArkModel(ctx, name)
}

func (c AIConfig) newArkModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelName,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID          string        `env:"SPEECH_APP_ID"`
	AccessToken    string        `env:"SPEECH_ACCESS_TOKEN"`
	APIKey         string        `env:"SPEECH_API_KEY"`
	AccessKey      string        `env:"SPEECH_ACCESS_KEY"`
	SecretKey      string        `env:"SPEECH_SECRET_KEY"`
	Region         string        `env:"SPEECH_REGION" envDefault:"cn-beijing"`
	BaseURL        string        `env:"SPEECH_BASE_URL"`
	ConcurrentMode bool          `env:"SPEECH_ASR_CONCURRENT" envDefault:"false"`
	ASRModel       string        `env:"SPEECH_ASR_MODEL"`
	ASRLanguage    string        `env:"SPEECH_ASR_LANGUAGE" envDefault:"en-US"`
	ASRChunkDelay  time.Duration `env:"SPEECH_ASR_CHUNK_DELAY" envDefault:"200ms"`
	TTSVoice       string        `env:"SPEECH_TTS_VOICE" envDefault:"en_female_amy_jupiter_bigtts"`
	TTSSpeed       float32       `env:"SPEECH_TTS_SPEED" envDefault:"1.0"`
	TTSVolume      float32       `env:"SPEECH_TTS_VOLUME" envDefault:"1.0"`
	TTSLanguage    string        `env:"SPEECH_TTS_LANGUAGE" envDefault:"en-US"`
	Timeout        int           `env:"SPEECH_TIMEOUT" envDefault:"30"`
	Enabled        bool          `env:"-"`
}

// applyFallbacks 没有专门的语音凭证时复用 Ark 凭证。
func (c *SpeechConfig) applyFallbacks(ai AIConfig) {
	c.AppID = strings.TrimSpace(c.AppID)
	c.AccessToken = strings.TrimSpace(c.AccessToken)
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.AccessToken == "" {
		c.AccessToken = c.APIKey
	}

	if c.AccessToken == "" && c.AccessKey == "" {
		c.AccessToken = strings.TrimSpace(ai.APIKey)
		c.APIKey = c.AccessToken
		c.AccessKey = strings.TrimSpace(ai.AccessKey)
		c.SecretKey = strings.TrimSpace(ai.SecretKey)
	}

	if c.Timeout <= 0 {
		c.Timeout = 30
	}

	c.Enabled = c.AppID != "" && c.AccessToken != ""
}

// Provider 转换为语音客户端使用的配置。
func (c SpeechConfig) Provider() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		APIKey:         c.APIKey,
		AccessKey:      c.AccessKey,
		SecretKey:      c.SecretKey,
		Region:         c.Region,
		BaseURL:        c.BaseURL,
		ConcurrentMode: c.ConcurrentMode,
		ASRModel:       c.ASRModel,
		ASRLanguage:    c.ASRLanguage,
		ASRChunkDelay:  c.ASRChunkDelay,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSLanguage:    c.TTSLanguage,
		Timeout:        c.Timeout,
	}
}

// ChatConfig tunes the conversation turn pipeline.
type ChatConfig struct {
	MaxSessions    int           `env:"CHAT_MAX_SESSIONS" envDefault:"1024"`
	HistoryLimit   int           `env:"CHAT_HISTORY_LIMIT" envDefault:"20"`
	MaxRetries     int           `env:"CHAT_MAX_RETRIES" envDefault:"2"`
	RetryBaseDelay time.Duration `env:"CHAT_RETRY_BASE_DELAY" envDefault:"500ms"`
	MaxToolRounds  int           `env:"CHAT_MAX_TOOL_ROUNDS" envDefault:"3"`
	SpeakReplies   bool          `env:"CHAT_SPEAK_REPLIES" envDefault:"true"`
	RenderTimeout  time.Duration `env:"CHAT_RENDER_TIMEOUT" envDefault:"30s"`
}

func (c *ChatConfig) normalize() {
	if c.MaxSessions < 1 {
		c.MaxSessions = 1
	}
	if c.HistoryLimit < 1 {
		c.HistoryLimit = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxToolRounds < 1 {
		c.MaxToolRounds = 1
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 30 * time.Second
	}
}

// StorageConfig 描述分析历史的持久化位置。
type StorageConfig struct {
	RedisURL      string `env:"REDIS_URL"`
	HistoryKey    string `env:"HISTORY_KEY" envDefault:"verdant-sentinel-history"`
	WriteAttempts int    `env:"HISTORY_WRITE_ATTEMPTS" envDefault:"3"`
}

func (c *StorageConfig) normalize() {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	if strings.TrimSpace(c.HistoryKey) == "" {
		c.HistoryKey = "verdant-sentinel-history"
	}
	if c.WriteAttempts < 1 {
		c.WriteAttempts = 1
	}
}

// MarketConfig configures the crop price oracle behind the chat tool.
type MarketConfig struct {
	Currency string `env:"MARKET_CURRENCY" envDefault:"USD"`
	Unit     string `env:"MARKET_UNIT" envDefault:"lb"`
}
