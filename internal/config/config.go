package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/viper"
)

// Provider 名称。
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"

	defaultGeminiModel = "gemini-2.5-flash"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Storage StorageConfig
	Loop    LoopConfig
	Log     LogConfig
}

// Load 从环境变量（以及可选的 CONFIG_FILE 配置文件）加载配置。
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return loadFrom(v)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("AI_PROVIDER", ProviderArk)
	v.SetDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ARK_REGION", "cn-beijing")
	v.SetDefault("AI_LANGUAGE", "en")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return v, nil
}

func loadFrom(v *viper.Viper) (*Config, error) {
	server, err := loadServerConfig(v)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(v)
	if err != nil {
		return nil, err
	}

	loop, err := loadLoopConfig(v)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Storage: StorageConfig{DSN: getString(v, "STORAGE_DSN", "")},
		Loop:    loop,
		Log: LogConfig{
			Level:  getString(v, "LOG_LEVEL", "info"),
			Format: getString(v, "LOG_FORMAT", "console"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := getString(v, "PORT", "8080")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string
	APIKey         string
	AllyAPIKey     string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	Language       string
	RequestTimeout time.Duration
	RatePerMinute  int
}

// StorageConfig 描述会话持久化配置。DSN 为空时使用内存存储。
type StorageConfig struct {
	DSN string
}

// LoopConfig 描述轮流发言引擎的策略常量。
type LoopConfig struct {
	MaxRounds         int
	StopToken         string
	StopMinRounds     int
	StopMinRatio      float64
	ExplorationRounds int
	ConvergenceRounds int
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。apiKey 非空时覆盖默认凭证。
func (c AIConfig) NewChatModel(ctx context.Context, apiKey string) (model.ChatModel, error) {
	if apiKey == "" {
		apiKey = c.APIKey
	}
	if c.Model == "" || (apiKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("ark credential or model missing, provide AI_API_KEY + AI_MODEL or an AK/SK pair")
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

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      apiKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(v *viper.Viper) (AIConfig, error) {
	provider := strings.ToLower(getString(v, "AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderGemini {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloat(v, "AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloat(v, "AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalInt(v, "AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBool(v, "AI_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDuration(v, "AI_REQUEST_TIMEOUT", 90*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	rate := 0
	if override, err := parseOptionalInt(v, "AI_RATE_PER_MINUTE"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		rate = *override
	}

	language := strings.ToLower(getString(v, "AI_LANGUAGE", "en"))
	if language != "en" && language != "vi" {
		return AIConfig{}, fmt.Errorf("invalid AI_LANGUAGE value %q", language)
	}

	modelName := getString(v, "AI_MODEL", "")
	if modelName == "" && provider == ProviderGemini {
		modelName = defaultGeminiModel
	}

	apiKey := getString(v, "AI_API_KEY", "")
	if apiKey == "" {
		// 兼容旧的 Ark / Gemini 变量名。
		apiKey = getString(v, "ARK_API_KEY", getString(v, "GEMINI_API_KEY", ""))
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         apiKey,
		AllyAPIKey:     getString(v, "AI_ALLY_API_KEY", ""),
		AccessKey:      getString(v, "ARK_ACCESS_KEY", ""),
		SecretKey:      getString(v, "ARK_SECRET_KEY", ""),
		Model:          modelName,
		BaseURL:        getString(v, "ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getString(v, "ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		Language:       language,
		RequestTimeout: timeout,
		RatePerMinute:  rate,
	}, nil
}

func loadLoopConfig(v *viper.Viper) (LoopConfig, error) {
	cfg := LoopConfig{
		MaxRounds:         6,
		StopToken:         getString(v, "LOOP_STOP_TOKEN", "[[DONE]]"),
		StopMinRounds:     2,
		StopMinRatio:      0.5,
		ExplorationRounds: 2,
		ConvergenceRounds: 2,
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"LOOP_MAX_ROUNDS", &cfg.MaxRounds, 1},
		{"LOOP_STOP_MIN_ROUNDS", &cfg.StopMinRounds, 0},
		{"LOOP_EXPLORATION_ROUNDS", &cfg.ExplorationRounds, 0},
		{"LOOP_CONVERGENCE_ROUNDS", &cfg.ConvergenceRounds, 0},
	}
	for _, item := range ints {
		val, err := parseOptionalInt(v, item.key)
		if err != nil {
			return LoopConfig{}, err
		}
		if val == nil {
			continue
		}
		if *val < item.min {
			return LoopConfig{}, fmt.Errorf("invalid %s value %d: must be >= %d", item.key, *val, item.min)
		}
		*item.dst = *val
	}

	ratio, err := parseOptionalFloat(v, "LOOP_STOP_MIN_RATIO")
	if err != nil {
		return LoopConfig{}, err
	}
	if ratio != nil {
		if *ratio < 0 || *ratio > 1 {
			return LoopConfig{}, fmt.Errorf("invalid LOOP_STOP_MIN_RATIO value %v: must be within [0,1]", *ratio)
		}
		cfg.StopMinRatio = *ratio
	}

	return cfg, nil
}

func getString(v *viper.Viper, key, defaultValue string) string {
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v *viper.Viper, key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDuration(v *viper.Viper, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理。
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloat(v *viper.Viper, key string) (*float64, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalInt(v *viper.Viper, key string) (*int, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
