// Package ai 是对外部文本生成服务的统一网关。
//
// 网关负责凭证解析、单次调用超时、按凭证限流与语言指令拼接，底层由 Provider
// （Ark / Gemini）完成真正的网络调用。
package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-think/backend/internal/config"
	"github.com/zhouzirui/z-think/backend/internal/errs"
)

// Role tags a message in a role-tagged history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是发送给模型的一条历史消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次补全调用。Prompt 与 Messages 可以同时存在，Prompt 作为最后一条用户输入。
type Request struct {
	Model             string
	SystemInstruction string
	Prompt            string
	Messages          []Message
	Structured        bool
	// Credential overrides the gateway's default API key for this call.
	Credential  string
	Temperature *float32
	// Language overrides the gateway default ("en" | "vi").
	Language string
}

// Provider performs the network call for one credential.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(string)) (string, error)
}

// ProviderFactory 按凭证创建 Provider，credential 可能为空（由 AK/SK 等带外方式鉴权）。
type ProviderFactory func(ctx context.Context, credential string) (Provider, error)

// Completer is what the engines depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStream(ctx context.Context, req Request, onChunk func(string)) (string, error)
	CompleteJSON(ctx context.Context, req Request, out any) error
}

// Options 配置网关行为。
type Options struct {
	DefaultCredential string
	// Keyless allows calls without any API key, for providers authenticated out of band.
	Keyless       bool
	Language      string
	Timeout       time.Duration
	RatePerMinute int
	Logger        zerolog.Logger
}

// Gateway 实现 Completer。
type Gateway struct {
	factory ProviderFactory
	opts    Options
	logger  zerolog.Logger

	mu        sync.Mutex
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
}

// NewGateway creates a gateway. Providers are created lazily per credential.
func NewGateway(factory ProviderFactory, opts Options) *Gateway {
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Gateway{
		factory:   factory,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "ai").Logger(),
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Complete 执行一次非流式补全。
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	provider, credential, err := g.resolve(ctx, req)
	if err != nil {
		return "", err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := g.wait(ctx, credential); err != nil {
		return "", err
	}

	start := time.Now()
	text, err := provider.Generate(ctx, g.prepare(req))
	if err != nil {
		g.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("completion failed")
		return "", fmt.Errorf("%w: %w", errs.ErrUpstream, err)
	}

	g.logger.Debug().Int("length", len(text)).Bool("structured", req.Structured).Dur("elapsed", time.Since(start)).Msg("completion done")
	return text, nil
}

// CompleteStream streams deltas to onChunk and returns the full text.
func (g *Gateway) CompleteStream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	provider, credential, err := g.resolve(ctx, req)
	if err != nil {
		return "", err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := g.wait(ctx, credential); err != nil {
		return "", err
	}

	if onChunk == nil {
		onChunk = func(string) {}
	}

	text, err := provider.Stream(ctx, g.prepare(req), onChunk)
	if err != nil {
		g.logger.Warn().Err(err).Msg("stream failed")
		return "", fmt.Errorf("%w: %w", errs.ErrUpstream, err)
	}
	return text, nil
}

func (g *Gateway) resolve(ctx context.Context, req Request) (Provider, string, error) {
	credential := strings.TrimSpace(req.Credential)
	if credential == "" {
		credential = g.opts.DefaultCredential
	}
	if credential == "" && !g.opts.Keyless {
		return nil, "", errs.ErrMissingCredential
	}

	g.mu.Lock()
	provider, ok := g.providers[credential]
	g.mu.Unlock()
	if ok {
		return provider, credential, nil
	}

	// 构造客户端可能较慢，不持锁，避免阻塞其他凭证的调用。
	created, err := g.factory(ctx, credential)
	if err != nil {
		return nil, "", fmt.Errorf("%w: create provider: %w", errs.ErrUpstream, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if provider, ok := g.providers[credential]; ok {
		return provider, credential, nil
	}
	provider = created
	g.providers[credential] = provider
	if g.opts.RatePerMinute > 0 {
		g.limiters[credential] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.opts.RatePerMinute)), 1)
	}
	return provider, credential, nil
}

func (g *Gateway) wait(ctx context.Context, credential string) error {
	g.mu.Lock()
	limiter := g.limiters[credential]
	g.mu.Unlock()

	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %w", errs.ErrUpstream, err)
	}
	return nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opts.Timeout)
}

// prepare 拼接语言指令，调用方的 Request 不被修改。
func (g *Gateway) prepare(req Request) Request {
	lang := req.Language
	if lang == "" {
		lang = g.opts.Language
	}
	out := req
	out.Messages = append([]Message(nil), req.Messages...)
	out.SystemInstruction = strings.TrimSpace(req.SystemInstruction + "\n" + LanguageInstruction(lang))
	return out
}

// LanguageInstruction 返回强制输出语言的指令行。
func LanguageInstruction(lang string) string {
	if lang == "vi" {
		return "IMPORTANT: You MUST generate your output strictly in VIETNAMESE language."
	}
	return "IMPORTANT: You MUST generate your output strictly in ENGLISH language."
}

// NewGatewayFromConfig 按 AI_PROVIDER 选择 Provider 工厂并创建网关。
// Ark 的 AK/SK 鉴权不需要 API Key，此时网关以 Keyless 模式运行。
func NewGatewayFromConfig(cfg config.AIConfig, logger zerolog.Logger) *Gateway {
	factory := ArkFactory(cfg)
	keyless := cfg.AccessKey != "" && cfg.SecretKey != ""
	if cfg.Provider == config.ProviderGemini {
		factory = GeminiFactory(cfg.Model)
		keyless = false
	}
	return NewGateway(factory, Options{
		DefaultCredential: cfg.APIKey,
		Keyless:           keyless,
		Language:          cfg.Language,
		Timeout:           cfg.RequestTimeout,
		RatePerMinute:     cfg.RatePerMinute,
		Logger:            logger,
	})
}
