package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider 使用给定 API Key 创建客户端。
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// GeminiFactory creates one client per credential.
func GeminiFactory(model string) ProviderFactory {
	return func(ctx context.Context, credential string) (Provider, error) {
		return NewGeminiProvider(ctx, credential, model)
	}
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.modelFor(req), geminiContents(req), geminiConfig(req))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	var full []byte
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.modelFor(req), geminiContents(req), geminiConfig(req)) {
		if err != nil {
			return "", fmt.Errorf("stream content: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		full = append(full, text...)
		onChunk(text)
	}
	return string(full), nil
}

func (p *GeminiProvider) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if req.Prompt != "" {
		contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
	}
	return contents
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{Temperature: req.Temperature}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Structured {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}
