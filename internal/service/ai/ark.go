package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-think/backend/internal/config"
)

// ArkProvider runs requests through an eino chat chain.
type ArkProvider struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkProvider 编译 system + history + query 的对话链。
func NewArkProvider(ctx context.Context, chatModel model.ChatModel) (*ArkProvider, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &ArkProvider{chain: runnable}, nil
}

// ArkFactory creates one Ark provider per credential from the shared AI config.
func ArkFactory(cfg config.AIConfig) ProviderFactory {
	return func(ctx context.Context, credential string) (Provider, error) {
		chatModel, err := cfg.NewChatModel(ctx, credential)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewArkProvider(ctx, chatModel)
	}
}

// Generate 调用 Invoke 获取完整回复。
func (p *ArkProvider) Generate(ctx context.Context, req Request) (string, error) {
	response, err := p.chain.Invoke(ctx, buildChainInput(req), chainOptions(req)...)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	return response.Content, nil
}

// Stream 逐块读取模型输出，结束后合并为完整消息。
func (p *ArkProvider) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	stream, err := p.chain.Stream(ctx, buildChainInput(req), chainOptions(req)...)
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onChunk(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", nil
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

func chainOptions(req Request) []compose.Option {
	var modelOpts []model.Option
	if req.Temperature != nil {
		modelOpts = append(modelOpts, model.WithTemperature(*req.Temperature))
	}
	if req.Model != "" {
		modelOpts = append(modelOpts, model.WithModel(req.Model))
	}
	if len(modelOpts) == 0 {
		return nil
	}
	return []compose.Option{compose.WithChatModelOption(modelOpts...)}
}

// buildChainInput 将 Request 映射为模板变量。Prompt 为空时，最后一条用户消息作为 query。
func buildChainInput(req Request) map[string]any {
	messages := req.Messages
	query := req.Prompt
	if query == "" && len(messages) > 0 && messages[len(messages)-1].Role == RoleUser {
		query = messages[len(messages)-1].Content
		messages = messages[:len(messages)-1]
	}

	return map[string]any{
		"system":  req.SystemInstruction,
		"history": buildHistoryMessages(messages),
		"query":   query,
	}
}

func buildHistoryMessages(messages []Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
