package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// Role of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat
type Message struct {
	Role    Role
	Content string
}

// Completer generates a reply to a chat
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// ErrEmptyCompletion is returned when the model produced no text
var ErrEmptyCompletion = errors.New("model returned no text")

type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCompleter calls the Anthropic Messages API
type AnthropicCompleter struct {
	messages  messageCreator
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewAnthropicCompleter creates a completer for model
func NewAnthropicCompleter(apiKey, model string, maxTokens int, logger *zap.Logger) *AnthropicCompleter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newAnthropicCompleter(&client.Messages, model, maxTokens, logger)
}

func newAnthropicCompleter(messages messageCreator, model string, maxTokens int, logger *zap.Logger) *AnthropicCompleter {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &AnthropicCompleter{
		messages:  messages,
		model:     model,
		maxTokens: int64(maxTokens),
		logger:    logger,
	}
}

// Complete sends the chat and joins the text blocks of the reply
func (c *AnthropicCompleter) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(messages)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("Chat completion finished",
		zap.String("model", c.model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return sb.String(), nil
}
