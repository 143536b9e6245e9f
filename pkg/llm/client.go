// Package llm wraps the OpenAI-compatible chat-completion and embedding
// endpoints served by Ollama. Two completers are wired: a fast model for the
// zero-shot hot path and a smart model for the chain-of-thought fallback.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message roles mirror the chat-completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat-completion prompt.
type Message struct {
	Role    string
	Content string
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Completer produces a completion for a chat prompt.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Chat is a Completer backed by one model on one OpenAI-compatible endpoint.
type Chat struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewChat connects to host (an Ollama base URL without the /v1 suffix) and
// completes with the given model.
func NewChat(host, model string, temperature float32, timeout time.Duration) *Chat {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(host, "/") + "/v1"
	return &Chat{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		timeout:     timeout,
	}
}

// Model returns the model name this completer targets.
func (c *Chat) Model() string { return c.model }

// Complete sends the prompt and returns the raw completion text.
func (c *Chat) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion with model %q failed: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion with model %q returned no choices", c.model)
	}
	return resp.Choices[0].Message.Content, nil
}
