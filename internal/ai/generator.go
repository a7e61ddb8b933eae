// Package ai generates delegate replies for users who opted into automated
// responses on their comment subtrees.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"discuzz/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// ReplyContext is what the generator sees about the conversation.
type ReplyContext struct {
	ThreadID    uint
	ParentBody  string
	ReplyBody   string
	OwnerHandle string
}

// Generator produces a delegate reply. Implementations must respect ctx; a
// deadline overrun surfaces as a TimeoutError and the caller posts nothing.
type Generator interface {
	GenerateReply(ctx context.Context, rc ReplyContext) (string, error)
}

const systemPrompt = "You are replying on behalf of a user who has delegated " +
	"responses on their comment thread. Write one short, civil reply to the " +
	"comment below. Do not mention that you are automated."

// OpenAIGenerator calls the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator. model defaults to gpt-4o-mini.
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (g *OpenAIGenerator) GenerateReply(ctx context.Context, rc ReplyContext) (string, error) {
	prompt := fmt.Sprintf("Original comment by %s:\n%s\n\nReply received:\n%s",
		rc.OwnerHandle, rc.ParentBody, rc.ReplyBody)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		MaxTokens: 200,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", models.NewTimeoutError("delegate reply generation")
		}
		return "", models.NewGenerationError(err)
	}
	if len(resp.Choices) == 0 {
		return "", models.NewGenerationError(errors.New("empty completion"))
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", models.NewGenerationError(errors.New("blank completion"))
	}
	return reply, nil
}
