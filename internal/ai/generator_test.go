package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"discuzz/internal/models"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4oMini,
	}
}

func TestOpenAIGenerator_GenerateReply(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "  Thanks for the reply!  "}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	reply, err := gen.GenerateReply(context.Background(), ReplyContext{
		ThreadID:    1,
		ParentBody:  "original",
		ReplyBody:   "a reply",
		OwnerHandle: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for the reply!", reply)
}

func TestOpenAIGenerator_Timeout(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gen.GenerateReply(ctx, ReplyContext{})
	assert.True(t, models.IsCode(err, models.CodeTimeout))
}

func TestOpenAIGenerator_UpstreamError(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := gen.GenerateReply(context.Background(), ReplyContext{})
	assert.True(t, models.IsCode(err, models.CodeGeneration))
}

func TestOpenAIGenerator_BlankCompletion(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "   "}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := gen.GenerateReply(context.Background(), ReplyContext{})
	assert.True(t, models.IsCode(err, models.CodeGeneration))
}
