package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

// OpenAI backs the provider surface with the OpenAI API.
type OpenAI struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

// NewOpenAI builds an OpenAI provider from LLM config.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	chat := cfg.ChatModel
	if chat == "" {
		chat = openai.GPT4oMini
	}
	embed := cfg.EmbeddingModel
	if embed == "" {
		embed = string(openai.SmallEmbedding3)
	}
	return &OpenAI{
		client:         openai.NewClient(cfg.APIKey),
		chatModel:      chat,
		embeddingModel: embed,
	}
}

func (o *OpenAI) Generate(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("provider: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("provider: embeddings: %w", err)
	}
	vecs := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float64(v)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (o *OpenAI) Moderate(ctx context.Context, text string) (state.Verdict, error) {
	resp, err := o.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return state.Verdict{}, fmt.Errorf("provider: moderation: %w", err)
	}
	for _, result := range resp.Results {
		if result.Flagged {
			return state.Verdict{Flagged: true, Reason: flaggedCategories(result)}, nil
		}
	}
	return state.Verdict{}, nil
}

func flaggedCategories(result openai.Result) string {
	var cats []string
	if result.Categories.Hate {
		cats = append(cats, "hate")
	}
	if result.Categories.Violence {
		cats = append(cats, "violence")
	}
	if result.Categories.SelfHarm {
		cats = append(cats, "self-harm")
	}
	if result.Categories.Sexual {
		cats = append(cats, "sexual")
	}
	if result.Categories.Harassment {
		cats = append(cats, "harassment")
	}
	if len(cats) == 0 {
		return "flagged"
	}
	return strings.Join(cats, ",")
}

var _ Provider = (*OpenAI)(nil)
