package proposals

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Request describes the pitch a proposal should be drafted for.
type Request struct {
	ClientName   string
	ProjectBrief string
	Tone         string
}

// Generator produces proposal drafts. Implementations may call out to an
// LLM provider or be entirely local.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OpenAIConfig configures the OpenAI-backed generator.
type OpenAIConfig struct {
	APIKey      string
	Model       string  // default: gpt-4o-mini
	Temperature float32 // default: 0.7
	MaxTokens   int     // default: 1500
}

// OpenAIGenerator drafts proposals through the OpenAI chat completion API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIGenerator creates a generator backed by the OpenAI API.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}

	return &OpenAIGenerator{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

const systemPrompt = "You are a freelance business consultant. Write a concise, " +
	"client-ready project proposal. Lead with the client's problem, then the " +
	"approach, then a short closing. No placeholders."

// Generate drafts a proposal for the given request.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Client: %s\n", req.ClientName)
	fmt.Fprintf(&prompt, "Project brief: %s\n", req.ProjectBrief)
	if req.Tone != "" {
		fmt.Fprintf(&prompt, "Tone: %s\n", req.Tone)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}
