package agent

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"

	"drunk-bob/internal/observability"
)

//go:embed prompts/bob.yaml
var defaultPrompt []byte

// PromptSpec is the YAML definition of the responder's system prompt.
type PromptSpec struct {
	System             string `yaml:"system"`
	Format             string `yaml:"format"`
	CollectionPreamble string `yaml:"collection_preamble"`
	Style              struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"style"`
}

// DefaultPromptSpec returns the built-in prompt.
func DefaultPromptSpec() (PromptSpec, error) {
	return ParsePromptSpec(defaultPrompt)
}

// LoadPromptSpec reads a prompt spec from a YAML file.
func LoadPromptSpec(path string) (PromptSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PromptSpec{}, fmt.Errorf("read prompt spec: %w", err)
	}
	return ParsePromptSpec(b)
}

// ParsePromptSpec decodes a YAML prompt spec.
func ParsePromptSpec(data []byte) (PromptSpec, error) {
	var spec PromptSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return PromptSpec{}, fmt.Errorf("parse prompt spec: %w", err)
	}
	if strings.TrimSpace(spec.System) == "" {
		return PromptSpec{}, errors.New("prompt spec: system prompt is empty")
	}
	return spec, nil
}

// OpenAIAgent answers messages with a chat completion model instead of the
// agent backend.
type OpenAIAgent struct {
	client  *openai.Client
	model   string
	spec    PromptSpec
	timeout time.Duration
}

// NewOpenAIAgent creates a responder using model.
func NewOpenAIAgent(client *openai.Client, model string, spec PromptSpec) *OpenAIAgent {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAgent{client: client, model: model, spec: spec, timeout: DefaultTimeout}
}

// systemPrompt renders the system message, including the user's collection.
func (a *OpenAIAgent) systemPrompt(collection []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.spec.System))
	if f := strings.TrimSpace(a.spec.Format); f != "" {
		b.WriteString("\n\n")
		b.WriteString(f)
	}
	if len(collection) > 0 {
		preamble := a.spec.CollectionPreamble
		if preamble == "" {
			preamble = "Collection:"
		}
		b.WriteString("\n\n")
		b.WriteString(preamble)
		for _, name := range collection {
			b.WriteString("\n- ")
			b.WriteString(name)
		}
	}
	return b.String()
}

// Respond returns the model's reply to req.Text.
func (a *OpenAIAgent) Respond(ctx context.Context, req MessageRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", errors.New("message text is required")
	}

	temperature := a.spec.Style.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	maxTokens := a.spec.Style.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 700
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		User:        req.Wallet,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt(req.Collection)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	observability.RecordAgentLatency("openai", time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
