package clustering

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	defaultOpenAIModel = "gpt-4o-mini"
)

// Model generates a JSON completion for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelConfig selects and configures a Model.
type ModelConfig struct {
	Provider    string
	APIKey      string `json:"-"`
	Model       string
	BaseURL     string
	Temperature float64
}

// NewModel builds the model for cfg.Provider. It returns a *ConfigError
// when no API key is configured.
func NewModel(ctx context.Context, cfg ModelConfig) (Model, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}
	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGeminiModel(ctx, cfg)
	case ProviderOpenAI:
		return NewOpenAIModel(cfg)
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown clustering provider %q", cfg.Provider)}
	}
}

// GeminiModel calls the Gemini API with JSON output.
type GeminiModel struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGeminiModel(ctx context.Context, cfg ModelConfig) (*GeminiModel, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiModel{client: client, model: model, temperature: float32(cfg.Temperature)}, nil
}

func (g *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}

// OpenAIModel calls an OpenAI-compatible chat completion API in JSON mode.
type OpenAIModel struct {
	llm         llms.Model
	temperature float64
}

func NewOpenAIModel(cfg ModelConfig) (*OpenAIModel, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return &OpenAIModel{llm: llm, temperature: cfg.Temperature}, nil
}

func (o *OpenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithTemperature(o.temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	return out, nil
}
