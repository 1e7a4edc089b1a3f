package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/SupraChat/internal/core"
)

const (
	// DefaultModel is used when no model name is configured.
	DefaultModel       = "gemini-1.5-flash"
	defaultTemperature = 0.7
	// Chat replies are meant to be short.
	defaultMaxOutputTokens = 512
)

// ErrBlocked is returned when Gemini refuses a prompt or stops a reply for
// safety reasons.
var ErrBlocked = errors.New("gemini: response blocked")

// GeminiLLM is the core.LLMProvider backed by the Gemini API. One value is
// shared by every conversation; each call builds its own model handle.
type GeminiLLM struct {
	client          *genai.Client
	modelName       string
	temperature     float32
	maxOutputTokens int32
}

// GeminiOption adjusts a GeminiLLM at construction.
type GeminiOption func(*GeminiLLM)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiLLM) { g.temperature = t }
}

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(n int32) GeminiOption {
	return func(g *GeminiLLM) { g.maxOutputTokens = n }
}

// NewGeminiLLM connects to Gemini. apiKey falls back to GEMINI_API_KEY and
// modelName to DefaultModel.
func NewGeminiLLM(ctx context.Context, apiKey, modelName string, opts ...GeminiOption) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	g := &GeminiLLM{
		client:          cl,
		modelName:       modelName,
		temperature:     defaultTemperature,
		maxOutputTokens: defaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close releases the underlying client.
func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate sends one user turn under systemPrompt and returns the text of
// the first candidate. An empty string means the model said nothing.
func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(g.temperature)
	if g.maxOutputTokens > 0 {
		m.SetMaxOutputTokens(g.maxOutputTokens)
	}
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return replyText(resp)
}

// replyText joins the text parts of the first candidate.
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("%w: prompt %v", ErrBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: reply stopped", ErrBlocked)
	}
	if cand.Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
