package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/SupraChat/internal/core"
)

// Replies used when the model cannot answer.
const (
	EmptyReply       = "I'm sorry, I couldn't process that."
	UnavailableReply = "Error: AI assistance unavailable."
)

const systemInstruction = "You are a helpful, witty, and concise AI assistant embedded in a private chat application. Keep responses short and friendly."

// Assistant answers "ai:" prompts. It never returns an error: failures turn
// into one of the fixed replies.
type Assistant struct {
	provider core.LLMProvider
	logger   *slog.Logger
	timeout  time.Duration
}

// NewAssistant wraps provider. A nil provider makes every reply
// UnavailableReply.
func NewAssistant(provider core.LLMProvider, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{provider: provider, logger: logger, timeout: 60 * time.Second}
}

// Reply asks the model about prompt given the recent conversation lines.
func (a *Assistant) Reply(ctx context.Context, prompt string, history []string) string {
	if a == nil || a.provider == nil {
		return UnavailableReply
	}
	ctx, cancel := contextWithTimeout(ctx, a.timeout)
	defer cancel()

	answer, err := a.provider.Generate(ctx, systemInstruction, BuildPrompt(prompt, history))
	if err != nil {
		a.logger.Warn("assistant request failed", "error", err)
		return UnavailableReply
	}
	if strings.TrimSpace(answer) == "" {
		return EmptyReply
	}
	return answer
}

// BuildPrompt renders the user turn sent to the model.
func BuildPrompt(prompt string, history []string) string {
	return fmt.Sprintf("Context of last messages: %s\n\nUser Question: %s", strings.Join(history, " | "), prompt)
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
