// Package llm provides chat-completion clients for the model providers the
// copilot can run against. Providers share a minimal interface: the caller
// hands over an ordered message list and gets back the assistant's text.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is one turn of a conversation, role-tagged the way chat APIs
// expect ("system", "user", "assistant").
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything a provider needs for one completion call.
// System instructions travel as ordinary messages with role "system";
// providers that want them elsewhere lift them out.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Options configures a provider client. Zero values fall back to the
// provider's defaults (public base URL, 120s timeout).
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 120 * time.Second
}

// New builds the provider named by kind ("openai" or "anthropic").
func New(kind string, opts Options) (Provider, error) {
	switch strings.ToLower(kind) {
	case "openai":
		return NewOpenAI(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", kind)
	}
}

// splitSystem separates system-role messages from the rest, concatenating
// their contents. Anthropic takes system text as a top-level field.
func splitSystem(msgs []Message) (system string, rest []Message) {
	var parts []string
	rest = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
