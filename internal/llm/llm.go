package llm

import (
	"context"
	"log"
	"strings"
	"time"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
	Name() string
}

// Options selects and configures a provider.
type Options struct {
	Provider    string // anthropic, openai or ollama
	Model       string
	OpenAIModel string
	OllamaURL   string
	BaseURL     string // overrides the hosted API endpoint
	APIKey      string
	Timeout     time.Duration
}

// CreateProvider creates an LLM provider based on configuration. It returns
// nil when the selected provider cannot be used.
func CreateProvider(opts Options) Provider {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	switch strings.ToLower(opts.Provider) {
	case "ollama":
		p := NewOllamaProvider(opts.Model, opts.OllamaURL, opts.Timeout)
		if p.IsConfigured() {
			log.Printf("Using Ollama with model: %s", opts.Model)
			return p
		}
		log.Println("Ollama not available, classification will default to Other")
		return nil
	case "openai":
		p := NewOpenAIProvider(opts.OpenAIModel, opts.APIKey, opts.BaseURL, opts.Timeout)
		if p.IsConfigured() {
			log.Printf("Using OpenAI with model: %s", opts.OpenAIModel)
			return p
		}
	default:
		p := NewAnthropicProvider(opts.Model, opts.APIKey, opts.BaseURL, opts.Timeout)
		if p.IsConfigured() {
			log.Printf("Using Anthropic with model: %s", opts.Model)
			return p
		}
	}

	log.Printf("No API key for LLM provider %q, classification will default to Other", opts.Provider)
	return nil
}
