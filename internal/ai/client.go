// Package ai provides a unified streaming interface for chat completion
// providers. OpenAI and Azure OpenAI share one implementation built on
// go-openai; ScriptedClient replays recorded streams for offline use.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/common-creation/chatpipe/internal/config"
)

// Client defines the unified interface for AI providers.
type Client interface {
	// ChatCompletionStream sends a chat completion request and returns a stream reader.
	//
	// Example:
	//   stream, err := client.ChatCompletionStream(ctx, req)
	//   if err != nil {
	//       return err
	//   }
	//   defer stream.Close()
	//
	//   for {
	//       ev, err := stream.Recv()
	//       if err == io.EOF {
	//           break
	//       }
	//       // Process ev
	//   }
	ChatCompletionStream(ctx context.Context, req ChatRequest) (StreamReader, error)

	// Ping checks if the AI service is accessible and responding.
	Ping(ctx context.Context) error
}

// ClientOptions contains options for creating a new AI client.
type ClientOptions struct {
	// Timeout for establishing a stream. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RetryPolicy defines how failed stream requests are retried.
	RetryPolicy *RetryPolicy

	// HTTPClient replaces the default HTTP client.
	HTTPClient *http.Client
}

// RetryPolicy defines retry behavior for failed requests.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// InitialDelay is the delay before the first retry. It doubles per attempt
	// up to MaxDelay.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// NewClient creates a new AI client based on the provided configuration.
//
// Example:
//
//	cfg := config.AIConfig{
//	    Provider: "openai",
//	    APIKey:   "sk-...",
//	}
//	client, err := ai.NewClient(cfg)
//	if err != nil {
//	    return err
//	}
func NewClient(cfg config.AIConfig, opts ...ClientOptions) (Client, error) {
	// Validate configuration
	if cfg.Provider == "" {
		return nil, errors.New("ai provider not specified")
	}

	// Merge options
	var options ClientOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	// Set defaults
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}

	if options.RetryPolicy == nil {
		options.RetryPolicy = DefaultRetryPolicy()
	}

	// Convert config.AIConfig to OpenAIConfig
	oc := OpenAIConfig{
		APIKey:       cfg.APIKey,
		Organization: cfg.Organization,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		Retry:        *options.RetryPolicy,
		Timeout:      options.Timeout,
		HTTPClient:   options.HTTPClient,
	}

	// Create client based on provider
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(oc)
	case "azure":
		oc.Azure = &AzureSettings{
			Endpoint:       cfg.Azure.Endpoint,
			DeploymentName: cfg.Azure.DeploymentName,
			APIVersion:     cfg.Azure.APIVersion,
		}
		return NewOpenAIClient(oc)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}
