package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	Organization string
	BaseURL      string
	Model        string
	Retry        RetryPolicy
	Timeout      time.Duration
	HTTPClient   *http.Client

	// Azure switches the client to Azure OpenAI when set.
	Azure *AzureSettings
}

// AzureSettings holds the Azure OpenAI deployment coordinates.
type AzureSettings struct {
	Endpoint       string
	DeploymentName string
	APIVersion     string
}

// OpenAIClient implements Client for OpenAI and Azure OpenAI.
type OpenAIClient struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIClient creates a new OpenAI client instance.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, NewError(ErrTypeAuthentication, "API key is required")
	}

	// Set defaults
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}

	// Create client configuration
	var clientConfig openai.ClientConfig
	if cfg.Azure != nil {
		if cfg.Azure.Endpoint == "" {
			return nil, NewError(ErrTypeInvalidRequest, "Azure endpoint is required")
		}
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.Azure.Endpoint)
		clientConfig.APIVersion = cfg.Azure.APIVersion
		if clientConfig.APIVersion == "" {
			clientConfig.APIVersion = DefaultAzureAPIVersion
		}
		// Map every model name to the deployment
		deployment := cfg.Azure.DeploymentName
		clientConfig.AzureModelMapperFunc = func(model string) string {
			if deployment != "" {
				return deployment
			}
			return model
		}
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.Organization != "" {
			clientConfig.OrgID = cfg.Organization
		}
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	// Streams stay open for the whole answer, so the timeout bounds only the
	// wait for the first byte.
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	} else {
		clientConfig.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		}
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// ChatCompletionStream implements the Client interface for streaming chat completion.
func (c *OpenAIClient) ChatCompletionStream(ctx context.Context, req ChatRequest) (StreamReader, error) {
	openaiReq := c.convertChatRequest(req)

	// Execute with retry logic
	var stream *openai.ChatCompletionStream
	var lastErr error

	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			// Calculate exponential backoff delay
			delay := c.config.Retry.InitialDelay * time.Duration(1<<(attempt-1))
			if c.config.Retry.MaxDelay > 0 && delay > c.config.Retry.MaxDelay {
				delay = c.config.Retry.MaxDelay
			}
			select {
			case <-ctx.Done():
				return nil, NewError(ErrTypeTimeout, "context cancelled during retry").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		stream, lastErr = c.client.CreateChatCompletionStream(ctx, openaiReq)
		if lastErr == nil {
			break
		}
		if !c.isRetryableError(lastErr) {
			break
		}
	}

	if lastErr != nil {
		return nil, c.wrapError(lastErr)
	}
	return &openAIStreamReader{stream: stream}, nil
}

// Ping implements the Client interface for health checking.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.ListModels(ctx); err != nil {
		return c.wrapError(err)
	}
	return nil
}

// convertChatRequest converts our ChatRequest to OpenAI's format.
func (c *OpenAIClient) convertChatRequest(req ChatRequest) openai.ChatCompletionRequest {
	openaiReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      make([]openai.ChatCompletionMessage, len(req.Messages)),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	if openaiReq.Model == "" {
		if c.config.Model != "" {
			openaiReq.Model = c.config.Model
		} else {
			openaiReq.Model = DefaultModel
		}
	}

	// Convert messages
	for i, msg := range req.Messages {
		openaiReq.Messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		}
	}

	applyExtra(&req)

	reasoning := isReasoningModel(openaiReq.Model)

	// Reasoning models reject sampling overrides
	if req.Temperature != nil && !reasoning {
		openaiReq.Temperature = *req.Temperature
	}
	// OpenAI reasoning models (o1, o3, o4, etc.) use MaxCompletionTokens instead of MaxTokens
	if req.MaxTokens != nil {
		if reasoning {
			openaiReq.MaxCompletionTokens = *req.MaxTokens
		} else {
			openaiReq.MaxTokens = *req.MaxTokens
		}
	}
	if req.TopP != nil && !reasoning {
		openaiReq.TopP = *req.TopP
	}
	if req.Stop != nil {
		openaiReq.Stop = req.Stop
	}
	if req.ReasoningEffort != "" && reasoning {
		openaiReq.ReasoningEffort = req.ReasoningEffort
	}

	return openaiReq
}

// applyExtra lifts the parameter-policy keys the OpenAI wire format knows into
// typed fields. Explicit fields win.
func applyExtra(req *ChatRequest) {
	for key, v := range req.Extra {
		switch key {
		case "temperature":
			if f, ok := toFloat(v); ok && req.Temperature == nil {
				req.Temperature = FloatPtr(float32(f))
			}
		case "top_p", "topP":
			if f, ok := toFloat(v); ok && req.TopP == nil {
				req.TopP = FloatPtr(float32(f))
			}
		case "max_tokens", "maxTokens":
			if f, ok := toFloat(v); ok && req.MaxTokens == nil {
				req.MaxTokens = IntPtr(int(f))
			}
		case "stop":
			if req.Stop != nil {
				continue
			}
			switch s := v.(type) {
			case []string:
				req.Stop = s
			case []any:
				for _, item := range s {
					if str, ok := item.(string); ok {
						req.Stop = append(req.Stop, str)
					}
				}
			}
		case "reasoning_effort":
			if s, ok := v.(string); ok && req.ReasoningEffort == "" {
				req.ReasoningEffort = s
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-5")
}

// isRetryableError checks if the error should be retried.
func (c *OpenAIClient) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for specific OpenAI errors
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		case http.StatusInternalServerError, http.StatusBadGateway:
			return true
		}
		return false
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}

	// Check for network errors
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network")
}

// wrapError converts OpenAI errors to our error types.
func (c *OpenAIClient) wrapError(err error) error {
	if err == nil {
		return nil
	}

	// Handle OpenAI API errors
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		aiErr := NewError(c.getErrorType(apiErr.HTTPStatusCode, apiErr.Code), apiErr.Message).
			WithStatusCode(apiErr.HTTPStatusCode).
			WithCause(err)

		// Add additional details
		if apiErr.Code != nil {
			if codeStr, ok := apiErr.Code.(string); ok {
				aiErr = aiErr.WithDetail("code", codeStr)
			}
		}
		if apiErr.Param != nil {
			aiErr = aiErr.WithDetail("param", *apiErr.Param)
		}
		if apiErr.Type != "" {
			aiErr = aiErr.WithDetail("type", apiErr.Type)
		}
		return aiErr
	}

	// Handle request errors
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(c.getErrorType(reqErr.HTTPStatusCode, nil), reqErr.Error()).
			WithStatusCode(reqErr.HTTPStatusCode).
			WithCause(err)
	}

	return WrapError(err, ErrTypeUnknown)
}

// getErrorType maps an HTTP status and provider error code to our error types.
func (c *OpenAIClient) getErrorType(status int, code any) ErrorType {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrTypeAuthentication
	case http.StatusTooManyRequests:
		return ErrTypeRateLimit
	case http.StatusBadRequest, http.StatusNotFound:
		if codeStr, ok := code.(string); ok {
			if strings.Contains(codeStr, "context_length") || strings.Contains(codeStr, "token") {
				return ErrTypeContextLength
			}
			if strings.Contains(codeStr, "content_policy") || strings.Contains(codeStr, "content_filter") {
				return ErrTypeContentFilter
			}
			if strings.Contains(codeStr, "model_not_found") || strings.Contains(codeStr, "DeploymentNotFound") {
				return ErrTypeModelNotFound
			}
		}
		return ErrTypeInvalidRequest
	case http.StatusPaymentRequired:
		return ErrTypeQuotaExceeded
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return ErrTypeServerError
	case http.StatusGatewayTimeout:
		return ErrTypeTimeout
	default:
		if status >= 500 {
			return ErrTypeServerError
		}
		return ErrTypeUnknown
	}
}

// openAIStreamReader turns go-openai chunks into StreamEvents. Reasoning deltas
// become thinking tokens, and the first visible token after them emits
// EventThinkingEnd.
type openAIStreamReader struct {
	stream   *openai.ChatCompletionStream
	pending  []StreamEvent
	thinking bool
	finish   string
	usage    *Usage
	done     bool
	received bool
}

// Recv returns the next event.
func (r *openAIStreamReader) Recv() (StreamEvent, error) {
	for len(r.pending) == 0 {
		if r.done {
			return StreamEvent{}, io.EOF
		}

		chunk, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			r.done = true
			if r.thinking {
				r.thinking = false
				r.pending = append(r.pending, StreamEvent{Kind: EventThinkingEnd})
			}
			r.pending = append(r.pending, StreamEvent{Kind: EventDone, FinishReason: r.finish, Usage: r.usage})
			break
		}
		if err != nil {
			if r.received {
				return StreamEvent{}, NewError(ErrTypeStream, "stream interrupted").WithCause(err)
			}
			return StreamEvent{}, WrapError(err, ErrTypeNetwork)
		}
		r.received = true

		// Usage arrives on the final chunk
		if chunk.Usage != nil {
			r.usage = &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.Delta.ReasoningContent != "" {
				r.thinking = true
				r.pending = append(r.pending, StreamEvent{Kind: EventThinkingToken, Text: choice.Delta.ReasoningContent})
			}
			if choice.Delta.Content != "" {
				if r.thinking {
					r.thinking = false
					r.pending = append(r.pending, StreamEvent{Kind: EventThinkingEnd})
				}
				r.pending = append(r.pending, StreamEvent{Kind: EventToken, Text: choice.Delta.Content})
			}
			if choice.FinishReason != "" {
				r.finish = string(choice.FinishReason)
			}
		}
	}

	ev := r.pending[0]
	r.pending = r.pending[1:]
	return ev, nil
}

// Close closes the stream.
func (r *openAIStreamReader) Close() error {
	if r.stream != nil {
		r.stream.Close()
	}
	return nil
}
