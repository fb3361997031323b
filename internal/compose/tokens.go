package compose

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/common-creation/chatpipe/internal/ai"
)

// EstimateTokens estimates the prompt size of messages for model.
func EstimateTokens(messages []ai.Message, model string) (int, error) {
	encoding, err := encodingForModel(model)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// ~4 tokens of framing per message
		total += 4

		roleTokens, _, err := encoding.Encode(msg.Role)
		if err != nil {
			return 0, fmt.Errorf("failed to encode role: %w", err)
		}
		total += len(roleTokens)

		if msg.Content != "" {
			contentTokens, _, err := encoding.Encode(msg.Content)
			if err != nil {
				return 0, fmt.Errorf("failed to encode content: %w", err)
			}
			total += len(contentTokens)
		}
	}

	// reply primer
	return total + 3, nil
}

func encodingForModel(model string) (tokenizer.Codec, error) {
	name := tokenizer.Cl100kBase
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"), strings.HasPrefix(m, "gpt-5"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		name = tokenizer.O200kBase
	case strings.HasPrefix(m, "text-davinci"), strings.HasPrefix(m, "code-"):
		name = tokenizer.P50kBase
	}

	codec, err := tokenizer.Get(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding %s for model %s: %w", name, model, err)
	}
	return codec, nil
}
