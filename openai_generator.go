package memory

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIGenerator implements Generator over the OpenAI chat completions API,
// using structured outputs (a strict JSON schema response format) whenever
// a schema is given (§6).
type OpenAIGenerator struct {
	client openai.Client
}

// NewOpenAIGenerator creates a generator backed by the OpenAI API. apiKey
// may be empty to fall back to the client's default credential discovery
// (the OPENAI_API_KEY environment variable).
func NewOpenAIGenerator(apiKey string) *OpenAIGenerator {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...)}
}

// Complete sends messages to model and returns the response content. When
// schema is non-nil the request constrains the model to a strict JSON
// schema response.
func (g *OpenAIGenerator) Complete(ctx context.Context, model string, messages []ChatMessage, schema any, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(temperature),
	}

	if schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("memory: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("memory: openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

var _ Generator = (*OpenAIGenerator)(nil)
