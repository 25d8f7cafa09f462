package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message used by the conversation flow.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client is the dialogue completion service: given the message history
// plus a steering instruction it produces the next system utterance, and
// can pull structured field values out of a conversation.
type Client interface {
	Complete(ctx context.Context, history []Message, instruction string) (string, error)
	Extract(ctx context.Context, history []Message, missingFields []string) (map[string]string, error)
}

// OpenAIClient calls the OpenAI API for completions and extraction.
// API credentials and model names are loaded from environment variables.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient constructs an OpenAI-backed client.  It reads the API
// key and model name from the environment and falls back to a sensible
// default model.
func NewOpenAIClient() *OpenAIClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	c := openai.NewClient(apiKey)

	model := os.Getenv("OPENAI_MODEL_CHAT")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{client: c, model: model}
}

// Complete sends the history plus the steering instruction and returns
// the assistant's next utterance.
func (c *OpenAIClient) Complete(ctx context.Context, history []Message, instruction string) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if instruction != "" {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instruction,
		})
	}
	for _, m := range history {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Extract asks the model to pull the listed missing fields out of the
// conversation, returning a field -> value map.  Fields the model could
// not find are simply absent.
func (c *OpenAIClient) Extract(ctx context.Context, history []Message, missingFields []string) (map[string]string, error) {
	instruction := "Extract the following fields from the conversation if the user has provided them: " +
		strings.Join(missingFields, ", ") +
		". Respond strictly with a JSON object mapping field names to string values. Omit fields not present. No extra text."
	raw, err := c.Complete(ctx, history, instruction)
	if err != nil {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a code fence.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	out := map[string]string{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, fmt.Errorf("extract: model returned non-JSON: %w", err)
	}
	return out, nil
}
