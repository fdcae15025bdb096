package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"fragekonstruktoren/internal/llm/prompts"
	"fragekonstruktoren/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// Low temperature biases the model toward literal instruction-following.
	generationTemperature = 0.1

	objectivesMaxTokens = 3000
	questionsMaxTokens  = 2500

	minObjectives = 3
	maxObjectives = 8
)

// ErrEmptyReply is returned when the completion endpoint answers with an
// empty string.
var ErrEmptyReply = errors.New("empty completion reply")

// DecodeError reports a reply that could not be decoded into records. Raw
// carries the unmodified model output so the user can diagnose it.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode completion reply: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client issues completion requests to an OpenAI-compatible endpoint.
// The API key is a per-session credential and is passed per call.
type Client struct {
	baseURL string
	model   string
}

// New creates a new LLM client for the given endpoint and model name.
func New(baseURL, modelName string) *Client {
	return &Client{baseURL: baseURL, model: modelName}
}

func (c *Client) api(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// ObjectiveCount returns the number of objectives requested for a fact base:
// one per thousand characters, clamped to [3, 8].
func ObjectiveCount(factBase string) int {
	n := utf8.RuneCountInString(factBase) / 1000
	if n < minObjectives {
		return minObjectives
	}
	if n > maxObjectives {
		return maxObjectives
	}
	return n
}

// GenerateObjectives asks the model for learning objectives covering the
// fact base and decodes the reply. Order is as returned by the model.
func (c *Client) GenerateObjectives(ctx context.Context, apiKey, factBase string) ([]model.LearningObjective, error) {
	system, err := prompts.ObjectivesSystem()
	if err != nil {
		return nil, err
	}
	user, err := prompts.BuildObjectivesPrompt(prompts.ObjectivesData{
		NumGoals: ObjectiveCount(factBase),
		FactBase: factBase,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.complete(ctx, apiKey, system, user, objectivesMaxTokens)
	if err != nil {
		return nil, err
	}

	var objectives []model.LearningObjective
	if err := decodeReply(raw, objectivesSchema, &objectives); err != nil {
		return nil, err
	}
	return objectives, nil
}

// GenerateQuestions asks the model for 4 multiple-choice questions for one
// objective. The count is advisory to the model, not enforced here.
func (c *Client) GenerateQuestions(ctx context.Context, apiKey string, objective model.LearningObjective, factBase string) ([]model.MCQ, error) {
	system, err := prompts.QuestionsSystem()
	if err != nil {
		return nil, err
	}
	user, err := prompts.BuildQuestionsPrompt(prompts.QuestionsData{
		Objective:  objective.Title,
		Indicators: objective.Indicators,
		FactBase:   factBase,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.complete(ctx, apiKey, system, user, questionsMaxTokens)
	if err != nil {
		return nil, err
	}

	var questions []model.MCQ
	if err := decodeReply(raw, questionsSchema, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (c *Client) complete(ctx context.Context, apiKey, system, user string, maxTokens int) (string, error) {
	resp, err := c.api(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: generationTemperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("completion reply", "model", c.model, "length", len(raw))
	return raw, nil
}

// StripCodeFence removes a surrounding markdown code fence: if the reply
// starts with a fence marker line it is dropped, and so is the closing
// marker line when present. Anything else passes through untouched.
func StripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// decodeReply strips an optional code fence, validates the reply against
// the expected record schema and unmarshals it into out.
func decodeReply(raw string, schema *replySchema, out any) error {
	cleaned := StripCodeFence(raw)
	if cleaned == "" {
		return &DecodeError{Raw: raw, Err: ErrEmptyReply}
	}
	if err := validateReply(schema, []byte(cleaned)); err != nil {
		return &DecodeError{Raw: raw, Err: err}
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return &DecodeError{Raw: raw, Err: err}
	}
	return nil
}
