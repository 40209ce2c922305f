// Package llm asks an OpenAI-compatible endpoint to classify tags that no
// saved rule or heuristic recognizes.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/gradebook/internal/llm/prompts"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/taxonomy"
)

// ErrNoSuggestion is returned when the model declines to classify a tag.
var ErrNoSuggestion = errors.New("no classification suggested")

// Suggestion is the JSON object the model answers with.
type Suggestion struct {
	Area string `json:"area"`
	Type string `json:"type"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint: %w", err)
	}
	return nil
}

// SuggestTag asks the model for the area and type of tag, given the other
// tags of its question.
func (c *Client) SuggestTag(ctx context.Context, tag string, siblings []string) (model.Area, model.TagType, error) {
	systemPrompt, err := prompts.BuildClassifyPrompt(tag, siblings)
	if err != nil {
		return "", "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Classify the tag."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "tag", tag, "raw", raw)
	return parseSuggestion(raw)
}

// parseSuggestion decodes and validates the model's answer.
func parseSuggestion(raw string) (model.Area, model.TagType, error) {
	var s Suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", "", fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	area := model.Area(strings.ToLower(strings.TrimSpace(s.Area)))
	if area == "" {
		return "", "", ErrNoSuggestion
	}
	if !taxonomy.IsArea(area) {
		// Models sometimes answer with the label instead of the key.
		a, ok := taxonomy.NormalizeAreaName(s.Area)
		if !ok {
			return "", "", fmt.Errorf("unknown area %q", s.Area)
		}
		area = a
	}

	typ := model.TagType(strings.ToLower(strings.TrimSpace(s.Type)))
	if typ == "" {
		typ = taxonomy.DefaultTypeForArea(area)
	}
	if typ == model.TagTypeArea || !taxonomy.IsValidType(area, typ) {
		return "", "", fmt.Errorf("type %q is not valid for area %q", s.Type, area)
	}
	return area, typ, nil
}
