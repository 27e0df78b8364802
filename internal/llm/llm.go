// Package llm grades submissions directly with an OpenAI-compatible model.
// It is an alternative to the backend's own auto-grade endpoint.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavelanni/gradedesk/internal/llm/prompts"
	"github.com/pavelanni/gradedesk/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// GradeResult holds the LLM's assessment of a single answer.
type GradeResult struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

type overallResult struct {
	OverallFeedback string `json:"overall_feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	prompts *prompts.Set
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, set *prompts.Set) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		prompts: set,
	}
}

// Ping checks that the API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM API ping: %w", err)
	}
	return nil
}

// GradeAnswer scores one answer. The score is clamped to [0, question weight].
func (c *Client) GradeAnswer(ctx context.Context, variant prompts.PromptVariant, exam model.Exam, a model.Answer) (*GradeResult, error) {
	data := prompts.GradeData{
		ExamName:     exam.Name,
		QuestionText: a.QuestionText,
		MaxPoints:    a.QuestionWeight,
		Rubric:       exam.Rubric,
		Answer:       a.AnswerText,
	}
	if q, ok := exam.Question(a.Key); ok {
		data.MinWords = q.MinWords
		if data.QuestionText == "" {
			data.QuestionText = q.Text
		}
	}
	prompt, err := c.prompts.BuildGradePrompt(variant, data)
	if err != nil {
		return nil, fmt.Errorf("build grade prompt: %w", err)
	}

	var result GradeResult
	if err := c.complete(ctx, prompt, 0.1, &result); err != nil {
		return nil, err
	}
	result.Score = clamp(result.Score, a.QuestionWeight)
	return &result, nil
}

// OverallFeedback summarizes the graded answers of a submission.
func (c *Client) OverallFeedback(ctx context.Context, exam model.Exam, answers []model.Answer, results []GradeResult) (string, error) {
	data := prompts.OverallData{ExamName: exam.Name}
	for i, a := range answers {
		data.Total += results[i].Score
		data.MaxTotal += a.QuestionWeight
		data.Items = append(data.Items, prompts.OverallItem{
			QuestionText: a.QuestionText,
			Score:        results[i].Score,
			MaxPoints:    a.QuestionWeight,
			Feedback:     results[i].Feedback,
		})
	}
	prompt, err := c.prompts.BuildOverallPrompt(data)
	if err != nil {
		return "", fmt.Errorf("build overall prompt: %w", err)
	}
	var out overallResult
	if err := c.complete(ctx, prompt, 0.3, &out); err != nil {
		return "", err
	}
	return out.OverallFeedback, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt string, temperature float32, dest any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return nil
}

func clamp(v, max float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
