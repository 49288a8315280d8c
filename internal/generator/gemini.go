package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultModelName = "gemini-1.5-flash"

	systemPrompt = `You are a professional blog writer. Given a topic, write a
complete blog post. Respond with a single JSON object of the shape
{"title": string, "content": string, "seoTips": [string]}.
The content is Markdown, 400-800 words, with section headings.
Provide exactly three seoTips, each one actionable sentence.`
)

var (
	ErrMissingAPIKey   = errors.New("generator api key is empty")
	ErrEmptyCompletion = errors.New("model returned no usable draft")
)

// Gemini generates drafts through the Gemini API.
type Gemini struct {
	client    *genai.Client
	modelName string
}

// NewGemini builds a Gemini generator. modelName falls back to a sensible
// default when empty.
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = defaultModelName
	}
	return &Gemini{client: client, modelName: modelName}, nil
}

// Close releases the underlying client.
func (gemini *Gemini) Close() error {
	return gemini.client.Close()
}

// Generate asks the model for a draft on the topic and decodes the JSON
// payload it returns.
func (gemini *Gemini) Generate(ctx context.Context, topic string) (Draft, error) {
	model := gemini.client.GenerativeModel(gemini.modelName)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	response, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf("Write a blog post about: %s", topic)))
	if err != nil {
		return Draft{}, fmt.Errorf("generate content: %w", err)
	}
	payload, err := completionText(response)
	if err != nil {
		return Draft{}, err
	}
	return parseDraftPayload(payload)
}

func completionText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", ErrEmptyCompletion
	}
	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	if builder.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return builder.String(), nil
}

// parseDraftPayload decodes the model's JSON draft, tolerating code fences
// some models wrap around JSON output.
func parseDraftPayload(payload string) (Draft, error) {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	payload = strings.TrimSpace(payload)

	var draft Draft
	if err := json.Unmarshal([]byte(payload), &draft); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrEmptyCompletion, err)
	}
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Content) == "" {
		return Draft{}, ErrEmptyCompletion
	}
	tips := make([]string, 0, len(draft.SEOTips))
	for _, tip := range draft.SEOTips {
		if trimmed := strings.TrimSpace(tip); trimmed != "" {
			tips = append(tips, trimmed)
		}
	}
	draft.SEOTips = tips
	return draft, nil
}
