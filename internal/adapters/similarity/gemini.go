package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Generator sends a prompt to a text model and returns its answer.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// GenAIGenerator talks to the Gemini API with temperature 0, so the same
// prompt keeps getting the same answer for a given model.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates the API client.
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

func (g *GenAIGenerator) Model() string { return g.model }

func (g *GenAIGenerator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	var temperature float32
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"score": {Type: genai.TypeNumber},
			},
			Required: []string{"score"},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part == nil {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				b.WriteString(text)
			}
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini api returned empty response")
	}
	return b.String(), nil
}

// Gemini asks a language model how interchangeable two skills are.
type Gemini struct {
	gen Generator
}

// NewGemini wraps a generator. Callers normally stack Guarded and Cached on
// top of it.
func NewGemini(gen Generator) *Gemini {
	return &Gemini{gen: gen}
}

func (g *Gemini) Version() string { return g.gen.Model() }

func (g *Gemini) Score(ctx context.Context, a, b string) (float64, error) {
	raw, err := g.gen.GenerateContent(ctx, buildPrompt(a, b))
	if err != nil {
		return 0, err
	}
	return parseScore(raw)
}

func buildPrompt(required, candidate string) string {
	return "You compare technical skills for recruiting. " +
		"Rate how well a candidate who lists the skill \"" + candidate + "\" covers the required skill \"" + required + "\". " +
		"Answer with JSON only, shaped as {\"score\": <number between 0 and 1>}, " +
		"where 1 means the same skill, values near 0.7 mean a closely related skill, and 0 means unrelated."
}

func parseScore(raw string) (float64, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	v, ok := data["score"]
	if !ok {
		return 0, ErrBadResponse
	}
	s, ok := coerceFloat(v)
	if !ok || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, v)
	}
	return math.Max(0, math.Min(1, s)), nil
}

// extractJSON strips markdown fences and any prose around the object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
