package toxicity

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"google.golang.org/genai"
)

const geminiPrompt = `You are a content moderator for a social network. Rate how toxic the following post is (insults, harassment, threats, hate speech, profanity directed at people) on a scale from 0 (harmless) to 100 (extremely toxic).

Reply with a single integer and nothing else.

Post:
%s`

// subset of *genai.Models used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Asks a Gemini model for a 0-100 toxicity rating.
//
// One backend per model; configure several to rotate across models with
// separate quotas.
type GeminiBackend struct {
	models contentGenerator
	model  string
}

var _ Backend = (*GeminiBackend)(nil)

func NewGeminiBackends(ctx context.Context, apiKey string, models []string) ([]*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	out := make([]*GeminiBackend, 0, len(models))
	for _, m := range models {
		if m == "" {
			continue
		}
		out = append(out, &GeminiBackend{models: client.Models, model: m})
	}
	return out, nil
}

func (g *GeminiBackend) Name() string {
	return g.model
}

func (g *GeminiBackend) Classify(ctx context.Context, text string) (*Classification, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	result, err := g.models.GenerateContent(ctx, g.model, genai.Text(fmt.Sprintf(geminiPrompt, text)), config)
	if err != nil {
		if IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrRateLimited, g.model, err)
		}
		return nil, fmt.Errorf("gemini %s: %w", g.model, err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini %s: empty response", g.model)
	}
	score, err := parsePercent(result.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", g.model, err)
	}
	return &Classification{Label: "toxic", Score: float64(score) / 100}, nil
}

var firstInteger = regexp.MustCompile(`\d+`)

// First integer in the reply, clamped to 0-100.
func parsePercent(reply string) (int, error) {
	m := firstInteger.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("no score in reply: %q", truncate(reply, 80))
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("bad score in reply: %q", m)
	}
	if v > 100 {
		v = 100
	}
	return v, nil
}
