package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"coach21/internal/logger"
	"coach21/internal/models"
)

const (
	maxSuggestions = 3

	suggestionSystemPrompt = `You help a coach running a 21-day habit program on LINE.
Reply only with JSON of the form {"suggestions": ["...", "..."]}.
Each suggestion is one short, warm message of at most two sentences.`
)

// Generator produces raw model output for a prompt
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a Gemini-backed generator
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (Generator, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &genaiGenerator{client: client, model: model}, nil
}

func (g *genaiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

// SuggestionRequest describes what to write about
type SuggestionRequest struct {
	// Subject is the kind of text wanted, e.g. "reply" or "encouragement"
	Subject string
	Context []string
}

// Suggestions is the generated text. Fallback is set when the static set was used.
type Suggestions struct {
	Items    []string `json:"items"`
	Fallback bool     `json:"fallback"`
}

var fallbackSuggestions = map[string][]string{
	"encouragement": {
		"Great work today! Every answer you write moves you forward.",
		"You showed up again today. That consistency is what changes habits.",
		"Nice job finishing today's task. See you tomorrow!",
	},
	"reply": {
		"Thank you for your message! Let's keep going together.",
		"That's a great reflection. How did it feel to put it into words?",
		"I'm cheering for you. Take it one day at a time.",
	},
}

// SuggestionService generates coaching text with GenAI and falls back to a
// fixed set whenever the model is unavailable or its output is unusable.
type SuggestionService struct {
	gen     Generator
	timeout time.Duration
	log     *logger.Logger
}

// NewSuggestionService accepts a nil generator, in which case only the fallback is used
func NewSuggestionService(gen Generator, timeout time.Duration, log *logger.Logger) *SuggestionService {
	if gen == nil {
		log.Info("Suggestion service using static fallback: GENAI_API_KEY not configured")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SuggestionService{gen: gen, timeout: timeout, log: log}
}

// Suggest never fails. Errors are logged and replaced by the fallback set.
func (s *SuggestionService) Suggest(ctx context.Context, req SuggestionRequest) Suggestions {
	if s.gen == nil {
		return fallback(req.Subject)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gen.Generate(ctx, suggestionSystemPrompt, buildPrompt(req))
	if err != nil {
		s.log.Warn("Suggestion generation failed, using fallback", "subject", req.Subject, "error", err)
		return fallback(req.Subject)
	}
	items, err := parseSuggestions(raw)
	if err != nil {
		s.log.Warn("Suggestion output unusable, using fallback", "subject", req.Subject, "error", err)
		return fallback(req.Subject)
	}
	return Suggestions{Items: items}
}

// Encourage returns one encouragement line for a just-submitted day
func (s *SuggestionService) Encourage(ctx context.Context, rec *models.ProgressRecord, day int) string {
	lines := []string{fmt.Sprintf("Day %d was just completed.", day)}
	if rec.BrainType != nil {
		lines = append(lines, "Brain type: "+string(*rec.BrainType))
	}
	if answer, _ := rec.Field(day, models.PrimaryField); answer != "" {
		lines = append(lines, "Their answer: "+answer)
	}
	out := s.Suggest(ctx, SuggestionRequest{Subject: "encouragement", Context: lines})
	return out.Items[0]
}

func buildPrompt(req SuggestionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d %s messages for a program participant.\n", maxSuggestions, req.Subject)
	if len(req.Context) > 0 {
		b.WriteString("Context:\n")
		for _, line := range req.Context {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func parseSuggestions(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	items := make([]string, 0, len(payload.Suggestions))
	for _, s := range payload.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
		if len(items) == maxSuggestions {
			break
		}
	}
	if len(items) == 0 {
		return nil, errors.New("no suggestions returned")
	}
	return items, nil
}

func fallback(subject string) Suggestions {
	items, ok := fallbackSuggestions[subject]
	if !ok {
		items = fallbackSuggestions["reply"]
	}
	return Suggestions{Items: append([]string(nil), items...), Fallback: true}
}
