package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"coursejobs/internal/models"
)

// Client embeds lesson text and translates subtitle cues.
type Client struct {
	client         *genai.Client
	embeddingModel string
	textModel      string
	log            *zap.Logger
}

func New(ctx context.Context, apiKey, embeddingModel, textModel string, log *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, embeddingModel: embeddingModel, textModel: textModel, log: log}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Model is the embedding model name, recorded next to stored vectors.
func (c *Client) Model() string {
	return c.embeddingModel
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	c.log.Debug("embedding content", zap.String("model", c.embeddingModel), zap.Int("length", len(text)))
	res, err := c.client.EmbeddingModel(c.embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding received")
	}
	return res.Embedding.Values, nil
}

// TranslateSegments translates cue texts and keeps the source timings.
func (c *Client) TranslateSegments(ctx context.Context, segments []models.SubtitleSegment, from, to string) ([]models.SubtitleSegment, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	prompt, err := translationPrompt(texts, from, to)
	if err != nil {
		return nil, err
	}

	model := c.client.GenerativeModel(c.textModel)
	model.ResponseMIMEType = "application/json"
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("translate %s->%s: %w", from, to, err)
	}
	translated, err := parseTranslation(responseText(resp), len(segments))
	if err != nil {
		return nil, err
	}

	out := make([]models.SubtitleSegment, len(segments))
	for i, s := range segments {
		out[i] = models.SubtitleSegment{Start: s.Start, End: s.End, Text: translated[i]}
	}
	return out, nil
}

func translationPrompt(texts []string, from, to string) (string, error) {
	lines, err := json.Marshal(texts)
	if err != nil {
		return "", fmt.Errorf("marshal cues: %w", err)
	}
	return fmt.Sprintf(
		"Translate each subtitle line from %q to %q. Reply with a JSON array of strings "+
			"with exactly %d elements in the same order. Do not merge or split lines.\n%s",
		from, to, len(texts), lines), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func parseTranslation(raw string, want int) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var lines []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &lines); err != nil {
		return nil, fmt.Errorf("decode translation: %w", err)
	}
	if len(lines) != want {
		return nil, fmt.Errorf("translation returned %d lines, want %d", len(lines), want)
	}
	return lines, nil
}
