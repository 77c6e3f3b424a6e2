// Package generate is the language-model collaborator: it produces the
// spoken transcript and the upload metadata for a topic.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"shortforge/pipeline"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultCategoryID = "24" // Entertainment
	endpointTemplate  = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
)

const scriptPrompt = `Write the narration for a YouTube Short about the topic below.
Rules:
- Spoken words only. No stage directions, no labels, no markdown.
- 45 to 60 seconds when read aloud at a natural pace (roughly 130 words).
- Hook the viewer in the first sentence.`

const metadataPrompt = `Given the narration of a YouTube Short, produce upload metadata.
Respond with exactly these labeled lines and nothing else:
TITLE: <catchy title, max 90 characters>
DESCRIPTION: <2-3 sentence description with a call to action>
SEARCH_TERM: <2-4 word stock-footage search phrase matching the visuals>
CATEGORY_ID: <numeric YouTube category id>`

// Client calls the Gemini text API. It implements pipeline.ScriptGenerator.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	model      string
	endpoint   string
}

// New creates a generation client. model may be empty to use the default.
func New(logger *slog.Logger, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		logger:     logger.With("component", "generate"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		model:      model,
		endpoint:   fmt.Sprintf(endpointTemplate, model),
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateScript produces the transcript for a topic. steering is the
// resolved plugin's optional prompt context; usedTitles keeps the model away
// from content the channel already published.
func (c *Client) GenerateScript(ctx context.Context, topic, steering string, usedTitles []string) (string, error) {
	var sb strings.Builder
	sb.WriteString(scriptPrompt)
	sb.WriteString("\n\nTopic: ")
	sb.WriteString(topic)
	if len(usedTitles) > 0 {
		sb.WriteString("\n\nDo not repeat content already covered by these videos:\n")
		for _, title := range usedTitles {
			sb.WriteString("- " + title + "\n")
		}
	}
	if steering != "" {
		sb.WriteString("\n\n")
		sb.WriteString(steering)
	}

	text, err := c.complete(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	transcript := cleanResponse(text)
	if transcript == "" {
		return "", fmt.Errorf("generate script: model returned no usable text")
	}
	c.logger.Debug("script generated", "words", len(strings.Fields(transcript)))
	return transcript, nil
}

// GenerateMetadata produces title, description, search term and category for
// a finished transcript.
func (c *Client) GenerateMetadata(ctx context.Context, transcript string) (pipeline.Metadata, error) {
	prompt := metadataPrompt + "\n\nNarration:\n" + transcript

	text, err := c.complete(ctx, prompt)
	if err != nil {
		return pipeline.Metadata{}, fmt.Errorf("generate metadata: %w", err)
	}

	fields := ParseLabeled(cleanResponse(text))
	meta := pipeline.Metadata{
		Title:       fields["TITLE"],
		Description: fields["DESCRIPTION"],
		SearchTerm:  fields["SEARCH_TERM"],
		CategoryID:  fields["CATEGORY_ID"],
	}
	if meta.Title == "" {
		return pipeline.Metadata{}, fmt.Errorf("generate metadata: response missing TITLE field")
	}
	if meta.SearchTerm == "" {
		c.logger.Warn("metadata missing SEARCH_TERM, falling back to title")
		meta.SearchTerm = meta.Title
	}
	if meta.CategoryID == "" {
		meta.CategoryID = defaultCategoryID
	}
	return meta, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY not set")
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("parse gemini response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

var labels = []string{"TITLE", "DESCRIPTION", "SEARCH_TERM", "CATEGORY_ID"}

// ParseLabeled extracts "LABEL: value" fields from a model response. A value
// runs until the next recognized label line, so multi-line descriptions
// survive intact.
func ParseLabeled(text string) map[string]string {
	fields := make(map[string]string)
	current := ""
	var value strings.Builder

	flush := func() {
		if current != "" {
			fields[current] = strings.TrimSpace(value.String())
		}
		value.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		matched := false
		for _, label := range labels {
			if rest, ok := strings.CutPrefix(strings.TrimSpace(line), label+":"); ok {
				flush()
				current = label
				value.WriteString(strings.TrimSpace(rest))
				matched = true
				break
			}
		}
		if !matched && current != "" {
			value.WriteString("\n")
			value.WriteString(line)
		}
	}
	flush()
	return fields
}

// cleanResponse strips markdown fences the model sometimes wraps output in.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
