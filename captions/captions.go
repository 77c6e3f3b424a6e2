// Package captions extracts word-level timing from the voice track and
// renders the subtitle file burned in during composition.
package captions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"shortforge/types"
)

// CommandRunner executes an external command; injectable for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Transcription of a one-minute clip is fast; a stalled whisper fails the
// stage instead of hanging the run.
const commandTimeout = 15 * time.Minute

// Handler transcribes audio with whisper and renders ASS captions. It
// implements pipeline.Transcriber.
type Handler struct {
	logger *slog.Logger
	model  string
	font   string
	runner CommandRunner
}

// New creates a caption handler using the given whisper model tier and font.
func New(logger *slog.Logger, model, font string) *Handler {
	h := &Handler{
		logger: logger.With("component", "captions"),
		model:  model,
		font:   font,
	}
	h.runner = timeoutRunner(commandTimeout)
	return h
}

// WithCommandRunner overrides subprocess execution (for tests).
func (h *Handler) WithCommandRunner(runner CommandRunner) *Handler {
	h.runner = runner
	return h
}

// whisperOutput mirrors the JSON whisper writes with word timestamps enabled.
type whisperOutput struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe runs whisper on the voice track, builds the caption timing
// model, and renders the ASS file. It returns the model and the ASS path.
func (h *Handler) Transcribe(ctx context.Context, audioPath, outDir string) (*types.CaptionData, string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, "", fmt.Errorf("audio file not found: %w", err)
	}

	err := h.runner(ctx, "whisper",
		audioPath,
		"--model", h.model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--language", "en",
		"--word_timestamps", "True",
	)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(outDir, base+".json")
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, "", fmt.Errorf("read whisper output: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, "", fmt.Errorf("parse whisper output: %w", err)
	}

	data := buildCaptionData(out)
	if err := data.Validate(); err != nil {
		return nil, "", fmt.Errorf("whisper timing invalid: %w", err)
	}

	assPath := filepath.Join(outDir, "captions.ass")
	if err := h.RenderASS(data, assPath); err != nil {
		return nil, "", err
	}
	h.logger.Debug("captions ready", "segments", len(data.Segments), "ass", assPath)
	return data, assPath, nil
}

// buildCaptionData maps whisper JSON into the shared timing model. Word
// timings are clamped into their segment and ordering is repaired, because
// whisper occasionally drifts a word a few milliseconds past the boundary.
func buildCaptionData(out whisperOutput) *types.CaptionData {
	data := &types.CaptionData{Text: strings.TrimSpace(out.Text)}
	var prevEnd float64
	for _, seg := range out.Segments {
		start, end := seg.Start, seg.End
		if start < prevEnd {
			start = prevEnd
		}
		if end <= start {
			continue
		}
		segment := types.Segment{Start: start, End: end, Text: strings.TrimSpace(seg.Text)}

		var prevWordEnd = start
		for _, w := range seg.Words {
			ws, we := clamp(w.Start, start, end), clamp(w.End, start, end)
			if ws < prevWordEnd {
				ws = prevWordEnd
			}
			if we <= ws {
				continue
			}
			segment.Words = append(segment.Words, types.Word{Word: strings.TrimSpace(w.Word), Start: ws, End: we})
			prevWordEnd = we
		}
		data.Segments = append(data.Segments, segment)
		prevEnd = end
	}
	return data
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// timeoutRunner executes commands with a deadline; a stalled process is
// killed and the invocation reported as failed.
func timeoutRunner(timeout time.Duration) CommandRunner {
	return func(ctx context.Context, name string, args ...string) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, name, args...)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
		}
		return nil
	}
}
