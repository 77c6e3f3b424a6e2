// Package compose merges the background video, voice track, optional
// secondary audio, and burned-in captions into the final deliverable.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"shortforge/plugin"
	"shortforge/types"
)

// Output contract for the short-form target.
const (
	outputWidth  = 1080
	outputHeight = 1920
	maxDuration  = 60.0

	// Secondary audio is ducked well under the voice so narration stays
	// intelligible.
	backgroundVolume = 0.3

	// A stalled ffmpeg or ffprobe fails the stage instead of hanging the run.
	commandTimeout = 10 * time.Minute
)

// CommandRunner executes an external command and returns its combined
// output; injectable for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Engine renders the final video. It implements pipeline.Composer.
type Engine struct {
	logger *slog.Logger
	runner CommandRunner
}

// New creates a composition engine.
func New(logger *slog.Logger) *Engine {
	e := &Engine{logger: logger.With("component", "compose")}
	e.runner = timeoutRunner(commandTimeout)
	return e
}

// WithCommandRunner overrides subprocess execution (for tests).
func (e *Engine) WithCommandRunner(runner CommandRunner) *Engine {
	e.runner = runner
	return e
}

// Compose produces one encoded file in outDir from the prepared layers.
// The visual layer is looped or trimmed to the voice track's duration, capped
// at the short-form limit. Captions are burned in unless the plugin
// suppressed them. Any sub-step failure leaves no file at the returned path.
func (e *Engine) Compose(ctx context.Context, media plugin.Result, audioPath string, captions *types.CaptionData, captionsPath, outDir string) (string, error) {
	required := map[string]string{
		"background video": media.VideoPath,
		"voice track":      audioPath,
	}
	if !media.SuppressCaptions {
		required["caption file"] = captionsPath
	}
	if media.AudioPath != "" {
		required["background audio"] = media.AudioPath
	}
	for desc, path := range required {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s not found: %w", desc, err)
		}
	}

	voiceDuration, err := e.probeDuration(ctx, audioPath)
	if err != nil {
		return "", err
	}
	finalDuration := voiceDuration
	if finalDuration > maxDuration {
		finalDuration = maxDuration
	}
	if finalDuration <= 0 {
		return "", fmt.Errorf("voice track duration is not positive (%.2fs)", voiceDuration)
	}

	mediaDuration, err := e.probeDuration(ctx, media.VideoPath)
	if err != nil {
		return "", err
	}

	args := []string{"-y"}
	if mediaDuration < finalDuration {
		// Source shorter than the voice: loop it; -t below trims the loop to
		// the exact voice duration.
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", media.VideoPath, "-i", audioPath)
	if media.AudioPath != "" {
		args = append(args, "-i", media.AudioPath)
	}

	args = append(args, "-filter_complex", e.buildFilter(media, captionsPath), "-map", "[v]")
	if media.AudioPath != "" {
		args = append(args, "-map", "[a]")
	} else {
		args = append(args, "-map", "1:a:0")
	}

	outputPath := filepath.Join(outDir, "output.mp4")
	partialPath := outputPath + ".partial"
	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-t", fmt.Sprintf("%.3f", finalDuration),
		"-f", "mp4",
		partialPath,
	)

	segments := 0
	if captions != nil {
		segments = len(captions.Segments)
	}
	e.logger.Debug("composing", "duration", finalDuration, "loop", mediaDuration < finalDuration,
		"mix", media.AudioPath != "", "captions", !media.SuppressCaptions, "segments", segments)

	if _, err := e.runner(ctx, "ffmpeg", args...); err != nil {
		_ = os.Remove(partialPath)
		return "", fmt.Errorf("ffmpeg: %w", err)
	}
	fi, err := os.Stat(partialPath)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(partialPath)
		return "", fmt.Errorf("output video is empty or missing")
	}
	if err := os.Rename(partialPath, outputPath); err != nil {
		_ = os.Remove(partialPath)
		return "", fmt.Errorf("finalize output: %w", err)
	}

	e.logger.Info("composition complete", "path", outputPath, "duration", finalDuration)
	return outputPath, nil
}

// buildFilter assembles the ffmpeg filter graph: scale/pad to the vertical
// frame, burn captions unless suppressed, and duck-mix secondary audio under
// the voice when present.
func (e *Engine) buildFilter(media plugin.Result, captionsPath string) string {
	video := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black",
		outputWidth, outputHeight, outputWidth, outputHeight,
	)
	if !media.SuppressCaptions {
		video += ",ass=" + escapeFilterPath(captionsPath)
	}
	video += "[v]"

	if media.AudioPath == "" {
		return video
	}
	audio := fmt.Sprintf(
		"[2:a]volume=%.2f[bg];[1:a][bg]amix=inputs=2:duration=first:normalize=0[a]",
		backgroundVolume,
	)
	return video + ";" + audio
}

// escapeFilterPath escapes characters the ffmpeg filter parser treats
// specially in file paths.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	return path
}

// timeoutRunner executes commands with a deadline; the process is killed and
// the invocation reported as failed when it stalls past the timeout.
func timeoutRunner(timeout time.Duration) CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, name, args...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
		}
		return output, nil
	}
}
