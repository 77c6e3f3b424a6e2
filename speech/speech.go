// Package speech is the speech-synthesis collaborator. It shells out to a
// configured TTS command, falling back to edge-tts when none is set.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxAttempts = 3

	// A stalled engine fails the attempt instead of hanging the run.
	defaultTimeout = 2 * time.Minute
	defaultBackoff = 2 * time.Second
)

// Synthesizer generates the voice track for a transcript. It implements
// pipeline.Synthesizer.
type Synthesizer struct {
	logger  *slog.Logger
	command string
	voice   string
	timeout time.Duration
	backoff time.Duration
}

// New creates a synthesizer. command may be empty to use edge-tts.
func New(logger *slog.Logger, command, voice string) *Synthesizer {
	return &Synthesizer{
		logger:  logger.With("component", "speech"),
		command: strings.TrimSpace(command),
		voice:   voice,
		timeout: defaultTimeout,
		backoff: defaultBackoff,
	}
}

// Synthesize writes the voice track into outDir and returns its path.
func (s *Synthesizer) Synthesize(ctx context.Context, transcript, outDir string) (string, error) {
	if transcript == "" {
		return "", fmt.Errorf("synthesize: empty transcript")
	}
	outFile := filepath.Join(outDir, "voice.mp3")

	command := s.command
	if command == "" {
		if _, err := exec.LookPath("edge-tts"); err != nil {
			return "", fmt.Errorf("no TTS engine found: set tts_command in config or install edge-tts")
		}
		command = "edge-tts"
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.runOnce(ctx, command, transcript, outFile)
		if err == nil {
			break
		}
		s.logger.Warn("tts attempt failed", "attempt", attempt, "error", err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	if err != nil {
		return "", fmt.Errorf("tts failed after %d attempts: %w", maxAttempts, err)
	}

	if fi, statErr := os.Stat(outFile); statErr != nil || fi.Size() == 0 {
		return "", fmt.Errorf("tts produced no audio at %s", outFile)
	}
	s.logger.Debug("voice track ready", "path", outFile)
	return outFile, nil
}

func (s *Synthesizer) runOnce(ctx context.Context, command, transcript, outFile string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch {
	case command == "edge-tts":
		cmd = exec.CommandContext(ctx, "edge-tts",
			"--voice", s.voice,
			"--text", transcript,
			"--write-media", outFile,
		)
	default:
		// Custom engines follow the --text/--output convention.
		cmd = exec.CommandContext(ctx, command,
			"--text", transcript,
			"--output", outFile,
		)
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(string(output)))
	}
	return nil
}
