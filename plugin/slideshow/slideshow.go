// Package slideshow builds the background from AI-generated stills: one
// image per narration beat, panned and zoomed into a vertical video.
package slideshow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"shortforge/plugin"
)

// Name is the identifier this provider registers under.
const Name = "slideshow"

const (
	imageEndpoint  = "https://image.pollinations.ai/prompt/%s?width=1080&height=1920&nologo=true&model=flux&seed=%d"
	fetchAttempts  = 3
	parallelFetch  = 4
	slideshowFPS   = 30
	fallbackLength = 60.0

	// A stalled encode fails the stage instead of hanging the run.
	renderTimeout = 5 * time.Minute
)

type providerConfig struct {
	// MaxImages caps how many stills are generated for one run.
	MaxImages int `yaml:"max_images"`
	// Style is appended to every image prompt.
	Style string `yaml:"style"`
	// SuppressCaptions disables the engine's burn-in when the images carry
	// their own text.
	SuppressCaptions bool `yaml:"suppress_captions"`
}

// Provider implements plugin.Provider and plugin.PromptContexter.
type Provider struct {
	logger     *slog.Logger
	workspace  string
	httpClient *http.Client
	cfg        providerConfig
}

// Factory returns the registry factory for this provider.
func Factory(logger *slog.Logger) plugin.Factory {
	return func(workspace, configDir string) (plugin.Provider, error) {
		p := &Provider{
			logger:     logger.With("plugin", Name),
			workspace:  workspace,
			httpClient: &http.Client{Timeout: 60 * time.Second},
			cfg: providerConfig{
				MaxImages: 5,
				Style:     "cinematic, dramatic lighting, photorealistic, 4K",
			},
		}
		configPath := filepath.Join(configDir, "config.yml")
		data, err := os.ReadFile(configPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &p.cfg); err != nil {
				return nil, fmt.Errorf("parse plugin config %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read plugin config: %w", err)
		}
		return p, nil
	}
}

// PromptContext steers the script toward visually concrete beats so each
// segment maps onto a coherent image.
func (p *Provider) PromptContext(topic string) string {
	return "Write the narration as a sequence of short, visually concrete sentences; " +
		"each sentence should describe one clear scene or image related to " + topic + "."
}

// GetMedia renders the slideshow. Image prompts come from caption segments
// when transcription has run, otherwise from transcript sentences.
func (p *Provider) GetMedia(ctx context.Context, snapshot map[string]any) (plugin.Result, error) {
	prompts, totalDuration := p.planSlides(snapshot)
	if len(prompts) == 0 {
		return plugin.Result{}, fmt.Errorf("no transcript or caption data to build slides from")
	}

	images := make([]string, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelFetch)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			path := filepath.Join(p.workspace, fmt.Sprintf("slide_%02d.jpg", i))
			if err := p.fetchImage(gctx, prompt, i, path); err != nil {
				return err
			}
			images[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return plugin.Result{}, err
	}

	videoPath, err := p.renderSlides(ctx, images, totalDuration/float64(len(images)))
	if err != nil {
		return plugin.Result{}, err
	}
	return plugin.Result{VideoPath: videoPath, SuppressCaptions: p.cfg.SuppressCaptions}, nil
}

// planSlides derives one image prompt per narration beat and the slideshow's
// total duration.
func (p *Provider) planSlides(snapshot map[string]any) ([]string, float64) {
	var beats []string
	duration := fallbackLength

	if data := plugin.CaptionField(snapshot); data != nil && len(data.Segments) > 0 {
		for _, seg := range data.Segments {
			if text := strings.TrimSpace(seg.Text); text != "" {
				beats = append(beats, text)
			}
		}
		duration = data.Duration()
	} else if transcript := plugin.StringField(snapshot, "transcript"); transcript != "" {
		beats = splitSentences(transcript)
	}

	if len(beats) > p.cfg.MaxImages {
		// Merge surplus beats into the available slots, preserving order.
		merged := make([]string, p.cfg.MaxImages)
		for i, beat := range beats {
			slot := i * p.cfg.MaxImages / len(beats)
			if merged[slot] == "" {
				merged[slot] = beat
			}
		}
		beats = merged
	}

	prompts := make([]string, 0, len(beats))
	for _, beat := range beats {
		prompts = append(prompts, beat+", "+p.cfg.Style+", no text, no watermark")
	}
	return prompts, duration
}

func (p *Provider) fetchImage(ctx context.Context, prompt string, seed int, outFile string) error {
	imageURL := fmt.Sprintf(imageEndpoint, url.PathEscape(prompt), seed*42+7)

	var err error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		err = p.downloadImage(ctx, imageURL, outFile)
		if err == nil {
			return nil
		}
		p.logger.Warn("image fetch failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 3 * time.Second):
		}
	}
	return fmt.Errorf("image fetch failed after %d attempts: %w", fetchAttempts, err)
}

func (p *Provider) downloadImage(ctx context.Context, imageURL, outFile string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from image service", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// A tiny body is an error page, not an image.
	if len(data) < 100 {
		return fmt.Errorf("response too small (%d bytes)", len(data))
	}
	return os.WriteFile(outFile, data, 0o644)
}

// renderSlides turns each still into a Ken Burns clip and concatenates them.
func (p *Provider) renderSlides(ctx context.Context, images []string, slideDuration float64) (string, error) {
	frames := int(slideDuration * slideshowFPS)
	if frames < 1 {
		frames = 1
	}

	var lines []string
	for i, image := range images {
		clip := filepath.Join(p.workspace, fmt.Sprintf("clip_%02d.mp4", i))
		filter := fmt.Sprintf(
			"scale=1080:1920:force_original_aspect_ratio=increase,crop=1080:1920,zoompan=z='min(zoom+0.0015,1.2)':d=%d:s=1080x1920:fps=%d",
			frames, slideshowFPS,
		)
		clipCtx, cancel := context.WithTimeout(ctx, renderTimeout)
		cmd := exec.CommandContext(clipCtx, "ffmpeg", "-y",
			"-i", image,
			"-vf", filter,
			"-t", fmt.Sprintf("%.3f", slideDuration),
			"-c:v", "libx264",
			"-preset", "fast",
			"-pix_fmt", "yuv420p",
			"-an",
			clip,
		)
		output, err := cmd.CombinedOutput()
		cancel()
		if err != nil {
			return "", fmt.Errorf("ffmpeg slide %d: %w: %s", i, err, strings.TrimSpace(string(output)))
		}
		lines = append(lines, fmt.Sprintf("file '%s'", clip))
	}

	listFile := filepath.Join(p.workspace, "slides.txt")
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", err
	}

	out := filepath.Join(p.workspace, "slideshow.mp4")
	concatCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()
	cmd := exec.CommandContext(concatCtx, "ffmpeg", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg concat slides: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return out, nil
}

// splitSentences breaks a transcript into rough sentence beats.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); len(s) > 3 {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); len(s) > 3 {
		sentences = append(sentences, s)
	}
	return sentences
}
