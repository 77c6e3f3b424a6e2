// Package stock is the "default" background provider: it searches YouTube
// for stock footage matching the run's search term, downloads one candidate
// with yt-dlp, and reframes it to the vertical short format.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shortforge/plugin"
)

// Name is the identifier this provider registers under.
const Name = "default"

// yt-dlp exits with this code when --max-downloads stops it early; that is
// the success path, not a failure.
const maxDownloadsExitCode = 101

// A stalled download or encode fails the stage instead of hanging the run.
const commandTimeout = 10 * time.Minute

type providerConfig struct {
	MaxResults     int    `yaml:"max_results"`
	MaxDurationSec int    `yaml:"max_duration_sec"`
	QuerySuffix    string `yaml:"query_suffix"`
}

// Provider implements plugin.Provider.
type Provider struct {
	logger    *slog.Logger
	workspace string
	cfg       providerConfig
}

// Factory returns the registry factory for this provider.
func Factory(logger *slog.Logger) plugin.Factory {
	return func(workspace, configDir string) (plugin.Provider, error) {
		return newProvider(logger, workspace, configDir)
	}
}

func newProvider(logger *slog.Logger, workspace, configDir string) (*Provider, error) {
	p := &Provider{
		logger:    logger.With("plugin", Name),
		workspace: workspace,
		cfg: providerConfig{
			MaxResults:     10,
			MaxDurationSec: 180,
		},
	}
	if err := loadConfig(filepath.Join(configDir, "config.yml"), &p.cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// GetMedia downloads and reframes one clip for the search term. It returns a
// bare-path result: no secondary audio, captions stay on.
func (p *Provider) GetMedia(ctx context.Context, snapshot map[string]any) (plugin.Result, error) {
	searchTerm := plugin.StringField(snapshot, "search_term")
	if searchTerm == "" {
		searchTerm = plugin.StringField(snapshot, "title")
	}
	if searchTerm == "" {
		return plugin.Result{}, fmt.Errorf("no search_term or title in context")
	}
	query := strings.TrimSpace(searchTerm + " " + p.cfg.QuerySuffix)

	raw, err := p.download(ctx, query)
	if err != nil {
		return plugin.Result{}, err
	}
	defer os.Remove(raw)

	short, err := p.reframe(ctx, raw)
	if err != nil {
		return plugin.Result{}, err
	}
	p.logger.Debug("background clip ready", "path", short)
	return plugin.PathResult(short), nil
}

func (p *Provider) download(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	outTemplate := filepath.Join(p.workspace, "raw.%(ext)s")
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--no-playlist",
		"--quiet",
		"-f", "bv*[ext=mp4][height<=1080]/b[ext=mp4]",
		"--match-filter", fmt.Sprintf("duration<=%d & duration>=10", p.cfg.MaxDurationSec),
		"--max-downloads", "1",
		"-o", outTemplate,
		fmt.Sprintf("ytsearch%d:%s", p.cfg.MaxResults, query),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != maxDownloadsExitCode {
			return "", fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(string(output)))
		}
	}

	raw := filepath.Join(p.workspace, "raw.mp4")
	if _, err := os.Stat(raw); err != nil {
		return "", fmt.Errorf("yt-dlp produced no video for query %q", query)
	}
	return raw, nil
}

// reframe crops the clip to 9:16 and strips its audio; the voice track and
// any plugin-supplied audio are mixed during composition instead.
func (p *Provider) reframe(ctx context.Context, raw string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out := filepath.Join(p.workspace, "background.mp4")
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", raw,
		"-vf", "scale=1080:1920:force_original_aspect_ratio=increase,crop=1080:1920",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-an",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg reframe: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return out, nil
}

// loadConfig merges the plugin's config.yml over defaults; a missing file is
// fine, a malformed one is not.
func loadConfig(path string, cfg *providerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse plugin config %s: %w", path, err)
	}
	return nil
}
