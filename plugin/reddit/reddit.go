// Package reddit sources background clips from a subreddit's top video
// posts.
package reddit

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

	"github.com/vartanbeno/go-reddit/v2/reddit"
	"gopkg.in/yaml.v3"

	"shortforge/plugin"
)

// Name is the identifier this provider registers under.
const Name = "reddit"

const maxDownloadsExitCode = 101

// A stalled download or encode fails the stage instead of hanging the run.
const commandTimeout = 10 * time.Minute

var videoHosts = []string{"v.redd.it", "youtube.com", "youtu.be", "gfycat.com", "streamable.com"}

type providerConfig struct {
	Subreddit string `yaml:"subreddit"`
	Limit     int    `yaml:"limit"`
	// Time is the top-posts window: hour, day, week, month, year, all.
	Time string `yaml:"time"`
}

// Provider implements plugin.Provider.
type Provider struct {
	logger    *slog.Logger
	workspace string
	client    *reddit.Client
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
			Subreddit: "oddlysatisfying",
			Limit:     25,
			Time:      "week",
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

	client, err := reddit.NewReadonlyClient()
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}
	p.client = client
	return p, nil
}

// GetMedia downloads the first downloadable video among the subreddit's top
// posts and reframes it to the vertical format.
func (p *Provider) GetMedia(ctx context.Context, snapshot map[string]any) (plugin.Result, error) {
	posts, _, err := p.client.Subreddit.TopPosts(ctx, p.cfg.Subreddit, &reddit.ListPostOptions{
		ListOptions: reddit.ListOptions{Limit: p.cfg.Limit},
		Time:        p.cfg.Time,
	})
	if err != nil {
		return plugin.Result{}, fmt.Errorf("fetch r/%s top posts: %w", p.cfg.Subreddit, err)
	}

	for _, post := range posts {
		if post.IsSelfPost || !isVideoURL(post.URL) {
			continue
		}
		p.logger.Debug("trying post", "title", post.Title, "url", post.URL)
		raw, err := p.download(ctx, post.URL)
		if err != nil {
			p.logger.Warn("post not downloadable, trying next", "url", post.URL, "error", err)
			continue
		}
		short, err := p.reframe(ctx, raw)
		if err != nil {
			return plugin.Result{}, err
		}
		return plugin.PathResult(short), nil
	}
	return plugin.Result{}, fmt.Errorf("no downloadable video posts in r/%s", p.cfg.Subreddit)
}

func isVideoURL(postURL string) bool {
	if strings.HasSuffix(postURL, ".mp4") {
		return true
	}
	for _, host := range videoHosts {
		if strings.Contains(postURL, host) {
			return true
		}
	}
	return false
}

func (p *Provider) download(ctx context.Context, postURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	outTemplate := filepath.Join(p.workspace, "raw.%(ext)s")
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--no-playlist",
		"--quiet",
		"-f", "bv*[ext=mp4]/b[ext=mp4]/b",
		"--max-downloads", "1",
		"--recode-video", "mp4",
		"-o", outTemplate,
		postURL,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != maxDownloadsExitCode {
			return "", fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(string(output)))
		}
	}
	raw := filepath.Join(p.workspace, "raw.mp4")
	if _, err := os.Stat(raw); err != nil {
		return "", fmt.Errorf("no video downloaded from %s", postURL)
	}
	return raw, nil
}

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
