// Package library serves background clips from a locally curated collection,
// rotating through the least-recently-used clips that match the search term.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"shortforge/plugin"
)

// Name is the identifier this provider registers under.
const Name = "library"

const usageLogName = ".usage.json"

type providerConfig struct {
	// ClipsDir holds the curated clips. A tags.json inside maps filename to
	// tag list; untagged clips match everything.
	ClipsDir string `yaml:"clips_dir"`
	// AmbientAudio, when set, is returned as the secondary track mixed under
	// the voice.
	AmbientAudio string `yaml:"ambient_audio"`
}

// Provider implements plugin.Provider.
type Provider struct {
	logger *slog.Logger
	cfg    providerConfig
	tags   map[string][]string
	usage  map[string]int
}

// Factory returns the registry factory for this provider.
func Factory(logger *slog.Logger) plugin.Factory {
	return func(workspace, configDir string) (plugin.Provider, error) {
		return newProvider(logger, configDir)
	}
}

func newProvider(logger *slog.Logger, configDir string) (*Provider, error) {
	p := &Provider{logger: logger.With("plugin", Name)}

	configPath := filepath.Join(configDir, "config.yml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("library plugin requires %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, &p.cfg); err != nil {
		return nil, fmt.Errorf("parse plugin config: %w", err)
	}
	if p.cfg.ClipsDir == "" {
		return nil, fmt.Errorf("library plugin config missing clips_dir")
	}

	p.tags = loadTags(filepath.Join(p.cfg.ClipsDir, "tags.json"))
	p.usage = loadUsage(filepath.Join(p.cfg.ClipsDir, usageLogName))
	return p, nil
}

// GetMedia picks the best-matching, least-used clip. The usage log persists
// across runs so the channel does not show the same background every day.
func (p *Provider) GetMedia(ctx context.Context, snapshot map[string]any) (plugin.Result, error) {
	searchTerm := plugin.StringField(snapshot, "search_term")

	entries, err := os.ReadDir(p.cfg.ClipsDir)
	if err != nil {
		return plugin.Result{}, fmt.Errorf("read clips dir: %w", err)
	}

	bestFile := ""
	bestScore := -1
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".mp4" {
			continue
		}
		score := matchScore(searchTerm, name, p.tags[name]) - p.usage[name]
		if score > bestScore {
			bestScore = score
			bestFile = name
		}
	}
	if bestFile == "" {
		return plugin.Result{}, fmt.Errorf("no clips found in %s", p.cfg.ClipsDir)
	}

	p.usage[bestFile]++
	p.saveUsage()

	p.logger.Debug("picked clip", "clip", bestFile, "score", bestScore)
	return plugin.Result{
		VideoPath: filepath.Join(p.cfg.ClipsDir, bestFile),
		AudioPath: p.cfg.AmbientAudio,
	}, nil
}

// matchScore rewards clips whose tags or filename contain search-term words.
func matchScore(searchTerm, filename string, tags []string) int {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = true
	}
	lowerName := strings.ToLower(filename)

	score := 0
	for _, word := range strings.Fields(strings.ToLower(searchTerm)) {
		if tagSet[word] {
			score += 10
		}
		if strings.Contains(lowerName, word) {
			score += 5
		}
	}
	return score
}

func loadTags(path string) map[string][]string {
	tags := make(map[string][]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return tags
	}
	_ = json.Unmarshal(data, &tags)
	return tags
}

func loadUsage(path string) map[string]int {
	usage := make(map[string]int)
	data, err := os.ReadFile(path)
	if err != nil {
		return usage
	}
	_ = json.Unmarshal(data, &usage)
	return usage
}

func (p *Provider) saveUsage() {
	data, err := json.MarshalIndent(p.usage, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(p.cfg.ClipsDir, usageLogName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.logger.Warn("save usage log", "error", err)
	}
}
