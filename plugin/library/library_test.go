package library

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T, clipsDir string) *Provider {
	t.Helper()
	return &Provider{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:    providerConfig{ClipsDir: clipsDir},
		tags:   loadTags(filepath.Join(clipsDir, "tags.json")),
		usage:  loadUsage(filepath.Join(clipsDir, usageLogName)),
	}
}

func writeClip(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestFactoryReadsConfigFromGivenDir(t *testing.T) {
	t.Parallel()

	clipsDir := t.TempDir()
	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yml"),
		[]byte("clips_dir: "+clipsDir+"\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := newProvider(logger, configDir)
	require.NoError(t, err)
	assert.Equal(t, clipsDir, p.cfg.ClipsDir)

	// A missing config in the given dir refuses the provider.
	_, err = newProvider(logger, t.TempDir())
	assert.Error(t, err)
}

func TestMatchScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, matchScore("deep sea", "forest.mp4", nil))
	assert.Equal(t, 5, matchScore("deep sea", "sea_waves.mp4", nil))
	assert.Equal(t, 10, matchScore("deep sea", "clip01.mp4", []string{"sea"}))
	assert.Equal(t, 15, matchScore("deep sea", "sea_waves.mp4", []string{"Sea"}))
	assert.Equal(t, 30, matchScore("deep sea", "deep_sea.mp4", []string{"deep", "sea"}))
}

func TestGetMediaPicksBestMatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeClip(t, dir, "forest.mp4")
	writeClip(t, dir, "ocean.mp4")
	tags := map[string][]string{"ocean.mp4": {"sea", "water"}}
	raw, err := json.Marshal(tags)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tags.json"), raw, 0o644))

	p := testProvider(t, dir)
	result, err := p.GetMedia(context.Background(), map[string]any{"search_term": "stormy sea"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ocean.mp4"), result.VideoPath)
	assert.Empty(t, result.AudioPath)
}

func TestGetMediaRotatesThroughUsage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeClip(t, dir, "a.mp4")
	writeClip(t, dir, "b.mp4")

	p := testProvider(t, dir)
	snapshot := map[string]any{"search_term": "anything"}

	first, err := p.GetMedia(context.Background(), snapshot)
	require.NoError(t, err)
	second, err := p.GetMedia(context.Background(), snapshot)
	require.NoError(t, err)
	assert.NotEqual(t, first.VideoPath, second.VideoPath, "usage count pushes the next pick elsewhere")

	// Usage survives into a fresh provider instance.
	fresh := testProvider(t, dir)
	assert.Equal(t, 1, fresh.usage[filepath.Base(first.VideoPath)])
}

func TestGetMediaReturnsAmbientAudio(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeClip(t, dir, "a.mp4")

	p := testProvider(t, dir)
	p.cfg.AmbientAudio = "/srv/audio/rain.mp3"

	result, err := p.GetMedia(context.Background(), map[string]any{"search_term": "x"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/audio/rain.mp3", result.AudioPath)
}

func TestGetMediaEmptyLibrary(t *testing.T) {
	t.Parallel()

	p := testProvider(t, t.TempDir())
	_, err := p.GetMedia(context.Background(), map[string]any{"search_term": "x"})
	assert.Error(t, err)
}
