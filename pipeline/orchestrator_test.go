package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/config"
	"shortforge/plugin"
	"shortforge/types"
	"shortforge/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCaptionData() *types.CaptionData {
	return &types.CaptionData{
		Text: "the deep sea hides giants",
		Segments: []types.Segment{
			{Start: 0, End: 3, Text: "the deep sea hides giants"},
		},
	}
}

// harness collects the fakes behind every orchestrator collaborator and
// records the order stages actually ran in.
type harness struct {
	order []string

	scriptErr    error
	transcript   string
	metaErr      error
	synthErr     error
	timingErr    error
	captionData  *types.CaptionData
	mediaResult  plugin.Result
	mediaErr     error
	composeErr   error
	uploadErr    error
	steering     string
	seenSteering string
	seenTitles   []string
	seenSnapshot map[string]any
	seenMedia    plugin.Result
	seenMeta     Metadata
	seenPublish  time.Time

	lastScheduled time.Time
	recorded      []recordedUpload
}

type recordedUpload struct {
	title     string
	url       string
	publishAt time.Time
}

func newHarness() *harness {
	return &harness{
		transcript:  "the deep sea hides giants",
		captionData: testCaptionData(),
		mediaResult: plugin.PathResult("/tmp/bg.mp4"),
	}
}

func (h *harness) GenerateScript(ctx context.Context, topic, steering string, usedTitles []string) (string, error) {
	h.order = append(h.order, "generate_script")
	h.seenSteering = steering
	h.seenTitles = usedTitles
	return h.transcript, h.scriptErr
}

func (h *harness) GenerateMetadata(ctx context.Context, transcript string) (Metadata, error) {
	h.order = append(h.order, "generate_metadata")
	return Metadata{Title: "Deep Sea Giants", Description: "desc", SearchTerm: "deep sea", CategoryID: "24"}, h.metaErr
}

func (h *harness) Synthesize(ctx context.Context, transcript, outDir string) (string, error) {
	h.order = append(h.order, "synthesize_audio")
	return "/tmp/voice.mp3", h.synthErr
}

func (h *harness) Transcribe(ctx context.Context, audioPath, outDir string) (*types.CaptionData, string, error) {
	h.order = append(h.order, "extract_timing")
	return h.captionData, "/tmp/captions.ass", h.timingErr
}

func (h *harness) GetMedia(ctx context.Context, snapshot map[string]any) (plugin.Result, error) {
	h.order = append(h.order, "acquire_background")
	h.seenSnapshot = snapshot
	return h.mediaResult, h.mediaErr
}

func (h *harness) PromptContext(topic string) string {
	return h.steering
}

func (h *harness) Compose(ctx context.Context, media plugin.Result, audioPath string, captions *types.CaptionData, captionsPath, outDir string) (string, error) {
	h.order = append(h.order, "compose")
	h.seenMedia = media
	return "/tmp/output.mp4", h.composeErr
}

func (h *harness) Upload(ctx context.Context, videoPath string, meta Metadata, publishAt time.Time) (string, error) {
	h.order = append(h.order, "schedule_upload")
	h.seenMeta = meta
	h.seenPublish = publishAt
	return "https://youtube.com/watch?v=abc", h.uploadErr
}

func (h *harness) RecentTitles(limit int) ([]string, error) {
	return []string{"Old Video"}, nil
}

func (h *harness) LastScheduled() (time.Time, error) {
	return h.lastScheduled, nil
}

func (h *harness) RecordUpload(title, url string, publishAt time.Time) error {
	h.recorded = append(h.recorded, recordedUpload{title, url, publishAt})
	return nil
}

func testWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Acquire(discardLogger(), t.TempDir(), "test", false)
	require.NoError(t, err)
	t.Cleanup(ws.Release)
	return ws
}

func newOrchestrator(t *testing.T, cfg *config.Config, h *harness, withUploader bool) *Orchestrator {
	t.Helper()
	registry := plugin.NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, registry.Register(plugin.DefaultName, func(workspace, configDir string) (plugin.Provider, error) {
		return h, nil
	}))
	var uploader Uploader
	if withUploader {
		uploader = h
	}
	return New(cfg, discardLogger(), registry, h, h, h, h, uploader, h)
}

func TestRunStageOrder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.steering = "favor concrete imagery"
	cfg := &config.Config{BackgroundPlugin: "default"}
	o := newOrchestrator(t, cfg, h, true)

	out, err := o.Run(context.Background(), "ocean trenches", testWorkspace(t))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/output.mp4", out)

	assert.Equal(t, []string{
		"generate_script",
		"generate_metadata",
		"synthesize_audio",
		"extract_timing",
		"acquire_background",
		"compose",
		"schedule_upload",
	}, h.order)

	assert.Equal(t, "favor concrete imagery", h.seenSteering)
	assert.Equal(t, []string{"Old Video"}, h.seenTitles)
	assert.Equal(t, "Deep Sea Giants", h.seenMeta.Title)

	// The plugin saw the fully populated context.
	assert.Equal(t, h.transcript, h.seenSnapshot["transcript"])
	assert.Equal(t, "deep sea", h.seenSnapshot["search_term"])
	assert.Equal(t, "/tmp/voice.mp3", h.seenSnapshot["audio_path"])
	assert.Equal(t, h.captionData, h.seenSnapshot["caption_data"])

	require.Len(t, h.recorded, 1)
	assert.Equal(t, "Deep Sea Giants", h.recorded[0].title)
}

func TestRunPluginExecFailureAborts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.mediaErr = errors.New("yt-dlp exit 1")
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default"}, h, true)

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPluginExec)

	// Nothing downstream of the failure ran; nothing was published.
	assert.NotContains(t, h.order, "compose")
	assert.NotContains(t, h.order, "schedule_upload")
	assert.Empty(t, h.recorded)
}

func TestRunStageFailureClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		mutate   func(*harness)
		sentinel error
	}{
		{"script", func(h *harness) { h.scriptErr = errors.New("api down") }, ErrGeneration},
		{"empty transcript", func(h *harness) { h.transcript = "" }, ErrGeneration},
		{"metadata", func(h *harness) { h.metaErr = errors.New("api down") }, ErrGeneration},
		{"synthesis", func(h *harness) { h.synthErr = errors.New("edge-tts failed") }, ErrSynthesis},
		{"timing", func(h *harness) { h.timingErr = errors.New("whisper failed") }, ErrTiming},
		{"invalid timing", func(h *harness) {
			h.captionData = &types.CaptionData{Segments: []types.Segment{{Start: 2, End: 1}}}
		}, ErrTiming},
		{"compose", func(h *harness) { h.composeErr = errors.New("ffmpeg failed") }, ErrComposition},
		{"upload", func(h *harness) { h.uploadErr = errors.New("quota") }, ErrUpload},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			tc.mutate(h)
			o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default"}, h, true)

			_, err := o.Run(context.Background(), "topic", testWorkspace(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}
}

func TestRunUploadDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness()
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default"}, h, false)

	out, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/output.mp4", out)
	assert.NotContains(t, h.order, "schedule_upload")
	assert.Empty(t, h.recorded)
}

func TestRunUnknownPluginFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness()
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "does-not-exist"}, h, false)

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.Contains(t, h.order, "acquire_background")
}

func TestRunMediaResultReachesComposer(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.mediaResult = plugin.Result{VideoPath: "/tmp/slides.mp4", AudioPath: "/tmp/ambient.mp3", SuppressCaptions: true}
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default"}, h, false)

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.Equal(t, h.mediaResult, h.seenMedia)
}

func TestPublishTimeImmediate(t *testing.T) {
	t.Parallel()

	h := newHarness()
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default", DelayHours: 0}, h, true)

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.True(t, h.seenPublish.IsZero(), "zero delay publishes immediately")
}

func TestPublishTimeDelayFromComposition(t *testing.T) {
	t.Parallel()

	composedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness()
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default", DelayHours: 2}, h, true).
		WithClock(func() time.Time { return composedAt })

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.Equal(t, composedAt.Add(2*time.Hour), h.seenPublish)
}

func TestPublishTimeChainsBehindLastScheduled(t *testing.T) {
	t.Parallel()

	composedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness()
	h.lastScheduled = composedAt.Add(5 * time.Hour)
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default", DelayHours: 2}, h, true).
		WithClock(func() time.Time { return composedAt })

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.Equal(t, h.lastScheduled.Add(2*time.Hour), h.seenPublish)
}

func TestPublishTimeIgnoresPastSchedule(t *testing.T) {
	t.Parallel()

	composedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness()
	h.lastScheduled = composedAt.Add(-24 * time.Hour)
	o := newOrchestrator(t, &config.Config{BackgroundPlugin: "default", DelayHours: 1.5}, h, true).
		WithClock(func() time.Time { return composedAt })

	_, err := o.Run(context.Background(), "topic", testWorkspace(t))
	require.NoError(t, err)
	assert.Equal(t, composedAt.Add(90*time.Minute), h.seenPublish)
}
