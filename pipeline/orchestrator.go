// Package pipeline sequences the stages that turn a topic into a published
// short-form video.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shortforge/config"
	"shortforge/plugin"
	"shortforge/types"
	"shortforge/workspace"
)

// Metadata is the upload-facing text produced by the generation stage.
type Metadata struct {
	Title       string
	Description string
	SearchTerm  string
	CategoryID  string
}

// ScriptGenerator produces the spoken transcript and the video metadata.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic, steering string, usedTitles []string) (string, error)
	GenerateMetadata(ctx context.Context, transcript string) (Metadata, error)
}

// Synthesizer turns a transcript into a voice track.
type Synthesizer interface {
	Synthesize(ctx context.Context, transcript, outDir string) (string, error)
}

// Transcriber extracts word-level timing from the voice track and renders the
// subtitle file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, outDir string) (*types.CaptionData, string, error)
}

// Composer merges the background, voice, and caption layers into one file.
type Composer interface {
	Compose(ctx context.Context, media plugin.Result, audioPath string, captions *types.CaptionData, captionsPath, outDir string) (string, error)
}

// Uploader publishes the finished file. publishAt in the past or zero means
// publish immediately.
type Uploader interface {
	Upload(ctx context.Context, videoPath string, meta Metadata, publishAt time.Time) (string, error)
}

// History records what the channel has already published.
type History interface {
	RecentTitles(limit int) ([]string, error)
	LastScheduled() (time.Time, error)
	RecordUpload(title, url string, publishAt time.Time) error
}

// Orchestrator owns the PipelineContext and walks the fixed stage order.
// It never retries a stage and never runs one twice within a run.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *plugin.Registry
	scripts  ScriptGenerator
	speech   Synthesizer
	timing   Transcriber
	composer Composer
	uploader Uploader
	history  History
	now      func() time.Time
}

// New wires an orchestrator. uploader may be nil when uploads are disabled.
func New(cfg *config.Config, logger *slog.Logger, registry *plugin.Registry, scripts ScriptGenerator, speech Synthesizer, timing Transcriber, composer Composer, uploader Uploader, history History) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		registry: registry,
		scripts:  scripts,
		speech:   speech,
		timing:   timing,
		composer: composer,
		uploader: uploader,
		history:  history,
		now:      time.Now,
	}
}

// WithClock overrides the scheduling clock (for tests).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run executes one end-to-end pipeline for the topic inside the given
// workspace and returns the composed video path. On failure the remainder of
// the run is aborted; nothing is published.
func (o *Orchestrator) Run(ctx context.Context, topic string, ws *workspace.Workspace) (string, error) {
	pctx := &types.PipelineContext{Topic: topic}

	// The plugin is resolved up front because its optional steering text must
	// reach script generation. Fallback to "default" happens here; any
	// failure of the provider after this point propagates unrecovered.
	pluginDir, err := ws.PluginDir(o.cfg.BackgroundPlugin)
	if err != nil {
		return "", wrapStage(ErrPluginLoad, "acquire_background", err)
	}
	instance, err := o.registry.Resolve(o.cfg.BackgroundPlugin, pluginDir)
	if err != nil {
		return "", wrapStage(ErrPluginLoad, "acquire_background", err)
	}
	steering := instance.PromptContext(topic)

	// Stage 1: generate_script.
	o.logger.Info("stage start", "stage", "generate_script", "topic", topic)
	usedTitles, err := o.history.RecentTitles(100)
	if err != nil {
		o.logger.Warn("history unavailable, prompting without used titles", "error", err)
	}
	transcript, err := o.scripts.GenerateScript(ctx, topic, steering, usedTitles)
	if err != nil {
		return "", wrapStage(ErrGeneration, "generate_script", err)
	}
	if transcript == "" {
		return "", wrapStage(ErrGeneration, "generate_script", fmt.Errorf("empty transcript for topic %q", topic))
	}
	pctx.Transcript = transcript

	// Stage 2: generate_metadata.
	o.logger.Info("stage start", "stage", "generate_metadata")
	meta, err := o.scripts.GenerateMetadata(ctx, pctx.Transcript)
	if err != nil {
		return "", wrapStage(ErrGeneration, "generate_metadata", err)
	}
	pctx.Title = meta.Title
	pctx.Description = meta.Description
	pctx.SearchTerm = meta.SearchTerm
	pctx.CategoryID = meta.CategoryID

	// Stage 3: synthesize_audio.
	o.logger.Info("stage start", "stage", "synthesize_audio")
	audioDir, err := ws.Dir("audio")
	if err != nil {
		return "", wrapStage(ErrSynthesis, "synthesize_audio", err)
	}
	audioPath, err := o.speech.Synthesize(ctx, pctx.Transcript, audioDir)
	if err != nil {
		return "", wrapStage(ErrSynthesis, "synthesize_audio", err)
	}
	pctx.AudioPath = audioPath

	// Stage 4: extract_timing.
	o.logger.Info("stage start", "stage", "extract_timing")
	captionDir, err := ws.Dir("captions")
	if err != nil {
		return "", wrapStage(ErrTiming, "extract_timing", err)
	}
	captionData, captionsPath, err := o.timing.Transcribe(ctx, pctx.AudioPath, captionDir)
	if err != nil {
		return "", wrapStage(ErrTiming, "extract_timing", err)
	}
	if err := captionData.Validate(); err != nil {
		return "", wrapStage(ErrTiming, "extract_timing", err)
	}
	pctx.CaptionData = captionData
	pctx.CaptionsPath = captionsPath

	// Stage 5: acquire_background.
	o.logger.Info("stage start", "stage", "acquire_background", "plugin", instance.Name)
	media, err := instance.GetMedia(ctx, pctx.Snapshot())
	if err != nil {
		return "", wrapStage(ErrPluginExec, "acquire_background", err)
	}

	// Stage 6: compose.
	o.logger.Info("stage start", "stage", "compose")
	renderDir, err := ws.Dir("render")
	if err != nil {
		return "", wrapStage(ErrComposition, "compose", err)
	}
	videoPath, err := o.composer.Compose(ctx, media, pctx.AudioPath, pctx.CaptionData, pctx.CaptionsPath, renderDir)
	if err != nil {
		return "", wrapStage(ErrComposition, "compose", err)
	}
	composedAt := o.now()

	// Stage 7: schedule_upload.
	if o.uploader == nil {
		o.logger.Info("upload disabled, run complete", "video", videoPath)
		return videoPath, nil
	}
	o.logger.Info("stage start", "stage", "schedule_upload")
	publishAt := o.publishTime(composedAt)
	url, err := o.uploader.Upload(ctx, videoPath, meta, publishAt)
	if err != nil {
		return "", wrapStage(ErrUpload, "schedule_upload", err)
	}
	if err := o.history.RecordUpload(meta.Title, url, publishAt); err != nil {
		o.logger.Warn("record upload history", "error", err)
	}
	o.logger.Info("run complete", "video", videoPath, "url", url, "publish_at", publishAt)
	return videoPath, nil
}

// publishTime computes when the upload should go public. Delay 0 publishes
// immediately. A positive delay counts from composition completion, or from
// the channel's last scheduled publish when that is still in the future, so
// back-to-back runs space themselves out.
func (o *Orchestrator) publishTime(composedAt time.Time) time.Time {
	if o.cfg.DelayHours <= 0 {
		return time.Time{}
	}
	base := composedAt
	if last, err := o.history.LastScheduled(); err == nil && last.After(base) {
		base = last
	}
	return base.Add(time.Duration(o.cfg.DelayHours * float64(time.Hour)))
}
