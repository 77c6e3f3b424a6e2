// Package plugin defines the capability contract for background-visual
// providers and the registry that resolves them by identifier.
package plugin

import (
	"context"
	"errors"

	"shortforge/types"
)

// Provider is the capability every background-visual provider implements.
// The snapshot carries the pipeline fields the orchestrator has populated so
// far (see types.PipelineContext.Snapshot); providers must tolerate absent
// keys, since a field missing because its stage has not run is not an error.
type Provider interface {
	// GetMedia produces a background video reachable at Result.VideoPath
	// before it returns.
	GetMedia(ctx context.Context, snapshot map[string]any) (Result, error)
}

// PromptContexter is the optional steering capability. When a provider
// implements it, the orchestrator appends the returned text to the
// script-generation request. It is called at most once per run, before script
// generation, and must be a pure function of the topic.
type PromptContexter interface {
	PromptContext(topic string) string
}

// Factory builds a provider bound to a run-scoped workspace directory and
// the plugin's configuration directory under the registry root. A provider
// loads its own config.yml from configDir without the orchestrator's
// involvement.
type Factory func(workspace, configDir string) (Provider, error)

// Result is the normalized output of a GetMedia invocation.
type Result struct {
	// VideoPath is the background video file. Required.
	VideoPath string
	// AudioPath is an optional secondary track mixed under the voice.
	AudioPath string
	// SuppressCaptions disables the engine's subtitle burn-in; the provider
	// is trusted to have rendered its own on-screen text.
	SuppressCaptions bool
}

// PathResult wraps a bare video path in a Result. A provider returning
// PathResult(p) behaves identically to one returning Result{VideoPath: p}.
func PathResult(path string) Result {
	return Result{VideoPath: path}
}

var errMissingVideoPath = errors.New("plugin result missing video path")

// normalize validates the result at the registry boundary so consumers never
// see a shape they have to re-check.
func (r Result) normalize() (Result, error) {
	if r.VideoPath == "" {
		return Result{}, errMissingVideoPath
	}
	return r, nil
}

// StringField reads an optional string field from a context snapshot,
// returning "" when the field is absent or not a string.
func StringField(snapshot map[string]any, key string) string {
	if v, ok := snapshot[key].(string); ok {
		return v
	}
	return ""
}

// CaptionField reads the caption timing structure from a snapshot, or nil
// when transcription has not run.
func CaptionField(snapshot map[string]any) *types.CaptionData {
	if v, ok := snapshot["caption_data"].(*types.CaptionData); ok {
		return v
	}
	return nil
}
