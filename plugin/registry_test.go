package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	result   Result
	err      error
	steering string
	got      map[string]any
}

func (f *fakeProvider) GetMedia(ctx context.Context, snapshot map[string]any) (Result, error) {
	f.got = snapshot
	return f.result, f.err
}

func (f *fakeProvider) PromptContext(topic string) string {
	return f.steering
}

func staticFactory(p Provider) Factory {
	return func(workspace, configDir string) (Provider, error) { return p, nil }
}

func failingFactory(err error) Factory {
	return func(workspace, configDir string) (Provider, error) { return nil, err }
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register("default", staticFactory(&fakeProvider{})))
	assert.Error(t, r.Register("default", staticFactory(&fakeProvider{})))
	assert.Error(t, r.Register("", staticFactory(&fakeProvider{})))
	assert.Error(t, r.Register("nil", nil))
}

func TestResolveUnknownFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register(DefaultName, staticFactory(&fakeProvider{})))

	in, err := r.Resolve("no-such-plugin", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultName, in.Name)
}

func TestResolveFailingFactoryFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register(DefaultName, staticFactory(&fakeProvider{})))
	require.NoError(t, r.Register("broken", failingFactory(errors.New("config missing"))))

	in, err := r.Resolve("broken", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultName, in.Name)
}

func TestResolveDefaultMissingIsFatal(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger(), t.TempDir())
	_, err := r.Resolve("anything", t.TempDir())
	assert.Error(t, err)

	_, err = r.Resolve("", t.TempDir())
	assert.Error(t, err)
}

func TestResolveDefaultFactoryFailureIsFatal(t *testing.T) {
	t.Parallel()

	broken := errors.New("boom")
	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register(DefaultName, failingFactory(broken)))

	_, err := r.Resolve("other", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
}

func TestResolveHandsFactoryItsConfigDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	workspace := t.TempDir()

	var gotWorkspace, gotConfigDir string
	r := NewRegistry(discardLogger(), root)
	require.NoError(t, r.Register("library", func(ws, configDir string) (Provider, error) {
		gotWorkspace = ws
		gotConfigDir = configDir
		return plainProvider{}, nil
	}))
	require.NoError(t, r.Register(DefaultName, staticFactory(plainProvider{})))

	_, err := r.Resolve("library", workspace)
	require.NoError(t, err)
	assert.Equal(t, workspace, gotWorkspace)
	assert.Equal(t, filepath.Join(root, "library"), gotConfigDir,
		"config dir follows the registry root, not the working directory")
}

func TestResolveEmptyNameMeansDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register(DefaultName, staticFactory(&fakeProvider{})))

	in, err := r.Resolve("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultName, in.Name)
}

func TestInstanceNormalizesResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register(DefaultName, staticFactory(&fakeProvider{
		result: PathResult("/tmp/bg.mp4"),
	})))
	require.NoError(t, r.Register("structured", staticFactory(&fakeProvider{
		result: Result{VideoPath: "/tmp/bg.mp4"},
	})))
	require.NoError(t, r.Register("empty", staticFactory(&fakeProvider{})))

	// A bare path and a structured result with the same path are
	// indistinguishable past the registry boundary.
	bare, err := r.Resolve(DefaultName, t.TempDir())
	require.NoError(t, err)
	structured, err := r.Resolve("structured", t.TempDir())
	require.NoError(t, err)

	bareResult, err := bare.GetMedia(ctx, nil)
	require.NoError(t, err)
	structResult, err := structured.GetMedia(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, structResult, bareResult)

	// A result without a video path is rejected at the boundary, not passed on.
	empty, err := r.Resolve("empty", t.TempDir())
	require.NoError(t, err)
	_, err = empty.GetMedia(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing video path")
}

func TestInstanceExecutionErrorNotRecovered(t *testing.T) {
	t.Parallel()

	boom := errors.New("network down")
	r := NewRegistry(discardLogger(), t.TempDir())
	require.NoError(t, r.Register(DefaultName, staticFactory(&fakeProvider{
		result: PathResult("/tmp/bg.mp4"),
	})))
	require.NoError(t, r.Register("flaky", staticFactory(&fakeProvider{err: boom})))

	in, err := r.Resolve("flaky", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "flaky", in.Name)

	_, err = in.GetMedia(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestPromptContextOptional(t *testing.T) {
	t.Parallel()

	withSteering := &Instance{Name: "a", provider: &fakeProvider{steering: "use imagery"}}
	assert.Equal(t, "use imagery", withSteering.PromptContext("topic"))

	without := &Instance{Name: "b", provider: plainProvider{}}
	assert.Equal(t, "", without.PromptContext("topic"))
}

// plainProvider implements only the mandatory capability.
type plainProvider struct{}

func (plainProvider) GetMedia(ctx context.Context, snapshot map[string]any) (Result, error) {
	return PathResult("/tmp/bg.mp4"), nil
}

func TestSnapshotHelpers(t *testing.T) {
	t.Parallel()

	data := &types.CaptionData{}
	snap := map[string]any{
		"search_term":  "ocean floor",
		"caption_data": data,
		"not_a_string": 42,
	}
	assert.Equal(t, "ocean floor", StringField(snap, "search_term"))
	assert.Equal(t, "", StringField(snap, "absent"))
	assert.Equal(t, "", StringField(snap, "not_a_string"))
	assert.Same(t, data, CaptionField(snap))
	assert.Nil(t, CaptionField(map[string]any{}))
}
