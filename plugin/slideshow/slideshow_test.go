package slideshow

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/types"
)

func testProvider(maxImages int) *Provider {
	return &Provider{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:    providerConfig{MaxImages: maxImages, Style: "cinematic"},
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	got := splitSentences("The abyss is dark. Nothing grows there! Or does it? ok")
	assert.Equal(t, []string{
		"The abyss is dark.",
		"Nothing grows there!",
		"Or does it?",
	}, got, "trailing fragments shorter than a beat are dropped")

	assert.Empty(t, splitSentences(""))
}

func TestPlanSlidesFromCaptions(t *testing.T) {
	t.Parallel()

	p := testProvider(5)
	data := &types.CaptionData{Segments: []types.Segment{
		{Start: 0, End: 3, Text: "The abyss is dark"},
		{Start: 3, End: 7.5, Text: "Nothing grows there"},
	}}
	prompts, duration := p.planSlides(map[string]any{"caption_data": data})

	require.Len(t, prompts, 2)
	assert.Equal(t, 7.5, duration)
	assert.True(t, strings.HasPrefix(prompts[0], "The abyss is dark, cinematic"))
	assert.Contains(t, prompts[0], "no text, no watermark")
}

func TestPlanSlidesFromTranscriptFallback(t *testing.T) {
	t.Parallel()

	p := testProvider(5)
	prompts, duration := p.planSlides(map[string]any{
		"transcript": "First beat here. Second beat here.",
	})

	require.Len(t, prompts, 2)
	assert.Equal(t, fallbackLength, duration)
}

func TestPlanSlidesMergesSurplusBeats(t *testing.T) {
	t.Parallel()

	p := testProvider(3)
	var segments []types.Segment
	for i := 0; i < 9; i++ {
		segments = append(segments, types.Segment{
			Start: float64(i), End: float64(i + 1), Text: "beat",
		})
	}
	prompts, _ := p.planSlides(map[string]any{
		"caption_data": &types.CaptionData{Segments: segments},
	})
	assert.Len(t, prompts, 3)
}

func TestPlanSlidesEmptyContext(t *testing.T) {
	t.Parallel()

	prompts, _ := testProvider(5).planSlides(map[string]any{})
	assert.Empty(t, prompts)
}

func TestPromptContextNamesTopic(t *testing.T) {
	t.Parallel()

	steering := testProvider(5).PromptContext("deep sea trenches")
	assert.Contains(t, steering, "deep sea trenches")
	assert.Contains(t, steering, "visually concrete")
}
