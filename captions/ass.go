package captions

import (
	"fmt"
	"os"
	"strings"

	"shortforge/types"
)

// Word chunking limits: captions flash in groups of up to three short words;
// long words get a line of their own.
const (
	maxChunkWords = 3
	maxChunkChars = 20
	longWordChars = 8
)

const assHeaderTemplate = `[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080
[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Dynamic, %s, 48, &H00FFFFFF, &H000000FF, &H00000000, &H80000000, 1, 0, 0, 0, 100, 100, 0, 0, 1, 2, 0, 5, 50, 50, 20, 1
[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// RenderASS writes the subtitle file for the caption data. Segments with word
// timing are split into short timed chunks; segments without it are emitted
// whole.
func (h *Handler) RenderASS(data *types.CaptionData, path string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, assHeaderTemplate, h.font)

	for _, seg := range data.Segments {
		if len(seg.Words) == 0 {
			writeDialogue(&sb, seg.Start, seg.End, seg.Text)
			continue
		}
		for _, chunk := range chunkWords(seg.Words) {
			texts := make([]string, len(chunk))
			for i, w := range chunk {
				texts[i] = w.Word
			}
			writeDialogue(&sb, chunk[0].Start, chunk[len(chunk)-1].End, strings.Join(texts, " "))
		}
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write ass file: %w", err)
	}
	return nil
}

// chunkWords groups consecutive words into display chunks.
func chunkWords(words []types.Word) [][]types.Word {
	var chunks [][]types.Word
	i := 0
	for i < len(words) {
		size := 1
		if len(words[i].Word) <= longWordChars {
			chars := len(words[i].Word)
			for j := i + 1; j < len(words) && size < maxChunkWords; j++ {
				next := words[j].Word
				if len(next) > longWordChars || chars+len(next)+1 > maxChunkChars {
					break
				}
				size++
				chars += len(next) + 1
			}
		}
		chunks = append(chunks, words[i:i+size])
		i += size
	}
	return chunks
}

func writeDialogue(sb *strings.Builder, start, end float64, text string) {
	fmt.Fprintf(sb, "Dialogue: 0,%s,%s,Dynamic,,0,0,0,,%s\n", formatTimestamp(start), formatTimestamp(end), text)
}

// formatTimestamp converts seconds to the ASS h:mm:ss.cs form.
func formatTimestamp(ts float64) string {
	h := int(ts) / 3600
	m := (int(ts) % 3600) / 60
	s := int(ts) % 60
	cs := int((ts - float64(int(ts))) * 100)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}
