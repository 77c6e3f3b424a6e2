package types

import "fmt"

// PipelineContext carries the state of one run. It is owned by the
// orchestrator; each stage fills in its own fields and later stages read them.
// Plugins never see the struct itself, only the map built by Snapshot.
type PipelineContext struct {
	Topic        string       `json:"topic"`
	Transcript   string       `json:"transcript,omitempty"`
	Title        string       `json:"title,omitempty"`
	Description  string       `json:"description,omitempty"`
	SearchTerm   string       `json:"search_term,omitempty"`
	CategoryID   string       `json:"category_id,omitempty"`
	AudioPath    string       `json:"audio_path,omitempty"`
	CaptionData  *CaptionData `json:"caption_data,omitempty"`
	CaptionsPath string       `json:"captions_path,omitempty"`
}

// Snapshot returns the read-only view handed to plugins. Fields a stage has
// not populated yet are omitted rather than present-but-empty, so a plugin
// running against a partial context can distinguish "absent" from "blank".
func (c *PipelineContext) Snapshot() map[string]any {
	snap := make(map[string]any, 8)
	put := func(key, value string) {
		if value != "" {
			snap[key] = value
		}
	}
	put("transcript", c.Transcript)
	put("title", c.Title)
	put("description", c.Description)
	put("search_term", c.SearchTerm)
	put("categoryId", c.CategoryID)
	put("audio_path", c.AudioPath)
	put("captions_path", c.CaptionsPath)
	if c.CaptionData != nil {
		// Deep copy: a plugin mutating its snapshot must not corrupt the
		// timing data later stages render from.
		snap["caption_data"] = c.CaptionData.Clone()
	}
	return snap
}

// Word is a single transcribed word with its timing.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one transcription segment with optional word-level timing.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// CaptionData is the shared timing model produced by transcription and
// consumed by caption rendering, plugins and composition.
type CaptionData struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Validate checks the timing invariants: segments ordered and non-overlapping,
// words ordered and contained within their segment.
func (d *CaptionData) Validate() error {
	var prevEnd float64
	for i, seg := range d.Segments {
		if seg.Start < 0 {
			return fmt.Errorf("segment %d: negative start %.3f", i, seg.Start)
		}
		if seg.End <= seg.Start {
			return fmt.Errorf("segment %d: end %.3f not after start %.3f", i, seg.End, seg.Start)
		}
		if seg.Start < prevEnd {
			return fmt.Errorf("segment %d: starts at %.3f before previous segment ends at %.3f", i, seg.Start, prevEnd)
		}
		prevEnd = seg.End

		var prevWordEnd float64
		for j, w := range seg.Words {
			if w.Start < seg.Start || w.End > seg.End {
				return fmt.Errorf("segment %d word %d: [%.3f, %.3f] outside segment [%.3f, %.3f]", i, j, w.Start, w.End, seg.Start, seg.End)
			}
			if w.Start < prevWordEnd {
				return fmt.Errorf("segment %d word %d: starts at %.3f before previous word ends at %.3f", i, j, w.Start, prevWordEnd)
			}
			prevWordEnd = w.End
		}
	}
	return nil
}

// Clone returns a deep copy sharing no slices with the receiver.
func (d *CaptionData) Clone() *CaptionData {
	if d == nil {
		return nil
	}
	out := &CaptionData{Text: d.Text, Segments: make([]Segment, len(d.Segments))}
	copy(out.Segments, d.Segments)
	for i := range out.Segments {
		out.Segments[i].Words = append([]Word(nil), d.Segments[i].Words...)
	}
	return out
}

// Duration returns the end time of the last segment, or 0 for empty data.
func (d *CaptionData) Duration() float64 {
	if len(d.Segments) == 0 {
		return 0
	}
	return d.Segments[len(d.Segments)-1].End
}
