package pipeline

// TranscriptionSpan is one timed span of recognized text.
type TranscriptionSpan struct {
	Text  string
	Start float64 // seconds from segment start
	End   float64
}

// Transcription is the speech-recognition result for one segment.
type Transcription struct {
	Spans    []TranscriptionSpan
	Language string // detected ISO 639-1 code
	Duration float64
}

// Text joins all span texts in order.
func (t Transcription) Text() string {
	out := ""
	for i, s := range t.Spans {
		if i > 0 {
			out += " "
		}
		out += s.Text
	}
	return out
}

// DiarizationSpan marks which local speaker index was talking during a
// time range. Indices are per-segment labels from the diarizer, not
// registry ids.
type DiarizationSpan struct {
	Start   float64
	End     float64
	Speaker int
}

// MergedUtterance is the pipeline output for one transcription span:
// text, translation, and speaker attribution merged together.
type MergedUtterance struct {
	Text              string
	Translation       string
	SpeakerID         int    // local diarization index
	SpeakerName       string // registry name, or "Speaker N" fallback
	Language          string
	Start             float64
	End               float64
	TranslationFailed bool
}
