package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/live-translate-lab/internal/logging"
)

// Identifier matches a clip's voice against enrolled speakers. A nil
// Identifier disables attribution; errors only cost the name, never the
// transcript.
type Identifier interface {
	Identify(ctx context.Context, wav []byte) (name string, known bool, err error)
}

// Engine runs one speech segment through transcription, diarization,
// speaker attribution, and translation, and merges the results into
// utterances. Only one segment is processed at a time: a call arriving
// while another is in flight fails fast with ErrBusy so live capture
// never queues up stale audio.
type Engine struct {
	transcriber Transcriber
	diarizer    Diarizer
	translator  Translator
	identifier  Identifier

	sourceLang string
	targetLang string

	busy atomic.Bool
}

// NewEngine wires the backends. identifier may be nil.
func NewEngine(t Transcriber, d Diarizer, tr Translator, id Identifier, sourceLang, targetLang string) *Engine {
	return &Engine{
		transcriber: t,
		diarizer:    d,
		translator:  tr,
		identifier:  id,
		sourceLang:  sourceLang,
		targetLang:  targetLang,
	}
}

// TryAcquire claims the single processing slot without blocking. It lets a
// dispatcher decide to drop a segment before spawning any worker; pair a
// successful claim with Release.
func (e *Engine) TryAcquire() bool {
	return e.busy.CompareAndSwap(false, true)
}

// Release frees the slot claimed by TryAcquire.
func (e *Engine) Release() {
	e.busy.Store(false)
}

// Process merges one segment, claiming the slot for the duration; a call
// arriving while another is in flight fails fast with ErrBusy. wav is the
// encoded clip; durationSec is its audio length, used when backends omit
// timing. correlationID ties log lines across stages.
func (e *Engine) Process(ctx context.Context, wav []byte, durationSec float64, correlationID string) ([]MergedUtterance, error) {
	if !e.TryAcquire() {
		return nil, ErrBusy
	}
	defer e.Release()
	return e.Merge(ctx, wav, durationSec, correlationID)
}

// Merge runs the pipeline stages for one segment. Callers responsible for
// single-flight must hold the slot via TryAcquire; Process does this
// automatically.
func (e *Engine) Merge(ctx context.Context, wav []byte, durationSec float64, correlationID string) ([]MergedUtterance, error) {
	tr, err := e.transcriber.Transcribe(ctx, wav)
	if err != nil {
		return nil, fmt.Errorf("process segment: %w", err)
	}
	if len(tr.Spans) == 0 {
		logging.Debugw("pipeline: no speech recognized", "correlation_id", correlationID)
		return nil, nil
	}
	detected := strings.ToLower(tr.Language)
	if detected == "" {
		detected = e.sourceLang
	}
	if tr.Duration == 0 {
		tr.Duration = durationSec
	}

	diar := e.diarizeOrFallback(ctx, wav, tr.Duration, correlationID)
	names := e.speakerNames(ctx, wav, diar, correlationID)

	// When the device owner speaks the target language, translate back to
	// the source language so the counterpart can follow; otherwise
	// translate into the target language.
	transSrc, transDst := detected, e.targetLang
	if detected == e.targetLang {
		transSrc, transDst = e.targetLang, e.sourceLang
	}

	out := make([]MergedUtterance, 0, len(tr.Spans))
	for _, span := range tr.Spans {
		speakerIdx := speakerAt(diar, (span.Start+span.End)/2)
		utt := MergedUtterance{
			Text:        span.Text,
			SpeakerID:   speakerIdx,
			SpeakerName: names[speakerIdx],
			Language:    detected,
			Start:       span.Start,
			End:         span.End,
		}
		if utt.SpeakerName == "" {
			utt.SpeakerName = fmt.Sprintf("Speaker %d", speakerIdx)
		}

		translated, err := e.translator.Translate(ctx, span.Text, transSrc, transDst)
		if err != nil {
			// one failed span must not sink the rest of the segment
			logging.Warnw("pipeline: span translation failed",
				"correlation_id", correlationID, "span_start", span.Start, "err", err)
			utt.TranslationFailed = true
		} else {
			utt.Translation = translated
		}
		out = append(out, utt)
	}

	logging.Infow("pipeline: segment merged",
		"correlation_id", correlationID, "utterances", len(out),
		"language", detected, "speakers", len(names))
	return out, nil
}

// diarizeOrFallback degrades to a single full-length span for speaker 0
// when the diarizer fails; the transcript still goes out.
func (e *Engine) diarizeOrFallback(ctx context.Context, wav []byte, duration float64, correlationID string) []DiarizationSpan {
	spans, err := e.diarizer.Diarize(ctx, wav)
	if err != nil {
		logging.Warnw("pipeline: diarization failed; attributing to single speaker",
			"correlation_id", correlationID, "err", err)
		return []DiarizationSpan{{Start: 0, End: duration, Speaker: 0}}
	}
	if len(spans) == 0 {
		return []DiarizationSpan{{Start: 0, End: duration, Speaker: 0}}
	}
	return spans
}

// speakerNames attributes the registry identity, when one matches, to the
// local speaker index with the most talk time; everyone else keeps the
// positional fallback name.
func (e *Engine) speakerNames(ctx context.Context, wav []byte, diar []DiarizationSpan, correlationID string) map[int]string {
	names := make(map[int]string)
	talk := make(map[int]float64)
	for _, s := range diar {
		talk[s.Speaker] += s.End - s.Start
		names[s.Speaker] = fmt.Sprintf("Speaker %d", s.Speaker)
	}
	if e.identifier == nil {
		return names
	}

	name, known, err := e.identifier.Identify(ctx, wav)
	if err != nil {
		logging.Warnw("pipeline: speaker identification failed", "correlation_id", correlationID, "err", err)
		return names
	}
	if !known {
		return names
	}
	dominant, max := 0, -1.0
	for idx, d := range talk {
		if d > max || (d == max && idx < dominant) {
			dominant, max = idx, d
		}
	}
	names[dominant] = name
	return names
}

// speakerAt returns the speaker of the first diarization span containing
// the midpoint, or 0 when none does.
func speakerAt(diar []DiarizationSpan, mid float64) int {
	for _, s := range diar {
		if s.Start <= mid && mid <= s.End {
			return s.Speaker
		}
	}
	return 0
}
