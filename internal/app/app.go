// Package app owns the assistant's runtime: capture, segmentation, the
// merge pipeline, speaker registry, and spoken replies.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/live-translate-lab/internal/audio"
	"github.com/live-translate-lab/internal/config"
	"github.com/live-translate-lab/internal/fsio"
	"github.com/live-translate-lab/internal/logging"
	"github.com/live-translate-lab/internal/metrics"
	"github.com/live-translate-lab/internal/pipeline"
	"github.com/live-translate-lab/internal/speaker"
)

// UtteranceSink receives merged utterances as segments complete. The
// default sink writes them to the structured log; a UI transport can be
// swapped in.
type UtteranceSink interface {
	Consume(correlationID string, utts []pipeline.MergedUtterance)
}

// Player plays back synthesized speech. The default implementation saves
// the WAV next to the other capture artifacts; a real audio output can be
// swapped in.
type Player interface {
	PlayWAV(wav []byte) error
}

// App wires the capture loop to the pipeline and owns component
// lifetimes.
type App struct {
	cfg       *config.Config
	met       *metrics.Metrics
	registry  *speaker.Registry
	extractor speaker.Extractor
	segmenter *audio.Segmenter
	engine    *pipeline.Engine
	synth     pipeline.Synthesizer
	sink      UtteranceSink
	player    Player

	source         audio.FrameSource
	wg             sync.WaitGroup
	framesReported int64
}

// New assembles the application from configuration. met may be nil when
// metrics are disabled.
func New(cfg *config.Config, met *metrics.Metrics) (*App, error) {
	reg, err := speaker.OpenRegistry(cfg.EmbeddingsDir)
	if err != nil {
		return nil, fmt.Errorf("open speaker registry: %w", err)
	}
	if met != nil {
		met.SpeakersEnrolled.Set(float64(reg.Len()))
	}

	extractor := speaker.NewHTTPExtractor(cfg.DiarizationURL+"/embed", time.Duration(cfg.DiarizeTimeoutMS)*time.Millisecond)

	transcriber := pipeline.NewWhisperClient(cfg.WhisperURL+"/v1/audio/transcriptions", cfg.WhisperAPIKey, "", time.Duration(cfg.TranscribeTimeoutMS)*time.Millisecond)
	diarizer := pipeline.NewDiarizationClient(cfg.DiarizationURL+"/diarize", time.Duration(cfg.DiarizeTimeoutMS)*time.Millisecond)
	translator := pipeline.NewTranslationClient(cfg.TranslationURL, time.Duration(cfg.TranslateTimeoutMS)*time.Millisecond)

	a := &App{
		cfg:       cfg,
		met:       met,
		registry:  reg,
		extractor: extractor,
		segmenter: audio.NewSegmenter(audio.SegmenterConfig{
			SampleRate:       cfg.SampleRate,
			Channels:         cfg.Channels,
			FrameSize:        cfg.FrameSize,
			Gain:             cfg.Gain,
			SilenceThreshold: cfg.SilenceThreshold,
			VoiceTimeout:     cfg.VoiceTimeout,
		}),
		synth:  pipeline.NewTTSClient(cfg.TTSURL, time.Duration(cfg.TTSTimeoutMS)*time.Millisecond),
		sink:   &logSink{},
		player: newPlayer(cfg.SaveAudioDir),
	}
	identifier := &registryIdentifier{registry: reg, extractor: extractor}
	a.engine = pipeline.NewEngine(transcriber, diarizer, translator, identifier, cfg.SourceLanguage, cfg.TargetLanguage)
	return a, nil
}

// SetSink replaces the utterance sink; call before Listen.
func (a *App) SetSink(s UtteranceSink) { a.sink = s }

// SetPlayer replaces the playback implementation; call before Listen.
func (a *App) SetPlayer(p Player) { a.player = p }

// Registry exposes the speaker registry for the management API.
func (a *App) Registry() *speaker.Registry { return a.registry }

// Extractor exposes the embedding client for the management API.
func (a *App) Extractor() speaker.Extractor { return a.extractor }

// Listen connects to the capture source and runs until ctx is canceled or
// the capture device fails fatally.
func (a *App) Listen(ctx context.Context) error {
	src, err := audio.DialWSSource(a.cfg.CaptureURL, a.cfg.FrameSize)
	if err != nil {
		return fmt.Errorf("connect capture source: %w", err)
	}
	a.source = src
	if err := a.segmenter.Start(src); err != nil {
		src.Close()
		return err
	}
	logging.Infow("app: listening",
		"capture_url", a.cfg.CaptureURL,
		"source_language", a.cfg.SourceLanguage,
		"target_language", a.cfg.TargetLanguage)

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-a.segmenter.Levels():
			a.reportFrames()
		case seg := <-a.segmenter.Segments():
			if a.met != nil {
				a.met.SegmentsEmitted.Inc()
			}
			// single-flight decision belongs here, before any worker
			// exists; losers are dropped, never queued
			if !a.engine.TryAcquire() {
				logging.Infow("app: dropping segment, pipeline busy", "correlation_id", seg.CorrelationID)
				if a.met != nil {
					a.met.SegmentsDropped.WithLabelValues("busy").Inc()
				}
				continue
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				defer a.engine.Release()
				a.processSegment(ctx, seg)
			}()
		case <-a.segmenter.Done():
			a.shutdown()
			if err := a.segmenter.Err(); err != nil {
				return fmt.Errorf("capture stopped: %w", err)
			}
			return nil
		}
	}
}

// processSegment runs one merge to completion. The caller holds the
// engine's processing slot.
func (a *App) processSegment(ctx context.Context, seg audio.Segment) {
	// shutdown must not abort an in-flight merge; the per-call client
	// timeouts remain the bound
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	utts, err := a.engine.Merge(ctx, seg.WAV(), seg.Duration().Seconds(), seg.CorrelationID)
	if err != nil {
		logging.Errorw("app: segment processing failed", "correlation_id", seg.CorrelationID, "err", err)
		if a.met != nil {
			a.met.BackendErrors.WithLabelValues("transcribe").Inc()
		}
		return
	}
	if a.met != nil {
		a.met.PipelineLatency.Observe(time.Since(start).Seconds())
		for _, u := range utts {
			if u.TranslationFailed {
				a.met.TranslationsFail.Inc()
			}
		}
	}
	if len(utts) == 0 {
		return
	}
	a.sink.Consume(seg.CorrelationID, utts)
	a.maybeSpeak(ctx, seg.CorrelationID, utts)
}

// maybeSpeak voices the reply when the counterpart needs to hear it: the
// segment was spoken in the target language, so its back-translation is
// synthesized in the source language.
func (a *App) maybeSpeak(ctx context.Context, correlationID string, utts []pipeline.MergedUtterance) {
	if !a.cfg.TTSEnabled || utts[0].Language != a.cfg.TargetLanguage {
		return
	}
	var parts []string
	for _, u := range utts {
		if !u.TranslationFailed && u.Translation != "" {
			parts = append(parts, u.Translation)
		}
	}
	if len(parts) == 0 {
		return
	}
	text := strings.Join(parts, " ")

	wav, err := a.synth.Synthesize(ctx, text, a.cfg.SourceLanguage)
	if err != nil {
		logging.Warnw("app: speech synthesis failed", "correlation_id", correlationID, "err", err)
		if a.met != nil {
			a.met.BackendErrors.WithLabelValues("tts").Inc()
		}
		return
	}
	if a.met != nil {
		a.met.TTSSynthesized.Inc()
	}
	if err := a.player.PlayWAV(wav); err != nil {
		logging.Warnw("app: playback failed", "correlation_id", correlationID, "err", err)
	}
}

// Enroll captures a fixed-length voice sample and registers it. Used by
// the CLI; the HTTP surface enrolls from uploads instead.
func (a *App) Enroll(ctx context.Context, name string, primary bool, duration time.Duration) (string, error) {
	src, err := audio.DialWSSource(a.cfg.CaptureURL, a.cfg.FrameSize)
	if err != nil {
		return "", fmt.Errorf("connect capture source: %w", err)
	}
	defer src.Close()

	logging.Infow("app: capturing enrollment sample", "name", name, "duration_s", duration.Seconds())
	pcm, err := a.segmenter.CaptureFor(src, duration)
	if err != nil {
		return "", fmt.Errorf("capture enrollment sample: %w", err)
	}
	wav := audio.EncodeWAV(pcm, a.cfg.SampleRate, a.cfg.Channels)

	emb, err := a.extractor.Extract(ctx, wav)
	if err != nil {
		return "", fmt.Errorf("extract voiceprint: %w", err)
	}
	id, err := a.registry.Enroll(name, primary, emb)
	if err != nil {
		return "", err
	}
	if a.met != nil {
		a.met.SpeakersEnrolled.Set(float64(a.registry.Len()))
	}
	return id, nil
}

// shutdown closes the source first to unblock the read loop, stops the
// segmenter, then waits for in-flight segment work.
func (a *App) shutdown() {
	if a.source != nil {
		a.source.Close()
		a.source = nil
	}
	a.segmenter.Stop()
	a.wg.Wait()
	a.reportFrames()
	if a.met != nil {
		if dropped := a.segmenter.Dropped(); dropped > 0 {
			a.met.SegmentsDropped.WithLabelValues("queue_full").Add(float64(dropped))
		}
		if failures := a.segmenter.ReadFailures(); failures > 0 {
			a.met.ReadFailures.Add(float64(failures))
		}
	}
}

// reportFrames advances the frames-read metric by the segmenter's exact
// counter. The level channel only wakes the dispatcher; it is latest-wins
// and cannot be used for counting.
func (a *App) reportFrames() {
	if a.met == nil {
		return
	}
	if total := a.segmenter.FramesRead(); total > a.framesReported {
		a.met.FramesRead.Add(float64(total - a.framesReported))
		a.framesReported = total
	}
}

// registryIdentifier adapts the registry plus extractor pair to the
// pipeline's identification interface.
type registryIdentifier struct {
	registry  *speaker.Registry
	extractor speaker.Extractor
}

func (r *registryIdentifier) Identify(ctx context.Context, wav []byte) (string, bool, error) {
	if r.registry.Empty() {
		return "", false, nil
	}
	emb, err := r.extractor.Extract(ctx, wav)
	if err != nil {
		return "", false, err
	}
	id := r.registry.Identify(emb)
	if !id.Known() {
		return "", false, nil
	}
	return id.Name, true, nil
}

// logSink prints utterances to the structured log.
type logSink struct{}

func (logSink) Consume(correlationID string, utts []pipeline.MergedUtterance) {
	for _, u := range utts {
		logging.Infow("utterance",
			"correlation_id", correlationID,
			"speaker", u.SpeakerName,
			"language", u.Language,
			"text", u.Text,
			"translation", u.Translation,
			"translation_failed", u.TranslationFailed)
	}
}

func newPlayer(saveDir string) Player {
	if saveDir == "" {
		return noopPlayer{}
	}
	return &savePlayer{dir: saveDir}
}

type noopPlayer struct{}

func (noopPlayer) PlayWAV([]byte) error { return nil }

// savePlayer persists replies to disk for an external player to pick up.
type savePlayer struct {
	dir string
}

func (p *savePlayer) PlayWAV(wav []byte) error {
	name := fmt.Sprintf("reply-%s.wav", time.Now().UTC().Format("20060102T150405.000"))
	path := filepath.Join(p.dir, name)
	if err := fsio.SaveFileAtomic(path, wav, 0o644); err != nil {
		return err
	}
	logging.Infow("app: reply saved", "path", path)
	return nil
}
