package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/live-translate-lab/internal/audio"
	"github.com/live-translate-lab/internal/config"
	"github.com/live-translate-lab/internal/pipeline"
	"github.com/live-translate-lab/internal/speaker"
)

type stubExtractor struct {
	emb   speaker.Embedding
	err   error
	calls int
}

func (s *stubExtractor) Extract(ctx context.Context, wav []byte) (speaker.Embedding, error) {
	s.calls++
	return s.emb, s.err
}

func TestRegistryIdentifierSkipsExtractionWhenEmpty(t *testing.T) {
	reg, err := speaker.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	ex := &stubExtractor{err: errors.New("must not be called")}
	id := &registryIdentifier{registry: reg, extractor: ex}

	name, known, err := id.Identify(context.Background(), []byte("wav"))
	if err != nil || known || name != "" {
		t.Fatalf("Identify = %q, %v, %v", name, known, err)
	}
	if ex.calls != 0 {
		t.Fatal("extractor called against empty registry")
	}
}

func TestRegistryIdentifierMatches(t *testing.T) {
	reg, err := speaker.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	emb := speaker.Embedding{0.1, 0.9, 0.3}
	if _, err := reg.Enroll("Anna", false, emb); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	id := &registryIdentifier{registry: reg, extractor: &stubExtractor{emb: emb}}

	name, known, err := id.Identify(context.Background(), []byte("wav"))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !known || name != "Anna" {
		t.Fatalf("Identify = %q, %v", name, known)
	}
}

type stubSynth struct {
	text  string
	lang  string
	calls int
	err   error
}

func (s *stubSynth) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	s.calls++
	s.text, s.lang = text, language
	return []byte("RIFFreply"), s.err
}

type captivePlayer struct {
	played [][]byte
}

func (p *captivePlayer) PlayWAV(wav []byte) error {
	p.played = append(p.played, wav)
	return nil
}

func speakApp(synth *stubSynth, player Player) *App {
	return &App{
		cfg: &config.Config{
			TTSEnabled:     true,
			SourceLanguage: "hu",
			TargetLanguage: "en",
		},
		synth:  synth,
		player: player,
	}
}

func TestMaybeSpeakVoicesTargetLanguageSegments(t *testing.T) {
	synth := &stubSynth{}
	player := &captivePlayer{}
	a := speakApp(synth, player)

	a.maybeSpeak(context.Background(), "c1", []pipeline.MergedUtterance{
		{Language: "en", Translation: "szia"},
		{Language: "en", Translation: "hogy vagy", TranslationFailed: false},
		{Language: "en", TranslationFailed: true},
	})
	if synth.calls != 1 {
		t.Fatalf("synth calls = %d", synth.calls)
	}
	if synth.text != "szia hogy vagy" || synth.lang != "hu" {
		t.Fatalf("synthesized %q in %q", synth.text, synth.lang)
	}
	if len(player.played) != 1 {
		t.Fatalf("played %d replies", len(player.played))
	}
}

func TestMaybeSpeakIgnoresSourceLanguage(t *testing.T) {
	synth := &stubSynth{}
	a := speakApp(synth, &captivePlayer{})
	a.maybeSpeak(context.Background(), "c2", []pipeline.MergedUtterance{
		{Language: "hu", Translation: "hello"},
	})
	if synth.calls != 0 {
		t.Fatal("source-language segment should not be voiced")
	}
}

func TestMaybeSpeakRespectsDisable(t *testing.T) {
	synth := &stubSynth{}
	a := speakApp(synth, &captivePlayer{})
	a.cfg.TTSEnabled = false
	a.maybeSpeak(context.Background(), "c3", []pipeline.MergedUtterance{
		{Language: "en", Translation: "szia"},
	})
	if synth.calls != 0 {
		t.Fatal("TTS disabled but synthesizer called")
	}
}

type cancelAwareTranscriber struct {
	sawCanceled bool
}

func (c *cancelAwareTranscriber) Transcribe(ctx context.Context, wav []byte) (pipeline.Transcription, error) {
	if ctx.Err() != nil {
		c.sawCanceled = true
		return pipeline.Transcription{}, ctx.Err()
	}
	return pipeline.Transcription{
		Language: "hu",
		Duration: 1,
		Spans:    []pipeline.TranscriptionSpan{{Text: "szia", Start: 0, End: 1}},
	}, nil
}

type staticDiarizer struct{}

func (staticDiarizer) Diarize(ctx context.Context, wav []byte) ([]pipeline.DiarizationSpan, error) {
	return []pipeline.DiarizationSpan{{Start: 0, End: 1, Speaker: 0}}, nil
}

type echoTranslator struct{}

func (echoTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	return text, nil
}

type captiveSink struct {
	got []pipeline.MergedUtterance
}

func (s *captiveSink) Consume(correlationID string, utts []pipeline.MergedUtterance) {
	s.got = append(s.got, utts...)
}

func TestInFlightSegmentSurvivesShutdownCancel(t *testing.T) {
	tr := &cancelAwareTranscriber{}
	sink := &captiveSink{}
	a := &App{
		cfg: &config.Config{
			SourceLanguage: "hu",
			TargetLanguage: "en",
		},
		engine: pipeline.NewEngine(tr, staticDiarizer{}, echoTranslator{}, nil, "hu", "en"),
		sink:   sink,
		player: noopPlayer{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown already underway when the worker runs

	seg := audio.Segment{
		PCM:           make([]int16, 1024),
		SampleRate:    16000,
		Channels:      1,
		CorrelationID: "cancel-test",
	}
	a.processSegment(ctx, seg)

	if tr.sawCanceled {
		t.Fatal("backend call observed a canceled context; merges must run to completion")
	}
	if len(sink.got) != 1 || sink.got[0].Text != "szia" {
		t.Fatalf("sink received %+v", sink.got)
	}
}

func TestSavePlayerWritesReply(t *testing.T) {
	dir := t.TempDir()
	p := newPlayer(dir)
	if err := p.PlayWAV([]byte("RIFFdata")); err != nil {
		t.Fatalf("PlayWAV: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "reply-") {
		t.Fatalf("entries = %v", entries)
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil || string(raw) != "RIFFdata" {
		t.Fatalf("reply content = %q, %v", raw, err)
	}
}

func TestNewPlayerWithoutDirIsNoop(t *testing.T) {
	if _, ok := newPlayer("").(noopPlayer); !ok {
		t.Fatal("empty dir should select the noop player")
	}
}
