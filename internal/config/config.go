// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime settings for the assistant. Values come from
// environment variables with sensible defaults; main may pre-load a .env
// file before calling Load.
type Config struct {
	// Audio capture
	CaptureURL       string  // websocket endpoint streaming raw PCM frames
	SampleRate       int     // Hz
	Channels         int
	FrameSize        int     // samples per frame
	Gain             float64 // linear gain applied before level calculation
	SilenceThreshold float64 // normalized level below which a frame is silence
	VoiceTimeout     float64 // seconds of trailing silence that end a segment

	// Backend services
	WhisperURL     string
	WhisperAPIKey  string
	DiarizationURL string
	TranslationURL string
	TTSURL         string

	// Service timeouts, milliseconds
	TranscribeTimeoutMS int
	DiarizeTimeoutMS    int
	TranslateTimeoutMS  int
	TTSTimeoutMS        int

	// Languages
	SourceLanguage string
	TargetLanguage string

	// Speaker registry
	EmbeddingsDir string

	// Synthesis and output
	TTSEnabled   bool
	SaveAudioDir string // where synthesized WAVs are written; empty disables

	// Optional listeners; empty disables
	MetricsAddr    string
	SpeakerAPIAddr string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		CaptureURL:       envOrDefault("CAPTURE_WS_URL", "ws://localhost:8090/pcm"),
		SampleRate:       envInt("SAMPLE_RATE", 16000),
		Channels:         envInt("CHANNELS", 1),
		FrameSize:        envInt("FRAME_SIZE", 1024),
		Gain:             envFloat("GAIN", 1.0),
		SilenceThreshold: envFloat("SILENCE_THRESHOLD", 0.03),
		VoiceTimeout:     envFloat("VOICE_TIMEOUT_S", 2.0),

		WhisperURL:     envOrDefault("WHISPER_URL", "http://localhost:9000"),
		WhisperAPIKey:  os.Getenv("WHISPER_API_KEY"),
		DiarizationURL: envOrDefault("DIARIZATION_URL", "http://localhost:8001"),
		TranslationURL: envOrDefault("TRANSLATION_URL", "http://localhost:5000"),
		TTSURL:         envOrDefault("TTS_URL", "http://localhost:5002"),

		TranscribeTimeoutMS: envInt("TRANSCRIBE_TIMEOUT_MS", 60000),
		DiarizeTimeoutMS:    envInt("DIARIZE_TIMEOUT_MS", 120000),
		TranslateTimeoutMS:  envInt("TRANSLATE_TIMEOUT_MS", 30000),
		TTSTimeoutMS:        envInt("TTS_TIMEOUT_MS", 60000),

		SourceLanguage: envOrDefault("SOURCE_LANGUAGE", "hu"),
		TargetLanguage: envOrDefault("TARGET_LANGUAGE", "en"),

		EmbeddingsDir: envOrDefault("EMBEDDINGS_DIR", "embeddings"),

		TTSEnabled:   envBool("TTS_ENABLED", true),
		SaveAudioDir: os.Getenv("SAVE_AUDIO_DIR"),

		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		SpeakerAPIAddr: os.Getenv("SPEAKER_API_ADDR"),
	}
}

// Validate rejects configurations the capture state machine cannot run with.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid SAMPLE_RATE %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid CHANNELS %d", c.Channels)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("invalid FRAME_SIZE %d", c.FrameSize)
	}
	if c.VoiceTimeout <= 0 {
		return fmt.Errorf("invalid VOICE_TIMEOUT_S %g", c.VoiceTimeout)
	}
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("invalid SILENCE_THRESHOLD %g", c.SilenceThreshold)
	}
	if c.SourceLanguage == "" || c.TargetLanguage == "" {
		return fmt.Errorf("source and target languages must be set")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
