// Package orchestrator implements the real-time audio pipeline core: the
// conversation finite-state machine, the feedback-suppression window, the
// transcriber, and the bounded channel plumbing that connects them. The ASR,
// LLM and TTS backends are external collaborators, represented here only by
// the narrow interfaces a host must satisfy.
package orchestrator

import (
	"context"
	"time"

	"github.com/elara-ai/elara-core/pkg/segmenter"
)

// Logger is the narrow structured-logging capability every component in
// this package accepts. A real implementation lives in pkg/elog; NoOpLogger
// is the zero-value default so components never need a nil check.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards every log line. It is the default when a caller does
// not supply a Logger.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Clock supplies the current time. Production code uses RealClock; tests
// inject a fake so FSM timer behavior is deterministic.
type Clock interface {
	NowUTC() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) NowUTC() time.Time { return time.Now().UTC() }

// Role identifies who authored a ChatMessage.
type Role string

const (
	RoleUser      Role = "User"
	RoleAssistant Role = "Assistant"
	RoleSystem    Role = "System"
)

// ChatMessage is one immutable turn in a conversation, persisted by
// ConversationStore and round-tripped through ContextProvider.
type ChatMessage struct {
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	TimestampUtc time.Time        `json:"timestampUtc"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TranscriptionItem is emitted by the Transcriber for each drained
// AudioChunk, preserving the source chunk's sequence and timestamp.
type TranscriptionItem struct {
	Sequence     uint64
	TimestampUtc time.Time
	Text         string
	IsMeaningful bool
	WordCount    int
}

// PromptMessage is the minimal (role, content) pair the LLM collaborator
// receives as conversation context.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StructuredPrompt is handed to the LanguageModel collaborator for a single
// turn: a system prompt, prior context, the current user message, the
// request time, and optional free-form hints.
type StructuredPrompt struct {
	SystemPrompt string                 `json:"systemPrompt"`
	Context      []PromptMessage        `json:"context"`
	User         PromptMessage          `json:"user"`
	NowUtc       time.Time              `json:"nowUtc"`
	Hints        map[string]interface{} `json:"hints,omitempty"`
}

// SpeechToText transcribes a self-contained WAV byte stream to text.
// Implementations initialize lazily and at most once; a missing model file
// is a fatal error the host should surface at startup, not retry.
type SpeechToText interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Name() string
}

// LanguageModel answers a structured prompt with a reply.
type LanguageModel interface {
	GetResponse(ctx context.Context, prompt StructuredPrompt) (string, error)
	Name() string
}

// TextToSpeech speaks text aloud, blocking until playback completes. A
// no-op implementation is valid on platforms without audio output.
type TextToSpeech interface {
	SpeakDefault(ctx context.Context, text string) error
	Name() string
}

// ContextProvider returns the last n ChatMessages relevant to prompt. The
// default implementation is backed by a ConversationStore tail read.
type ContextProvider interface {
	GetContext(ctx context.Context, prompt string, n int) ([]ChatMessage, error)
}

// AudioSource produces a sequence of raw capture buffers at a fixed sample
// rate, channel count, and 16-bit little-endian PCM format, honoring
// cancellation via ctx.
type AudioSource interface {
	Frames(ctx context.Context) (<-chan []byte, error)
}

// Config is the recognized configuration surface (spec.md §6). A host loads
// this from YAML via pkg/config; the core itself never reads a file.
type Config struct {
	// Segmenter
	SampleRate               int     `yaml:"sample_rate"`
	Channels                 int     `yaml:"channels"`
	FrameMs                  int     `yaml:"frame_ms"`
	EnterRMS                 float64 `yaml:"enter_rms"`
	EnterActiveRatio         float64 `yaml:"enter_active_ratio"`
	ExitRMS                  float64 `yaml:"exit_rms"`
	ExitActiveRatio          float64 `yaml:"exit_active_ratio"`
	EnterConsecutive         int     `yaml:"enter_consecutive"`
	ExitConsecutive          int     `yaml:"exit_consecutive"`
	PrependPaddingMs         int     `yaml:"prepend_padding_ms"`
	AppendPaddingMs          int     `yaml:"append_padding_ms"`
	MinSegmentMs             int     `yaml:"min_segment_ms"`
	MaxSegmentMs             int     `yaml:"max_segment_ms"`
	ActiveSampleAbsThreshold float64 `yaml:"active_sample_abs_threshold"`
	BurstEnterRMS            float64 `yaml:"burst_enter_rms"`
	BurstPeakAbsThreshold    float64 `yaml:"burst_peak_abs_threshold"`
	BurstWindowMs            int     `yaml:"burst_window_ms"`
	BurstMinSegmentMs        int     `yaml:"burst_min_segment_ms"`
	BurstQuietConsecutive    int     `yaml:"burst_quiet_consecutive"`
	UseAdaptiveThresholds    bool    `yaml:"use_adaptive_thresholds"`
	NoiseFloorAlpha          float64 `yaml:"noise_floor_alpha"`
	NoiseFloorEnterMultiplier float64 `yaml:"noise_floor_enter_multiplier"`
	NoiseFloorExitMultiplier float64 `yaml:"noise_floor_exit_multiplier"`
	EnableMetrics            bool    `yaml:"enable_metrics"`
	MetricsIntervalMs        int     `yaml:"metrics_interval_ms"`

	// Host
	WakeWord                string `yaml:"wake_word"`
	ProcessingSilenceSeconds float64 `yaml:"processing_silence_seconds"`
	EndSilenceSeconds       float64 `yaml:"end_silence_seconds"`
	AudioQueueCapacity      int    `yaml:"audio_queue_capacity"`
	TranscriptionQueueCapacity int `yaml:"transcription_queue_capacity"`
	TickerIntervalMs        int    `yaml:"ticker_interval_ms"`

	// Context / store
	LastN          int    `yaml:"last_n"`
	StorageRoot    string `yaml:"storage_root"`
	EncryptionKey  string `yaml:"encryption_key"`

	// Stt
	SilenceRMSThreshold float64 `yaml:"silence_rms_threshold"`
	MinWords            int     `yaml:"min_words"`

	// Suppression
	TailGraceMs int `yaml:"tail_grace_ms"`
}

// DefaultConfig returns the design defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		SampleRate:               16000,
		Channels:                 1,
		FrameMs:                  20,
		EnterRMS:                 0.03,
		EnterActiveRatio:         0.3,
		ExitRMS:                  0.02,
		ExitActiveRatio:          0.2,
		EnterConsecutive:         3,
		ExitConsecutive:          10,
		PrependPaddingMs:         300,
		AppendPaddingMs:          300,
		MinSegmentMs:             250,
		MaxSegmentMs:             15000,
		ActiveSampleAbsThreshold: 0.02,
		BurstEnterRMS:            0,
		BurstPeakAbsThreshold:    0,
		BurstWindowMs:            600,
		BurstMinSegmentMs:        150,
		BurstQuietConsecutive:    5,
		UseAdaptiveThresholds:    true,
		NoiseFloorAlpha:          0.05,
		NoiseFloorEnterMultiplier: 2.5,
		NoiseFloorExitMultiplier: 1.5,
		EnableMetrics:            false,
		MetricsIntervalMs:        1000,

		WakeWord:                   "",
		ProcessingSilenceSeconds:   8,
		EndSilenceSeconds:          60,
		AudioQueueCapacity:         16,
		TranscriptionQueueCapacity: 64,
		TickerIntervalMs:           200,

		LastN:         6,
		StorageRoot:   "",
		EncryptionKey: "replace-me-before-deployment",

		SilenceRMSThreshold: 0.015,
		MinWords:            1,

		TailGraceMs: 300,
	}
}

// FrameBytes returns the fixed PcmFrame size in bytes for this config.
func (c Config) FrameBytes() int {
	return c.FrameMs * c.SampleRate * c.Channels * 2 / 1000
}

// SegmenterConfig projects the segmenter-relevant subset of Config into a
// segmenter.Config value.
func (c Config) SegmenterConfig() segmenter.Config {
	return segmenter.Config{
		SampleRate:                c.SampleRate,
		Channels:                  c.Channels,
		FrameMs:                   c.FrameMs,
		EnterRMS:                  c.EnterRMS,
		EnterActiveRatio:          c.EnterActiveRatio,
		EnterConsecutive:          c.EnterConsecutive,
		ExitRMS:                   c.ExitRMS,
		ExitActiveRatio:           c.ExitActiveRatio,
		ExitConsecutive:           c.ExitConsecutive,
		PrependPaddingMs:          c.PrependPaddingMs,
		AppendPaddingMs:           c.AppendPaddingMs,
		MinSegmentMs:              c.MinSegmentMs,
		MaxSegmentMs:              c.MaxSegmentMs,
		ActiveSampleAbsThreshold:  c.ActiveSampleAbsThreshold,
		BurstEnterRMS:             c.BurstEnterRMS,
		BurstPeakAbsThreshold:     c.BurstPeakAbsThreshold,
		BurstWindowMs:             c.BurstWindowMs,
		BurstMinSegmentMs:         c.BurstMinSegmentMs,
		BurstQuietConsecutive:     c.BurstQuietConsecutive,
		UseAdaptiveThresholds:     c.UseAdaptiveThresholds,
		NoiseFloorAlpha:           c.NoiseFloorAlpha,
		NoiseFloorEnterMultiplier: c.NoiseFloorEnterMultiplier,
		NoiseFloorExitMultiplier:  c.NoiseFloorExitMultiplier,
		EnableMetrics:             c.EnableMetrics,
		MetricsIntervalMs:         c.MetricsIntervalMs,
	}
}
