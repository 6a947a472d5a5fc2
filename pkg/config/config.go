// Package config loads the host-facing configuration surface of spec.md §6
// from YAML. Grounded on doismellburning-samoyed/src/config.go's
// apply-defaults-then-override pattern and MrWong99-glyphoxa's
// Load/LoadFromReader/Validate triad with slog warnings on suspicious
// values. The orchestrator core never reads a file itself; only the host
// entrypoint (cmd/agent) depends on this package.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/elara-ai/elara-core/pkg/orchestrator"
)

// Load reads the YAML configuration file at path, layering it over
// orchestrator.DefaultConfig(), and validates the result. An empty path
// returns the defaults unchanged.
func Load(path string) (orchestrator.Config, error) {
	cfg := orchestrator.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if err := LoadFromReader(f, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r into cfg, which should already hold
// defaults: only fields present in the document are overwritten. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader, cfg *orchestrator.Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found.
func Validate(cfg orchestrator.Config) error {
	var errs []error

	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", cfg.Channels))
	}
	if cfg.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("frame_ms must be positive, got %d", cfg.FrameMs))
	}
	if cfg.EnterConsecutive < 1 {
		errs = append(errs, fmt.Errorf("enter_consecutive must be at least 1, got %d", cfg.EnterConsecutive))
	}
	if cfg.ExitConsecutive < 1 {
		errs = append(errs, fmt.Errorf("exit_consecutive must be at least 1, got %d", cfg.ExitConsecutive))
	}
	if cfg.MinSegmentMs > 0 && cfg.MaxSegmentMs > 0 && cfg.MinSegmentMs > cfg.MaxSegmentMs {
		errs = append(errs, fmt.Errorf("min_segment_ms (%d) must not exceed max_segment_ms (%d)", cfg.MinSegmentMs, cfg.MaxSegmentMs))
	}
	if cfg.ProcessingSilenceSeconds <= 0 {
		errs = append(errs, fmt.Errorf("processing_silence_seconds must be positive, got %g", cfg.ProcessingSilenceSeconds))
	}
	if cfg.EndSilenceSeconds <= 0 {
		errs = append(errs, fmt.Errorf("end_silence_seconds must be positive, got %g", cfg.EndSilenceSeconds))
	}
	if cfg.ProcessingSilenceSeconds > cfg.EndSilenceSeconds {
		errs = append(errs, fmt.Errorf("processing_silence_seconds (%g) must not exceed end_silence_seconds (%g)", cfg.ProcessingSilenceSeconds, cfg.EndSilenceSeconds))
	}
	if cfg.AudioQueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("audio_queue_capacity must be at least 1, got %d", cfg.AudioQueueCapacity))
	}
	if cfg.TranscriptionQueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("transcription_queue_capacity must be at least 1, got %d", cfg.TranscriptionQueueCapacity))
	}
	if cfg.TickerIntervalMs < 1 {
		errs = append(errs, fmt.Errorf("ticker_interval_ms must be at least 1, got %d", cfg.TickerIntervalMs))
	}
	if cfg.LastN < 1 {
		errs = append(errs, fmt.Errorf("last_n must be at least 1, got %d", cfg.LastN))
	}
	if cfg.MinWords < 1 {
		errs = append(errs, fmt.Errorf("min_words must be at least 1, got %d", cfg.MinWords))
	}
	if cfg.TailGraceMs < 0 {
		errs = append(errs, fmt.Errorf("tail_grace_ms must not be negative, got %d", cfg.TailGraceMs))
	}

	if cfg.EncryptionKey == "replace-me-before-deployment" {
		slog.Warn("encryption_key is still the placeholder default; conversation history will not be meaningfully protected")
	}
	if cfg.WakeWord == "" {
		slog.Warn("wake_word is empty; any meaningful utterance moves Quiescent straight to Listening")
	}

	return errors.Join(errs...)
}
