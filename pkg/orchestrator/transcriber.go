package orchestrator

import (
	"context"
	"strings"

	"github.com/elara-ai/elara-core/pkg/audio"
	"github.com/elara-ai/elara-core/pkg/segmenter"
)

// Transcriber drains a channel of segmenter.AudioChunk, applies a pre-ASR
// RMS gate, and calls the ASR collaborator for anything above it. It is
// single-consumer; ASR calls are serialized by construction.
type Transcriber struct {
	stt                 SpeechToText
	silenceRMSThreshold float64
	minWords            int
	logger              Logger
}

func NewTranscriber(stt SpeechToText, silenceRMSThreshold float64, minWords int, logger Logger) *Transcriber {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if minWords < 1 {
		minWords = 1
	}
	return &Transcriber{
		stt:                 stt,
		silenceRMSThreshold: silenceRMSThreshold,
		minWords:            minWords,
		logger:              logger,
	}
}

// Transcribe implements the per-chunk sequence of spec.md §4.4: a pre-ASR
// RMS gate, an ASR call on anything above it, word-count classification,
// and a TranscriptionItem preserving the source sequence/timestamp. ASR
// failures are logged and the chunk is dropped rather than synthesizing a
// placeholder item.
func (t *Transcriber) Transcribe(ctx context.Context, chunk *segmenter.AudioChunk) (*TranscriptionItem, error) {
	pcm := audio.ExtractPCM(chunk.Wav)
	text := ""

	if audio.RMS(pcm) >= t.silenceRMSThreshold {
		if t.stt == nil {
			return nil, ErrNilProvider
		}
		result, err := t.stt.Transcribe(ctx, chunk.Wav)
		if err != nil {
			t.logger.Warn("transcription failed", "sequence", chunk.Sequence, "error", err)
			return nil, nil
		}
		text = result
	}

	wordCount := len(strings.Fields(text))
	return &TranscriptionItem{
		Sequence:     chunk.Sequence,
		TimestampUtc: chunk.TimestampUtc,
		Text:         text,
		IsMeaningful: strings.TrimSpace(text) != "" && wordCount >= t.minWords,
		WordCount:    wordCount,
	}, nil
}

// Run drains chunks until ctx is cancelled or chunks closes, sending each
// resulting TranscriptionItem to out. Chunks that fail transcription are
// dropped without further logging here (Transcribe logs ASR failures; a
// nil-provider error is dropped unlogged); out is never closed by
// Run, matching the channel ownership rules in spec.md §4.9.
func (t *Transcriber) Run(ctx context.Context, chunks <-chan *segmenter.AudioChunk, out chan<- *TranscriptionItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			item, err := t.Transcribe(ctx, chunk)
			if err != nil || item == nil {
				continue
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}
