package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elara-ai/elara-core/pkg/audio"
	"github.com/elara-ai/elara-core/pkg/segmenter"
)

type fakeSTT struct {
	text string
	err  error
	n    int
}

func (f *fakeSTT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f.n++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func loudChunk(seq uint64) *segmenter.AudioChunk {
	pcm := make([]byte, 640)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x60
	}
	return &segmenter.AudioChunk{
		Sequence:     seq,
		TimestampUtc: time.Unix(1000, 0).UTC(),
		DurationMs:   20,
		Wav:          audio.NewWavBuffer(pcm, 16000),
	}
}

func quietChunk(seq uint64) *segmenter.AudioChunk {
	pcm := make([]byte, 640)
	return &segmenter.AudioChunk{
		Sequence:     seq,
		TimestampUtc: time.Unix(2000, 0).UTC(),
		DurationMs:   20,
		Wav:          audio.NewWavBuffer(pcm, 16000),
	}
}

func TestTranscribeBypassesAsrBelowSilenceThreshold(t *testing.T) {
	stt := &fakeSTT{text: "should not be called"}
	tr := NewTranscriber(stt, 0.015, 1, nil)

	item, err := tr.Transcribe(context.Background(), quietChunk(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stt.n != 0 {
		t.Fatalf("expected ASR not called, got %d calls", stt.n)
	}
	if item.Text != "" {
		t.Fatalf("expected empty text, got %q", item.Text)
	}
	if item.IsMeaningful {
		t.Fatalf("expected not meaningful")
	}
	if item.Sequence != 1 {
		t.Fatalf("expected sequence preserved, got %d", item.Sequence)
	}
}

func TestTranscribeCallsAsrAboveSilenceThreshold(t *testing.T) {
	stt := &fakeSTT{text: "turn on the lights"}
	tr := NewTranscriber(stt, 0.015, 1, nil)

	chunk := loudChunk(7)
	item, err := tr.Transcribe(context.Background(), chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stt.n != 1 {
		t.Fatalf("expected ASR called once, got %d", stt.n)
	}
	if item.Text != "turn on the lights" {
		t.Fatalf("unexpected text: %q", item.Text)
	}
	if item.WordCount != 4 {
		t.Fatalf("expected word count 4, got %d", item.WordCount)
	}
	if !item.IsMeaningful {
		t.Fatalf("expected meaningful")
	}
	if item.Sequence != 7 || !item.TimestampUtc.Equal(chunk.TimestampUtc) {
		t.Fatalf("expected sequence/timestamp preserved")
	}
}

func TestTranscribeRespectsMinWords(t *testing.T) {
	stt := &fakeSTT{text: "hi"}
	tr := NewTranscriber(stt, 0.015, 2, nil)

	item, err := tr.Transcribe(context.Background(), loudChunk(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.IsMeaningful {
		t.Fatalf("expected not meaningful below min_words")
	}
}

func TestTranscribeAsrFailureDropsChunk(t *testing.T) {
	stt := &fakeSTT{err: errors.New("upstream unavailable")}
	tr := NewTranscriber(stt, 0.015, 1, nil)

	item, err := tr.Transcribe(context.Background(), loudChunk(3))
	if err != nil {
		t.Fatalf("expected no error surfaced, got %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item on ASR failure, got %+v", item)
	}
}

func TestTranscribeNilProviderAboveThreshold(t *testing.T) {
	tr := NewTranscriber(nil, 0.015, 1, nil)

	_, err := tr.Transcribe(context.Background(), loudChunk(1))
	if !errors.Is(err, ErrNilProvider) {
		t.Fatalf("expected ErrNilProvider, got %v", err)
	}
}

func TestRunDrainsChunksAndForwardsItems(t *testing.T) {
	stt := &fakeSTT{text: "hello there"}
	tr := NewTranscriber(stt, 0.015, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan *segmenter.AudioChunk, 2)
	out := make(chan *TranscriptionItem, 2)

	chunks <- loudChunk(1)
	chunks <- quietChunk(2)
	close(chunks)

	done := make(chan struct{})
	go func() {
		tr.Run(ctx, chunks, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel closed")
	}
	cancel()

	close(out)
	var items []*TranscriptionItem
	for item := range out {
		items = append(items, item)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Sequence != 1 || items[1].Sequence != 2 {
		t.Fatalf("expected items in order, got %+v", items)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	stt := &fakeSTT{text: "hello"}
	tr := NewTranscriber(stt, 0.015, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan *segmenter.AudioChunk)
	out := make(chan *TranscriptionItem)

	done := make(chan struct{})
	go func() {
		tr.Run(ctx, chunks, out)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
