package elog

import (
	"log/slog"
	"testing"

	"github.com/elara-ai/elara-core/pkg/segmenter"
)

func TestSegmenterMetricsSinkSatisfiesInterface(t *testing.T) {
	var _ segmenter.MetricsSink = NewSegmenterMetricsSink(New(slog.LevelDebug))
}

func TestSegmenterMetricsSinkMethodsDoNotPanic(t *testing.T) {
	sink := NewSegmenterMetricsSink(New(slog.LevelDebug))
	sink.EmitState(segmenter.StateMetrics{State: "silence", AvgRMS: 0.01})
	sink.EmitSegment(segmenter.SegmentMetrics{Sequence: 1, DurationMs: 500, FrameCount: 25, Reason: "vad"})
}
