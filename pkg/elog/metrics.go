package elog

import "github.com/elara-ai/elara-core/pkg/segmenter"

// SegmenterMetricsSink logs segmenter.StateMetrics and segmenter.SegmentMetrics
// as structured log lines, grounded on the plain slog.Info(msg, key, val...)
// calls used for generation/pipeline progress elsewhere in the retrieval pack
// (e.g. CWBudde-go-pocket-tts's onnx generate step). Both methods are cheap
// map-free slog calls and never block, satisfying segmenter.MetricsSink.
type SegmenterMetricsSink struct {
	logger *Logger
}

// NewSegmenterMetricsSink wraps logger as a segmenter.MetricsSink.
func NewSegmenterMetricsSink(logger *Logger) *SegmenterMetricsSink {
	return &SegmenterMetricsSink{logger: logger}
}

func (s *SegmenterMetricsSink) EmitState(m segmenter.StateMetrics) {
	s.logger.Debug("segmenter state",
		"state", m.State,
		"avg_rms", m.AvgRMS,
		"avg_active_ratio", m.AvgActiveRatio,
		"noise_floor_rms", m.NoiseFloorRMS,
		"enter_rms_eff", m.EnterRMSEff,
		"exit_rms_eff", m.ExitRMSEff,
	)
}

func (s *SegmenterMetricsSink) EmitSegment(m segmenter.SegmentMetrics) {
	s.logger.Info("segment emitted",
		"sequence", m.Sequence,
		"duration_ms", m.DurationMs,
		"frame_count", m.FrameCount,
		"reason", m.Reason,
	)
}
