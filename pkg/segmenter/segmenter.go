// Package segmenter implements the frame-driven VAD state machine that
// turns a stream of fixed-size PCM frames into WAV-encoded speech segments,
// with pre/post padding, hysteresis, an adaptive noise floor, and a
// burst-mode path for short utterances.
package segmenter

import (
	"math"
	"time"

	"github.com/elara-ai/elara-core/pkg/audio"
)

// Clock supplies the current time; segmenter state transitions are
// frame-driven, but emitted chunks are timestamped against this clock.
type Clock interface {
	NowUTC() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) NowUTC() time.Time { return time.Now().UTC() }

// AudioChunk is a self-contained WAV-encoded speech segment handed off to
// the transcriber. Sequence is strictly increasing per Segmenter instance.
type AudioChunk struct {
	Sequence     uint64
	TimestampUtc time.Time
	DurationMs   int
	Wav          []byte
}

// StateMetrics is the periodic side-channel line emitted when metrics are
// enabled; never on the critical path.
type StateMetrics struct {
	State          string
	AvgRMS         float64
	AvgActiveRatio float64
	NoiseFloorRMS  float64
	EnterRMSEff    float64
	ExitRMSEff     float64
}

// SegmentMetrics is the per-emitted-segment metrics line.
type SegmentMetrics struct {
	Sequence   uint64
	DurationMs int
	FrameCount int
	Reason     string
}

// MetricsSink receives the segmenter's side-channel metrics. Both methods
// must not block; a slow sink should buffer internally.
type MetricsSink interface {
	EmitState(StateMetrics)
	EmitSegment(SegmentMetrics)
}

type state int

const (
	stateSilence state = iota
	stateSpeech
)

// Segmenter is the VAD state machine described by spec.md §4.3. It is not
// safe for concurrent use — one goroutine drives ProcessFrame.
type Segmenter struct {
	cfg    Config
	clock  Clock
	sink   MetricsSink

	st state

	preRing  [][]byte
	preIdx   int
	preCount int

	noiseFloorRMS float64

	enterConsecutive int
	exitConsecutive  int
	quietBurst       int

	segment         [][]byte
	segmentIsBurst  bool
	holdFramesLeft  int

	sequence uint64

	rmsAccum, activeAccum float64
	accumCount            int
	lastMetricsEmit       time.Time
}

// New builds a Segmenter. A nil clock defaults to RealClock; a nil sink
// disables metrics regardless of cfg.EnableMetrics.
func New(cfg Config, clock Clock, sink MetricsSink) *Segmenter {
	if clock == nil {
		clock = RealClock{}
	}
	preFrames := cfg.PreRollFrames()
	return &Segmenter{
		cfg:     cfg,
		clock:   clock,
		sink:    sink,
		st:      stateSilence,
		preRing: make([][]byte, preFrames),
	}
}

func clampAlpha(alpha float64) float64 {
	if alpha < 0.0001 {
		return 0.0001
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ProcessFrame feeds one fixed-size PCM frame through the state machine.
// It returns a non-nil chunk exactly when a segment is emitted this frame.
func (s *Segmenter) ProcessFrame(frame []byte) *AudioChunk {
	if len(frame) != s.cfg.FrameBytes() {
		return nil
	}

	features := audio.AnalyzeFrame(frame, s.cfg.ActiveSampleAbsThreshold)
	s.accumulateMetrics(features)

	switch s.st {
	case stateSilence:
		return s.processSilenceFrame(frame, features)
	default:
		return s.processSpeechFrame(frame, features)
	}
}

func (s *Segmenter) enterThresholds() (enterRMS, exitRMS float64) {
	enterRMS, exitRMS = s.cfg.EnterRMS, s.cfg.ExitRMS
	if s.cfg.UseAdaptiveThresholds {
		enterRMS = math.Max(s.cfg.EnterRMS, s.noiseFloorRMS*s.cfg.NoiseFloorEnterMultiplier)
		exitRMS = math.Max(s.cfg.ExitRMS, s.noiseFloorRMS*s.cfg.NoiseFloorExitMultiplier)
	}
	return enterRMS, exitRMS
}

func (s *Segmenter) processSilenceFrame(frame []byte, features audio.FrameFeatures) *AudioChunk {
	if s.cfg.UseAdaptiveThresholds {
		alpha := clampAlpha(s.cfg.NoiseFloorAlpha)
		s.noiseFloorRMS = (1-alpha)*s.noiseFloorRMS + alpha*features.RMS
	}

	enterRMSEff, _ := s.enterThresholds()

	burstTriggered := false
	if s.cfg.burstModeEnabled() {
		if s.cfg.BurstEnterRMS > 0 && features.RMS >= s.cfg.BurstEnterRMS {
			burstTriggered = true
		}
		if s.cfg.BurstPeakAbsThreshold > 0 && features.PeakAbs >= s.cfg.BurstPeakAbsThreshold {
			burstTriggered = true
		}
	}

	if features.RMS >= enterRMSEff || features.ActiveRatio >= s.cfg.EnterActiveRatio {
		s.enterConsecutive++
	} else {
		s.enterConsecutive = 0
	}
	classicalTriggered := s.cfg.EnterConsecutive > 0 && s.enterConsecutive >= s.cfg.EnterConsecutive

	if !burstTriggered && !classicalTriggered {
		s.pushPreRoll(frame)
		return nil
	}

	s.segment = append(s.copyPreRoll(), cloneFrame(frame))
	s.segmentIsBurst = burstTriggered
	if burstTriggered {
		s.holdFramesLeft = s.cfg.BurstWindowMs / maxInt(s.cfg.FrameMs, 1)
	} else {
		s.holdFramesLeft = 0
	}
	s.exitConsecutive = 0
	s.quietBurst = 0
	s.st = stateSpeech
	s.clearPreRoll()
	return nil
}

func (s *Segmenter) processSpeechFrame(frame []byte, features audio.FrameFeatures) *AudioChunk {
	s.segment = append(s.segment, cloneFrame(frame))
	durationMs := len(s.segment) * s.cfg.FrameMs

	if durationMs >= s.cfg.MaxSegmentMs {
		return s.emit("max", durationMs, true)
	}

	if s.segmentIsBurst && s.holdFramesLeft > 0 {
		s.holdFramesLeft--
		return nil
	}

	_, exitRMSEff := s.enterThresholds()
	quiet := features.RMS <= exitRMSEff && features.ActiveRatio <= s.cfg.ExitActiveRatio
	if quiet {
		s.exitConsecutive++
	} else {
		s.exitConsecutive = 0
	}
	classicalExit := s.cfg.ExitConsecutive > 0 && s.exitConsecutive >= s.cfg.ExitConsecutive

	burstExit := false
	if s.segmentIsBurst {
		if quiet {
			s.quietBurst++
		} else {
			s.quietBurst = 0
		}
		minDur := maxInt(s.cfg.BurstMinSegmentMs, s.cfg.MinSegmentMs)
		burstExit = s.cfg.BurstQuietConsecutive > 0 && s.quietBurst >= s.cfg.BurstQuietConsecutive && durationMs >= minDur
	}

	if classicalExit {
		return s.emit("vad", durationMs, durationMs >= s.cfg.MinSegmentMs)
	}
	if burstExit {
		return s.emit("burst", durationMs, true)
	}
	return nil
}

// emit encodes and returns the accumulated segment if allow is true,
// regardless resetting state back to Silence.
func (s *Segmenter) emit(reason string, durationMs int, allow bool) *AudioChunk {
	frames := s.segment
	frameCount := len(frames)
	s.resetToSilence()

	if !allow {
		return nil
	}

	pcm := make([]byte, 0, s.cfg.FrameBytes()*(frameCount+s.cfg.PostRollFrames()))
	for _, f := range frames {
		pcm = append(pcm, f...)
	}
	pcm = append(pcm, audio.SilenceFrames(s.cfg.FrameBytes(), s.cfg.PostRollFrames())...)

	s.sequence++
	chunk := &AudioChunk{
		Sequence:     s.sequence,
		TimestampUtc: s.clock.NowUTC(),
		DurationMs:   durationMs,
		Wav:          audio.NewWavBuffer(pcm, s.cfg.SampleRate),
	}

	if s.cfg.EnableMetrics && s.sink != nil {
		s.sink.EmitSegment(SegmentMetrics{
			Sequence:   chunk.Sequence,
			DurationMs: durationMs,
			FrameCount: frameCount,
			Reason:     reason,
		})
	}
	return chunk
}

func (s *Segmenter) resetToSilence() {
	s.st = stateSilence
	s.segment = nil
	s.segmentIsBurst = false
	s.holdFramesLeft = 0
	s.enterConsecutive = 0
	s.exitConsecutive = 0
	s.quietBurst = 0
	s.clearPreRoll()
}

func (s *Segmenter) pushPreRoll(frame []byte) {
	if len(s.preRing) == 0 {
		return
	}
	s.preRing[s.preIdx] = cloneFrame(frame)
	s.preIdx = (s.preIdx + 1) % len(s.preRing)
	if s.preCount < len(s.preRing) {
		s.preCount++
	}
}

func (s *Segmenter) clearPreRoll() {
	s.preIdx = 0
	s.preCount = 0
}

// copyPreRoll returns the ring's contents in chronological (oldest-first) order.
func (s *Segmenter) copyPreRoll() [][]byte {
	if s.preCount == 0 {
		return nil
	}
	out := make([][]byte, 0, s.preCount)
	start := (s.preIdx - s.preCount + len(s.preRing)) % len(s.preRing)
	for i := 0; i < s.preCount; i++ {
		out = append(out, s.preRing[(start+i)%len(s.preRing)])
	}
	return out
}

func cloneFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}

func (s *Segmenter) accumulateMetrics(features audio.FrameFeatures) {
	if !s.cfg.EnableMetrics || s.sink == nil {
		return
	}
	s.rmsAccum += features.RMS
	s.activeAccum += features.ActiveRatio
	s.accumCount++

	now := s.clock.NowUTC()
	if s.lastMetricsEmit.IsZero() {
		s.lastMetricsEmit = now
		return
	}
	interval := time.Duration(s.cfg.MetricsIntervalMs) * time.Millisecond
	if now.Sub(s.lastMetricsEmit) < interval || s.accumCount == 0 {
		return
	}

	enterRMSEff, exitRMSEff := s.enterThresholds()
	stateName := "silence"
	if s.st == stateSpeech {
		stateName = "speech"
	}
	s.sink.EmitState(StateMetrics{
		State:          stateName,
		AvgRMS:         s.rmsAccum / float64(s.accumCount),
		AvgActiveRatio: s.activeAccum / float64(s.accumCount),
		NoiseFloorRMS:  s.noiseFloorRMS,
		EnterRMSEff:    enterRMSEff,
		ExitRMSEff:     exitRMSEff,
	})
	s.rmsAccum, s.activeAccum, s.accumCount = 0, 0, 0
	s.lastMetricsEmit = now
}

// NoiseFloorRMS exposes the current adaptive noise floor for tests/metrics.
func (s *Segmenter) NoiseFloorRMS() float64 { return s.noiseFloorRMS }
