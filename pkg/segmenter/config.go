package segmenter

// Config holds the Segmenter's full parameter surface (spec defaults shown
// in DefaultConfig). It has no dependency on any host configuration format;
// the host is responsible for populating it from wherever it loads settings.
type Config struct {
	SampleRate int
	Channels   int
	FrameMs    int

	EnterRMS         float64
	EnterActiveRatio float64
	EnterConsecutive int

	ExitRMS         float64
	ExitActiveRatio float64
	ExitConsecutive int

	PrependPaddingMs int
	AppendPaddingMs  int

	MinSegmentMs int
	MaxSegmentMs int

	ActiveSampleAbsThreshold float64

	BurstEnterRMS         float64
	BurstPeakAbsThreshold float64
	BurstWindowMs         int
	BurstMinSegmentMs     int
	BurstQuietConsecutive int

	UseAdaptiveThresholds     bool
	NoiseFloorAlpha           float64
	NoiseFloorEnterMultiplier float64
	NoiseFloorExitMultiplier  float64

	EnableMetrics     bool
	MetricsIntervalMs int
}

// FrameBytes returns the fixed PcmFrame size in bytes for this config.
func (c Config) FrameBytes() int {
	return c.FrameMs * c.SampleRate * c.Channels * 2 / 1000
}

// PreRollFrames returns how many frames the pre-roll ring buffer holds.
func (c Config) PreRollFrames() int {
	if c.FrameMs <= 0 {
		return 0
	}
	n := c.PrependPaddingMs / c.FrameMs
	if n < 1 {
		n = 1
	}
	return n
}

// PostRollFrames returns how many silence frames to append after emission.
func (c Config) PostRollFrames() int {
	if c.FrameMs <= 0 {
		return 0
	}
	return c.AppendPaddingMs / c.FrameMs
}

func (c Config) burstModeEnabled() bool {
	return c.BurstEnterRMS > 0 || c.BurstPeakAbsThreshold > 0
}

// DefaultConfig mirrors the design defaults of spec.md §6's Segmenter section.
func DefaultConfig() Config {
	return Config{
		SampleRate:                16000,
		Channels:                  1,
		FrameMs:                   20,
		EnterRMS:                  0.03,
		EnterActiveRatio:          0.3,
		EnterConsecutive:          3,
		ExitRMS:                   0.02,
		ExitActiveRatio:           0.2,
		ExitConsecutive:           10,
		PrependPaddingMs:          300,
		AppendPaddingMs:           300,
		MinSegmentMs:              250,
		MaxSegmentMs:              15000,
		ActiveSampleAbsThreshold:  0.02,
		BurstWindowMs:             600,
		BurstMinSegmentMs:         150,
		BurstQuietConsecutive:     5,
		UseAdaptiveThresholds:     true,
		NoiseFloorAlpha:           0.05,
		NoiseFloorEnterMultiplier: 2.5,
		NoiseFloorExitMultiplier:  1.5,
	}
}
