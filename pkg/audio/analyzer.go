package audio

import (
	"encoding/binary"
	"math"
)

// FrameFeatures are the per-frame measurements the segmenter's VAD decisions
// are built on. All three fields are non-negative and bounded to [0, 1] for
// a well-formed 16-bit PCM frame.
type FrameFeatures struct {
	RMS          float64
	ActiveRatio  float64
	PeakAbs      float64
}

// samplesToFloat converts a little-endian signed 16-bit PCM buffer into
// normalized float64 samples in [-1, 1]. Adapted from the sample-conversion
// step the teacher's echo suppressor used ahead of its correlation math; here
// it feeds pure RMS/active-ratio/peak measurement instead.
func samplesToFloat(frame []byte) []float64 {
	n := len(frame) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		out[i] = float64(s) / 32768.0
	}
	return out
}

// AnalyzeFrame computes rms, active_ratio and peak_abs for a PCM frame.
// An empty frame yields the zero value. The function is pure: it has no
// side effects and does not retain frame.
func AnalyzeFrame(frame []byte, activeSampleAbsThreshold float64) FrameFeatures {
	samples := samplesToFloat(frame)
	n := len(samples)
	if n == 0 {
		return FrameFeatures{}
	}

	var sumSquares float64
	var active int
	var peak float64
	for _, x := range samples {
		sumSquares += x * x
		abs := math.Abs(x)
		if abs > activeSampleAbsThreshold {
			active++
		}
		if abs > peak {
			peak = abs
		}
	}

	return FrameFeatures{
		RMS:         math.Sqrt(sumSquares / float64(n)),
		ActiveRatio: float64(active) / float64(n),
		PeakAbs:     peak,
	}
}

// RMS computes the root-mean-square of an arbitrary-length PCM buffer (not
// necessarily a single frame). Used by the transcriber's pre-ASR silence
// gate over a whole utterance.
func RMS(pcm []byte) float64 {
	samples := samplesToFloat(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, x := range samples {
		sumSquares += x * x
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
