package audio

// PcmFrame is a fixed-size slice of little-endian signed 16-bit mono PCM,
// tagged with its monotonic index within a capture session.
type PcmFrame struct {
	Index int
	Data  []byte
}

// FrameAssembler re-slices a sequence of variable-sized device buffers into
// fixed-size PcmFrames of FrameBytes length. A small carry buffer absorbs the
// sub-frame remainder between successive Push calls; any partial carry is
// discarded on Reset, mirroring cancellation semantics (partial audio is not
// worth keeping without a following frame to complete it).
type FrameAssembler struct {
	frameBytes int
	carry      []byte
	nextIndex  int
}

// NewFrameAssembler builds an assembler that emits frames of frameBytes
// length. frameBytes must be positive; the caller (the segmenter's
// configuration) is responsible for deriving it from sample rate, channel
// count and frame duration.
func NewFrameAssembler(frameBytes int) *FrameAssembler {
	return &FrameAssembler{frameBytes: frameBytes}
}

// Push appends buf to the carry and returns every complete frame it now
// contains, in capture order. The function never blocks and never mutates
// the caller's slice.
func (a *FrameAssembler) Push(buf []byte) []PcmFrame {
	if len(buf) == 0 {
		return nil
	}
	a.carry = append(a.carry, buf...)

	var frames []PcmFrame
	for len(a.carry) >= a.frameBytes {
		data := make([]byte, a.frameBytes)
		copy(data, a.carry[:a.frameBytes])
		frames = append(frames, PcmFrame{Index: a.nextIndex, Data: data})
		a.nextIndex++
		a.carry = a.carry[a.frameBytes:]
	}
	return frames
}

// Reset discards any partial carry and resets the frame index. Called on
// session cancellation.
func (a *FrameAssembler) Reset() {
	a.carry = nil
	a.nextIndex = 0
}
