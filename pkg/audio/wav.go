package audio

import (
	"bytes"
	"encoding/binary"
)

// SilenceFrames returns count frames of frameBytes zero-filled bytes,
// concatenated. Used by the segmenter to append append_padding_ms of
// trailing silence before encoding an emitted segment.
func SilenceFrames(frameBytes, count int) []byte {
	if frameBytes <= 0 || count <= 0 {
		return nil
	}
	return make([]byte, frameBytes*count)
}

func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) 
	binary.Write(buf, binary.LittleEndian, uint16(2))            
	binary.Write(buf, binary.LittleEndian, uint16(16))           

	
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// wavHeaderLen is the fixed size of the header NewWavBuffer writes before
// the "data" chunk's payload (RIFF+WAVE+fmt +data headers, mono 16-bit PCM).
const wavHeaderLen = 44

// ExtractPCM returns the raw PCM payload of a WAV stream produced by
// NewWavBuffer. It returns nil if wav is shorter than the fixed header.
func ExtractPCM(wav []byte) []byte {
	if len(wav) <= wavHeaderLen {
		return nil
	}
	return wav[wavHeaderLen:]
}
