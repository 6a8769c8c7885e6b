package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAV wraps mono PCM16 in a RIFF/WAVE container. Speech APIs that take file
// uploads need the header; raw PCM is ambiguous without it.
func WAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

// ParseWAV extracts mono PCM16 and the sample rate from a RIFF/WAVE file.
// Stereo input is downmixed by averaging channels. Compressed formats and
// bit depths other than 16 are rejected.
func ParseWAV(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		haveFmt    bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, 0, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: fmt chunk too small")
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported WAV format %d, want PCM", format)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported bit depth %d, want 16", bits)
			}
			if channels != 1 && channels != 2 {
				return nil, 0, fmt.Errorf("audio: unsupported channel count %d", channels)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			pcm := data[body : body+size]
			if channels == 2 {
				pcm = downmixStereo(pcm)
			}
			if len(pcm) == 0 {
				return nil, 0, ErrEmptyAudio
			}
			return pcm, sampleRate, nil
		}

		// Chunks are word aligned.
		pos = body + size
		if size%2 != 0 {
			pos++
		}
	}
	return nil, 0, fmt.Errorf("audio: no data chunk")
}

// TrimWAVHeader returns the payload of the data chunk if data is a
// RIFF/WAVE container, regardless of the format code. Non-WAV input is
// returned unchanged. Synthesis APIs wrap raw MULAW and LINEAR16 output in
// a WAV header; the telephony stream wants the bare payload.
func TrimWAVHeader(data []byte) []byte {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data
	}

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return data
		}
		if id == "data" {
			return data[body : body+size]
		}
		pos = body + size
		if size%2 != 0 {
			pos++
		}
	}
	return data
}

func downmixStereo(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		m := int16((int(l) + int(r)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(m))
	}
	return out
}
