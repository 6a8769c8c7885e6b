// Package audio implements the telephony audio path: G.711 μ-law companding,
// mono PCM16 resampling, and fixed-duration outbound framing.
//
// Telephony links carry 8kHz μ-law in 20ms frames (160 bytes). Speech
// services want linear PCM16. All conversions here are pure functions with no
// shared state; the μ-law tables are the conventional G.711 ones, not
// approximations.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Telephony stream parameters.
const (
	// TelephonyRate is the sample rate of the phone leg in Hz.
	TelephonyRate = 8000

	// FrameMs is the duration of one media frame.
	FrameMs = 20

	// FrameBytes is one 20ms μ-law frame at 8kHz.
	FrameBytes = TelephonyRate * FrameMs / 1000

	// ULawSilence is the μ-law encoding of a zero sample.
	ULawSilence = 0xFF
)

// Sentinel errors.
var (
	// ErrEmptyAudio is returned for zero-length input. Downstream speech
	// services reject empty payloads, so transcoding must too.
	ErrEmptyAudio = errors.New("audio: empty input")

	// ErrInvalidPCM is returned when PCM16 input has an odd byte count.
	ErrInvalidPCM = errors.New("audio: PCM16 input must be an even number of bytes")
)

// DecodeULaw expands μ-law bytes to little-endian PCM16 at the source rate.
func DecodeULaw(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	out := make([]byte, len(data)*2)
	for i, u := range data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(ulawToLinear(u)))
	}
	return out, nil
}

// EncodeULaw compresses little-endian PCM16 to μ-law bytes.
func EncodeULaw(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return nil, ErrInvalidPCM
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = linearToULaw(s)
	}
	return out, nil
}

// ulawToLinear expands one μ-law byte per G.711.
func ulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + 0x84
	value <<= uint(exp)
	value -= 0x84
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// linearToULaw compresses one PCM16 sample per G.711.
// Note the two zero codes: 0xFF is +0, 0x7F is -0; encoding always emits 0xFF.
func linearToULaw(sample int16) byte {
	const clip = 32635
	const bias = 0x84

	s := int(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exp := byte(7)
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((s >> (uint(exp) + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// Resample converts mono PCM16 between sample rates by linear interpolation.
// Adequate for speech; it is not a band-limited resampler.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return nil, ErrInvalidPCM
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out, nil
	}

	in := make([]int16, len(pcm)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(in) {
			i0 = len(in) - 1
		}
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		f := srcPos - float64(i0)
		v := float64(in[i0])*(1-f) + float64(in[i1])*f
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, nil
}

// Chunk splits data into fixed-size frames. The final frame is padded with
// pad to keep the fixed-duration frame contract. Returns nil for empty input
// or a non-positive size.
func Chunk(data []byte, size int, pad byte) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		if off+size <= len(data) {
			frames = append(frames, data[off:off+size])
			continue
		}
		frame := make([]byte, size)
		n := copy(frame, data[off:])
		for i := n; i < size; i++ {
			frame[i] = pad
		}
		frames = append(frames, frame)
	}
	return frames
}
