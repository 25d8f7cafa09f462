// Package audio bridges the telephony network's native voice format and
// the linear PCM the speech pipeline consumes.  The network delivers
// 8-bit mu-law at 8 kHz; the pipeline wants 16-bit little-endian linear
// samples.  Both directions are pure and safe to call concurrently, so
// they can sit on the real-time streaming path.
package audio

import "errors"

// FrameSize is the byte length of one 20 ms mu-law frame at 8 kHz, the
// increment live streams commonly deliver.
const FrameSize = 160

// ErrOddInput is returned by EncodeULaw when the PCM input has an odd
// byte length and cannot be split into 16-bit samples.
var ErrOddInput = errors.New("audio: pcm input length must be even")

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// ulawToLinear holds the 256-entry expansion table.  Decoding is a plain
// lookup so it costs one index per sample.
var ulawToLinear [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		exp := (u >> 4) & 0x07
		mant := u & 0x0F
		value := ((int(mant) << 3) + ulawBias) << uint(exp)
		value -= ulawBias
		if u&0x80 != 0 {
			value = -value
		}
		ulawToLinear[i] = int16(value)
	}
}

// DecodeULaw expands 8-bit mu-law bytes into 16-bit little-endian PCM.
// The output is always exactly twice the input length.
func DecodeULaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		s := ulawToLinear[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeULaw compresses 16-bit little-endian PCM into mu-law bytes, one
// byte per sample.  The output is exactly half the input length; an odd
// input length is rejected.
func EncodeULaw(in []byte) ([]byte, error) {
	if len(in)%2 != 0 {
		return nil, ErrOddInput
	}
	out := make([]byte, len(in)/2)
	for i := range out {
		s := int16(uint16(in[i*2]) | uint16(in[i*2+1])<<8)
		out[i] = linearToULaw(s)
	}
	return out, nil
}

func linearToULaw(sample int16) byte {
	sign := byte(0)
	s := int(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias
	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((s >> uint(exp+3)) & 0x0F)
	return ^(sign | byte(exp)<<4 | mant)
}
