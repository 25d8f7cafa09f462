package audio

import (
	"fmt"
	"io"
	"math"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// mu-law encoding of a zero sample, used to pad the tail frame.
const ulawSilence = 0xFF

// LoadPromptFrames decodes an MP3 prompt (the format the TTS service
// hands back), downmixes it to mono, resamples to 8 kHz and returns it
// as mu-law frames ready to feed the outbound leg of a live stream.
// The final frame is padded with silence to a full FrameSize.
func LoadPromptFrames(r io.Reader) ([][]byte, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("decode mp3 prompt: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3 prompt: %w", err)
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	samples := make([]int16, len(raw)/4)
	for i := range samples {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		rr := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		samples[i] = int16((int(l) + int(rr)) / 2)
	}
	mono := resampleLinear(samples, dec.SampleRate(), 8000)

	pcm := make([]byte, len(mono)*2)
	for i, s := range mono {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	encoded, err := EncodeULaw(pcm)
	if err != nil {
		return nil, err
	}
	return splitFrames(encoded), nil
}

// resampleLinear converts between sample rates by linear interpolation.
// Good enough for voice prompts played down a narrowband phone line.
func resampleLinear(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(in) == 0 {
		return append([]int16(nil), in...)
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen <= 1 {
		return []int16{}
	}
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(math.Floor(srcPos))
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		f := srcPos - float64(i0)
		v := float64(in[i0])*(1.0-f) + float64(in[i1])*f
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

func splitFrames(encoded []byte) [][]byte {
	var frames [][]byte
	for off := 0; off < len(encoded); off += FrameSize {
		end := off + FrameSize
		if end > len(encoded) {
			frame := make([]byte, FrameSize)
			n := copy(frame, encoded[off:])
			for i := n; i < FrameSize; i++ {
				frame[i] = ulawSilence
			}
			frames = append(frames, frame)
			break
		}
		frames = append(frames, encoded[off:end:end])
	}
	return frames
}
