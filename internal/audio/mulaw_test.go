package audio

import (
	"errors"
	"testing"
)

func TestDecodeLengthDoubles(t *testing.T) {
	for _, n := range []int{0, 1, 7, FrameSize} {
		in := make([]byte, n)
		if got := len(DecodeULaw(in)); got != n*2 {
			t.Errorf("DecodeULaw len %d -> %d, want %d", n, got, n*2)
		}
	}
}

func TestEncodeLengthHalves(t *testing.T) {
	for _, n := range []int{0, 2, 16, FrameSize * 2} {
		in := make([]byte, n)
		out, err := EncodeULaw(in)
		if err != nil {
			t.Fatalf("EncodeULaw: %v", err)
		}
		if len(out) != n/2 {
			t.Errorf("EncodeULaw len %d -> %d, want %d", n, len(out), n/2)
		}
	}
}

func TestEncodeOddInput(t *testing.T) {
	if _, err := EncodeULaw(make([]byte, 3)); !errors.Is(err, ErrOddInput) {
		t.Fatalf("EncodeULaw(odd) err = %v, want ErrOddInput", err)
	}
}

// Round trips are lossy but the quantization error stays bounded: each
// mu-law segment step is at most 1024 linear units, and clipping near
// full scale loses at most 32767-32124.
func TestRoundTripErrorBounded(t *testing.T) {
	const bound = 1024
	for v := -32768; v <= 32767; v += 7 {
		s := int16(v)
		in := []byte{byte(s), byte(s >> 8)}
		enc, err := EncodeULaw(in)
		if err != nil {
			t.Fatal(err)
		}
		dec := DecodeULaw(enc)
		got := int16(uint16(dec[0]) | uint16(dec[1])<<8)
		diff := int(got) - int(s)
		if diff < 0 {
			diff = -diff
		}
		if diff > bound {
			t.Fatalf("sample %d decoded to %d, error %d exceeds %d", s, got, diff, bound)
		}
	}
}

func TestRoundTripNotIdentity(t *testing.T) {
	// A compression codec: at least some samples must come back changed.
	changed := false
	for v := int16(1); v < 20000 && !changed; v += 997 {
		in := []byte{byte(v), byte(v >> 8)}
		enc, _ := EncodeULaw(in)
		dec := DecodeULaw(enc)
		if got := int16(uint16(dec[0]) | uint16(dec[1])<<8); got != v {
			changed = true
		}
	}
	if !changed {
		t.Error("round trip was exact for every probe, expected lossy codec")
	}
}

func TestZeroAndSignSymmetry(t *testing.T) {
	enc, _ := EncodeULaw([]byte{0, 0})
	dec := DecodeULaw(enc)
	if got := int16(uint16(dec[0]) | uint16(dec[1])<<8); got != 0 {
		t.Errorf("zero decoded to %d", got)
	}
	for _, v := range []int16{100, 1000, 10000, 30000} {
		pos := []byte{byte(v), byte(v >> 8)}
		neg := []byte{byte(-v), byte(-v >> 8)}
		ep, _ := EncodeULaw(pos)
		en, _ := EncodeULaw(neg)
		dp := DecodeULaw(ep)
		dn := DecodeULaw(en)
		p := int16(uint16(dp[0]) | uint16(dp[1])<<8)
		n := int16(uint16(dn[0]) | uint16(dn[1])<<8)
		if p != -n {
			t.Errorf("asymmetric decode for %d: +%d vs %d", v, p, n)
		}
	}
}

func TestSplitFramesPadsTail(t *testing.T) {
	frames := splitFrames(make([]byte, FrameSize+10))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if len(f) != FrameSize {
			t.Errorf("frame %d has length %d", i, len(f))
		}
	}
	if frames[1][FrameSize-1] != ulawSilence {
		t.Error("tail frame not padded with silence")
	}
}
