package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestPCM16Samples_LittleEndian(t *testing.T) {
	got := PCM16Samples([]byte{0x02, 0x01, 0xff, 0xff, 0x7f})
	if len(got) != 2 {
		t.Fatalf("odd trailing byte should be ignored, got %d samples", len(got))
	}
	if got[0] != 0x0102 || got[1] != -1 {
		t.Errorf("unexpected samples: %v", got)
	}
	if len(PCM16Samples(nil)) != 0 {
		t.Error("nil input should decode to no samples")
	}
}

func TestPCM16Bytes_MatchesSamples(t *testing.T) {
	samples := []int16{0, 1, -1, 1000, -1000, math.MaxInt16, math.MinInt16}
	b := PCM16Bytes(samples)
	if len(b) != len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", len(samples)*2, len(b))
	}
	if !bytes.Equal(b[:2], []byte{0, 0}) || !bytes.Equal(b[4:6], []byte{0xff, 0xff}) {
		t.Errorf("unexpected encoding: % x", b[:6])
	}
	for i, s := range PCM16Samples(b) {
		if s != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, s, samples[i])
		}
	}
}

func TestDownmixStereo(t *testing.T) {
	tests := []struct {
		name   string
		stereo []int16
		want   []int16
	}{
		{"average", []int16{100, 300, -1000, 1000}, []int16{200, 0}},
		{"extremes do not wrap", []int16{math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16}, []int16{math.MaxInt16, math.MinInt16}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PCM16Samples(DownmixStereo(PCM16Bytes(tt.stereo)))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("frame %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDownmixStereo_DropsPartialFrame(t *testing.T) {
	in := append(PCM16Bytes([]int16{10, 20}), 0x01, 0x02)
	out := DownmixStereo(in)
	if len(out) != 2 {
		t.Fatalf("partial trailing frame should be dropped, got %d bytes", len(out))
	}
	if PCM16Samples(out)[0] != 15 {
		t.Errorf("unexpected mono sample: %d", PCM16Samples(out)[0])
	}
}
