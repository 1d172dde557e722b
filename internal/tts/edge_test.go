package tts

import (
	"context"
	"errors"
	"testing"
)

func TestEdge_FetchErrorReturnsEmpty(t *testing.T) {
	eng := NewEdgeEngine("")
	var gotVoice string
	eng.fetch = func(ctx context.Context, text, voice string) ([]byte, error) {
		gotVoice = voice
		return nil, errors.New("websocket closed")
	}

	if res := eng.Synthesize(context.Background(), Request{Text: "hello"}); !res.Empty() {
		t.Errorf("expected empty result, got %v", res)
	}
	if gotVoice != DefaultEdgeVoice {
		t.Errorf("voice: got %q, want %q", gotVoice, DefaultEdgeVoice)
	}
}

func TestEdge_UndecodableAudioReturnsEmpty(t *testing.T) {
	eng := NewEdgeEngine("zh-CN-XiaoxiaoNeural")
	eng.fetch = func(ctx context.Context, text, voice string) ([]byte, error) {
		return []byte("definitely not an mp3 stream"), nil
	}
	if res := eng.Synthesize(context.Background(), Request{Text: "hello"}); !res.Empty() {
		t.Errorf("expected empty result, got %v", res)
	}
}

func TestEdge_Describe(t *testing.T) {
	eng := NewEdgeEngine("")
	d := eng.Describe()
	if d.Name != KindEdge || d.Cost != CostFree {
		t.Errorf("unexpected descriptor %+v", d)
	}
	if _, ok := Engine(eng).(AvailabilityChecker); ok {
		t.Error("edge engine should not expose an availability probe")
	}
}
