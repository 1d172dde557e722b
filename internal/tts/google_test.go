package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/iabetor/streamvoice/internal/audio"
)

const testModelPath = "/v1beta/models/" + DefaultGoogleModel + ":generateContent"

func newGoogleServer(t *testing.T, respond func(w http.ResponseWriter, req googleRequest)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != testModelPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req googleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respond(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestGoogle(t *testing.T, url string) *GoogleEngine {
	t.Helper()
	eng, err := NewGoogleEngine(GoogleConfig{BaseURL: url})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func audioResponse(mime string, data []byte) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{
				map[string]any{"text": "ok"},
				map[string]any{"inlineData": map[string]any{
					"mimeType": mime,
					"data":     base64.StdEncoding.EncodeToString(data),
				}},
			}},
			"finishReason": "STOP",
		}},
	}
}

func TestGoogle_SynthesizeWrapsPCM(t *testing.T) {
	isolateTemp(t)
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0, 5} // 奇数长度，尾字节应被丢弃
	var gotVoice string
	srv, _ := newGoogleServer(t, func(w http.ResponseWriter, req googleRequest) {
		gotVoice = req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		if len(req.GenerationConfig.ResponseModalities) != 1 || req.GenerationConfig.ResponseModalities[0] != "AUDIO" {
			t.Errorf("responseModalities: got %v", req.GenerationConfig.ResponseModalities)
		}
		if req.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("text: got %q", req.Contents[0].Parts[0].Text)
		}
		json.NewEncoder(w).Encode(audioResponse("audio/L16;codec=pcm;rate=24000", pcm))
	})

	eng := newTestGoogle(t, srv.URL)
	res := eng.Synthesize(context.Background(), Request{Text: "hello", Voice: "puck", APIKey: "test-key"})
	if res.Empty() {
		t.Fatal("expected non-empty result")
	}
	defer audio.Discard(res[0])

	if gotVoice != "Puck" {
		t.Errorf("voiceName: got %q, want Puck", gotVoice)
	}
	f, got, err := audio.ReadWAV(res[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if f != audio.SpeechFormat {
		t.Errorf("format: got %+v, want 24kHz/mono/16-bit", f)
	}
	if !bytes.Equal(got, pcm[:8]) {
		t.Errorf("pcm: got %v, want %v", got, pcm[:8])
	}
}

func TestGoogle_UnknownVoiceUsesDefault(t *testing.T) {
	isolateTemp(t)
	var gotVoice string
	srv, _ := newGoogleServer(t, func(w http.ResponseWriter, req googleRequest) {
		gotVoice = req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		json.NewEncoder(w).Encode(audioResponse("audio/pcm", []byte{0, 0}))
	})

	eng := newTestGoogle(t, srv.URL)
	res := eng.Synthesize(context.Background(), Request{Text: "hi", Voice: "ずんだもん(ノーマル)", APIKey: "test-key"})
	for _, f := range res {
		audio.Discard(f)
	}
	if gotVoice != DefaultGoogleVoice {
		t.Errorf("voiceName: got %q, want %q", gotVoice, DefaultGoogleVoice)
	}
}

func TestGoogle_MissingAPIKeyDoesNotCallServer(t *testing.T) {
	srv, hits := newGoogleServer(t, func(w http.ResponseWriter, req googleRequest) {})
	eng := newTestGoogle(t, srv.URL)

	if res := eng.Synthesize(context.Background(), Request{Text: "hi"}); !res.Empty() {
		t.Error("expected empty result without API key")
	}
	if hits.Load() != 0 {
		t.Errorf("server should not be called, got %d requests", hits.Load())
	}
}

func TestGoogle_EmptyResults(t *testing.T) {
	cases := []struct {
		name    string
		respond func(w http.ResponseWriter)
	}{
		{"blocked prompt", func(w http.ResponseWriter) {
			w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
		}},
		{"safety finish", func(w http.ResponseWriter) {
			w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
		}},
		{"no audio part", func(w http.ResponseWriter) {
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]},"finishReason":"STOP"}]}`))
		}},
		{"malformed json", func(w http.ResponseWriter) {
			w.Write([]byte(`{"candidates":`))
		}},
		{"bad base64", func(w http.ResponseWriter) {
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"!!!"}}]}}]}`))
		}},
		{"server error", func(w http.ResponseWriter) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			isolateTemp(t)
			srv, _ := newGoogleServer(t, func(w http.ResponseWriter, req googleRequest) { c.respond(w) })
			eng := newTestGoogle(t, srv.URL)
			if res := eng.Synthesize(context.Background(), Request{Text: "hi", APIKey: "test-key"}); !res.Empty() {
				t.Errorf("expected empty result, got %v", res)
			}
		})
	}
}

func TestGoogle_WAVPayloadUsedVerbatim(t *testing.T) {
	isolateTemp(t)
	wav := audio.WrapPCM([]byte{9, 0, 8, 0}, audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16})
	srv, _ := newGoogleServer(t, func(w http.ResponseWriter, req googleRequest) {
		json.NewEncoder(w).Encode(audioResponse("audio/wav", wav))
	})

	eng := newTestGoogle(t, srv.URL)
	res := eng.Synthesize(context.Background(), Request{Text: "hi", APIKey: "test-key"})
	if res.Empty() {
		t.Fatal("expected non-empty result")
	}
	defer audio.Discard(res[0])

	f, _, err := audio.ReadWAV(res[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if f.SampleRate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", f.SampleRate)
	}
}

func TestNewGoogleEngine_InvalidURL(t *testing.T) {
	if _, err := NewGoogleEngine(GoogleConfig{BaseURL: "not a url"}); err == nil {
		t.Error("expected error for invalid base URL")
	}
}

func TestMimeParam(t *testing.T) {
	if got := mimeParam("audio/l16;codec=pcm;rate=16000", "rate"); got != "16000" {
		t.Errorf("rate: got %q", got)
	}
	if got := mimeParam("audio/pcm", "rate"); got != "" {
		t.Errorf("missing rate: got %q", got)
	}
}
