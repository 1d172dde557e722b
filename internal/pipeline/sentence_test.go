package pipeline

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractSentence(t *testing.T) {
	tests := []struct {
		input     string
		sentence  string
		remainder string
		found     bool
	}{
		{"こんにちは。元気？", "こんにちは。", "元気？", true},
		{"すごい！本当", "すごい！", "本当", true},
		{"歌うよ♪次", "歌うよ♪", "次", true},
		{"Hello. World", "Hello.", " World", true},
		{"line1\nline2", "line1\n", "line2", true},
		{"First. Second. Third.", "First.", " Second. Third.", true},
		{"。", "。", "", true},
		{"no sentence ending here", "", "no sentence ending here", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		sentence, remainder, found := extractSentence(tt.input)
		if found != tt.found {
			t.Errorf("extractSentence(%q): found = %v, want %v", tt.input, found, tt.found)
			continue
		}
		if sentence != tt.sentence {
			t.Errorf("extractSentence(%q): sentence = %q, want %q", tt.input, sentence, tt.sentence)
		}
		if remainder != tt.remainder {
			t.Errorf("extractSentence(%q): remainder = %q, want %q", tt.input, remainder, tt.remainder)
		}
	}
}

func TestSplitText_ShortTextUnchanged(t *testing.T) {
	got := splitText("  おはよう。今日もよろしく。 ", 100)
	want := []string{"おはよう。今日もよろしく。"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := splitText("   ", 10); got != nil {
		t.Errorf("blank text: got %q, want nil", got)
	}
	if got := splitText("abc. def.", 0); len(got) != 1 {
		t.Errorf("maxChars 0 should not split, got %q", got)
	}
}

func TestSplitText_MergesSentencesUpToLimit(t *testing.T) {
	got := splitText("One. Two. Three. Four.", 10)
	want := []string{"One. Two.", "Three.", "Four."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplitText_KeepsWordBoundaryBetweenSentences(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  []string
	}{
		{"Hello there. How are you? Fine.", 20, []string{"Hello there.", "How are you? Fine."}},
		{"おはよう。元気？はい。", 8, []string{"おはよう。元気？", "はい。"}},
		{"A. B。C.", 6, []string{"A. B。", "C."}},
		{"Done.次へ。", 6, []string{"Done.", "次へ。"}},
	}
	for _, tt := range tests {
		got := splitText(tt.input, tt.max)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitText(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestSplitText_HardSplitsLongSentence(t *testing.T) {
	long := strings.Repeat("あ", 25)
	got := splitText("短い。"+long+"。終わり", 10)

	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Errorf("chunk %q has %d runes, want <= 10", c, n)
		}
	}
	if joined := strings.Join(got, ""); joined != "短い。"+long+"。終わり" {
		t.Errorf("chunks must preserve text, got %q", joined)
	}
	if got[0] != "短い。" {
		t.Errorf("first chunk: got %q", got[0])
	}
}
