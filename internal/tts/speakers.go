package tts

import (
	"strings"
)

// Style 是话者的一种风格（/speakers 响应中的 styles 元素）。
type Style struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Speaker 是 /speakers 响应中的一个话者。
type Speaker struct {
	Name   string  `json:"name"`
	Styles []Style `json:"styles"`
}

// SpeakerEntry 是内置话者表中的一项。同一话者的第一项视为其默认风格。
type SpeakerEntry struct {
	Speaker string
	Style   string
	ID      int
}

// Tier 表示话者解析命中的层级。
type Tier int

const (
	TierLive    Tier = iota // 命中在线获取的话者列表
	TierTable               // 命中内置话者表
	TierDefault             // 两者都未命中，使用默认 ID
)

func (t Tier) String() string {
	switch t {
	case TierLive:
		return "live"
	case TierTable:
		return "table"
	default:
		return "default"
	}
}

// ParseVoiceID 把 "话者名(风格名)" 拆分为话者名和风格名。
// 同时接受半角和全角括号；没有括号时风格名为空。
func ParseVoiceID(voice string) (speaker, style string) {
	voice = strings.TrimSpace(voice)
	normalized := strings.NewReplacer("（", "(", "）", ")").Replace(voice)

	open := strings.Index(normalized, "(")
	if open < 0 || !strings.HasSuffix(normalized, ")") {
		return normalized, ""
	}
	speaker = strings.TrimSpace(normalized[:open])
	style = strings.TrimSpace(normalized[open+1 : len(normalized)-1])
	return speaker, style
}

// FormatVoiceID 是 ParseVoiceID 的逆操作。
func FormatVoiceID(speaker, style string) string {
	if style == "" {
		return speaker
	}
	return speaker + "(" + style + ")"
}

// findInRoster 在在线话者列表中查找。风格为空时取该话者的第一个风格。
func findInRoster(roster []Speaker, speaker, style string) (int, bool) {
	for _, sp := range roster {
		if sp.Name != speaker || len(sp.Styles) == 0 {
			continue
		}
		if style == "" {
			return sp.Styles[0].ID, true
		}
		for _, st := range sp.Styles {
			if st.Name == style {
				return st.ID, true
			}
		}
	}
	return 0, false
}

// findInTable 在内置话者表中查找。风格为空时取该话者在表中的第一项。
func findInTable(table []SpeakerEntry, speaker, style string) (int, bool) {
	for _, e := range table {
		if e.Speaker != speaker {
			continue
		}
		if style == "" || e.Style == style {
			return e.ID, true
		}
	}
	return 0, false
}

// resolveSpeaker 按 在线列表 -> 内置表 -> 默认 ID 三层解析语音标识。
func resolveSpeaker(voice string, roster []Speaker, table []SpeakerEntry, defaultID int) (int, Tier) {
	speaker, style := ParseVoiceID(voice)
	if speaker == "" {
		return defaultID, TierDefault
	}
	if id, ok := findInRoster(roster, speaker, style); ok {
		return id, TierLive
	}
	if id, ok := findInTable(table, speaker, style); ok {
		return id, TierTable
	}
	return defaultID, TierDefault
}

// rosterVoices 把话者列表展开为语音标识。
func rosterVoices(roster []Speaker) []string {
	var voices []string
	for _, sp := range roster {
		for _, st := range sp.Styles {
			voices = append(voices, FormatVoiceID(sp.Name, st.Name))
		}
	}
	return voices
}

// tableVoices 把内置话者表展开为语音标识。
func tableVoices(table []SpeakerEntry) []string {
	voices := make([]string, len(table))
	for i, e := range table {
		voices[i] = FormatVoiceID(e.Speaker, e.Style)
	}
	return voices
}

// voicevoxSpeakers 是 VOICEVOX 常用话者的内置 ID 表，在线列表不可用时使用。
var voicevoxSpeakers = []SpeakerEntry{
	{"ずんだもん", "ノーマル", 3},
	{"ずんだもん", "あまあま", 1},
	{"ずんだもん", "ツンツン", 7},
	{"ずんだもん", "セクシー", 5},
	{"ずんだもん", "ささやき", 22},
	{"四国めたん", "ノーマル", 2},
	{"四国めたん", "あまあま", 0},
	{"四国めたん", "ツンツン", 6},
	{"四国めたん", "セクシー", 4},
	{"春日部つむぎ", "ノーマル", 8},
	{"波音リツ", "ノーマル", 9},
	{"雨晴はう", "ノーマル", 10},
	{"玄野武宏", "ノーマル", 11},
	{"白上虎太郎", "ふつう", 12},
	{"青山龍星", "ノーマル", 13},
	{"冥鳴ひまり", "ノーマル", 14},
	{"九州そら", "ノーマル", 16},
}

// voicevoxDefaultID 是 ずんだもん(ノーマル)。
const voicevoxDefaultID = 3

// aivisSpeakers 是 AivisSpeech 默认模型的内置 ID 表。
var aivisSpeakers = []SpeakerEntry{
	{"Anneli", "ノーマル", 888753760},
	{"Anneli", "通常", 888753761},
	{"Anneli", "テンション高め", 888753762},
	{"Anneli", "落ち着き", 888753763},
	{"Anneli", "上機嫌", 888753764},
	{"Anneli", "怒り・悲しみ", 888753765},
}

// aivisDefaultID 是 Anneli(ノーマル)。
const aivisDefaultID = 888753760
