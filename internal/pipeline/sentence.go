package pipeline

import (
	"strings"
	"unicode/utf8"
)

var sentenceEnders = []rune{'。', '！', '？', '；', '♪', '.', '!', '?', '\n'}

// extractSentence 取出第一个完整句子（含结尾标点）。
func extractSentence(text string) (string, string, bool) {
	for i, r := range text {
		for _, ender := range sentenceEnders {
			if r == ender {
				splitAt := i + utf8.RuneLen(r)
				return text[:splitAt], text[splitAt:], true
			}
		}
	}
	return "", text, false
}

// splitText 把长文本按句子合并成不超过 maxChars 个字符的片段。
// 单句超长时按字符硬切。maxChars <= 0 时不切分。
func splitText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	var last rune

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentLen = 0
	}

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		n := utf8.RuneCountInString(s)
		// 以 ASCII 结尾的句子后补回空格，CJK 句子直接相连
		sep := 0
		if currentLen > 0 && last < utf8.RuneSelf {
			sep = 1
		}
		if currentLen > 0 && currentLen+sep+n > maxChars {
			flush()
			sep = 0
		}
		last, _ = utf8.DecodeLastRuneInString(s)
		if sep > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		for n > maxChars {
			runes := []rune(s)
			chunks = append(chunks, string(runes[:maxChars]))
			s = string(runes[maxChars:])
			n -= maxChars
		}
		current.WriteString(s)
		currentLen += n
	}

	remaining := text
	for {
		sentence, rest, found := extractSentence(remaining)
		if !found {
			add(remaining)
			break
		}
		remaining = rest
		add(sentence)
	}
	flush()
	return chunks
}
