package chunker

import (
	"strings"
	"unicode"
)

// Sentences splits text into sentences without any language specific rules.
// A boundary follows a run of terminal punctuation (optionally closed by quotes
// or brackets) when whitespace or the end of input comes next. Wide CJK stops
// end a sentence even without trailing whitespace, and a blank line always
// ends one.
func Sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); {
		r := runes[i]
		if r == '\n' {
			j := i + 1
			for j < len(runes) && isInlineSpace(runes[j]) {
				j++
			}
			if j < len(runes) && runes[j] == '\n' {
				out = appendSentence(out, runes[start:i])
				start = j
			}
			i = j
			continue
		}
		if !isTerminal(r) {
			i++
			continue
		}
		wide := false
		j := i
		for j < len(runes) && isTerminal(runes[j]) {
			if isWideTerminal(runes[j]) {
				wide = true
			}
			j++
		}
		for j < len(runes) && isCloser(runes[j]) {
			j++
		}
		if wide || j == len(runes) || unicode.IsSpace(runes[j]) {
			out = appendSentence(out, runes[start:j])
			start = j
		}
		i = j
	}
	return appendSentence(out, runes[start:])
}

func appendSentence(out []string, runes []rune) []string {
	sentence := strings.TrimSpace(string(runes))
	if sentence == "" {
		return out
	}
	return append(out, sentence)
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return isWideTerminal(r)
}

func isWideTerminal(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»', '」', '』', '）':
		return true
	}
	return false
}

func isInlineSpace(r rune) bool {
	return r != '\n' && unicode.IsSpace(r)
}
