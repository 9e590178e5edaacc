package proofread

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// wordRe matches word tokens for the repeated-word predicate.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}']+`)

// findRepeatedWords flags an immediately repeated word, case
// insensitive, separated only by whitespace. The suggestion keeps the
// first occurrence.
func findRepeatedWords(text string) []finding {
	locs := wordRe.FindAllStringIndex(text, -1)
	var out []finding

	for i := 1; i < len(locs); i++ {
		prev, cur := locs[i-1], locs[i]
		between := text[prev[1]:cur[0]]
		// Only whitespace may separate the pair.
		if between == "" || strings.TrimSpace(between) != "" {
			continue
		}
		a := text[prev[0]:prev[1]]
		b := text[cur[0]:cur[1]]
		if !strings.EqualFold(a, b) {
			continue
		}
		out = append(out, finding{
			start:      prev[0],
			end:        cur[1],
			original:   text[prev[0]:cur[1]],
			suggested:  a,
			reasoning:  fmt.Sprintf("%q appears twice in a row", a),
			confidence: 0.9,
		})
	}
	return out
}

// bracketPairs maps openers to closers for the balance check.
var bracketPairs = map[rune]rune{
	'(': ')', '[': ']', '{': '}',
	'（': '）', '「': '」', '『': '』', '【': '】', '〈': '〉', '《': '》',
}

var bracketClosers = func() map[rune]rune {
	m := make(map[rune]rune, len(bracketPairs))
	for o, c := range bracketPairs {
		m[c] = o
	}
	return m
}()

// findUnbalancedBrackets flags lines whose brackets do not pair up. No
// automatic fix is offered.
func findUnbalancedBrackets(text string) []finding {
	var out []finding
	lineStart := 0

	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		line := text[lineStart:lineEnd]

		if bad, what := unbalanced(line); bad {
			out = append(out, finding{
				start:      lineStart,
				end:        lineEnd,
				original:   line,
				reasoning:  what,
				confidence: 0.7,
			})
		}

		if lineEnd == len(text) {
			break
		}
		lineStart = lineEnd + 1
	}
	return out
}

func unbalanced(line string) (bool, string) {
	var stack []rune
	for _, r := range line {
		if _, isOpen := bracketPairs[r]; isOpen {
			stack = append(stack, r)
			continue
		}
		if opener, isClose := bracketClosers[r]; isClose {
			if len(stack) == 0 || stack[len(stack)-1] != opener {
				return true, fmt.Sprintf("closing %q without matching %q", r, opener)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return true, fmt.Sprintf("unclosed %q", stack[len(stack)-1])
	}
	return false, ""
}

// longSentenceWords is the word threshold of the long-sentence check.
const longSentenceWords = 60

var sentenceEndRe = regexp.MustCompile(`[.!?。！？]`)

// findLongSentences flags sentences over the word threshold. No
// automatic fix; splitting is editorial judgment.
func findLongSentences(text string) []finding {
	var out []finding
	start := 0

	flush := func(end int) {
		sentence := text[start:end]
		trimmedStart := start + indexNonSpace(sentence)
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			start = end
			return
		}
		if n := len(strings.Fields(trimmed)); n > longSentenceWords {
			out = append(out, finding{
				start:      trimmedStart,
				end:        trimmedStart + len(trimmed),
				original:   trimmed,
				reasoning:  fmt.Sprintf("sentence runs %d words, above %d", n, longSentenceWords),
				confidence: 0.6,
			})
		}
		start = end
	}

	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		flush(loc[1])
	}
	if start < len(text) {
		flush(len(text))
	}
	return out
}

func indexNonSpace(s string) int {
	for i, r := range s {
		if !unicode.IsSpace(r) {
			return i
		}
	}
	return len(s)
}

// findTrailingWhitespace flags spaces or tabs at line ends. The span
// includes the newline and the suggestion is the bare newline, so
// accepting the fix is a plain replacement. Trailing whitespace at the
// very end of the body has no newline to anchor on and is left to the
// sanitizer's whitespace folding.
func findTrailingWhitespace(text string) []finding {
	var out []finding

	for i := 0; i < len(text); i++ {
		if text[i] != '\n' {
			continue
		}
		j := i
		for j > 0 && (text[j-1] == ' ' || text[j-1] == '\t') {
			j--
		}
		if j == i {
			continue
		}
		out = append(out, finding{
			start:      j,
			end:        i + 1,
			original:   text[j : i+1],
			suggested:  "\n",
			reasoning:  "whitespace before line break",
			confidence: 1.0,
		})
	}
	return out
}
