// internal/diff/words.go
package diff

import (
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Word-level refinement of a differing region: the removed and added sides
// are re-diffed by word so the UI can highlight intra-line changes.

// tokenizeWords splits text into word tokens: runs of letters, digits and
// underscores stay whole, any other byte is its own token.
func tokenizeWords(text string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			word.WriteRune(r)
			continue
		}
		flush()
		tokens = append(tokens, string(r))
	}
	flush()
	return tokens
}

// refineWords diffs two differing regions by word and splits the result back
// into removed lines (left) and added lines (right), each a token sequence
// tagged Matching or Different.
func (e *Engine) refineWords(left, right string) (removed, added [][]Token) {
	codes := map[string]rune{}
	words := map[rune]string{}
	encode := func(tokens []string) string {
		var b strings.Builder
		for _, tok := range tokens {
			r, ok := codes[tok]
			if !ok {
				r = rune(len(codes) + 1)
				codes[tok] = r
				words[r] = tok
			}
			b.WriteRune(r)
		}
		return b.String()
	}
	text1 := encode(tokenizeWords(left))
	text2 := encode(tokenizeWords(right))

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(text1, text2, false)

	var leftLine, rightLine []Token
	appendTok := func(lines *[][]Token, line *[]Token, tok Token) {
		*line = append(*line, tok)
		if strings.HasSuffix(tok.Text, "\n") {
			*lines = append(*lines, *line)
			*line = nil
		}
	}

	for _, d := range diffs {
		for _, r := range d.Text {
			text := words[r]
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				appendTok(&removed, &leftLine, Token{Type: TokenMatching, Text: text})
				appendTok(&added, &rightLine, Token{Type: TokenMatching, Text: text})
			case diffmatchpatch.DiffDelete:
				appendTok(&removed, &leftLine, Token{Type: TokenDifferent, Text: text})
			case diffmatchpatch.DiffInsert:
				appendTok(&added, &rightLine, Token{Type: TokenDifferent, Text: text})
			}
		}
	}

	if len(leftLine) > 0 {
		removed = append(removed, leftLine)
	}
	if len(rightLine) > 0 {
		added = append(added, rightLine)
	}
	return removed, added
}
