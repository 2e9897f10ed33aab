// internal/diff/diff.go
package diff

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// CompareMode selects how lines are compared when matching.
type CompareMode int

const (
	// CompareExact matches lines byte for byte.
	CompareExact CompareMode = iota
	// CompareIgnoreAllSpace matches lines ignoring every whitespace byte.
	CompareIgnoreAllSpace
	// CompareIgnoreSpaceAmount collapses whitespace runs before matching.
	CompareIgnoreSpaceAmount
)

// LineType indicates whether a line was added, removed, or is context.
type LineType int

const (
	Context LineType = iota
	Removed
	Added
)

// TokenType tags a word-level token for intra-line highlighting.
type TokenType int

const (
	TokenMatching TokenType = iota
	TokenDifferent
)

// Token is one word-level fragment of a diff line.
type Token struct {
	Type TokenType
	Text string
}

// Line is a tagged diff line built from word-level tokens.
type Line struct {
	Type   LineType
	Tokens []Token
}

// Text reassembles the line without its trailing newline.
func (l Line) Text() string {
	var b strings.Builder
	for _, t := range l.Tokens {
		b.WriteString(t.Text)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Hunk is a unified diff hunk: a run of added/removed lines with surrounding
// context. Ranges are 1-based line numbers; End is exclusive.
type Hunk struct {
	LeftStart, LeftEnd   int
	RightStart, RightEnd int
	Lines                []Line
}

func (h *Hunk) LeftLen() int  { return h.LeftEnd - h.LeftStart }
func (h *Hunk) RightLen() int { return h.RightEnd - h.RightStart }

// Engine computes unified hunks between two byte buffers.
type Engine struct {
	contextLines int
	mode         CompareMode
}

// NewEngine creates a diff engine with the given context width.
func NewEngine(contextLines int, mode CompareMode) *Engine {
	return &Engine{contextLines: contextLines, mode: mode}
}

// IsBinary applies the git heuristic: a NUL byte within the first 8000 bytes
// marks content as binary.
func IsBinary(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}

// splitLines splits content into lines keeping their trailing newline.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	var lines []string
	start := 0
	for i, b := range content {
		if b == '\n' {
			lines = append(lines, string(content[start:i+1]))
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, string(content[start:]))
	}
	return lines
}

func (e *Engine) normalize(line string) string {
	switch e.mode {
	case CompareIgnoreAllSpace:
		var b strings.Builder
		for _, r := range line {
			if r != ' ' && r != '\t' && r != '\r' && r != '\n' {
				b.WriteRune(r)
			}
		}
		return b.String()
	case CompareIgnoreSpaceAmount:
		var b strings.Builder
		inSpace := false
		for _, r := range strings.TrimRight(line, " \t\r\n") {
			if r == ' ' || r == '\t' {
				inSpace = true
				continue
			}
			if inSpace {
				b.WriteByte(' ')
				inSpace = false
			}
			b.WriteRune(r)
		}
		return b.String()
	default:
		return line
	}
}

// region is a contiguous matching or differing span of line indices.
type region struct {
	matching             bool
	leftLo, leftHi       int
	rightLo, rightHi     int
}

// lineRegions computes matching/differing line regions via a character-coded
// line diff.
func (e *Engine) lineRegions(leftLines, rightLines []string) []region {
	codes := map[string]rune{}
	encode := func(lines []string) string {
		var b strings.Builder
		for _, line := range lines {
			key := e.normalize(line)
			r, ok := codes[key]
			if !ok {
				r = rune(len(codes) + 1)
				codes[key] = r
			}
			b.WriteRune(r)
		}
		return b.String()
	}
	text1 := encode(leftLines)
	text2 := encode(rightLines)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(text1, text2, false)

	var regions []region
	l, r := 0, 0
	var pending *region
	flush := func() {
		if pending != nil {
			regions = append(regions, *pending)
			pending = nil
		}
	}
	for _, d := range diffs {
		n := len([]rune(d.Text))
		if n == 0 {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			regions = append(regions, region{
				matching: true,
				leftLo:   l, leftHi: l + n,
				rightLo: r, rightHi: r + n,
			})
			l += n
			r += n
		case diffmatchpatch.DiffDelete:
			if pending == nil {
				pending = &region{leftLo: l, leftHi: l, rightLo: r, rightHi: r}
			}
			pending.leftHi += n
			l += n
		case diffmatchpatch.DiffInsert:
			if pending == nil {
				pending = &region{leftLo: l, leftHi: l, rightLo: r, rightHi: r}
			}
			pending.rightHi += n
			r += n
		}
	}
	flush()
	return regions
}

// Diff computes the unified hunks between left and right.
func (e *Engine) Diff(left, right []byte) []Hunk {
	leftLines := splitLines(left)
	rightLines := splitLines(right)
	regions := e.lineRegions(leftLines, rightLines)

	var hunks []Hunk
	current := Hunk{LeftStart: 1, LeftEnd: 1, RightStart: 1, RightEnd: 1}

	for ri, reg := range regions {
		if reg.matching {
			// Context comes from the right (new) side so the numbers match
			// what is displayed.
			lines := rightLines[reg.rightLo:reg.rightHi]

			taken := 0
			if len(current.Lines) > 0 {
				taken = min(e.contextLines, len(lines))
				current.extendContext(lines[:taken])
			}

			trailing := 0
			if ri < len(regions)-1 {
				trailing = min(e.contextLines, len(lines)-taken)
			}

			skipped := len(lines) - taken - trailing
			if skipped > 0 {
				leftStart := current.LeftEnd + skipped
				rightStart := current.RightEnd + skipped
				if len(current.Lines) > 0 {
					hunks = append(hunks, current)
				}
				current = Hunk{
					LeftStart: leftStart, LeftEnd: leftStart,
					RightStart: rightStart, RightEnd: rightStart,
				}
			}
			current.extendContext(lines[len(lines)-trailing:])
		} else {
			removed, added := e.refineWords(
				strings.Join(leftLines[reg.leftLo:reg.leftHi], ""),
				strings.Join(rightLines[reg.rightLo:reg.rightHi], ""),
			)
			current.extendRemoved(removed)
			current.extendAdded(added)
		}
	}

	if len(current.Lines) > 0 {
		hunks = append(hunks, current)
	}
	return hunks
}

func (h *Hunk) extendContext(lines []string) {
	for _, line := range lines {
		h.Lines = append(h.Lines, Line{
			Type:   Context,
			Tokens: []Token{{Type: TokenMatching, Text: line}},
		})
	}
	h.LeftEnd += len(lines)
	h.RightEnd += len(lines)
}

func (h *Hunk) extendRemoved(lines [][]Token) {
	for _, tokens := range lines {
		h.Lines = append(h.Lines, Line{Type: Removed, Tokens: tokens})
	}
	h.LeftEnd += len(lines)
}

func (h *Hunk) extendAdded(lines [][]Token) {
	for _, tokens := range lines {
		h.Lines = append(h.Lines, Line{Type: Added, Tokens: tokens})
	}
	h.RightEnd += len(lines)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
