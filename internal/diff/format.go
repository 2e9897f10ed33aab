// internal/diff/format.go
package diff

import (
	"bytes"
	"fmt"
)

// FormatUnified renders hunks in the familiar unified-diff text form.
func FormatUnified(hunks []Hunk) string {
	var buf bytes.Buffer

	for _, hunk := range hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.LeftStart, hunk.LeftLen(),
			hunk.RightStart, hunk.RightLen())

		for _, line := range hunk.Lines {
			switch line.Type {
			case Added:
				buf.WriteString("+")
			case Removed:
				buf.WriteString("-")
			case Context:
				buf.WriteString(" ")
			}
			buf.WriteString(line.Text())
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
