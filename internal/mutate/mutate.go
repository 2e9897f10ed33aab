// Mutations against a workspace session. Execution is transactional: each
// mutation stages rewrites, rebases descendants, and publishes one operation,
// or reports why it refused without touching the view.
package mutate

import (
	"bytes"
	"strings"

	"keel/internal/errors"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

// Mutation is one executable request. The variant set mirrors the wire
// protocol; adding a mutation means adding a type here.
type Mutation interface {
	Execute(ws *session.Workspace) (messages.MutationResult, error)
}

func precondition(format string, args ...any) (messages.MutationResult, error) {
	return messages.PreconditionError{Message: errors.Precondition(format, args...).Error()}, nil
}

// combineMessages merges descriptions when a squash empties its source.
func combineMessages(source, destination *store.Commit, abandonSource bool) string {
	if !abandonSource {
		return destination.Description
	}
	switch {
	case source.Description == "":
		return destination.Description
	case destination.Description == "":
		return source.Description
	default:
		return destination.Description + "\n" + source.Description
	}
}

// splitPlainLines splits content into lines without terminators, the way a
// text editor counts them. A trailing newline does not produce an empty line.
func splitPlainLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(content), "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// joinPlainLines reassembles lines, restoring the trailing newline only if
// the original content had one.
func joinPlainLines(lines []string, trailingNewline bool) []byte {
	var out bytes.Buffer
	for i, line := range lines {
		out.WriteString(line)
		if i < len(lines)-1 {
			out.WriteByte('\n')
		}
	}
	if trailingNewline && out.Len() > 0 {
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// applyHunkToBase reconstructs the file a virtual sibling commit would carry:
// the base content with exactly this hunk applied. The hunk was computed
// against this base, so context and removed lines must match exactly.
func applyHunkToBase(baseContent []byte, hunk messages.ChangeHunk) ([]byte, error) {
	baseLines := splitPlainLines(baseContent)
	trailingNewline := bytes.HasSuffix(baseContent, []byte("\n"))

	start := hunk.Location.FromFile.Start - 1
	if start < 0 {
		start = 0
	}
	if start > len(baseLines) {
		return nil, errors.Internal("hunk start %d beyond end of file (%d lines)",
			hunk.Location.FromFile.Start, len(baseLines))
	}

	result := append([]string(nil), baseLines[:start]...)
	baseIdx := start

	for _, diffLine := range hunk.Lines {
		if diffLine == "" {
			return nil, errors.Internal("malformed diff line: %q", diffLine)
		}
		switch diffLine[0] {
		case ' ', '-':
			expected := strings.TrimRight(diffLine[1:], " \t\r\n")
			if baseIdx >= len(baseLines) || strings.TrimRight(baseLines[baseIdx], " \t\r\n") != expected {
				found := "<EOF>"
				if baseIdx < len(baseLines) {
					found = strings.TrimRight(baseLines[baseIdx], " \t\r\n")
				}
				return nil, errors.Internal("hunk mismatch at line %d: expected %q, found %q",
					baseIdx+1, expected, found)
			}
			if diffLine[0] == ' ' {
				result = append(result, baseLines[baseIdx])
			}
			baseIdx++
		case '+':
			result = append(result, strings.TrimRight(diffLine[1:], "\n"))
		default:
			return nil, errors.Internal("malformed diff line: %q", diffLine)
		}
	}

	result = append(result, baseLines[baseIdx:]...)
	return joinPlainLines(result, trailingNewline), nil
}

// updateTreeEntry writes a single-file override over a base tree, producing a
// new content-addressed tree.
func updateTreeEntry(s *store.Store, base *store.Tree, path string, blob store.BlobID, executable bool) (*store.Tree, error) {
	builder := store.NewTreeBuilder(base)
	builder.SetOrRemove(path, store.FileValue(blob, executable))
	return builder.Write(s)
}

func fileExecutable(tree *store.Tree, path string) bool {
	v := tree.Value(path)
	return v != nil && v.Kind == store.KindFile && v.Executable
}

// finish commits the transaction and converts the outcome.
func finish(ws *session.Workspace, tx *store.Transaction, description string) (messages.MutationResult, error) {
	status, err := ws.FinishTransaction(tx, description)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return messages.Unchanged{}, nil
	}
	return messages.Updated{NewStatus: *status}, nil
}
