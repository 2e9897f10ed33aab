// internal/mutate/copyhunk.go
package mutate

import (
	"bytes"
	"fmt"
	"strings"

	"keel/internal/errors"
	"keel/internal/session"
	"keel/shared/messages"
)

// CopyHunk restores one hunk of a file in the destination revision to its
// state in the source revision, splicing the source's line region over the
// destination's. Nothing else in the file moves.
type CopyHunk struct {
	FromID string              `json:"from_id"`
	ToID   string              `json:"to_id"`
	Path   string              `json:"path"`
	Hunk   messages.ChangeHunk `json:"hunk"`
}

func (m CopyHunk) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	from, err := ws.ResolveID(m.FromID)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.NotFound{}, nil
		}
		return nil, err
	}
	to, err := ws.ResolveID(m.ToID)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.NotFound{}, nil
		}
		return nil, err
	}

	if immutable, err := ws.IsImmutable(to.ID); err != nil {
		return nil, err
	} else if immutable {
		return precondition("Revision is immutable")
	}

	s := ws.Store()
	toTree, err := s.TreeOf(to)
	if err != nil {
		return nil, err
	}
	if !toTree.Value(m.Path).IsResolved() {
		return precondition("Cannot restore hunk: destination file has conflicts")
	}

	toContent, err := s.ReadFile(toTree, m.Path)
	if err != nil {
		return nil, err
	}
	toLines := splitPlainLines(toContent)

	toStart := m.Hunk.Location.ToFile.Start - 1
	if toStart < 0 {
		toStart = 0
	}
	toEnd := toStart + m.Hunk.Location.ToFile.Len
	if toEnd > len(toLines) {
		return precondition("Hunk location out of bounds: file has %d lines, hunk requires lines %d-%d",
			len(toLines), m.Hunk.Location.ToFile.Start, toEnd)
	}

	// The destination region must still look the way it did when the hunk was
	// computed. A mismatch means the caller's diff is stale, which is a bug
	// upstream, not a refusable request.
	var expected []string
	for _, line := range m.Hunk.Lines {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "+") {
			expected = append(expected, strings.TrimRight(line[1:], " \t\r\n"))
		}
	}
	actual := toLines[toStart:toEnd]
	if len(expected) != len(actual) {
		return nil, errors.Internal("hunk validation failed: expected %d lines, found %d lines at destination",
			len(expected), len(actual))
	}
	for i := range expected {
		if strings.TrimRight(actual[i], " \t\r\n") != expected[i] {
			return nil, errors.Internal("hunk validation failed at line %d: expected %q, found %q",
				toStart+i+1, expected[i], actual[i])
		}
	}

	fromTree, err := s.TreeOf(from)
	if err != nil {
		return nil, err
	}
	fromContent, err := s.ReadFile(fromTree, m.Path)
	if err != nil {
		return nil, err
	}
	fromLines := splitPlainLines(fromContent)

	fromStart := m.Hunk.Location.FromFile.Start - 1
	if fromStart < 0 {
		fromStart = 0
	}
	fromEnd := fromStart + m.Hunk.Location.FromFile.Len
	if fromEnd > len(fromLines) {
		return precondition("Source hunk location out of bounds: file has %d lines, hunk requires lines %d-%d",
			len(fromLines), m.Hunk.Location.FromFile.Start, fromEnd)
	}

	var newLines []string
	newLines = append(newLines, toLines[:toStart]...)
	newLines = append(newLines, fromLines[fromStart:fromEnd]...)
	newLines = append(newLines, toLines[toEnd:]...)

	newContent := joinPlainLines(newLines, bytes.HasSuffix(toContent, []byte("\n")))
	if bytes.Equal(newContent, toContent) {
		return messages.Unchanged{}, nil
	}

	newBlob, err := s.Blobs().Write(newContent)
	if err != nil {
		return nil, err
	}
	newToTree, err := updateTreeEntry(s, toTree, m.Path, newBlob, fileExecutable(toTree, m.Path))
	if err != nil {
		return nil, err
	}

	tx := ws.StartTransaction()
	committed := false
	defer func() {
		if !committed {
			ws.AbortTransaction()
		}
	}()

	if _, err := tx.RewriteCommit(to).SetTree(newToTree.ID).Write(); err != nil {
		return nil, err
	}
	if err := tx.RebaseDescendants(nil); err != nil {
		return nil, err
	}

	committed = true
	return finish(ws, tx, fmt.Sprintf("restore hunk in %s from %s into %s", m.Path, from.ID.Short(), to.ID.Short()))
}
