// Read-side queries over a workspace: revision detail and remotes.
package query

import (
	"sort"

	"keel/internal/diff"
	"keel/internal/errors"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

const defaultContextLines = 3

// Revision resolves an id or prefix and assembles the full detail view:
// header, parent headers, per-path changes against the merged parent tree,
// and unresolved conflicts inherited from the parents. contextLines sets the
// unchanged lines drawn around each hunk; non-positive values take the
// default.
func Revision(ws *session.Workspace, id string, contextLines int) (messages.RevResult, error) {
	if contextLines <= 0 {
		contextLines = defaultContextLines
	}
	commit, err := ws.ResolveID(id)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.RevNotFound{ID: id}, nil
		}
		return nil, err
	}

	s := ws.Store()
	parentTree, err := s.MergedParentTree(commit)
	if err != nil {
		return nil, err
	}
	tree, err := s.TreeOf(commit)
	if err != nil {
		return nil, err
	}

	conflicts, err := collectConflicts(s, parentTree, contextLines)
	if err != nil {
		return nil, err
	}

	changes, err := treeChanges(s, parentTree, tree, contextLines)
	if err != nil {
		return nil, err
	}

	header, err := ws.FormatHeader(commit, nil)
	if err != nil {
		return nil, err
	}

	// An immutable commit only has immutable ancestors, so the parents
	// inherit the flag without re-evaluating the predicate.
	var parents []messages.RevHeader
	for _, pid := range commit.Parents {
		parent, err := ws.GetCommit(pid)
		if err != nil {
			return nil, err
		}
		var known *bool
		if header.IsImmutable {
			t := true
			known = &t
		}
		ph, err := ws.FormatHeader(parent, known)
		if err != nil {
			return nil, err
		}
		parents = append(parents, ph)
	}

	return messages.RevDetail{
		Header:    header,
		Parents:   parents,
		Changes:   changes,
		Conflicts: conflicts,
	}, nil
}

// Remotes lists configured remotes, optionally narrowed to those tracking
// the given branch.
func Remotes(ws *session.Workspace, trackingBranch string) ([]string, error) {
	return ws.QueryRemotes(trackingBranch)
}

func collectConflicts(s *store.Store, parentTree *store.Tree, contextLines int) ([]messages.RevConflict, error) {
	var conflicts []messages.RevConflict
	for _, path := range parentTree.Paths() {
		value := parentTree.Value(path)
		if value.IsResolved() {
			continue
		}
		content, err := s.MaterializeValue(path, value)
		if err != nil {
			return nil, err
		}
		hunks := UnifiedHunks(contextLines, content, nil)
		if len(hunks) > 0 {
			conflicts = append(conflicts, messages.RevConflict{
				Path: path,
				Hunk: hunks[len(hunks)-1],
			})
		}
	}
	return conflicts, nil
}

func treeChanges(s *store.Store, before, after *store.Tree, contextLines int) ([]messages.RevChange, error) {
	paths := map[string]bool{}
	for _, p := range before.Paths() {
		paths[p] = true
	}
	for _, p := range after.Paths() {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var changes []messages.RevChange
	for _, path := range sorted {
		bv := before.Value(path)
		av := after.Value(path)
		if bv.Equal(av) {
			continue
		}

		var kind messages.ChangeKind
		switch {
		case bv != nil && av != nil:
			kind = messages.ChangeModified
		case bv == nil:
			kind = messages.ChangeAdded
		default:
			kind = messages.ChangeDeleted
		}

		hunks, err := valueHunks(s, path, bv, av, contextLines)
		if err != nil {
			return nil, err
		}

		changes = append(changes, messages.RevChange{
			Path:        path,
			Kind:        kind,
			HasConflict: !av.IsResolved(),
			Hunks:       hunks,
		})
	}
	return changes, nil
}

func valueHunks(s *store.Store, path string, before, after *store.TreeValue, contextLines int) ([]messages.ChangeHunk, error) {
	var left, right []byte
	var err error
	if before != nil {
		if left, err = valueContents(s, path, before); err != nil {
			return nil, err
		}
	}
	if after != nil {
		if right, err = valueContents(s, path, after); err != nil {
			return nil, err
		}
	}
	return UnifiedHunks(contextLines, left, right), nil
}

// valueContents renders a value for diffing. Binary files collapse to a
// placeholder using the git heuristic, matching what the log view shows.
func valueContents(s *store.Store, path string, v *store.TreeValue) ([]byte, error) {
	content, err := s.MaterializeValue(path, v)
	if err != nil {
		return nil, err
	}
	if v.Kind == store.KindFile && diff.IsBinary(content) {
		return []byte("(binary)"), nil
	}
	return content, nil
}

// UnifiedHunks diffs two buffers and converts the result to wire hunks,
// tagging each line with its leading marker character.
func UnifiedHunks(contextLines int, left, right []byte) []messages.ChangeHunk {
	engine := diff.NewEngine(contextLines, diff.CompareExact)
	var out []messages.ChangeHunk
	for _, h := range engine.Diff(left, right) {
		hunk := messages.ChangeHunk{
			Location: messages.HunkLocation{
				FromFile: messages.FileRange{Start: h.LeftStart, Len: h.LeftLen()},
				ToFile:   messages.FileRange{Start: h.RightStart, Len: h.RightLen()},
			},
		}
		for _, line := range h.Lines {
			var marker string
			switch line.Type {
			case diff.Removed:
				marker = "-"
			case diff.Added:
				marker = "+"
			default:
				marker = " "
			}
			hunk.Lines = append(hunk.Lines, marker+line.Text())
		}
		out = append(out, hunk)
	}
	return out
}
