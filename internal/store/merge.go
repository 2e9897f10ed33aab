// internal/store/merge.go
package store

import (
	"fmt"
)

// MergeTrees computes side1 + side2 - base, per path. This is the only merge
// primitive; hunk transplants are synthesised from it.
func (s *Store) MergeTrees(side1, base, side2 *Tree) (*Tree, error) {
	paths := make(map[string]struct{})
	for p := range side1.Entries {
		paths[p] = struct{}{}
	}
	for p := range base.Entries {
		paths[p] = struct{}{}
	}
	for p := range side2.Entries {
		paths[p] = struct{}{}
	}

	entries := make(map[string]*TreeValue)
	for path := range paths {
		merged, err := s.mergeValues(path, side1.Value(path), base.Value(path), side2.Value(path))
		if err != nil {
			return nil, err
		}
		if merged != nil {
			entries[path] = merged
		}
	}
	return s.writeTree(entries)
}

// mergeValues resolves one path. Trivial cases resolve structurally; three
// distinct file values fall through to a content merge.
func (s *Store) mergeValues(path string, v1, vb, v2 *TreeValue) (*TreeValue, error) {
	switch {
	case v1.Equal(v2):
		return v1, nil
	case v2.Equal(vb):
		return v1, nil
	case v1.Equal(vb):
		return v2, nil
	}

	// Divergent sides. Only plain files (or absence against files) can be
	// merged by content.
	if fileOrAbsent(v1) && fileOrAbsent(vb) && fileOrAbsent(v2) && (v1 != nil || v2 != nil) {
		return s.mergeFileValues(path, v1, vb, v2)
	}
	return ConflictValue(vb, v1, v2), nil
}

func fileOrAbsent(v *TreeValue) bool {
	return v == nil || v.Kind == KindFile
}

func (s *Store) mergeFileValues(path string, v1, vb, v2 *TreeValue) (*TreeValue, error) {
	c1, err := s.valueBytes(v1)
	if err != nil {
		return nil, err
	}
	cb, err := s.valueBytes(vb)
	if err != nil {
		return nil, err
	}
	c2, err := s.valueBytes(v2)
	if err != nil {
		return nil, err
	}

	merged, conflicted := mergeFileLines(cb, c1, c2, false)
	if conflicted {
		return ConflictValue(vb, v1, v2), nil
	}

	// A side that deleted the file wins only if the other side left it
	// untouched, which the structural cases above already handled; here both
	// sides contributed content.
	blob, err := s.blobs.Write(merged)
	if err != nil {
		return nil, fmt.Errorf("writing merged content for %s: %w", path, err)
	}
	executable := false
	if v1 != nil && v1.Executable {
		executable = true
	}
	if v2 != nil && v2.Executable {
		executable = true
	}
	return FileValue(blob, executable), nil
}

func (s *Store) valueBytes(v *TreeValue) ([]byte, error) {
	if v == nil {
		return []byte{}, nil
	}
	return s.blobs.Read(v.Blob)
}

// MergedParentTree merges a commit's parent trees into the single tree its
// own tree is diffed against. One parent returns its tree directly; merges
// fold pairwise against the parents' common ancestor tree.
func (s *Store) MergedParentTree(commit *Commit) (*Tree, error) {
	switch len(commit.Parents) {
	case 0:
		return s.GetTree(s.emptyTree)
	case 1:
		parent, err := s.GetCommit(commit.Parents[0])
		if err != nil {
			return nil, err
		}
		return s.GetTree(parent.Tree)
	}

	first, err := s.GetCommit(commit.Parents[0])
	if err != nil {
		return nil, err
	}
	merged, err := s.GetTree(first.Tree)
	if err != nil {
		return nil, err
	}
	for _, parentID := range commit.Parents[1:] {
		parent, err := s.GetCommit(parentID)
		if err != nil {
			return nil, err
		}
		side, err := s.GetTree(parent.Tree)
		if err != nil {
			return nil, err
		}
		baseID, err := s.commonAncestor(first.ID, parentID)
		if err != nil {
			return nil, err
		}
		baseCommit, err := s.GetCommit(baseID)
		if err != nil {
			return nil, err
		}
		baseTree, err := s.GetTree(baseCommit.Tree)
		if err != nil {
			return nil, err
		}
		merged, err = s.MergeTrees(merged, baseTree, side)
		if err != nil {
			return nil, err
		}
		first = parent
	}
	return merged, nil
}
