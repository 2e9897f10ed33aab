// internal/store/tree.go
package store

import (
	"fmt"
	"sort"
)

// Tree is a content-addressed snapshot mapping repo-relative paths to values.
// Trees are immutable once written; use a TreeBuilder to derive new ones.
type Tree struct {
	ID      TreeID                `json:"id"`
	Entries map[string]*TreeValue `json:"entries"`
}

// Paths returns the tree's paths in sorted order.
func (t *Tree) Paths() []string {
	paths := make([]string, 0, len(t.Entries))
	for p := range t.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Value returns the entry at path, nil if absent.
func (t *Tree) Value(path string) *TreeValue {
	return t.Entries[path]
}

// HasConflict reports whether any entry is unresolved.
func (t *Tree) HasConflict() bool {
	for _, v := range t.Entries {
		if !v.IsResolved() {
			return true
		}
	}
	return false
}

// hashTree computes the tree id from its canonical serialised form.
func hashTree(entries map[string]*TreeValue) (TreeID, error) {
	type entry struct {
		Path  string     `json:"path"`
		Value *TreeValue `json:"value"`
	}
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	canonical := make([]entry, 0, len(paths))
	for _, p := range paths {
		canonical = append(canonical, entry{Path: p, Value: entries[p]})
	}
	data, err := marshalEntity(canonical)
	if err != nil {
		return "", err
	}
	return TreeID(hashBytes("tree", data)), nil
}

// TreeBuilder derives a new tree from a base plus sparse path overrides.
// A nil override value removes the path.
type TreeBuilder struct {
	base      *Tree
	overrides map[string]*TreeValue
}

func NewTreeBuilder(base *Tree) *TreeBuilder {
	return &TreeBuilder{
		base:      base,
		overrides: make(map[string]*TreeValue),
	}
}

// SetOrRemove stages an override. value == nil removes the path.
func (b *TreeBuilder) SetOrRemove(path string, value *TreeValue) {
	b.overrides[path] = value
}

// Write materialises the new tree into the store and returns it.
func (b *TreeBuilder) Write(s *Store) (*Tree, error) {
	entries := make(map[string]*TreeValue, len(b.base.Entries)+len(b.overrides))
	for p, v := range b.base.Entries {
		entries[p] = v
	}
	for p, v := range b.overrides {
		if v == nil {
			delete(entries, p)
		} else {
			entries[p] = v
		}
	}
	return s.writeTree(entries)
}

// ReadFile returns the bytes of the file value at path within tree. Absent
// paths and non-file values read as empty; unresolved conflicts materialise
// with markers, matching what a caller would diff against.
func (s *Store) ReadFile(tree *Tree, path string) ([]byte, error) {
	value := tree.Value(path)
	switch {
	case value == nil:
		return []byte{}, nil
	case value.Kind == KindFile:
		return s.blobs.Read(value.Blob)
	case value.Kind == KindConflict:
		return s.MaterializeValue(path, value)
	default:
		return []byte{}, nil
	}
}

func (s *Store) writeTree(entries map[string]*TreeValue) (*Tree, error) {
	id, err := hashTree(entries)
	if err != nil {
		return nil, err
	}
	tree := &Tree{ID: id, Entries: entries}
	if err := s.putTree(tree); err != nil {
		return nil, fmt.Errorf("writing tree: %w", err)
	}
	return tree, nil
}
