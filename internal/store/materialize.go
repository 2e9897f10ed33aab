// internal/store/materialize.go
package store

import "fmt"

// MaterializeValue renders a tree value to the bytes a diff or editor would
// see: file content, symlink target, a submodule marker, or marker-annotated
// merged text for an unresolved conflict.
func (s *Store) MaterializeValue(path string, v *TreeValue) ([]byte, error) {
	switch {
	case v == nil:
		return []byte{}, nil
	case v.Kind == KindFile:
		return s.blobs.Read(v.Blob)
	case v.Kind == KindSymlink:
		return []byte(v.Target), nil
	case v.Kind == KindSubmodule:
		return []byte("(submodule)"), nil
	case v.Kind == KindConflict:
		base, err := s.valueBytes(v.Base)
		if err != nil {
			return nil, fmt.Errorf("materializing conflict base at %s: %w", path, err)
		}
		left, err := s.valueBytes(v.Left)
		if err != nil {
			return nil, fmt.Errorf("materializing conflict side at %s: %w", path, err)
		}
		right, err := s.valueBytes(v.Right)
		if err != nil {
			return nil, fmt.Errorf("materializing conflict side at %s: %w", path, err)
		}
		merged, _ := mergeFileLines(base, left, right, true)
		return merged, nil
	}
	return nil, fmt.Errorf("unknown tree value kind %q at %s", v.Kind, path)
}
