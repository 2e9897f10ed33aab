// internal/store/types.go
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CommitID identifies a commit. Hex-encoded sha256.
type CommitID string

// TreeID identifies a tree snapshot.
type TreeID string

// BlobID identifies file content.
type BlobID string

func (id CommitID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// ValueKind discriminates TreeValue variants.
type ValueKind string

const (
	KindFile      ValueKind = "file"
	KindSymlink   ValueKind = "symlink"
	KindSubmodule ValueKind = "submodule"
	KindConflict  ValueKind = "conflict"
)

// TreeValue is a single entry in a tree: a file, a symlink, a submodule, or
// an unresolved conflict carrying its candidate sides. A nil *TreeValue means
// the path is absent.
type TreeValue struct {
	Kind       ValueKind `json:"kind"`
	Blob       BlobID    `json:"blob,omitempty"`
	Executable bool      `json:"executable,omitempty"`
	CopyID     string    `json:"copy_id,omitempty"`
	Target     string    `json:"target,omitempty"` // symlink target
	Commit     string    `json:"commit,omitempty"` // submodule commit

	// Conflict sides. Base is the common ancestor value, Left and Right the
	// diverging candidates; any of them may be nil (absent on that side).
	Base  *TreeValue `json:"base,omitempty"`
	Left  *TreeValue `json:"left,omitempty"`
	Right *TreeValue `json:"right,omitempty"`
}

func FileValue(blob BlobID, executable bool) *TreeValue {
	return &TreeValue{Kind: KindFile, Blob: blob, Executable: executable}
}

func SymlinkValue(target string) *TreeValue {
	return &TreeValue{Kind: KindSymlink, Target: target}
}

func ConflictValue(base, left, right *TreeValue) *TreeValue {
	return &TreeValue{Kind: KindConflict, Base: base, Left: left, Right: right}
}

// IsResolved reports whether the value is a single candidate.
func (v *TreeValue) IsResolved() bool {
	return v == nil || v.Kind != KindConflict
}

// Equal compares two values structurally. Nil equals nil.
func (v *TreeValue) Equal(other *TreeValue) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindFile:
		return v.Blob == other.Blob && v.Executable == other.Executable && v.CopyID == other.CopyID
	case KindSymlink:
		return v.Target == other.Target
	case KindSubmodule:
		return v.Commit == other.Commit
	case KindConflict:
		return v.Base.Equal(other.Base) && v.Left.Equal(other.Left) && v.Right.Equal(other.Right)
	}
	return false
}

// Commit is an immutable node in the history DAG. Rewriting always produces a
// new commit; nothing is mutated in place.
type Commit struct {
	ID          CommitID   `json:"id"`
	Parents     []CommitID `json:"parents"`
	Tree        TreeID     `json:"tree"`
	Description string     `json:"description"`
}

// hashCommit derives a commit id. The nonce distinguishes rewrites that keep
// identical content.
func hashCommit(parents []CommitID, tree TreeID, description, nonce string) CommitID {
	h := sha256.New()
	for _, p := range parents {
		fmt.Fprintf(h, "parent %s\n", p)
	}
	fmt.Fprintf(h, "tree %s\n", tree)
	fmt.Fprintf(h, "nonce %s\n", nonce)
	h.Write([]byte(description))
	return CommitID(hex.EncodeToString(h.Sum(nil)))
}

func hashBytes(prefix string, data []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s %d\x00", prefix, len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EdgeType classifies a graph edge produced by iteration.
type EdgeType int

const (
	// EdgeDirect links a commit to a parent present in the iterated set.
	EdgeDirect EdgeType = iota
	// EdgeIndirect links across one or more elided commits.
	EdgeIndirect
	// EdgeMissing points at a commit outside the iterated set.
	EdgeMissing
)

// GraphEdge is one outgoing edge of an iterated commit.
type GraphEdge struct {
	Target CommitID
	Type   EdgeType
}

// CommitEdges pairs a commit with its outgoing edges, in iteration order.
type CommitEdges struct {
	Commit CommitID
	Edges  []GraphEdge
}

func marshalEntity(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling entity: %w", err)
	}
	return data, nil
}
