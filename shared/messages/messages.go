// Display and wire types shared between the engine, the API and the CLI.
package messages

import (
	"encoding/json"
	"fmt"
)

// RevHeader summarises a revision for display.
type RevHeader struct {
	CommitID    string     `json:"commit_id"`
	ShortID     string     `json:"short_id"`
	Description string     `json:"description"`
	IsImmutable bool       `json:"is_immutable"`
	HasConflict bool       `json:"has_conflict"`
	Refs        []StoreRef `json:"refs,omitempty"`
}

// RepoStatus describes the session after a mutation or reload.
type RepoStatus struct {
	OperationID string    `json:"operation_id"`
	WorkingCopy RevHeader `json:"working_copy"`
}

// LogCoordinates addresses a cell in the rendered log grid.
type LogCoordinates struct {
	Column int `json:"column"`
	Row    int `json:"row"`
}

// LineKind selects how a connector line is drawn.
type LineKind string

const (
	LineFromNode       LineKind = "from_node"
	LineToNode         LineKind = "to_node"
	LineToIntersection LineKind = "to_intersection"
	LineToMissing      LineKind = "to_missing"
)

// LogLine is a connector between two grid coordinates.
type LogLine struct {
	Kind     LineKind       `json:"kind"`
	Indirect bool           `json:"indirect"`
	Source   LogCoordinates `json:"source"`
	Target   LogCoordinates `json:"target"`
}

// LogRow places one revision in the grid together with its connectors.
type LogRow struct {
	Revision RevHeader      `json:"revision"`
	Location LogCoordinates `json:"location"`
	Padding  int            `json:"padding"`
	Lines    []LogLine      `json:"lines"`
}

// LogPage is one increment of the paginated log.
type LogPage struct {
	Rows    []LogRow `json:"rows"`
	HasMore bool     `json:"has_more"`
}

// FileRange is a 1-based line range within one side of a diff.
type FileRange struct {
	Start int `json:"start"`
	Len   int `json:"len"`
}

// HunkLocation addresses a hunk in both sides of a diff.
type HunkLocation struct {
	FromFile FileRange `json:"from_file"`
	ToFile   FileRange `json:"to_file"`
}

// ChangeHunk is a contiguous diff region. Each line carries its tag as the
// first character: " " context, "-" removed, "+" added.
type ChangeHunk struct {
	Location HunkLocation `json:"location"`
	Lines    []string     `json:"lines"`
}

// ChangeKind classifies a changed path.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// RevChange is one changed path in a revision's diff against its parents.
type RevChange struct {
	Path        string       `json:"path"`
	Kind        ChangeKind   `json:"kind"`
	HasConflict bool         `json:"has_conflict"`
	Hunks       []ChangeHunk `json:"hunks"`
}

// RevConflict is an unresolved path inherited from the parent tree.
type RevConflict struct {
	Path string     `json:"path"`
	Hunk ChangeHunk `json:"hunk"`
}

// RevResult is the outcome of a revision detail query.
type RevResult interface{ revResult() }

type RevNotFound struct {
	ID string `json:"id"`
}

type RevDetail struct {
	Header    RevHeader     `json:"header"`
	Parents   []RevHeader   `json:"parents"`
	Changes   []RevChange   `json:"changes"`
	Conflicts []RevConflict `json:"conflicts"`
}

func (RevNotFound) revResult() {}
func (RevDetail) revResult()   {}

// MutationResult is the outcome of executing one mutation.
type MutationResult interface{ mutationResult() }

type Updated struct {
	NewStatus RepoStatus `json:"new_status"`
}

type UpdatedSelection struct {
	NewStatus    RepoStatus `json:"new_status"`
	NewSelection RevHeader  `json:"new_selection"`
}

type PreconditionError struct {
	Message string `json:"message"`
}

type Unchanged struct{}

type NotFound struct{}

func (Updated) mutationResult()           {}
func (UpdatedSelection) mutationResult()  {}
func (PreconditionError) mutationResult() {}
func (Unchanged) mutationResult()         {}
func (NotFound) mutationResult()          {}

// StoreRef is a named pointer into the store: a tag, a local bookmark or a
// remote bookmark. The variant set is closed so dispatch stays exhaustive.
type StoreRef interface {
	storeRef()
	// AsBranch returns the branch name, or an error for refs that have none.
	AsBranch() (string, error)
}

type Tag struct {
	TagName string `json:"tag_name"`
}

type LocalBookmark struct {
	BranchName string `json:"branch_name"`
}

type RemoteBookmark struct {
	BranchName string `json:"branch_name"`
	RemoteName string `json:"remote_name"`
	IsTracked  bool   `json:"is_tracked"`
}

func (Tag) storeRef()            {}
func (LocalBookmark) storeRef()  {}
func (RemoteBookmark) storeRef() {}

func (t Tag) AsBranch() (string, error) {
	return "", fmt.Errorf("%s is a tag, not a branch", t.TagName)
}

func (b LocalBookmark) AsBranch() (string, error) { return b.BranchName, nil }

func (b RemoteBookmark) AsBranch() (string, error) { return b.BranchName, nil }

// UnmarshalStoreRef decodes the wire form of a StoreRef, discriminated by a
// "type" field.
func UnmarshalStoreRef(data []byte) (StoreRef, error) {
	var raw struct {
		Type       string `json:"type"`
		TagName    string `json:"tag_name"`
		BranchName string `json:"branch_name"`
		RemoteName string `json:"remote_name"`
		IsTracked  bool   `json:"is_tracked"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	switch raw.Type {
	case "tag":
		return Tag{TagName: raw.TagName}, nil
	case "local_bookmark":
		return LocalBookmark{BranchName: raw.BranchName}, nil
	case "remote_bookmark":
		return RemoteBookmark{
			BranchName: raw.BranchName,
			RemoteName: raw.RemoteName,
			IsTracked:  raw.IsTracked,
		}, nil
	}
	return nil, fmt.Errorf("unknown ref type %q", raw.Type)
}
