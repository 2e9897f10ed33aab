// internal/api/mutations.go
package api

import (
	"encoding/json"
	"fmt"

	"keel/internal/mutate"
	"keel/shared/messages"
)

// refPayload is shared by the ref mutations: the ref arrives as a tagged
// union plus whatever ids the operation needs.
type refPayload struct {
	ID      string          `json:"id"`
	ToID    string          `json:"to_id"`
	NewName string          `json:"new_name"`
	Ref     json.RawMessage `json:"ref"`
}

func (p refPayload) storeRef() (messages.StoreRef, error) {
	if len(p.Ref) == 0 {
		return nil, fmt.Errorf("missing ref")
	}
	return messages.UnmarshalStoreRef(p.Ref)
}

func decodeMutation(kind string, payload json.RawMessage) (mutate.Mutation, error) {
	switch kind {
	case "move_hunk":
		var m mutate.MoveHunk
		return m, json.Unmarshal(payload, &m)
	case "copy_hunk":
		var m mutate.CopyHunk
		return m, json.Unmarshal(payload, &m)
	case "abandon_revisions":
		var m mutate.AbandonRevisions
		return m, json.Unmarshal(payload, &m)
	case "describe_revision":
		var m mutate.DescribeRevision
		return m, json.Unmarshal(payload, &m)
	case "checkout_revision":
		var m mutate.CheckoutRevision
		return m, json.Unmarshal(payload, &m)
	case "create_revision":
		var m mutate.CreateRevision
		return m, json.Unmarshal(payload, &m)
	case "duplicate_revisions":
		var m mutate.DuplicateRevisions
		return m, json.Unmarshal(payload, &m)
	case "undo_operation":
		return mutate.UndoOperation{}, nil

	case "create_ref":
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ref, err := p.storeRef()
		if err != nil {
			return nil, err
		}
		return mutate.CreateRef{ID: p.ID, Ref: ref}, nil
	case "delete_ref":
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ref, err := p.storeRef()
		if err != nil {
			return nil, err
		}
		return mutate.DeleteRef{Ref: ref}, nil
	case "move_ref":
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ref, err := p.storeRef()
		if err != nil {
			return nil, err
		}
		return mutate.MoveRef{Ref: ref, ToID: p.ToID}, nil
	case "rename_branch":
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ref, err := p.storeRef()
		if err != nil {
			return nil, err
		}
		return mutate.RenameBranch{Ref: ref, NewName: p.NewName}, nil
	case "track_branch":
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ref, err := p.storeRef()
		if err != nil {
			return nil, err
		}
		return mutate.TrackBranch{Ref: ref}, nil
	case "untrack_branch":
		var p refPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		ref, err := p.storeRef()
		if err != nil {
			return nil, err
		}
		return mutate.UntrackBranch{Ref: ref}, nil
	}
	return nil, fmt.Errorf("unknown mutation type %q", kind)
}
