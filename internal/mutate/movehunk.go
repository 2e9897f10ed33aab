// internal/mutate/movehunk.go
package mutate

import (
	"fmt"

	"keel/internal/errors"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

// MoveHunk transplants one diff hunk from a source revision into a
// destination revision, in either direction along the graph.
//
// The algorithm is split, rebase, squash. A virtual sibling tree holds just
// the hunk over the source's parent; backing the sibling out of the source
// yields the remainder, and merging the sibling into the destination applies
// the hunk. Descendants are rebased in an order that depends on the ancestry
// between source and destination.
type MoveHunk struct {
	FromID string              `json:"from_id"`
	ToID   string              `json:"to_id"`
	Path   string              `json:"path"`
	Hunk   messages.ChangeHunk `json:"hunk"`
}

func (m MoveHunk) Execute(ws *session.Workspace) (messages.MutationResult, error) {
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

	if immutable, err := ws.CheckImmutable([]store.CommitID{from.ID, to.ID}); err != nil {
		return nil, err
	} else if immutable {
		return precondition("Revisions are immutable")
	}

	if len(from.Parents) != 1 {
		return precondition("Cannot move hunk from a merge commit")
	}

	s := ws.Store()
	base, err := ws.GetCommit(from.Parents[0])
	if err != nil {
		return nil, err
	}
	baseTree, err := s.TreeOf(base)
	if err != nil {
		return nil, err
	}
	fromTree, err := s.TreeOf(from)
	if err != nil {
		return nil, err
	}

	// The sibling tree is the base with only this hunk applied. The hunk was
	// computed against the base, so line numbers must match exactly.
	baseContent, err := s.ReadFile(baseTree, m.Path)
	if err != nil {
		return nil, err
	}
	siblingContent, err := applyHunkToBase(baseContent, m.Hunk)
	if err != nil {
		return nil, err
	}
	siblingBlob, err := s.Blobs().Write(siblingContent)
	if err != nil {
		return nil, err
	}
	siblingTree, err := updateTreeEntry(s, baseTree, m.Path, siblingBlob, fileExecutable(fromTree, m.Path))
	if err != nil {
		return nil, err
	}

	// Backing the sibling out of the source leaves the remainder.
	remainderTree, err := s.MergeTrees(fromTree, siblingTree, baseTree)
	if err != nil {
		return nil, err
	}

	toTree, err := s.TreeOf(to)
	if err != nil {
		return nil, err
	}
	newToTree, err := s.MergeTrees(toTree, baseTree, siblingTree)
	if err != nil {
		return nil, err
	}

	abandonSource := remainderTree.ID == baseTree.ID
	description := combineMessages(from, to, abandonSource)

	fromIsAncestor, err := s.IsAncestor(from.ID, to.ID)
	if err != nil {
		return nil, err
	}
	toIsAncestor, err := s.IsAncestor(to.ID, from.ID)
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

	if toIsAncestor {
		// Child to parent: apply the hunk to the ancestor first, then the
		// source and everything downstream rebase onto the modified ancestor.
		if _, err := tx.RewriteCommit(to).SetTree(newToTree.ID).SetDescription(description).Write(); err != nil {
			return nil, err
		}
		if abandonSource {
			tx.RecordAbandonedCommit(from)
		} else {
			if _, err := tx.RewriteCommit(from).SetTree(remainderTree.ID).Write(); err != nil {
				return nil, err
			}
		}
		if err := tx.RebaseDescendants(nil); err != nil {
			return nil, err
		}
	} else {
		if abandonSource {
			tx.RecordAbandonedCommit(from)
		} else {
			if _, err := tx.RewriteCommit(from).SetTree(remainderTree.ID).Write(); err != nil {
				return nil, err
			}
		}

		if fromIsAncestor {
			// Parent to child: the destination rebases onto the modified
			// source, so its tree changes. Recompute the hunk application
			// against the rebased destination.
			rebaseMap := map[store.CommitID]store.CommitID{}
			if err := tx.RebaseDescendants(func(old, succ store.CommitID) {
				rebaseMap[old] = succ
			}); err != nil {
				return nil, err
			}
			rebasedID, ok := rebaseMap[to.ID]
			if !ok {
				return nil, errors.Internal("descendant %s not found in rebase map", to.ID.Short())
			}
			to, err = ws.GetCommit(rebasedID)
			if err != nil {
				return nil, err
			}
			toTree, err = s.TreeOf(to)
			if err != nil {
				return nil, err
			}
			newToTree, err = s.MergeTrees(toTree, baseTree, siblingTree)
			if err != nil {
				return nil, err
			}
		}

		if _, err := tx.RewriteCommit(to).SetTree(newToTree.ID).SetDescription(description).Write(); err != nil {
			return nil, err
		}
		if err := tx.RebaseDescendants(nil); err != nil {
			return nil, err
		}
	}

	committed = true
	return finish(ws, tx, fmt.Sprintf("move hunk in %s from %s to %s", m.Path, from.ID.Short(), to.ID.Short()))
}
