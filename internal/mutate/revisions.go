// Whole-commit mutations: abandon, describe, checkout, create, duplicate,
// undo.
package mutate

import (
	"fmt"

	"keel/internal/errors"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

// AbandonRevisions removes commits from the graph; descendants re-parent
// onto the abandoned commits' parents.
type AbandonRevisions struct {
	IDs []string `json:"ids"`
}

func (m AbandonRevisions) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	var commits []*store.Commit
	var ids []store.CommitID
	for _, id := range m.IDs {
		c, err := ws.ResolveID(id)
		if err != nil {
			if errors.IsNotFound(err) {
				return messages.NotFound{}, nil
			}
			return nil, err
		}
		if c.ID == ws.Store().RootCommitID() {
			return precondition("Cannot abandon the root commit")
		}
		commits = append(commits, c)
		ids = append(ids, c.ID)
	}
	if len(commits) == 0 {
		return messages.Unchanged{}, nil
	}

	if immutable, err := ws.CheckImmutable(ids); err != nil {
		return nil, err
	} else if immutable {
		return precondition("Revisions are immutable")
	}

	tx := ws.StartTransaction()
	committed := false
	defer func() {
		if !committed {
			ws.AbortTransaction()
		}
	}()

	for _, c := range commits {
		tx.RecordAbandonedCommit(c)
	}
	if err := tx.RebaseDescendants(nil); err != nil {
		return nil, err
	}

	committed = true
	description := fmt.Sprintf("abandon %d commits", len(commits))
	if len(commits) == 1 {
		description = fmt.Sprintf("abandon commit %s", commits[0].ID.Short())
	}
	return finish(ws, tx, description)
}

// DescribeRevision replaces a commit's description.
type DescribeRevision struct {
	ID             string `json:"id"`
	NewDescription string `json:"new_description"`
}

func (m DescribeRevision) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	c, err := ws.ResolveID(m.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.NotFound{}, nil
		}
		return nil, err
	}
	if c.ID == ws.Store().RootCommitID() {
		return precondition("Cannot describe the root commit")
	}
	if immutable, err := ws.IsImmutable(c.ID); err != nil {
		return nil, err
	} else if immutable {
		return precondition("Revision is immutable")
	}
	if c.Description == m.NewDescription {
		return messages.Unchanged{}, nil
	}

	tx := ws.StartTransaction()
	committed := false
	defer func() {
		if !committed {
			ws.AbortTransaction()
		}
	}()

	if _, err := tx.RewriteCommit(c).SetDescription(m.NewDescription).Write(); err != nil {
		return nil, err
	}
	if err := tx.RebaseDescendants(nil); err != nil {
		return nil, err
	}

	committed = true
	return finish(ws, tx, fmt.Sprintf("describe commit %s", c.ID.Short()))
}

// CheckoutRevision moves the working copy to an existing commit.
type CheckoutRevision struct {
	ID string `json:"id"`
}

func (m CheckoutRevision) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	c, err := ws.ResolveID(m.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.NotFound{}, nil
		}
		return nil, err
	}
	if immutable, err := ws.IsImmutable(c.ID); err != nil {
		return nil, err
	} else if immutable {
		return precondition("Revision is immutable")
	}
	if ws.Store().View().WorkingCopy == c.ID {
		return messages.Unchanged{}, nil
	}

	tx := ws.StartTransaction()
	committed := false
	defer func() {
		if !committed {
			ws.AbortTransaction()
		}
	}()

	tx.UpdateView(func(v *store.View) {
		v.WorkingCopy = c.ID
	})

	committed = true
	status, err := ws.FinishTransaction(tx, fmt.Sprintf("edit commit %s", c.ID.Short()))
	if err != nil {
		return nil, err
	}
	if status == nil {
		return messages.Unchanged{}, nil
	}
	return messages.UpdatedSelection{
		NewStatus:    *status,
		NewSelection: status.WorkingCopy,
	}, nil
}

// CreateRevision starts a new empty commit on top of the given parents and
// selects it as the working copy.
type CreateRevision struct {
	ParentIDs []string `json:"parent_ids"`
}

func (m CreateRevision) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	if len(m.ParentIDs) == 0 {
		return precondition("A new revision needs at least one parent")
	}

	var parents []store.CommitID
	seen := map[store.CommitID]bool{}
	for _, id := range m.ParentIDs {
		c, err := ws.ResolveID(id)
		if err != nil {
			if errors.IsNotFound(err) {
				return messages.NotFound{}, nil
			}
			return nil, err
		}
		if !seen[c.ID] {
			seen[c.ID] = true
			parents = append(parents, c.ID)
		}
	}

	s := ws.Store()
	tree, err := s.MergedParentTree(&store.Commit{Parents: parents})
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

	c, err := tx.NewCommit(parents, tree.ID, "")
	if err != nil {
		return nil, err
	}
	tx.UpdateView(func(v *store.View) {
		v.WorkingCopy = c.ID
		v.Heads = replaceHeads(v.Heads, seen, c.ID)
	})

	committed = true
	status, err := ws.FinishTransaction(tx, "new empty commit")
	if err != nil {
		return nil, err
	}
	if status == nil {
		return messages.Unchanged{}, nil
	}
	return messages.UpdatedSelection{
		NewStatus:    *status,
		NewSelection: status.WorkingCopy,
	}, nil
}

// replaceHeads drops heads that just gained a child and appends the child.
func replaceHeads(heads []store.CommitID, parents map[store.CommitID]bool, child store.CommitID) []store.CommitID {
	out := heads[:0]
	for _, h := range heads {
		if !parents[h] {
			out = append(out, h)
		}
	}
	return append(out, child)
}

// DuplicateRevisions copies commits in place: same parents, tree and
// description, new identity.
type DuplicateRevisions struct {
	IDs []string `json:"ids"`
}

func (m DuplicateRevisions) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	var commits []*store.Commit
	for _, id := range m.IDs {
		c, err := ws.ResolveID(id)
		if err != nil {
			if errors.IsNotFound(err) {
				return messages.NotFound{}, nil
			}
			return nil, err
		}
		commits = append(commits, c)
	}
	if len(commits) == 0 {
		return messages.Unchanged{}, nil
	}

	tx := ws.StartTransaction()
	committed := false
	defer func() {
		if !committed {
			ws.AbortTransaction()
		}
	}()

	for _, c := range commits {
		dup, err := tx.NewCommit(c.Parents, c.Tree, c.Description)
		if err != nil {
			return nil, err
		}
		tx.UpdateView(func(v *store.View) {
			v.Heads = append(v.Heads, dup.ID)
		})
	}

	committed = true
	description := fmt.Sprintf("duplicate %d commits", len(commits))
	if len(commits) == 1 {
		description = fmt.Sprintf("duplicate commit %s", commits[0].ID.Short())
	}
	return finish(ws, tx, description)
}

// UndoOperation rolls the view back to before the latest operation. The
// selection moves to wherever the working copy was then.
type UndoOperation struct{}

func (UndoOperation) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	if _, err := ws.Undo(); err != nil {
		if err == store.ErrNoUndo {
			return messages.PreconditionError{Message: err.Error()}, nil
		}
		return nil, err
	}

	status, err := ws.FormatStatus()
	if err != nil {
		return nil, err
	}
	return messages.UpdatedSelection{
		NewStatus:    status,
		NewSelection: status.WorkingCopy,
	}, nil
}
