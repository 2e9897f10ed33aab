// Ref mutations over the closed StoreRef variant: tags, local bookmarks and
// remote bookmarks each have their own rules about what may be created,
// moved, renamed or tracked.
package mutate

import (
	"fmt"

	"keel/internal/errors"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

// CreateRef points a new tag or local bookmark at a commit. Remote bookmarks
// only come into existence through fetch.
type CreateRef struct {
	ID  string            `json:"id"`
	Ref messages.StoreRef `json:"ref"`
}

func (m CreateRef) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	c, err := ws.ResolveID(m.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.NotFound{}, nil
		}
		return nil, err
	}

	view := ws.Store().View()
	switch ref := m.Ref.(type) {
	case messages.RemoteBookmark:
		return precondition("%s@%s is a remote bookmark and cannot be created", ref.BranchName, ref.RemoteName)

	case messages.LocalBookmark:
		if _, exists := view.Bookmarks[ref.BranchName]; exists {
			return precondition("Bookmark %s already exists", ref.BranchName)
		}
		return updateView(ws, fmt.Sprintf("create bookmark %s", ref.BranchName), func(v *store.View) {
			v.Bookmarks[ref.BranchName] = c.ID
		})

	case messages.Tag:
		if _, exists := view.Tags[ref.TagName]; exists {
			return precondition("Tag %s already exists", ref.TagName)
		}
		return updateView(ws, fmt.Sprintf("create tag %s", ref.TagName), func(v *store.View) {
			v.Tags[ref.TagName] = c.ID
		})
	}
	return nil, errors.Internal("unknown ref variant %T", m.Ref)
}

// DeleteRef forgets a ref. Forgetting a bookmark drops its remote-tracking
// entries as well.
type DeleteRef struct {
	Ref messages.StoreRef `json:"ref"`
}

func (m DeleteRef) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	view := ws.Store().View()
	switch ref := m.Ref.(type) {
	case messages.LocalBookmark, messages.RemoteBookmark:
		name, err := m.Ref.AsBranch()
		if err != nil {
			return nil, err
		}
		_, local := view.Bookmarks[name]
		remote := false
		for _, branches := range view.RemoteBookmarks {
			if _, ok := branches[name]; ok {
				remote = true
			}
		}
		if !local && !remote {
			return precondition("No such bookmark: %s", name)
		}
		return updateView(ws, fmt.Sprintf("forget bookmark %s", name), func(v *store.View) {
			delete(v.Bookmarks, name)
			for _, branches := range v.RemoteBookmarks {
				delete(branches, name)
			}
		})

	case messages.Tag:
		if _, exists := view.Tags[ref.TagName]; !exists {
			return precondition("No such tag: %s", ref.TagName)
		}
		return updateView(ws, fmt.Sprintf("delete tag %s", ref.TagName), func(v *store.View) {
			delete(v.Tags, ref.TagName)
		})
	}
	return nil, errors.Internal("unknown ref variant %T", m.Ref)
}

// MoveRef repoints an existing tag or local bookmark. Fast-forwards are not
// enforced.
type MoveRef struct {
	Ref  messages.StoreRef `json:"ref"`
	ToID string            `json:"to_id"`
}

func (m MoveRef) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	c, err := ws.ResolveID(m.ToID)
	if err != nil {
		if errors.IsNotFound(err) {
			return messages.NotFound{}, nil
		}
		return nil, err
	}

	view := ws.Store().View()
	switch ref := m.Ref.(type) {
	case messages.RemoteBookmark:
		return precondition("Bookmark is remote: %s@%s", ref.BranchName, ref.RemoteName)

	case messages.LocalBookmark:
		target, exists := view.Bookmarks[ref.BranchName]
		if !exists {
			return precondition("No such bookmark: %s", ref.BranchName)
		}
		if target == c.ID {
			return messages.Unchanged{}, nil
		}
		return updateView(ws, fmt.Sprintf("move bookmark %s", ref.BranchName), func(v *store.View) {
			v.Bookmarks[ref.BranchName] = c.ID
		})

	case messages.Tag:
		if target, exists := view.Tags[ref.TagName]; exists && target == c.ID {
			return messages.Unchanged{}, nil
		}
		return updateView(ws, fmt.Sprintf("move tag %s", ref.TagName), func(v *store.View) {
			v.Tags[ref.TagName] = c.ID
		})
	}
	return nil, errors.Internal("unknown ref variant %T", m.Ref)
}

// RenameBranch renames a local bookmark. Remote-tracking entries keep the
// old name until the next push.
type RenameBranch struct {
	Ref     messages.StoreRef `json:"ref"`
	NewName string            `json:"new_name"`
}

func (m RenameBranch) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	name, err := m.Ref.AsBranch()
	if err != nil {
		return precondition("%s", err.Error())
	}
	if _, isRemote := m.Ref.(messages.RemoteBookmark); isRemote {
		return precondition("%s is a remote bookmark and cannot be renamed", name)
	}

	view := ws.Store().View()
	target, exists := view.Bookmarks[name]
	if !exists {
		return precondition("No such bookmark: %s", name)
	}
	if name == m.NewName {
		return messages.Unchanged{}, nil
	}
	if _, taken := view.Bookmarks[m.NewName]; taken {
		return precondition("Bookmark %s already exists", m.NewName)
	}

	return updateView(ws, fmt.Sprintf("rename bookmark %s to %s", name, m.NewName), func(v *store.View) {
		delete(v.Bookmarks, name)
		v.Bookmarks[m.NewName] = target
	})
}

// TrackBranch starts tracking a remote bookmark, creating the local
// bookmark at the remote target if it does not exist yet.
type TrackBranch struct {
	Ref messages.StoreRef `json:"ref"`
}

func (m TrackBranch) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	switch ref := m.Ref.(type) {
	case messages.Tag:
		return precondition("%s is a tag and cannot be tracked", ref.TagName)
	case messages.LocalBookmark:
		return precondition("%s is a local bookmark and cannot be tracked", ref.BranchName)
	case messages.RemoteBookmark:
		view := ws.Store().View()
		branches, ok := view.RemoteBookmarks[ref.RemoteName]
		if !ok {
			return messages.NotFound{}, nil
		}
		remoteRef, ok := branches[ref.BranchName]
		if !ok {
			return messages.NotFound{}, nil
		}
		if remoteRef.Tracked {
			return messages.Unchanged{}, nil
		}
		return updateView(ws, fmt.Sprintf("track remote bookmark %s@%s", ref.BranchName, ref.RemoteName), func(v *store.View) {
			entry := v.RemoteBookmarks[ref.RemoteName][ref.BranchName]
			entry.Tracked = true
			v.RemoteBookmarks[ref.RemoteName][ref.BranchName] = entry
			if _, exists := v.Bookmarks[ref.BranchName]; !exists {
				v.Bookmarks[ref.BranchName] = entry.Target
			}
		})
	}
	return nil, errors.Internal("unknown ref variant %T", m.Ref)
}

// UntrackBranch stops tracking: a remote bookmark stops tracking itself, a
// local bookmark unhooks every remote counterpart.
type UntrackBranch struct {
	Ref messages.StoreRef `json:"ref"`
}

func (m UntrackBranch) Execute(ws *session.Workspace) (messages.MutationResult, error) {
	switch ref := m.Ref.(type) {
	case messages.Tag:
		return precondition("%s is a tag and cannot be untracked", ref.TagName)

	case messages.RemoteBookmark:
		view := ws.Store().View()
		branches, ok := view.RemoteBookmarks[ref.RemoteName]
		if !ok {
			return messages.NotFound{}, nil
		}
		remoteRef, ok := branches[ref.BranchName]
		if !ok {
			return messages.NotFound{}, nil
		}
		if !remoteRef.Tracked {
			return messages.Unchanged{}, nil
		}
		return updateView(ws, fmt.Sprintf("untrack remote bookmark %s@%s", ref.BranchName, ref.RemoteName), func(v *store.View) {
			entry := v.RemoteBookmarks[ref.RemoteName][ref.BranchName]
			entry.Tracked = false
			v.RemoteBookmarks[ref.RemoteName][ref.BranchName] = entry
		})

	case messages.LocalBookmark:
		view := ws.Store().View()
		tracked := false
		for _, branches := range view.RemoteBookmarks {
			if entry, ok := branches[ref.BranchName]; ok && entry.Tracked {
				tracked = true
			}
		}
		if !tracked {
			return messages.Unchanged{}, nil
		}
		return updateView(ws, fmt.Sprintf("untrack bookmark %s", ref.BranchName), func(v *store.View) {
			for _, branches := range v.RemoteBookmarks {
				if entry, ok := branches[ref.BranchName]; ok && entry.Tracked {
					entry.Tracked = false
					branches[ref.BranchName] = entry
				}
			}
		})
	}
	return nil, errors.Internal("unknown ref variant %T", m.Ref)
}

// updateView runs a pure view edit inside a transaction and commits it.
func updateView(ws *session.Workspace, description string, edit func(*store.View)) (messages.MutationResult, error) {
	tx := ws.StartTransaction()
	committed := false
	defer func() {
		if !committed {
			ws.AbortTransaction()
		}
	}()

	tx.UpdateView(edit)

	committed = true
	return finish(ws, tx, description)
}
