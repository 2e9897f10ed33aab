// internal/session/workspace.go
package session

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"keel/internal/errors"
	"keel/internal/graph"
	"keel/internal/logging"
	"keel/internal/store"
	"keel/shared/messages"
)

// Workspace is the single owner of a repository handle: queries and
// mutations all flow through it, one at a time.
type Workspace struct {
	store  *store.Store
	logger *logging.Logger

	mu             sync.Mutex
	immutableCache *lru.Cache[store.CommitID, bool]
	lastOpID       string

	watcher *watcher
}

func NewWorkspace(s *store.Store, logger *logging.Logger) (*Workspace, error) {
	cache, err := lru.New[store.CommitID, bool](8192)
	if err != nil {
		return nil, fmt.Errorf("creating immutability cache: %w", err)
	}
	return &Workspace{
		store:          s,
		logger:         logger,
		immutableCache: cache,
	}, nil
}

func (ws *Workspace) Store() *store.Store { return ws.store }

// GetCommit looks up a commit by exact id.
func (ws *Workspace) GetCommit(id store.CommitID) (*store.Commit, error) {
	c, err := ws.store.GetCommit(id)
	if err != nil {
		return nil, errors.NotFound(fmt.Sprintf("revision not found: %s", id.Short()))
	}
	return c, nil
}

// ResolveID resolves an exact id or an unambiguous hex prefix against the
// visible commits.
func (ws *Workspace) ResolveID(prefix string) (*store.Commit, error) {
	if prefix == "" {
		return nil, errors.NotFound("empty revision id")
	}
	if c, err := ws.store.GetCommit(store.CommitID(prefix)); err == nil {
		return c, nil
	}

	var match *store.Commit
	ids, err := ws.visibleCommitIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if strings.HasPrefix(string(id), prefix) {
			if match != nil {
				return nil, errors.Precondition("revision id prefix %q is ambiguous", prefix)
			}
			c, err := ws.store.GetCommit(id)
			if err != nil {
				return nil, err
			}
			match = c
		}
	}
	if match == nil {
		return nil, errors.NotFound(fmt.Sprintf("revision not found: %s", prefix))
	}
	return match, nil
}

func (ws *Workspace) visibleCommitIDs() ([]store.CommitID, error) {
	view := ws.store.View()
	seen := map[store.CommitID]bool{}
	var out []store.CommitID
	queue := append([]store.CommitID{view.WorkingCopy}, view.Heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		c, err := ws.store.GetCommit(id)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.Parents...)
	}
	return out, nil
}

// IsImmutable evaluates the immutable-set predicate, memoized per view.
func (ws *Workspace) IsImmutable(id store.CommitID) (bool, error) {
	if v, ok := ws.immutableCache.Get(id); ok {
		return v, nil
	}
	v, err := ws.store.IsImmutable(id)
	if err != nil {
		return false, err
	}
	ws.immutableCache.Add(id, v)
	return v, nil
}

// CheckImmutable reports whether any of the given commits is immutable.
func (ws *Workspace) CheckImmutable(ids []store.CommitID) (bool, error) {
	for _, id := range ids {
		immutable, err := ws.IsImmutable(id)
		if err != nil {
			return false, err
		}
		if immutable {
			return true, nil
		}
	}
	return false, nil
}

// FormatHeader assembles the display header for a commit. knownImmutable
// short-circuits the predicate when the caller already settled it.
func (ws *Workspace) FormatHeader(c *store.Commit, knownImmutable *bool) (messages.RevHeader, error) {
	immutable := false
	if knownImmutable != nil {
		immutable = *knownImmutable
	} else {
		var err error
		immutable, err = ws.IsImmutable(c.ID)
		if err != nil {
			return messages.RevHeader{}, err
		}
	}

	tree, err := ws.store.TreeOf(c)
	if err != nil {
		return messages.RevHeader{}, err
	}

	return messages.RevHeader{
		CommitID:    string(c.ID),
		ShortID:     c.ID.Short(),
		Description: c.Description,
		IsImmutable: immutable,
		HasConflict: tree.HasConflict(),
		Refs:        ws.refsFor(c.ID),
	}, nil
}

func (ws *Workspace) refsFor(id store.CommitID) []messages.StoreRef {
	view := ws.store.View()
	var refs []messages.StoreRef
	for name, target := range view.Bookmarks {
		if target == id {
			refs = append(refs, messages.LocalBookmark{BranchName: name})
		}
	}
	for remote, branches := range view.RemoteBookmarks {
		for name, ref := range branches {
			if ref.Target == id {
				refs = append(refs, messages.RemoteBookmark{
					BranchName: name,
					RemoteName: remote,
					IsTracked:  ref.Tracked,
				})
			}
		}
	}
	for name, target := range view.Tags {
		if target == id {
			refs = append(refs, messages.Tag{TagName: name})
		}
	}
	return refs
}

// FormatStatus summarises the session after a reload or mutation.
func (ws *Workspace) FormatStatus() (messages.RepoStatus, error) {
	view := ws.store.View()
	wc, err := ws.GetCommit(view.WorkingCopy)
	if err != nil {
		return messages.RepoStatus{}, err
	}
	header, err := ws.FormatHeader(wc, nil)
	if err != nil {
		return messages.RepoStatus{}, err
	}
	return messages.RepoStatus{
		OperationID: ws.lastOpID,
		WorkingCopy: header,
	}, nil
}

// StartTransaction opens a mutation transaction. One at a time.
func (ws *Workspace) StartTransaction() *store.Transaction {
	ws.mu.Lock()
	return ws.store.StartTransaction()
}

// FinishTransaction commits the transaction under the given operation
// description. A nil status means nothing changed and nothing was committed.
func (ws *Workspace) FinishTransaction(tx *store.Transaction, description string) (*messages.RepoStatus, error) {
	defer ws.mu.Unlock()

	opID, changed, err := tx.Commit(description)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	ws.lastOpID = opID
	ws.immutableCache.Purge()
	ws.logger.WithOperation(opID).Info("operation committed",
		zap.String("description", description))

	status, err := ws.FormatStatus()
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// AbortTransaction releases the mutation lock without committing.
func (ws *Workspace) AbortTransaction() {
	ws.mu.Unlock()
}

// Undo restores the view from before the latest operation.
func (ws *Workspace) Undo() (string, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	opID, err := ws.store.Undo()
	if err != nil {
		return "", err
	}
	ws.lastOpID = ""
	ws.immutableCache.Purge()
	return opID, nil
}

// QueryRemotes lists remote names; with a tracking branch only remotes where
// that branch is present and tracked qualify.
func (ws *Workspace) QueryRemotes(trackingBranch string) ([]string, error) {
	view := ws.store.View()
	all := view.RemoteNames()
	if trackingBranch == "" {
		return all, nil
	}
	var matching []string
	for _, remote := range all {
		if branches, ok := view.RemoteBookmarks[remote]; ok {
			if ref, ok := branches[trackingBranch]; ok && ref.Tracked {
				matching = append(matching, remote)
			}
		}
	}
	return matching, nil
}

// NewLogSession starts or resumes a paginated log layout over the visible
// graph. The iterator is rebuilt and advanced to the state's position. The
// root commit is not part of the log: its children end the page with their
// ancestry edges dropped at the boundary.
func (ws *Workspace) NewLogSession(state *graph.State) (*graph.Session, error) {
	view := ws.store.View()
	heads := append([]store.CommitID{view.WorkingCopy}, view.Heads...)
	root := ws.store.RootCommitID()
	iter, err := store.NewGraphIter(ws.store, heads, func(id store.CommitID) bool {
		return id != root
	})
	if err != nil {
		return nil, err
	}
	header := func(id store.CommitID, immutable bool) (messages.RevHeader, error) {
		c, err := ws.GetCommit(id)
		if err != nil {
			return messages.RevHeader{}, err
		}
		return ws.FormatHeader(c, &immutable)
	}
	return graph.NewSession(state, iter, ws.store.RootCommitID(), header, ws.IsImmutable), nil
}
