// internal/store/transaction.go
package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Transaction batches rewrites against a private copy of the view. Nothing
// becomes visible until Commit publishes the new view; dropping a transaction
// leaves only unreachable content-addressed garbage behind.
type Transaction struct {
	store *Store
	view  *View

	// replacements maps a rewritten commit to its single successor, or an
	// abandoned commit to its parents.
	replacements map[CommitID][]CommitID
	abandoned    map[CommitID]bool
	// pending are replaced commits whose descendants still need rebasing.
	pending map[CommitID]bool
	// created are commits written by this transaction; they join the rebase
	// set since their recorded parents may themselves be replaced.
	created []CommitID
	dirty   bool
}

// StartTransaction opens a transaction over the current view.
func (s *Store) StartTransaction() *Transaction {
	return &Transaction{
		store:        s,
		view:         s.View(),
		replacements: map[CommitID][]CommitID{},
		abandoned:    map[CommitID]bool{},
		pending:      map[CommitID]bool{},
	}
}

func (tx *Transaction) Store() *Store { return tx.store }
func (tx *Transaction) View() *View   { return tx.view }

// IsAncestor delegates to the store; staged commits are already readable.
func (tx *Transaction) IsAncestor(ancestor, descendant CommitID) (bool, error) {
	return tx.store.IsAncestor(ancestor, descendant)
}

// CommitBuilder stages one rewrite.
type CommitBuilder struct {
	tx          *Transaction
	old         *Commit
	parents     []CommitID
	tree        TreeID
	description string
}

// RewriteCommit starts rewriting old. Unset fields carry over.
func (tx *Transaction) RewriteCommit(old *Commit) *CommitBuilder {
	return &CommitBuilder{
		tx:          tx,
		old:         old,
		parents:     append([]CommitID(nil), old.Parents...),
		tree:        old.Tree,
		description: old.Description,
	}
}

func (b *CommitBuilder) SetTree(tree TreeID) *CommitBuilder {
	b.tree = tree
	return b
}

func (b *CommitBuilder) SetDescription(description string) *CommitBuilder {
	b.description = description
	return b
}

func (b *CommitBuilder) SetParents(parents []CommitID) *CommitBuilder {
	b.parents = parents
	return b
}

// Write persists the successor and records the rewrite relationship.
func (b *CommitBuilder) Write() (*Commit, error) {
	c, err := b.tx.store.WriteCommit(b.parents, b.tree, b.description, uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("rewriting commit %s: %w", b.old.ID.Short(), err)
	}
	b.tx.replacements[b.old.ID] = []CommitID{c.ID}
	b.tx.pending[b.old.ID] = true
	b.tx.created = append(b.tx.created, c.ID)
	b.tx.dirty = true
	return c, nil
}

// NewCommit writes a brand-new commit with no predecessor. It joins the
// rebase set so its parents resolve through later replacements.
func (tx *Transaction) NewCommit(parents []CommitID, tree TreeID, description string) (*Commit, error) {
	c, err := tx.store.WriteCommit(parents, tree, description, uuid.New().String())
	if err != nil {
		return nil, err
	}
	tx.created = append(tx.created, c.ID)
	tx.dirty = true
	return c, nil
}

// UpdateView applies an edit to the transaction's private view.
func (tx *Transaction) UpdateView(edit func(*View)) {
	edit(tx.view)
	tx.dirty = true
}

// RecordAbandonedCommit marks old as abandoned; descendants re-parent onto
// its parents during the next RebaseDescendants.
func (tx *Transaction) RecordAbandonedCommit(old *Commit) {
	tx.replacements[old.ID] = append([]CommitID(nil), old.Parents...)
	tx.abandoned[old.ID] = true
	tx.pending[old.ID] = true
	tx.dirty = true
}

// resolve follows replacement chains to the surviving ids for id.
func (tx *Transaction) resolve(id CommitID) []CommitID {
	repl, ok := tx.replacements[id]
	if !ok {
		return []CommitID{id}
	}
	var out []CommitID
	seen := map[CommitID]bool{}
	for _, r := range repl {
		for _, final := range tx.resolve(r) {
			if !seen[final] {
				seen[final] = true
				out = append(out, final)
			}
		}
	}
	return out
}

// resolveSingle maps a ref target through replacements; abandoned commits
// fall back to their first surviving parent.
func (tx *Transaction) resolveSingle(id CommitID) CommitID {
	finals := tx.resolve(id)
	if len(finals) == 0 {
		return tx.store.root
	}
	return finals[0]
}

// RebaseDescendants rewrites every commit that transitively depends on a
// replaced commit, parents before children, then remaps the view. onRebased,
// if non-nil, observes each old id with its successor, building the rebase
// map callers consult for rebased identities.
func (tx *Transaction) RebaseDescendants(onRebased func(old, new CommitID)) error {
	if len(tx.pending) == 0 {
		return nil
	}

	commits, err := tx.reachableCommits()
	if err != nil {
		return err
	}
	for _, id := range tx.created {
		if _, ok := commits[id]; ok {
			continue
		}
		c, err := tx.store.GetCommit(id)
		if err != nil {
			return err
		}
		commits[id] = c
	}

	// Propagate "needs rebase" down the DAG in topological order.
	order, err := topoSortParentsFirst(commits)
	if err != nil {
		return err
	}
	needs := map[CommitID]bool{}
	for _, id := range order {
		c := commits[id]
		for _, p := range c.Parents {
			_, parentReplaced := tx.replacements[p]
			if needs[p] || parentReplaced {
				needs[id] = true
				break
			}
		}
	}

	for _, id := range order {
		if !needs[id] {
			continue
		}
		if _, replaced := tx.replacements[id]; replaced {
			continue // already rewritten explicitly
		}
		c := commits[id]

		var newParents []CommitID
		seen := map[CommitID]bool{}
		for _, p := range c.Parents {
			for _, r := range tx.resolve(p) {
				if !seen[r] {
					seen[r] = true
					newParents = append(newParents, r)
				}
			}
		}
		if len(newParents) == 0 {
			newParents = []CommitID{tx.store.root}
		}

		newTree, err := tx.rebasedTree(c, newParents)
		if err != nil {
			return err
		}

		rebased, err := tx.store.WriteCommit(newParents, newTree, c.Description, uuid.New().String())
		if err != nil {
			return fmt.Errorf("rebasing %s: %w", id.Short(), err)
		}
		tx.replacements[id] = []CommitID{rebased.ID}
		if onRebased != nil {
			onRebased(id, rebased.ID)
		}
	}

	tx.view.remap(tx.resolveSingle)
	tx.pending = map[CommitID]bool{}
	return nil
}

// rebasedTree three-way-merges the commit's tree from its old parents onto
// its new ones.
func (tx *Transaction) rebasedTree(c *Commit, newParents []CommitID) (TreeID, error) {
	s := tx.store
	oldParentTree, err := s.MergedParentTree(c)
	if err != nil {
		return "", err
	}
	newCommit := &Commit{ID: c.ID, Parents: newParents, Tree: c.Tree}
	newParentTree, err := s.MergedParentTree(newCommit)
	if err != nil {
		return "", err
	}
	oldTree, err := s.GetTree(c.Tree)
	if err != nil {
		return "", err
	}
	merged, err := s.MergeTrees(oldTree, oldParentTree, newParentTree)
	if err != nil {
		return "", err
	}
	return merged.ID, nil
}

// reachableCommits loads everything reachable from the view's heads.
func (tx *Transaction) reachableCommits() (map[CommitID]*Commit, error) {
	commits := map[CommitID]*Commit{}
	queue := append([]CommitID(nil), tx.view.Heads...)
	queue = append(queue, tx.view.WorkingCopy)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := commits[id]; ok {
			continue
		}
		c, err := tx.store.GetCommit(id)
		if err != nil {
			return nil, err
		}
		commits[id] = c
		queue = append(queue, c.Parents...)
	}
	return commits, nil
}

func topoSortParentsFirst(commits map[CommitID]*Commit) ([]CommitID, error) {
	ids := make([]CommitID, 0, len(commits))
	for id := range commits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	order := make([]CommitID, 0, len(commits))
	state := map[CommitID]int{} // 0 unvisited, 1 visiting, 2 done
	var visit func(id CommitID) error
	visit = func(id CommitID) error {
		switch state[id] {
		case 1:
			return fmt.Errorf("commit graph contains a cycle at %s", id.Short())
		case 2:
			return nil
		}
		state[id] = 1
		if c, ok := commits[id]; ok {
			for _, p := range c.Parents {
				if err := visit(p); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		if _, ok := commits[id]; ok {
			order = append(order, id)
		}
		return nil
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// operation log

type operation struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	PrevView    *View  `json:"prev_view"`
}

var opSeqKey = []byte("opseq")

// ErrNoUndo reports an empty operation log.
var ErrNoUndo = fmt.Errorf("no operation to undo")

func opKey(seq uint64) []byte { return []byte(fmt.Sprintf("op:%016d", seq)) }

// Commit publishes the transaction's view with an operation-log entry, or
// reports changed=false when nothing was rewritten.
func (tx *Transaction) Commit(description string) (opID string, changed bool, err error) {
	if !tx.dirty {
		return "", false, nil
	}
	if len(tx.pending) > 0 {
		return "", false, fmt.Errorf("transaction committed with unrebased descendants")
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	op := operation{
		ID:          uuid.New().String(),
		Description: description,
		PrevView:    s.view.clone(),
	}
	data, err := marshalEntity(op)
	if err != nil {
		return "", false, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		seq, err := nextOpSeq(txn)
		if err != nil {
			return err
		}
		if err := txn.Set(opKey(seq), data); err != nil {
			return err
		}
		viewData, err := marshalEntity(tx.view)
		if err != nil {
			return err
		}
		return txn.Set(viewKey, viewData)
	})
	if err != nil {
		return "", false, fmt.Errorf("committing operation: %w", err)
	}

	s.view = tx.view
	return op.ID, true, nil
}

func nextOpSeq(txn *badger.Txn) (uint64, error) {
	var seq uint64
	item, err := txn.Get(opSeqKey)
	if err == nil {
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &seq)
		})
		if err != nil {
			return 0, err
		}
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}
	seq++
	data, err := json.Marshal(seq)
	if err != nil {
		return 0, err
	}
	return seq, txn.Set(opSeqKey, data)
}

// Undo restores the view recorded before the most recent operation.
func (s *Store) Undo() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var op operation
	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(opSeqKey)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &seq)
		}); err != nil {
			return err
		}
		item, err = txn.Get(opKey(seq))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &op)
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", ErrNoUndo
	}
	if err != nil {
		return "", fmt.Errorf("reading operation log: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(opKey(seq)); err != nil {
			return err
		}
		prev := seq - 1
		data, err := json.Marshal(prev)
		if err != nil {
			return err
		}
		if err := txn.Set(opSeqKey, data); err != nil {
			return err
		}
		viewData, err := marshalEntity(op.PrevView)
		if err != nil {
			return err
		}
		return txn.Set(viewKey, viewData)
	})
	if err != nil {
		return "", fmt.Errorf("undoing operation: %w", err)
	}

	s.view = op.PrevView
	return op.ID, nil
}
