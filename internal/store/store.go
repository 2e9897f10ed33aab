// internal/store/store.go
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Store is the commit/tree engine: content-addressed commits, trees and
// blobs over badger, plus the view naming the visible heads and refs.
// Commits and trees written outside a committed transaction are unreachable
// garbage; visibility changes only when a transaction publishes a new view.
type Store struct {
	db    *badger.DB
	blobs *BlobStore

	mu        sync.RWMutex
	view      *View
	root      CommitID
	emptyTree TreeID
}

// Open initialises the store, creating the root commit and empty view on
// first use.
func Open(db *badger.DB) (*Store, error) {
	blobs, err := NewBlobStore(db, 4096)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, blobs: blobs}

	empty, err := s.writeTree(map[string]*TreeValue{})
	if err != nil {
		return nil, fmt.Errorf("writing empty tree: %w", err)
	}
	s.emptyTree = empty.ID

	root := &Commit{
		ID:      hashCommit(nil, empty.ID, "", "root"),
		Parents: nil,
		Tree:    empty.ID,
	}
	if err := s.putCommit(root); err != nil {
		return nil, fmt.Errorf("writing root commit: %w", err)
	}
	s.root = root.ID

	view, err := s.loadView()
	if err != nil {
		return nil, err
	}
	if view == nil {
		view = NewView(root.ID)
		if err := s.saveView(view); err != nil {
			return nil, err
		}
	}
	s.view = view

	return s, nil
}

// Blobs exposes the content-addressed file store.
func (s *Store) Blobs() *BlobStore { return s.blobs }

// RootCommitID is the designated root; every commit descends from it.
func (s *Store) RootCommitID() CommitID { return s.root }

// EmptyTreeID is the tree of the root commit.
func (s *Store) EmptyTreeID() TreeID { return s.emptyTree }

func commitKey(id CommitID) []byte { return []byte("commit:" + id) }
func treeKey(id TreeID) []byte     { return []byte("tree:" + id) }

func (s *Store) putCommit(c *Commit) error {
	data, err := marshalEntity(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(commitKey(c.ID), data)
	})
}

// GetCommit looks up a commit by id.
func (s *Store) GetCommit(id CommitID) (*Commit, error) {
	var c Commit
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(commitKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("commit not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", id, err)
	}
	return &c, nil
}

// HasCommit reports whether id exists without decoding it.
func (s *Store) HasCommit(id CommitID) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(commitKey(id))
		return err
	})
	return err == nil
}

func (s *Store) putTree(t *Tree) error {
	data, err := marshalEntity(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey(t.ID), data)
	})
}

// GetTree looks up a tree by id.
func (s *Store) GetTree(id TreeID) (*Tree, error) {
	var t Tree
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(treeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("tree not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading tree %s: %w", id, err)
	}
	if t.Entries == nil {
		t.Entries = map[string]*TreeValue{}
	}
	return &t, nil
}

// TreeOf is a convenience for the tree referenced by a commit.
func (s *Store) TreeOf(c *Commit) (*Tree, error) {
	return s.GetTree(c.Tree)
}

// WriteCommit persists a new commit derived from parents, tree and
// description. Unreachable until a view names it or a descendant.
func (s *Store) WriteCommit(parents []CommitID, tree TreeID, description, nonce string) (*Commit, error) {
	c := &Commit{
		ID:          hashCommit(parents, tree, description, nonce),
		Parents:     parents,
		Tree:        tree,
		Description: description,
	}
	if err := s.putCommit(c); err != nil {
		return nil, err
	}
	return c, nil
}

// IsAncestor reports whether ancestor is reachable from descendant via
// parent edges. A commit is its own ancestor.
func (s *Store) IsAncestor(ancestor, descendant CommitID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	seen := map[CommitID]bool{descendant: true}
	queue := []CommitID{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, err := s.GetCommit(id)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p == ancestor {
				return true, nil
			}
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// commonAncestor finds a nearest common ancestor of a and b by breadth-first
// meet. The root commit guarantees one exists.
func (s *Store) commonAncestor(a, b CommitID) (CommitID, error) {
	ancestorsA := map[CommitID]bool{}
	queue := []CommitID{a}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestorsA[id] {
			continue
		}
		ancestorsA[id] = true
		c, err := s.GetCommit(id)
		if err != nil {
			return "", err
		}
		queue = append(queue, c.Parents...)
	}

	seen := map[CommitID]bool{}
	queue = []CommitID{b}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestorsA[id] {
			return id, nil
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		c, err := s.GetCommit(id)
		if err != nil {
			return "", err
		}
		queue = append(queue, c.Parents...)
	}
	return s.root, nil
}
