// internal/store/view.go
package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// RemoteRef is one remote-tracking bookmark.
type RemoteRef struct {
	Target  CommitID `json:"target"`
	Tracked bool     `json:"tracked"`
}

// View names the visible state of the repository: heads, refs and the
// working copy. Mutations replace the whole view atomically.
type View struct {
	Heads           []CommitID                      `json:"heads"`
	WorkingCopy     CommitID                        `json:"working_copy"`
	Bookmarks       map[string]CommitID             `json:"bookmarks"`
	RemoteBookmarks map[string]map[string]RemoteRef `json:"remote_bookmarks"` // remote -> branch
	Tags            map[string]CommitID             `json:"tags"`
	Remotes         []string                        `json:"remotes"`
	// ImmutableHeads delimit the externally-maintained immutable set: a
	// commit is immutable iff it is an ancestor of one of these or of a tag.
	ImmutableHeads []CommitID `json:"immutable_heads"`
}

func NewView(root CommitID) *View {
	return &View{
		Heads:           []CommitID{root},
		WorkingCopy:     root,
		Bookmarks:       map[string]CommitID{},
		RemoteBookmarks: map[string]map[string]RemoteRef{},
		Tags:            map[string]CommitID{},
	}
}

func (v *View) clone() *View {
	out := &View{
		Heads:           append([]CommitID(nil), v.Heads...),
		WorkingCopy:     v.WorkingCopy,
		Bookmarks:       map[string]CommitID{},
		RemoteBookmarks: map[string]map[string]RemoteRef{},
		Tags:            map[string]CommitID{},
		Remotes:         append([]string(nil), v.Remotes...),
		ImmutableHeads:  append([]CommitID(nil), v.ImmutableHeads...),
	}
	for k, id := range v.Bookmarks {
		out.Bookmarks[k] = id
	}
	for remote, branches := range v.RemoteBookmarks {
		m := map[string]RemoteRef{}
		for b, ref := range branches {
			m[b] = ref
		}
		out.RemoteBookmarks[remote] = m
	}
	for k, id := range v.Tags {
		out.Tags[k] = id
	}
	return out
}

// RemoteNames lists configured remotes plus any carrying bookmarks, sorted.
func (v *View) RemoteNames() []string {
	names := map[string]struct{}{}
	for _, r := range v.Remotes {
		names[r] = struct{}{}
	}
	for r := range v.RemoteBookmarks {
		names[r] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for r := range names {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// remap rewrites every ref through the replacement map produced by a
// transaction. Abandoned commits map to their parent chain's survivor.
func (v *View) remap(replace func(CommitID) CommitID) {
	for i, h := range v.Heads {
		v.Heads[i] = replace(h)
	}
	v.WorkingCopy = replace(v.WorkingCopy)
	for name, id := range v.Bookmarks {
		v.Bookmarks[name] = replace(id)
	}
	for _, branches := range v.RemoteBookmarks {
		for name, ref := range branches {
			ref.Target = replace(ref.Target)
			branches[name] = ref
		}
	}
	for name, id := range v.Tags {
		v.Tags[name] = replace(id)
	}
	for i, h := range v.ImmutableHeads {
		v.ImmutableHeads[i] = replace(h)
	}
	v.dedupeHeads()
}

func (v *View) dedupeHeads() {
	seen := map[CommitID]bool{}
	out := v.Heads[:0]
	for _, h := range v.Heads {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	v.Heads = out
}

var viewKey = []byte("view")

func (s *Store) loadView() (*View, error) {
	var v *View
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(viewKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v = &View{}
			return json.Unmarshal(val, v)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading view: %w", err)
	}
	return v, nil
}

func (s *Store) saveView(v *View) error {
	data, err := marshalEntity(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(viewKey, data)
	})
}

// View returns a copy of the current view. Callers never mutate it directly;
// transactions publish replacements.
func (s *Store) View() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.clone()
}

// IsImmutable reports membership in the immutable-commit set: ancestors of
// the view's immutable heads and of tagged commits. Callers memoize.
func (s *Store) IsImmutable(id CommitID) (bool, error) {
	if id == s.root {
		return true, nil
	}
	v := s.View()
	heads := append([]CommitID(nil), v.ImmutableHeads...)
	for _, t := range v.Tags {
		heads = append(heads, t)
	}
	for _, h := range heads {
		ok, err := s.IsAncestor(id, h)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
