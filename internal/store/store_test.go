package store

import (
	"bytes"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := Open(db)
	require.NoError(t, err)
	return s
}

// writeTestTree builds a tree holding the given path contents, derived from
// the empty tree.
func writeTestTree(t *testing.T, s *Store, files map[string]string) *Tree {
	t.Helper()
	empty, err := s.GetTree(s.EmptyTreeID())
	require.NoError(t, err)

	builder := NewTreeBuilder(empty)
	for path, content := range files {
		blob, err := s.Blobs().Write([]byte(content))
		require.NoError(t, err)
		builder.SetOrRemove(path, FileValue(blob, false))
	}
	tree, err := builder.Write(s)
	require.NoError(t, err)
	return tree
}

func writeTestCommit(t *testing.T, s *Store, parents []CommitID, tree TreeID, description string) *Commit {
	t.Helper()
	c, err := s.WriteCommit(parents, tree, description, description)
	require.NoError(t, err)
	return c
}

func TestBlobRoundTrip(t *testing.T) {
	s := testStore(t)

	t.Run("small content stored raw", func(t *testing.T) {
		content := []byte("hello world\n")
		id, err := s.Blobs().Write(content)
		require.NoError(t, err)

		got, err := s.Blobs().Read(id)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("large content survives compression", func(t *testing.T) {
		content := bytes.Repeat([]byte("the quick brown fox\n"), 200)
		require.Greater(t, len(content), compressMinSize)

		id, err := s.Blobs().Write(content)
		require.NoError(t, err)

		got, err := s.Blobs().Read(id)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("content addressed", func(t *testing.T) {
		a, err := s.Blobs().Write([]byte("same"))
		require.NoError(t, err)
		b, err := s.Blobs().Write([]byte("same"))
		require.NoError(t, err)
		c, err := s.Blobs().Write([]byte("other"))
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
	})
}

func TestCommitRoundTrip(t *testing.T) {
	s := testStore(t)

	tree := writeTestTree(t, s, map[string]string{"readme.md": "hi\n"})
	c := writeTestCommit(t, s, []CommitID{s.RootCommitID()}, tree.ID, "add readme")

	got, err := s.GetCommit(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, []CommitID{s.RootCommitID()}, got.Parents)
	assert.Equal(t, tree.ID, got.Tree)
	assert.Equal(t, "add readme", got.Description)

	gotTree, err := s.TreeOf(got)
	require.NoError(t, err)
	content, err := s.ReadFile(gotTree, "readme.md")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(content))
}

func TestGetCommitMissing(t *testing.T) {
	s := testStore(t)

	_, err := s.GetCommit("deadbeef")
	assert.ErrorContains(t, err, "commit not found")
	assert.False(t, s.HasCommit("deadbeef"))
	assert.True(t, s.HasCommit(s.RootCommitID()))
}

func TestReadFile(t *testing.T) {
	s := testStore(t)

	tree := writeTestTree(t, s, map[string]string{"a.txt": "alpha\n"})

	t.Run("present file", func(t *testing.T) {
		content, err := s.ReadFile(tree, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "alpha\n", string(content))
	})

	t.Run("absent path reads empty", func(t *testing.T) {
		content, err := s.ReadFile(tree, "missing.txt")
		require.NoError(t, err)
		assert.Empty(t, content)
	})

	t.Run("symlink reads empty", func(t *testing.T) {
		empty, err := s.GetTree(s.EmptyTreeID())
		require.NoError(t, err)
		builder := NewTreeBuilder(empty)
		builder.SetOrRemove("link", SymlinkValue("a.txt"))
		linkTree, err := builder.Write(s)
		require.NoError(t, err)

		content, err := s.ReadFile(linkTree, "link")
		require.NoError(t, err)
		assert.Empty(t, content)
	})
}

func TestTreeBuilderRemove(t *testing.T) {
	s := testStore(t)

	tree := writeTestTree(t, s, map[string]string{"a.txt": "alpha\n", "b.txt": "beta\n"})

	builder := NewTreeBuilder(tree)
	builder.SetOrRemove("a.txt", nil)
	pruned, err := builder.Write(s)
	require.NoError(t, err)

	assert.Nil(t, pruned.Value("a.txt"))
	assert.NotNil(t, pruned.Value("b.txt"))
	assert.Equal(t, []string{"b.txt"}, pruned.Paths())
}

func TestTreeIDStable(t *testing.T) {
	s := testStore(t)

	a := writeTestTree(t, s, map[string]string{"x": "1\n", "y": "2\n"})
	b := writeTestTree(t, s, map[string]string{"y": "2\n", "x": "1\n"})
	assert.Equal(t, a.ID, b.ID)
}

func TestIsAncestor(t *testing.T) {
	s := testStore(t)

	tree := writeTestTree(t, s, map[string]string{"f": "1\n"})
	a := writeTestCommit(t, s, []CommitID{s.RootCommitID()}, tree.ID, "a")
	b := writeTestCommit(t, s, []CommitID{a.ID}, tree.ID, "b")
	side := writeTestCommit(t, s, []CommitID{s.RootCommitID()}, tree.ID, "side")

	cases := []struct {
		name                 string
		ancestor, descendant CommitID
		want                 bool
	}{
		{"self", a.ID, a.ID, true},
		{"parent", a.ID, b.ID, true},
		{"root of all", s.RootCommitID(), b.ID, true},
		{"child is not ancestor", b.ID, a.ID, false},
		{"sibling branches", side.ID, b.ID, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.IsAncestor(tc.ancestor, tc.descendant)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsImmutable(t *testing.T) {
	s := testStore(t)

	tree := writeTestTree(t, s, map[string]string{"f": "1\n"})
	a := writeTestCommit(t, s, []CommitID{s.RootCommitID()}, tree.ID, "a")
	b := writeTestCommit(t, s, []CommitID{a.ID}, tree.ID, "b")
	c := writeTestCommit(t, s, []CommitID{b.ID}, tree.ID, "c")

	immutable, err := s.IsImmutable(s.RootCommitID())
	require.NoError(t, err)
	assert.True(t, immutable, "root is always immutable")

	immutable, err = s.IsImmutable(a.ID)
	require.NoError(t, err)
	assert.False(t, immutable)

	tx := s.StartTransaction()
	tx.UpdateView(func(v *View) {
		v.Heads = []CommitID{c.ID}
		v.WorkingCopy = c.ID
		v.ImmutableHeads = []CommitID{b.ID}
	})
	_, changed, err := tx.Commit("set immutable heads")
	require.NoError(t, err)
	require.True(t, changed)

	for _, id := range []CommitID{a.ID, b.ID} {
		immutable, err = s.IsImmutable(id)
		require.NoError(t, err)
		assert.True(t, immutable, "ancestors of an immutable head are immutable")
	}
	immutable, err = s.IsImmutable(c.ID)
	require.NoError(t, err)
	assert.False(t, immutable, "descendants of an immutable head stay mutable")
}

func TestIsImmutableTagTarget(t *testing.T) {
	s := testStore(t)

	tree := writeTestTree(t, s, map[string]string{"f": "1\n"})
	a := writeTestCommit(t, s, []CommitID{s.RootCommitID()}, tree.ID, "a")
	b := writeTestCommit(t, s, []CommitID{a.ID}, tree.ID, "b")

	tx := s.StartTransaction()
	tx.UpdateView(func(v *View) {
		v.Heads = []CommitID{b.ID}
		v.WorkingCopy = b.ID
		v.Tags["v1.0"] = a.ID
	})
	_, _, err := tx.Commit("tag v1.0")
	require.NoError(t, err)

	immutable, err := s.IsImmutable(a.ID)
	require.NoError(t, err)
	assert.True(t, immutable, "tagged commits are immutable")

	immutable, err = s.IsImmutable(b.ID)
	require.NoError(t, err)
	assert.False(t, immutable)
}

func TestRemoteNames(t *testing.T) {
	v := NewView("root")
	v.Remotes = []string{"upstream"}
	v.RemoteBookmarks["origin"] = map[string]RemoteRef{
		"main": {Target: "root", Tracked: true},
	}
	assert.Equal(t, []string{"origin", "upstream"}, v.RemoteNames())
}
