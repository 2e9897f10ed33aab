package graph

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/store"
	"keel/shared/messages"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.Open(db)
	require.NoError(t, err)
	return s
}

func writeChain(t *testing.T, s *store.Store, n int) []store.CommitID {
	t.Helper()
	ids := []store.CommitID{s.RootCommitID()}
	for i := 0; i < n; i++ {
		c, err := s.WriteCommit([]store.CommitID{ids[len(ids)-1]}, s.EmptyTreeID(), "", string(rune('a'+i)))
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	return ids
}

func testHeader(id store.CommitID, immutable bool) (messages.RevHeader, error) {
	return messages.RevHeader{
		CommitID:    string(id),
		ShortID:     id.Short(),
		IsImmutable: immutable,
	}, nil
}

func testSession(t *testing.T, s *store.Store, state *State, heads []store.CommitID, filter func(store.CommitID) bool) *Session {
	t.Helper()
	iter, err := store.NewGraphIter(s, heads, filter)
	require.NoError(t, err)
	root := s.RootCommitID()
	isImmutable := func(id store.CommitID) (bool, error) { return id == root, nil }
	return NewSession(state, iter, root, testHeader, isImmutable)
}

// skipRoot mirrors the log query's iteration set: every commit except the
// root.
func skipRoot(s *store.Store) func(store.CommitID) bool {
	root := s.RootCommitID()
	return func(id store.CommitID) bool { return id != root }
}

func TestLayoutLinearPagination(t *testing.T) {
	s := testStore(t)
	ids := writeChain(t, s, 3) // root, a, b, c
	a, b, c := ids[1], ids[2], ids[3]
	heads := []store.CommitID{c}

	state := NewState(2)
	sess := testSession(t, s, state, heads, skipRoot(s))

	page, err := sess.GetPage()
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 2, state.NextRow)

	assert.Equal(t, string(c), page.Rows[0].Revision.CommitID)
	assert.Equal(t, messages.LogCoordinates{Column: 0, Row: 0}, page.Rows[0].Location)
	assert.Empty(t, page.Rows[0].Lines)

	assert.Equal(t, string(b), page.Rows[1].Revision.CommitID)
	assert.Equal(t, messages.LogCoordinates{Column: 0, Row: 1}, page.Rows[1].Location)
	require.Len(t, page.Rows[1].Lines, 1)
	line := page.Rows[1].Lines[0]
	assert.Equal(t, messages.LineToNode, line.Kind)
	assert.False(t, line.Indirect)
	assert.Equal(t, messages.LogCoordinates{Column: 0, Row: 0}, line.Source)
	assert.Equal(t, messages.LogCoordinates{Column: 0, Row: 1}, line.Target)

	// Resume from the serialisable state with a fresh iterator, as a second
	// request would. The root itself is excluded, so its child is the final
	// row and the ancestry edge is dropped at the boundary.
	sess2 := testSession(t, s, state, heads, skipRoot(s))
	page2, err := sess2.GetPage()
	require.NoError(t, err)
	require.Len(t, page2.Rows, 1)
	assert.False(t, page2.HasMore)

	assert.Equal(t, string(a), page2.Rows[0].Revision.CommitID)
	assert.Equal(t, messages.LogCoordinates{Column: 0, Row: 2}, page2.Rows[0].Location)
	assert.Empty(t, state.Stems, "no open stems after the last row")
}

func TestLayoutPageEndsWithoutRootRow(t *testing.T) {
	s := testStore(t)
	ids := writeChain(t, s, 2) // root, a, b
	a, b := ids[1], ids[2]

	// With the root excluded, a page holding the whole remaining history is
	// the last one: no third row, no trailing boundary marker.
	state := NewState(2)
	sess := testSession(t, s, state, []store.CommitID{b}, skipRoot(s))

	page, err := sess.GetPage()
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.False(t, page.HasMore)
	assert.Equal(t, string(b), page.Rows[0].Revision.CommitID)
	assert.Equal(t, string(a), page.Rows[1].Revision.CommitID)
	assert.Equal(t, 2, state.NextRow)
	assert.Empty(t, state.Stems)
}

func TestLayoutEveryCommitOnce(t *testing.T) {
	s := testStore(t)
	ids := writeChain(t, s, 4)
	heads := []store.CommitID{ids[len(ids)-1]}

	state := NewState(1)
	seen := map[string]int{}
	for i := 0; i < 20; i++ {
		sess := testSession(t, s, state, heads, nil)
		page, err := sess.GetPage()
		require.NoError(t, err)
		for _, row := range page.Rows {
			seen[row.Revision.CommitID]++
		}
		if !page.HasMore {
			break
		}
	}

	require.Len(t, seen, len(ids))
	for id, count := range seen {
		assert.Equal(t, 1, count, "commit %s emitted once", id)
	}
}

func TestLayoutBranchColumns(t *testing.T) {
	s := testStore(t)

	root := s.RootCommitID()
	a, err := s.WriteCommit([]store.CommitID{root}, s.EmptyTreeID(), "", "a")
	require.NoError(t, err)
	b1, err := s.WriteCommit([]store.CommitID{a.ID}, s.EmptyTreeID(), "", "b1")
	require.NoError(t, err)
	b2, err := s.WriteCommit([]store.CommitID{a.ID}, s.EmptyTreeID(), "", "b2")
	require.NoError(t, err)

	state := NewState(10)
	sess := testSession(t, s, state, []store.CommitID{b1.ID, b2.ID}, nil)
	page, err := sess.GetPage()
	require.NoError(t, err)
	require.Len(t, page.Rows, 4)
	assert.False(t, page.HasMore)

	byID := map[string]messages.LogRow{}
	for _, row := range page.Rows {
		byID[row.Revision.CommitID] = row
	}

	assert.Equal(t, 0, byID[string(b1.ID)].Location.Column)
	assert.Equal(t, 1, byID[string(b2.ID)].Location.Column)
	assert.Equal(t, 0, byID[string(a.ID)].Location.Column, "shared parent lands in the first branch's column")

	// The second branch joins the first branch's stem instead of opening a
	// third column.
	var joined bool
	for _, line := range byID[string(b2.ID)].Lines {
		if line.Kind == messages.LineToIntersection {
			joined = true
			assert.Equal(t, 0, line.Target.Column)
		}
	}
	assert.True(t, joined)
}

func TestLayoutIndirectEdge(t *testing.T) {
	s := testStore(t)
	ids := writeChain(t, s, 2)
	a, b := ids[1], ids[2]

	state := NewState(10)
	sess := testSession(t, s, state, []store.CommitID{b}, func(id store.CommitID) bool { return id != a })
	page, err := sess.GetPage()
	require.NoError(t, err)
	require.Len(t, page.Rows, 2, "elided commit does not occupy a row")

	require.Len(t, page.Rows[1].Lines, 1)
	assert.True(t, page.Rows[1].Lines[0].Indirect)
}

func TestLayoutMissingEdgeBoundary(t *testing.T) {
	s := testStore(t)
	ids := writeChain(t, s, 2)
	root, a, b := ids[0], ids[1], ids[2]

	// Excluding both the root and the middle commit leaves b with ancestry
	// that exists but is not part of the iterated set.
	state := NewState(10)
	sess := testSession(t, s, state, []store.CommitID{b}, func(id store.CommitID) bool {
		return id != root && id != a
	})
	page, err := sess.GetPage()
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.False(t, page.HasMore)

	require.Len(t, page.Rows[0].Lines, 1)
	line := page.Rows[0].Lines[0]
	assert.Equal(t, messages.LineToMissing, line.Kind)
	assert.True(t, line.Indirect)
	assert.Equal(t, 2, state.NextRow, "the boundary marker consumes a row")
	assert.Empty(t, state.Stems)
}
