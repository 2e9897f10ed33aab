package mutate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

// seedRemote adds a remote bookmark main@origin pointing at target.
func seedRemote(t *testing.T, ws *session.Workspace, branch string, target store.CommitID, tracked bool) {
	t.Helper()
	publish(t, ws, func(v *store.View) {
		if v.RemoteBookmarks["origin"] == nil {
			v.RemoteBookmarks["origin"] = map[string]store.RemoteRef{}
		}
		v.RemoteBookmarks["origin"][branch] = store.RemoteRef{Target: target, Tracked: tracked}
	})
}

func TestCreateRef(t *testing.T) {
	ws := testWorkspace(t)
	a, b := seedChain(t, ws)

	t.Run("local bookmark", func(t *testing.T) {
		result, err := CreateRef{ID: string(b.ID), Ref: messages.LocalBookmark{BranchName: "feature"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		assert.Equal(t, b.ID, ws.Store().View().Bookmarks["feature"])
	})

	t.Run("existing bookmark refused", func(t *testing.T) {
		result, err := CreateRef{ID: string(a.ID), Ref: messages.LocalBookmark{BranchName: "feature"}}.Execute(ws)
		require.NoError(t, err)
		pre, ok := result.(messages.PreconditionError)
		require.True(t, ok)
		assert.Equal(t, "Bookmark feature already exists", pre.Message)
	})

	t.Run("tag", func(t *testing.T) {
		result, err := CreateRef{ID: string(a.ID), Ref: messages.Tag{TagName: "v1"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		assert.Equal(t, a.ID, ws.Store().View().Tags["v1"])
	})

	t.Run("remote bookmark refused", func(t *testing.T) {
		result, err := CreateRef{ID: string(a.ID), Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}}.Execute(ws)
		require.NoError(t, err)
		pre, ok := result.(messages.PreconditionError)
		require.True(t, ok)
		assert.Equal(t, "main@origin is a remote bookmark and cannot be created", pre.Message)
	})

	t.Run("unknown target", func(t *testing.T) {
		result, err := CreateRef{ID: "ffffffffffff", Ref: messages.LocalBookmark{BranchName: "x"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.NotFound{}, result)
	})
}

func TestDeleteRef(t *testing.T) {
	ws := testWorkspace(t)
	a, b := seedChain(t, ws)

	t.Run("bookmark forgets remote entries too", func(t *testing.T) {
		publish(t, ws, func(v *store.View) {
			v.Bookmarks["feature"] = b.ID
		})
		seedRemote(t, ws, "feature", a.ID, true)

		result, err := DeleteRef{Ref: messages.LocalBookmark{BranchName: "feature"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)

		view := ws.Store().View()
		_, local := view.Bookmarks["feature"]
		assert.False(t, local)
		_, remote := view.RemoteBookmarks["origin"]["feature"]
		assert.False(t, remote)
	})

	t.Run("missing bookmark", func(t *testing.T) {
		result, err := DeleteRef{Ref: messages.LocalBookmark{BranchName: "ghost"}}.Execute(ws)
		require.NoError(t, err)
		pre, ok := result.(messages.PreconditionError)
		require.True(t, ok)
		assert.Equal(t, "No such bookmark: ghost", pre.Message)
	})

	t.Run("tag", func(t *testing.T) {
		publish(t, ws, func(v *store.View) {
			v.Tags["v1"] = a.ID
		})
		result, err := DeleteRef{Ref: messages.Tag{TagName: "v1"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		_, exists := ws.Store().View().Tags["v1"]
		assert.False(t, exists)
	})

	t.Run("missing tag", func(t *testing.T) {
		result, err := DeleteRef{Ref: messages.Tag{TagName: "v9"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.PreconditionError{}, result)
	})
}

func TestMoveRef(t *testing.T) {
	ws := testWorkspace(t)
	a, b := seedChain(t, ws)
	publish(t, ws, func(v *store.View) {
		v.Bookmarks["feature"] = a.ID
	})

	t.Run("moves bookmark", func(t *testing.T) {
		result, err := MoveRef{Ref: messages.LocalBookmark{BranchName: "feature"}, ToID: string(b.ID)}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		assert.Equal(t, b.ID, ws.Store().View().Bookmarks["feature"])
	})

	t.Run("same target is a no-op", func(t *testing.T) {
		result, err := MoveRef{Ref: messages.LocalBookmark{BranchName: "feature"}, ToID: string(b.ID)}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.Unchanged{}, result)
	})

	t.Run("missing bookmark", func(t *testing.T) {
		result, err := MoveRef{Ref: messages.LocalBookmark{BranchName: "ghost"}, ToID: string(b.ID)}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.PreconditionError{}, result)
	})

	t.Run("remote bookmark refused", func(t *testing.T) {
		result, err := MoveRef{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}, ToID: string(b.ID)}.Execute(ws)
		require.NoError(t, err)
		pre, ok := result.(messages.PreconditionError)
		require.True(t, ok)
		assert.Equal(t, "Bookmark is remote: main@origin", pre.Message)
	})

	t.Run("tag moves or appears", func(t *testing.T) {
		result, err := MoveRef{Ref: messages.Tag{TagName: "v2"}, ToID: string(a.ID)}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		assert.Equal(t, a.ID, ws.Store().View().Tags["v2"])
	})
}

func TestRenameBranch(t *testing.T) {
	ws := testWorkspace(t)
	a, b := seedChain(t, ws)
	publish(t, ws, func(v *store.View) {
		v.Bookmarks["old"] = a.ID
		v.Bookmarks["taken"] = b.ID
	})

	t.Run("renames", func(t *testing.T) {
		result, err := RenameBranch{Ref: messages.LocalBookmark{BranchName: "old"}, NewName: "new"}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)

		view := ws.Store().View()
		_, exists := view.Bookmarks["old"]
		assert.False(t, exists)
		assert.Equal(t, a.ID, view.Bookmarks["new"])
	})

	t.Run("same name is a no-op", func(t *testing.T) {
		result, err := RenameBranch{Ref: messages.LocalBookmark{BranchName: "new"}, NewName: "new"}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.Unchanged{}, result)
	})

	t.Run("target name taken", func(t *testing.T) {
		result, err := RenameBranch{Ref: messages.LocalBookmark{BranchName: "new"}, NewName: "taken"}.Execute(ws)
		require.NoError(t, err)
		pre, ok := result.(messages.PreconditionError)
		require.True(t, ok)
		assert.Equal(t, "Bookmark taken already exists", pre.Message)
	})

	t.Run("tag has no branch name", func(t *testing.T) {
		result, err := RenameBranch{Ref: messages.Tag{TagName: "v1"}, NewName: "x"}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.PreconditionError{}, result)
	})

	t.Run("remote bookmark refused", func(t *testing.T) {
		result, err := RenameBranch{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}, NewName: "x"}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.PreconditionError{}, result)
	})
}

func TestTrackBranch(t *testing.T) {
	ws := testWorkspace(t)
	a, _ := seedChain(t, ws)
	seedRemote(t, ws, "main", a.ID, false)

	t.Run("starts tracking and creates the local bookmark", func(t *testing.T) {
		result, err := TrackBranch{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)

		view := ws.Store().View()
		assert.True(t, view.RemoteBookmarks["origin"]["main"].Tracked)
		assert.Equal(t, a.ID, view.Bookmarks["main"])
	})

	t.Run("already tracked", func(t *testing.T) {
		result, err := TrackBranch{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.Unchanged{}, result)
	})

	t.Run("unknown remote", func(t *testing.T) {
		result, err := TrackBranch{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "nowhere"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.NotFound{}, result)
	})

	t.Run("local bookmark refused", func(t *testing.T) {
		result, err := TrackBranch{Ref: messages.LocalBookmark{BranchName: "main"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.PreconditionError{}, result)
	})
}

func TestUntrackBranch(t *testing.T) {
	ws := testWorkspace(t)
	a, _ := seedChain(t, ws)
	seedRemote(t, ws, "main", a.ID, true)

	t.Run("remote bookmark stops tracking", func(t *testing.T) {
		result, err := UntrackBranch{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		assert.False(t, ws.Store().View().RemoteBookmarks["origin"]["main"].Tracked)
	})

	t.Run("already untracked", func(t *testing.T) {
		result, err := UntrackBranch{Ref: messages.RemoteBookmark{BranchName: "main", RemoteName: "origin"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.Unchanged{}, result)
	})

	t.Run("local bookmark unhooks all counterparts", func(t *testing.T) {
		seedRemote(t, ws, "main", a.ID, true)
		publish(t, ws, func(v *store.View) {
			v.Bookmarks["main"] = a.ID
		})

		result, err := UntrackBranch{Ref: messages.LocalBookmark{BranchName: "main"}}.Execute(ws)
		require.NoError(t, err)
		require.IsType(t, messages.Updated{}, result)
		assert.False(t, ws.Store().View().RemoteBookmarks["origin"]["main"].Tracked)
	})

	t.Run("tag refused", func(t *testing.T) {
		result, err := UntrackBranch{Ref: messages.Tag{TagName: "v1"}}.Execute(ws)
		require.NoError(t, err)
		assert.IsType(t, messages.PreconditionError{}, result)
	})
}
