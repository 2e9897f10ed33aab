package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keel/internal/graph"
	"keel/internal/logging"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"
)

func testHandler(t *testing.T, handlerOpts Options) (*http.ServeMux, *session.Workspace) {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.Open(db)
	require.NoError(t, err)
	ws, err := session.NewWorkspace(s, &logging.Logger{Logger: zap.NewNop()})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(ws, handlerOpts).Register(mux)
	return mux, ws
}

// seedChain publishes root <- a <- b with b as working copy and head.
func seedChain(t *testing.T, ws *session.Workspace) (a, b *store.Commit) {
	t.Helper()
	s := ws.Store()
	a, err := s.WriteCommit([]store.CommitID{s.RootCommitID()}, s.EmptyTreeID(), "commit a", "a")
	require.NoError(t, err)
	b, err = s.WriteCommit([]store.CommitID{a.ID}, s.EmptyTreeID(), "commit b", "b")
	require.NoError(t, err)

	tx := s.StartTransaction()
	tx.UpdateView(func(v *store.View) {
		v.Heads = []store.CommitID{b.ID}
		v.WorkingCopy = b.ID
	})
	_, _, err = tx.Commit("seed")
	require.NoError(t, err)
	return a, b
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStartLogAndPage(t *testing.T) {
	mux, ws := testHandler(t, Options{})
	a, b := seedChain(t, ws)

	rec := doJSON(t, mux, http.MethodPost, "/api/log", map[string]any{"page_size": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		State *graph.State     `json:"state"`
		Page  messages.LogPage `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.State)
	require.Len(t, resp.Page.Rows, 1)
	assert.True(t, resp.Page.HasMore)
	assert.Equal(t, string(b.ID), resp.Page.Rows[0].Revision.CommitID)

	// The returned state resumes the traversal in a second request. The root
	// commit is not part of the log, so the chain ends after two rows.
	rec = doJSON(t, mux, http.MethodPost, "/api/log/page", map[string]any{"state": resp.State})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Page.Rows, 1)
	assert.Equal(t, string(a.ID), resp.Page.Rows[0].Revision.CommitID)
	assert.False(t, resp.Page.HasMore)

	t.Run("page size defaults when omitted", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/log", map[string]any{})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Page.Rows, 2)
		assert.False(t, resp.Page.HasMore)
	})

	t.Run("state required", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/log/page", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStartLogConfiguredPageSize(t *testing.T) {
	mux, ws := testHandler(t, Options{DefaultPageSize: 1})
	_, b := seedChain(t, ws)

	rec := doJSON(t, mux, http.MethodPost, "/api/log", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		State *graph.State     `json:"state"`
		Page  messages.LogPage `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Page.Rows, 1, "configured default bounds the page")
	assert.True(t, resp.Page.HasMore)
	assert.Equal(t, string(b.ID), resp.Page.Rows[0].Revision.CommitID)
}

func TestRevisionEndpoint(t *testing.T) {
	mux, ws := testHandler(t, Options{})
	_, b := seedChain(t, ws)

	rec := doJSON(t, mux, http.MethodGet, "/api/revisions/"+string(b.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Type   string             `json:"type"`
		Result messages.RevDetail `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "detail", resp.Type)
	assert.Equal(t, "commit b", resp.Result.Header.Description)

	t.Run("unknown id", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/api/revisions/zzzz", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatusEndpoint(t *testing.T) {
	mux, ws := testHandler(t, Options{})
	_, b := seedChain(t, ws)

	rec := doJSON(t, mux, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status messages.RepoStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, string(b.ID), status.WorkingCopy.CommitID)
}

func TestRemotesEndpoint(t *testing.T) {
	mux, ws := testHandler(t, Options{})
	a, _ := seedChain(t, ws)

	tx := ws.Store().StartTransaction()
	tx.UpdateView(func(v *store.View) {
		v.RemoteBookmarks["origin"] = map[string]store.RemoteRef{
			"main": {Target: a.ID, Tracked: true},
		}
	})
	_, _, err := tx.Commit("remotes")
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodGet, "/api/remotes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var remotes []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &remotes))
	assert.Equal(t, []string{"origin"}, remotes)

	rec = doJSON(t, mux, http.MethodGet, "/api/remotes?tracking_branch=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	assert.Empty(t, filtered)
}

func TestMutateEndpoint(t *testing.T) {
	mux, ws := testHandler(t, Options{})
	a, _ := seedChain(t, ws)

	t.Run("checkout", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/mutations", map[string]any{
			"type":    "checkout_revision",
			"payload": map[string]any{"id": string(a.ID)},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "updated_selection", resp.Type)
		assert.Equal(t, a.ID, ws.Store().View().WorkingCopy)
	})

	t.Run("precondition maps to 400", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/mutations", map[string]any{
			"type":    "abandon_revisions",
			"payload": map[string]any{"ids": []string{string(ws.Store().RootCommitID())}},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp struct {
			Type   string                     `json:"type"`
			Result messages.PreconditionError `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "precondition", resp.Type)
		assert.Equal(t, "Cannot abandon the root commit", resp.Result.Message)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/mutations", map[string]any{
			"type":    "checkout_revision",
			"payload": map[string]any{"id": "ffffffffffff"},
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ref payload decodes the tagged union", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/mutations", map[string]any{
			"type": "create_ref",
			"payload": map[string]any{
				"id":  string(a.ID),
				"ref": map[string]any{"type": "local_bookmark", "branch_name": "feature"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, a.ID, ws.Store().View().Bookmarks["feature"])
	})

	t.Run("unknown mutation type", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/mutations", map[string]any{
			"type": "frobnicate", "payload": map[string]any{},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), fmt.Sprintf("unknown mutation type %q", "frobnicate"))
	})
}

func TestDecodeMutationVariants(t *testing.T) {
	cases := []struct {
		kind    string
		payload string
	}{
		{"move_hunk", `{"from_id":"x","to_id":"y","path":"f"}`},
		{"copy_hunk", `{"from_id":"x","to_id":"y","path":"f"}`},
		{"abandon_revisions", `{"ids":["x"]}`},
		{"describe_revision", `{"id":"x","new_description":"d"}`},
		{"checkout_revision", `{"id":"x"}`},
		{"create_revision", `{"parent_ids":["x"]}`},
		{"duplicate_revisions", `{"ids":["x"]}`},
		{"undo_operation", ``},
		{"delete_ref", `{"ref":{"type":"tag","tag_name":"v1"}}`},
		{"move_ref", `{"to_id":"x","ref":{"type":"local_bookmark","branch_name":"b"}}`},
		{"rename_branch", `{"new_name":"n","ref":{"type":"local_bookmark","branch_name":"b"}}`},
		{"track_branch", `{"ref":{"type":"remote_bookmark","branch_name":"b","remote_name":"o"}}`},
		{"untrack_branch", `{"ref":{"type":"remote_bookmark","branch_name":"b","remote_name":"o"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			m, err := decodeMutation(tc.kind, json.RawMessage(tc.payload))
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}

	t.Run("missing ref", func(t *testing.T) {
		_, err := decodeMutation("delete_ref", json.RawMessage(`{}`))
		assert.ErrorContains(t, err, "missing ref")
	})
}
