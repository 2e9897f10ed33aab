// internal/api/handlers.go
package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"keel/internal/errors"
	"keel/internal/graph"
	"keel/internal/query"
	"keel/internal/session"
	"keel/shared/messages"
)

// Options carries the configured defaults the handler falls back to when a
// request leaves them out.
type Options struct {
	DefaultPageSize int
	ContextLines    int
}

// Handler serves the UI-facing surface: log pages, revision detail, remotes
// and mutations.
type Handler struct {
	ws   *session.Workspace
	opts Options
}

func NewHandler(ws *session.Workspace, opts Options) *Handler {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 100
	}
	if opts.ContextLines <= 0 {
		opts.ContextLines = 3
	}
	return &Handler{ws: ws, opts: opts}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/log", h.StartLog)
	mux.HandleFunc("POST /api/log/page", h.LogPage)
	mux.HandleFunc("GET /api/revisions/{id}", h.Revision)
	mux.HandleFunc("GET /api/remotes", h.Remotes)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("POST /api/mutations", h.Mutate)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the three-tier error model to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var e *errors.Error
	if stderrors.As(err, &e) {
		http.Error(w, e.Message, e.Code)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// logPageResponse carries one page plus the state the client sends back for
// the next one.
type logPageResponse struct {
	State *graph.State      `json:"state"`
	Page  *messages.LogPage `json:"page"`
}

func (h *Handler) StartLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageSize int `json:"page_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PageSize <= 0 {
		req.PageSize = h.opts.DefaultPageSize
	}

	h.servePage(w, graph.NewState(req.PageSize))
}

func (h *Handler) LogPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State *graph.State `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.State == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.servePage(w, req.State)
}

func (h *Handler) servePage(w http.ResponseWriter, state *graph.State) {
	sess, err := h.ws.NewLogSession(state)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := sess.GetPage()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logPageResponse{State: sess.State(), Page: page})
}

func (h *Handler) Revision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	result, err := query.Revision(h.ws, id, h.opts.ContextLines)
	if err != nil {
		writeError(w, err)
		return
	}
	switch res := result.(type) {
	case messages.RevNotFound:
		writeJSON(w, http.StatusNotFound, envelope{"not_found", res})
	case messages.RevDetail:
		writeJSON(w, http.StatusOK, envelope{"detail", res})
	}
}

func (h *Handler) Remotes(w http.ResponseWriter, r *http.Request) {
	remotes, err := query.Remotes(h.ws, r.URL.Query().Get("tracking_branch"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remotes)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.ws.FormatStatus()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) Mutate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := decodeMutation(req.Type, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := m.Execute(h.ws)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMutationResult(w, result)
}

// envelope tags a result variant for the client.
type envelope struct {
	Type   string `json:"type"`
	Result any    `json:"result"`
}

func writeMutationResult(w http.ResponseWriter, result messages.MutationResult) {
	switch res := result.(type) {
	case messages.Updated:
		writeJSON(w, http.StatusOK, envelope{"updated", res})
	case messages.UpdatedSelection:
		writeJSON(w, http.StatusOK, envelope{"updated_selection", res})
	case messages.Unchanged:
		writeJSON(w, http.StatusOK, envelope{"unchanged", res})
	case messages.PreconditionError:
		writeJSON(w, http.StatusBadRequest, envelope{"precondition", res})
	case messages.NotFound:
		writeJSON(w, http.StatusNotFound, envelope{"not_found", res})
	}
}
