package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/docstore"
	"github.com/starford/snippets/internal/jobs"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/noteservice"
	"github.com/starford/snippets/internal/testutil"
)

// gateway stands in for the agent client on both the service and the
// tracker side.
type gateway struct {
	mu    sync.Mutex
	err   error
	tasks []agent.Task
}

func (g *gateway) Dispatch(_ context.Context, t agent.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = append(g.tasks, t)
	return g.err
}

func (g *gateway) Snapshot() agent.Connectivity { return agent.Connectivity{} }
func (g *gateway) Configured() bool             { return true }

func (g *gateway) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

type testEnv struct {
	router http.Handler
	store  *docstore.Store
	gw     *gateway
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	ws := testutil.NewWorkspace(t, nil)
	st, g := ws.Store, ws.Graph
	gw := &gateway{}
	tr, err := jobs.New(jobs.Options{
		Config:     jobs.Config{Path: filepath.Join(ws.AgentDir, "agent-jobs.json"), PublicURL: "http://localhost:3811"},
		Notes:      st,
		Dispatcher: gw,
		Edges:      g,
	})
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	t.Cleanup(tr.Close)
	svc, err := noteservice.New(noteservice.Options{Store: st, Agent: gw, Jobs: tr, Graph: g})
	if err != nil {
		t.Fatalf("noteservice.New: %v", err)
	}
	router := NewRouter(Deps{Service: svc, Jobs: tr, AuthEnabled: token != "", Token: token})
	return &testEnv{router: router, store: st, gw: gw}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) capture(t *testing.T, content string) models.Note {
	t.Helper()
	w := e.do(t, http.MethodPost, "/notes", map[string]string{"content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[models.Note](t, w)
}

func TestCreateAndGetNote(t *testing.T) {
	e := newTestEnv(t, "")
	note := e.capture(t, "  Buy milk  ")
	if note.Content != "Buy milk" || note.Metadata.Status != models.StatusQueued {
		t.Fatalf("unexpected note: %+v", note)
	}

	w := e.do(t, http.MethodGet, "/notes/"+note.ID(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[models.Note](t, w)
	if got.Metadata.FolderPath != "inbox" {
		t.Errorf("folderPath = %q", got.Metadata.FolderPath)
	}

	w = e.do(t, http.MethodGet, "/notes", nil)
	list := decode[[]models.Metadata](t, w)
	if len(list) != 1 || list[0].ID != note.ID() {
		t.Errorf("list = %+v", list)
	}

	w = e.do(t, http.MethodGet, "/pending", nil)
	if ids := decode[[]string](t, w); len(ids) != 1 || ids[0] != note.ID() {
		t.Errorf("pending = %v", ids)
	}
}

func TestCreateNote_Validation(t *testing.T) {
	e := newTestEnv(t, "")

	cases := []struct {
		name string
		body any
		want int
	}{
		{"too short", map[string]string{"content": " hi "}, http.StatusBadRequest},
		{"missing", map[string]string{}, http.StatusBadRequest},
		{"too large", map[string]string{"content": strings.Repeat("x", noteservice.MaxContentLen+1)}, http.StatusRequestEntityTooLarge},
		{"not json", "{nope", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/notes", tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestCreateNote_TriggerFailureStillCreated(t *testing.T) {
	e := newTestEnv(t, "")
	e.gw.fail(&agent.StatusError{Code: 503, Body: "down"})

	note := e.capture(t, "still saved")
	if note.Metadata.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", note.Metadata.Status)
	}
	if note.Metadata.ProcessingError != "Trigger failed: 503 down" {
		t.Errorf("processingError = %q", note.Metadata.ProcessingError)
	}

	w := e.do(t, http.MethodPost, "/notes/"+note.ID()+"/retry", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("retry status = %d", w.Code)
	}
	if resp := decode[retryResponse](t, w); resp.OK || resp.Error == "" {
		t.Errorf("retry response = %+v", resp)
	}

	e.gw.fail(nil)
	w = e.do(t, http.MethodPost, "/notes/"+note.ID()+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestEditMetaSeenDelete(t *testing.T) {
	e := newTestEnv(t, "")
	note := e.capture(t, "original text")
	base := "/notes/" + note.ID()

	w := e.do(t, http.MethodPatch, base, map[string]string{"content": "new text"})
	if w.Code != http.StatusOK || decode[models.Note](t, w).Content != "new text" {
		t.Fatalf("edit: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPatch, base, map[string]string{"content": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty edit status = %d", w.Code)
	}

	w = e.do(t, http.MethodPatch, base+"/meta", map[string]any{"title": "Groceries"})
	if w.Code != http.StatusOK || decode[models.Note](t, w).Metadata.Title != "Groceries" {
		t.Fatalf("meta: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPatch, base+"/meta", map[string]any{"title": 7}); w.Code != http.StatusBadRequest {
		t.Errorf("non-string title status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPatch, base+"/meta", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty meta status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPatch, base+"/meta", map[string]any{"title": strings.Repeat("t", 181)}); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("long title status = %d", w.Code)
	}

	if w := e.do(t, http.MethodPost, base+"/seen", nil); w.Code != http.StatusOK {
		t.Errorf("seen status = %d", w.Code)
	}

	if w := e.do(t, http.MethodDelete, base, nil); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d", w.Code)
	}
}

func TestMoveTreeAndRemoveFolder(t *testing.T) {
	e := newTestEnv(t, "")
	note := e.capture(t, "move me around")

	w := e.do(t, http.MethodPost, "/notes/"+note.ID()+"/move", map[string]string{"folderPath": " work/ideas/ "})
	if w.Code != http.StatusOK {
		t.Fatalf("move status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode[moveResponse](t, w); resp.Note.Metadata.FolderPath != "work/ideas" {
		t.Errorf("folderPath = %q", resp.Note.Metadata.FolderPath)
	}

	if w := e.do(t, http.MethodPost, "/notes/"+note.ID()+"/move", map[string]string{"folderPath": "../escape"}); w.Code != http.StatusBadRequest {
		t.Errorf("escape move status = %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/tree", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"path":"work/ideas"`) {
		t.Errorf("tree: %d %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodPost, "/folders/remove", map[string]string{"folderPath": "inbox"}); w.Code != http.StatusBadRequest {
		t.Errorf("builtin remove status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/folders/remove", map[string]string{"folderPath": "nowhere"}); w.Code != http.StatusNotFound {
		t.Errorf("missing remove status = %d", w.Code)
	}
	w = e.do(t, http.MethodPost, "/folders/remove", map[string]string{"folderPath": "work"})
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d, body = %s", w.Code, w.Body.String())
	}
	if res := decode[docstore.RemoveResult](t, w); res.MovedNotes != 1 || res.RemovedFolders != 2 {
		t.Errorf("remove result = %+v", res)
	}

	w = e.do(t, http.MethodGet, "/notes/"+note.ID(), nil)
	if got := decode[models.Note](t, w); got.Metadata.FolderPath != "inbox" {
		t.Errorf("folderPath after remove = %q", got.Metadata.FolderPath)
	}
}

func TestPendingLifecycle(t *testing.T) {
	e := newTestEnv(t, "")
	note := e.capture(t, "agent will process")

	if w := e.do(t, http.MethodPost, "/pending/"+note.ID()+"/start", nil); w.Code != http.StatusNoContent {
		t.Fatalf("start status = %d", w.Code)
	}
	patch := map[string]any{"kind": "action", "folderPath": "actions", "themes": []string{"home"}}
	if w := e.do(t, http.MethodPatch, "/notes/"+note.ID()+"/frontmatter", patch); w.Code != http.StatusOK {
		t.Fatalf("frontmatter status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPatch, "/notes/"+note.ID()+"/frontmatter", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty frontmatter status = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/pending/"+note.ID(), nil); w.Code != http.StatusNoContent {
		t.Fatalf("finish status = %d", w.Code)
	}

	w := e.do(t, http.MethodGet, "/pending", nil)
	if ids := decode[[]string](t, w); len(ids) != 0 {
		t.Errorf("pending = %v", ids)
	}
	w = e.do(t, http.MethodGet, "/notes/"+note.ID(), nil)
	got := decode[models.Note](t, w)
	if got.Metadata.Status != models.StatusProcessed || got.Metadata.FolderPath != "actions" {
		t.Errorf("note after processing: %+v", got.Metadata)
	}
}

func TestUserActions(t *testing.T) {
	e := newTestEnv(t, "")
	note := e.capture(t, "# Trip\nplan the trip")
	actions := []models.Action{{Label: "Book flights", Assignee: models.AssigneeUser}}
	if _, err := e.store.PatchMetadata(context.Background(), note.ID(), models.MetadataPatch{SuggestedActions: &actions}); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodGet, "/user-actions", nil)
	list := decode[[]noteservice.UserAction](t, w)
	if len(list) != 1 || list[0].NoteTitle != "Trip" || list[0].Status != models.ActionPending {
		t.Fatalf("user actions = %+v", list)
	}

	w = e.do(t, http.MethodPost, "/user-actions/"+note.ID()+"/0/complete", map[string]string{"result": "booked"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decode[actionResponse](t, w); resp.Action.Status != models.ActionCompleted || resp.Action.Result != "booked" {
		t.Errorf("action = %+v", resp.Action)
	}

	if w := e.do(t, http.MethodPost, "/user-actions/"+note.ID()+"/0/decline", nil); w.Code != http.StatusOK {
		t.Errorf("decline status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/user-actions/"+note.ID()+"/5/decline", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad index status = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/user-actions/"+note.ID()+"/x/decline", nil); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric index status = %d", w.Code)
	}
}

func TestAgentActionFlow(t *testing.T) {
	e := newTestEnv(t, "")
	note := e.capture(t, "Buy milk")
	actions := []models.Action{
		{Label: "Order online", Assignee: models.AssigneeAgent},
		{Label: "Go yourself", Assignee: models.AssigneeUser},
	}
	if _, err := e.store.PatchMetadata(context.Background(), note.ID(), models.MetadataPatch{SuggestedActions: &actions}); err != nil {
		t.Fatal(err)
	}
	base := "/agent-actions/" + note.ID()

	w := e.do(t, http.MethodGet, base+"/0/status", nil)
	if v := decode[jobs.StatusView](t, w); v.Status != jobs.StateNotStarted {
		t.Errorf("initial status = %+v", v)
	}

	if w := e.do(t, http.MethodPost, base+"/1/run", nil); w.Code != http.StatusBadRequest {
		t.Errorf("user action run status = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, base+"/0/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", w.Code, w.Body.String())
	}
	run := decode[runResponse](t, w)
	if !run.OK || run.JobID == "" {
		t.Fatalf("run response = %+v", run)
	}

	w = e.do(t, http.MethodPost, base+"/0/run", nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Errorf("cooldown status = %d, retry-after = %q", w.Code, w.Header().Get("Retry-After"))
	}

	w = e.do(t, http.MethodPost, base+"/0/complete", map[string]string{"jobId": "job-other", "status": "completed"})
	if w.Code != http.StatusConflict {
		t.Errorf("mismatch status = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, base+"/0/complete", map[string]string{"jobId": run.JobID, "status": "completed", "result": "✓ done"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body = %s", w.Code, w.Body.String())
	}
	done := decode[completeResponse](t, w)
	if done.Status != models.JobCompleted || done.JobID != run.JobID || done.LinkedNoteID != nil {
		t.Errorf("complete response = %+v", done)
	}

	w = e.do(t, http.MethodGet, base+"/0/status", nil)
	if v := decode[jobs.StatusView](t, w); v.Status != "completed" || v.Result != "✓ done" {
		t.Errorf("final status = %+v", v)
	}

	w = e.do(t, http.MethodGet, "/notes/"+note.ID(), nil)
	got := decode[models.Note](t, w)
	if a := got.Metadata.SuggestedActions[0]; a.Result != "✓ done" || a.Status != models.ActionCompleted {
		t.Errorf("action after completion = %+v", a)
	}
}

func TestAgentStatusAndDocuments(t *testing.T) {
	e := newTestEnv(t, "")
	e.capture(t, "one pending note")

	w := e.do(t, http.MethodGet, "/agent/status", nil)
	st := decode[noteservice.AgentStatus](t, w)
	if st.State != noteservice.AgentOnline || st.PendingQueue != 1 || !st.Listening {
		t.Errorf("agent status = %+v", st)
	}

	for _, path := range []string{"/memory", "/mission"} {
		w := e.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"content":""`) {
			t.Errorf("%s: %d %s", path, w.Code, w.Body.String())
		}
	}

	w = e.do(t, http.MethodGet, "/connections", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"edges":[]`) {
		t.Errorf("connections: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := newTestEnv(t, "s3cret")

	w := e.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d", rec.Code)
	}
}
