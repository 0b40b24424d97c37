package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/jobs"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/noteservice"
	"github.com/starford/snippets/internal/testutil"
)

type quietAgent struct{}

func (quietAgent) Dispatch(context.Context, agent.Task) error { return nil }
func (quietAgent) Snapshot() agent.Connectivity               { return agent.Connectivity{} }
func (quietAgent) Configured() bool                           { return true }

func testServer(t *testing.T) (*Server, *noteservice.Service) {
	t.Helper()
	ws := testutil.NewWorkspace(t, nil)
	svc, err := noteservice.New(noteservice.Options{Store: ws.Store, Agent: quietAgent{}, Graph: ws.Graph})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := jobs.New(jobs.Options{
		Config:     jobs.Config{Path: filepath.Join(ws.AgentDir, "agent-jobs.json"), PublicURL: "http://snippets.test"},
		Notes:      ws.Store,
		Dispatcher: quietAgent{},
		Edges:      ws.Graph,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tr.Close)
	return New(svc, tr), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_pending":      srv.listPending,
		"read_note":         srv.readNote,
		"create_note":       srv.createNote,
		"patch_note":        srv.patchNote,
		"move_note":         srv.moveNote,
		"start_processing":  srv.startProcessing,
		"finish_processing": srv.finishProcessing,
		"complete_action":   srv.completeAction,
		"get_tree":          srv.getTree,
		"get_note_contract": srv.getNoteContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestProcessingWorkflow(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()
	n, err := svc.Capture(ctx, "Renew passport before May")
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "list_pending", nil)
	var pendingNotes []models.Note
	if err := json.Unmarshal([]byte(resultText(r)), &pendingNotes); err != nil {
		t.Fatalf("list_pending: %v (%s)", err, resultText(r))
	}
	if len(pendingNotes) != 1 || pendingNotes[0].ID() != n.ID() {
		t.Fatalf("pending = %+v", pendingNotes)
	}

	if r := callTool(t, srv, "start_processing", map[string]interface{}{"id": n.ID()}); r.IsError {
		t.Fatalf("start_processing: %s", resultText(r))
	}
	r = callTool(t, srv, "patch_note", map[string]interface{}{
		"id":          n.ID(),
		"frontmatter": `{"kind":"action","themes":["travel"],"suggestedActions":[{"label":"Book appointment","assignee":"agent"}]}`,
	})
	if r.IsError {
		t.Fatalf("patch_note: %s", resultText(r))
	}
	r = callTool(t, srv, "move_note", map[string]interface{}{"id": n.ID(), "folderPath": "actions/admin"})
	if r.IsError || resultText(r) != "moved "+n.ID()+" to actions/admin" {
		t.Fatalf("move_note: %s", resultText(r))
	}
	if r := callTool(t, srv, "finish_processing", map[string]interface{}{"id": n.ID()}); r.IsError {
		t.Fatalf("finish_processing: %s", resultText(r))
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{"id": n.ID()})
	var got models.Note
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Status != models.StatusProcessed || got.Metadata.FolderPath != "actions/admin" || got.Metadata.Kind != "action" {
		t.Errorf("note after workflow: %+v", got.Metadata)
	}

	r = callTool(t, srv, "get_tree", nil)
	if !strings.Contains(resultText(r), `"path": "actions/admin"`) {
		t.Errorf("tree missing folder: %s", resultText(r))
	}
}

func TestPatchNoteRejectsBadInput(t *testing.T) {
	srv, svc := testServer(t)
	n, err := svc.Capture(context.Background(), "some note")
	if err != nil {
		t.Fatal(err)
	}
	for _, fm := range []string{"not json", "{}"} {
		r := callTool(t, srv, "patch_note", map[string]interface{}{"id": n.ID(), "frontmatter": fm})
		if !r.IsError {
			t.Errorf("frontmatter %q: expected error", fm)
		}
	}
	r := callTool(t, srv, "move_note", map[string]interface{}{"id": n.ID(), "folderPath": "../out"})
	if !r.IsError {
		t.Error("expected error for escaping folder")
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestCompleteActionTool(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()
	n, err := svc.Capture(ctx, "draft the newsletter")
	if err != nil {
		t.Fatal(err)
	}
	actions := []models.Action{{Label: "Write draft", Assignee: models.AssigneeAgent}}
	if _, err := svc.Store().PatchMetadata(ctx, n.ID(), models.MetadataPatch{SuggestedActions: &actions}); err != nil {
		t.Fatal(err)
	}
	job, err := srv.jobs.(*jobs.Tracker).RunAction(ctx, n.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "complete_action", map[string]interface{}{
		"noteId": n.ID(), "actionIndex": 0.0, "jobId": "job-wrong", "status": "completed",
	})
	if !r.IsError {
		t.Error("expected mismatch error")
	}

	r = callTool(t, srv, "complete_action", map[string]interface{}{
		"noteId": n.ID(), "actionIndex": 0.0, "jobId": job.ID, "status": "completed", "result": "✓ drafted",
	})
	if r.IsError {
		t.Fatalf("complete_action: %s", resultText(r))
	}
	got, err := svc.Store().Get(ctx, n.ID())
	if err != nil {
		t.Fatal(err)
	}
	if a := got.Metadata.SuggestedActions[0]; a.Result != "✓ drafted" || a.JobStatus != models.JobCompleted {
		t.Errorf("action = %+v", a)
	}
}

func TestNoteContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_note_contract", nil)
	if !strings.Contains(resultText(r), "suggestedActions") {
		t.Error("contract missing suggestedActions")
	}
	contents, err := srv.readNoteFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource: %v %v", contents, err)
	}
}
