package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/docstore"
	"github.com/starford/snippets/internal/graph"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/testutil"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []agent.Task
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, t agent.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return f.err
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	store    *docstore.Store
	graph    *graph.Store
	disp     *fakeDispatcher
	clock    *clock
	jobsPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ws := testutil.NewWorkspace(t, nil)
	return &env{
		store:    ws.Store,
		graph:    ws.Graph,
		disp:     &fakeDispatcher{},
		clock:    &clock{t: time.Now()},
		jobsPath: filepath.Join(ws.AgentDir, "agent-jobs.json"),
	}
}

func (e *env) tracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	cfg.Path = e.jobsPath
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://snippets.test"
	}
	tr, err := New(Options{
		Config:     cfg,
		Notes:      e.store,
		Dispatcher: e.disp,
		Edges:      e.graph,
		Now:        e.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

// noteWithActions creates a note carrying the given suggested actions.
func (e *env) noteWithActions(t *testing.T, actions ...models.Action) string {
	t.Helper()
	ctx := context.Background()
	n, err := e.store.Create(ctx, "some note content")
	require.NoError(t, err)
	_, err = e.store.PatchMetadata(ctx, n.ID(), models.MetadataPatch{SuggestedActions: &actions})
	require.NoError(t, err)
	return n.ID()
}

func (e *env) action(t *testing.T, noteID string, idx int) models.Action {
	t.Helper()
	n, err := e.store.Get(context.Background(), noteID)
	require.NoError(t, err)
	require.Greater(t, len(n.Metadata.SuggestedActions), idx)
	return n.Metadata.SuggestedActions[idx]
}

func eventually(t *testing.T, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

var agentAction = models.Action{Label: "Draft reply", Assignee: models.AssigneeAgent, Priority: models.PriorityHigh}

func TestRunAction_StampsActionAndDispatches(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, agentAction)

	job, err := tr.RunAction(context.Background(), id, 0)
	require.NoError(t, err)
	require.Equal(t, models.JobRunning, job.Status)
	require.True(t, strings.HasPrefix(job.ID, "job-"+id+"-0-"))
	require.Equal(t, 1, tr.RunningCount())

	a := e.action(t, id, 0)
	require.Equal(t, job.ID, a.JobID)
	require.Equal(t, models.JobRunning, a.JobStatus)
	require.NotNil(t, a.JobStartedAt)

	eventually(t, func() bool { return e.disp.count() == 1 }, "dispatch not attempted")
	task := e.disp.tasks[0]
	require.Equal(t, "Snippets Action: Draft reply", task.Name)
	require.Contains(t, task.Message, "Action ID: "+job.ID)
	require.Contains(t, task.Message, "http://snippets.test/api/agent-actions/"+id+"/0/complete")

	view, err := tr.Status(context.Background(), id, 0)
	require.NoError(t, err)
	require.Equal(t, "running", view.Status)
	require.Equal(t, job.ID, view.JobID)
}

func TestRunAction_Rejections(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, models.Action{Label: "Call mom", Assignee: models.AssigneeUser})
	ctx := context.Background()

	_, err := tr.RunAction(ctx, id, 0)
	require.ErrorIs(t, err, apperr.ErrWrongAssignee)
	require.ErrorIs(t, err, apperr.ErrRejected)

	_, err = tr.RunAction(ctx, id, 3)
	require.ErrorIs(t, err, apperr.ErrActionIndex)

	_, err = tr.RunAction(ctx, "missing-note", 0)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.Zero(t, e.disp.count())
}

func TestRunAction_Cooldown(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, agentAction)
	ctx := context.Background()

	first, err := tr.RunAction(ctx, id, 0)
	require.NoError(t, err)

	e.clock.Advance(20 * time.Second)
	_, err = tr.RunAction(ctx, id, 0)
	var cd *apperr.CooldownError
	require.True(t, errors.As(err, &cd), "want cooldown, got %v", err)
	require.Equal(t, 40, cd.Seconds())
	require.Equal(t, first.ID, e.action(t, id, 0).JobID, "rejected run must not touch the action")

	e.clock.Advance(41 * time.Second)
	second, err := tr.RunAction(ctx, id, 0)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, second.ID, e.action(t, id, 0).JobID)
}

func TestCompleteAction_MismatchAndMissingJob(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, agentAction, models.Action{Label: "Other", Assignee: models.AssigneeAgent})
	ctx := context.Background()

	_, err := tr.CompleteAction(ctx, id, 1, Completion{Status: models.JobCompleted})
	require.ErrorIs(t, err, apperr.ErrNoAssociatedJob)

	job, err := tr.RunAction(ctx, id, 0)
	require.NoError(t, err)

	_, err = tr.CompleteAction(ctx, id, 0, Completion{JobID: "job-stale", Status: models.JobCompleted, Result: "✓ old"})
	require.ErrorIs(t, err, apperr.ErrJobIDMismatch)

	got, ok := tr.Job(job.ID)
	require.True(t, ok)
	require.Equal(t, models.JobRunning, got.Status)
	a := e.action(t, id, 0)
	require.Equal(t, models.JobRunning, a.JobStatus)
	require.Empty(t, a.Result)
}

func TestCompleteAction_LinksGeneratedNoteOnce(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, agentAction)
	ctx := context.Background()
	generated, err := e.store.Create(ctx, "# Reply draft")
	require.NoError(t, err)

	job, err := tr.RunAction(ctx, id, 0)
	require.NoError(t, err)

	done := Completion{
		JobID:           job.ID,
		Status:          "success",
		Result:          "  ✓ drafted  ",
		LinkedNoteID:    " " + generated.ID() + " ",
		LinkedNoteTitle: "Reply draft",
	}
	for i := 0; i < 2; i++ {
		got, err := tr.CompleteAction(ctx, id, 0, done)
		require.NoError(t, err)
		require.Equal(t, models.JobCompleted, got.Status)
		require.Equal(t, "✓ drafted", got.Result)
		require.NotNil(t, got.CompletedAt)
	}

	a := e.action(t, id, 0)
	require.Equal(t, models.ActionCompleted, a.Status)
	require.Equal(t, models.JobCompleted, a.JobStatus)
	require.Equal(t, "✓ drafted", a.Result)
	require.Equal(t, generated.ID(), a.LinkedNoteID)
	require.Equal(t, "Reply draft", a.LinkedNoteTitle)

	n, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{generated.ID()}, n.Metadata.Connections)

	g, err := e.graph.List()
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	require.Equal(t, "generated", g.Edges[0].Relationship)
	require.Equal(t, 1.0, g.Edges[0].Strength)
	require.Equal(t, "Generated by action: Draft reply", g.Edges[0].Reason)
	require.Zero(t, tr.RunningCount())
}

func TestCompleteAction_UnknownLinkedNoteSkipsLink(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, agentAction)
	ctx := context.Background()

	job, err := tr.RunAction(ctx, id, 0)
	require.NoError(t, err)
	got, err := tr.CompleteAction(ctx, id, 0, Completion{JobID: job.ID, Status: models.JobFailed, LinkedNoteID: "nope"})
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, got.Status)
	require.Equal(t, "Action failed in hook execution.", got.Result)
	require.Empty(t, got.LinkedNoteID)

	a := e.action(t, id, 0)
	require.Equal(t, models.JobFailed, a.JobStatus)
	require.NotEqual(t, models.ActionCompleted, a.Status)
	g, _ := e.graph.List()
	require.Empty(t, g.Edges)
}

func TestTimeoutThenLateSuccess(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{Timeout: 50 * time.Millisecond})
	id := e.noteWithActions(t, agentAction)
	ctx := context.Background()

	job, err := tr.RunAction(ctx, id, 0)
	require.NoError(t, err)

	eventually(t, func() bool {
		j, _ := tr.Job(job.ID)
		return j.Status == models.JobFailed
	}, "job did not time out")
	j, _ := tr.Job(job.ID)
	require.Contains(t, j.Result, "timed out")
	eventually(t, func() bool {
		return e.action(t, id, 0).JobStatus == models.JobFailed
	}, "timeout not mirrored onto the action")

	got, err := tr.CompleteAction(ctx, id, 0, Completion{JobID: job.ID, Status: models.JobCompleted, Result: "✓ late"})
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, got.Status)
	require.Equal(t, "✓ late", e.action(t, id, 0).Result)
}

func TestDispatchFailureFailsJob(t *testing.T) {
	e := newEnv(t)
	e.disp.err = &agent.StatusError{Code: 503, Body: "down"}
	tr := e.tracker(t, Config{})
	id := e.noteWithActions(t, agentAction)

	job, err := tr.RunAction(context.Background(), id, 0)
	require.NoError(t, err, "dispatch happens in the background")

	eventually(t, func() bool {
		j, _ := tr.Job(job.ID)
		return j.Status == models.JobFailed
	}, "dispatch failure not recorded")
	j, _ := tr.Job(job.ID)
	require.Equal(t, "Failed to queue: 503", j.Result)
	eventually(t, func() bool {
		return e.action(t, id, 0).Result == "Failed to queue: 503"
	}, "dispatch failure not mirrored")
}

func TestSweepStalledAfterRestart(t *testing.T) {
	e := newEnv(t)
	id := e.noteWithActions(t, agentAction)
	ctx := context.Background()

	old := e.clock.Now().Add(-20 * time.Minute).UTC()
	jobID := "job-" + id + "-0-1"
	actions := []models.Action{agentAction}
	actions[0].JobID = jobID
	actions[0].JobStatus = models.JobRunning
	actions[0].JobStartedAt = &old
	_, err := e.store.PatchMetadata(ctx, id, models.MetadataPatch{SuggestedActions: &actions})
	require.NoError(t, err)

	data, err := json.Marshal(tableFile{Jobs: []*models.Job{{
		ID: jobID, Status: models.JobRunning, StartedAt: old, NoteID: id, ActionIndex: 0,
	}}})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.jobsPath), 0o755))
	require.NoError(t, os.WriteFile(e.jobsPath, data, 0o644))

	tr := e.tracker(t, Config{})
	require.Equal(t, 1, tr.RunningCount(), "running jobs survive a restart")
	require.Equal(t, 1, tr.SweepStalled(ctx))
	require.Zero(t, tr.SweepStalled(ctx))

	j, ok := tr.Job(jobID)
	require.True(t, ok)
	require.Equal(t, models.JobFailed, j.Status)
	require.Contains(t, j.Result, "after 20 minutes")
	require.Equal(t, models.JobFailed, e.action(t, id, 0).JobStatus)

	reloaded := e.tracker(t, Config{})
	j, ok = reloaded.Job(jobID)
	require.True(t, ok)
	require.Equal(t, models.JobFailed, j.Status)
}

func TestCorruptTableStartsEmpty(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.jobsPath), 0o755))
	require.NoError(t, os.WriteFile(e.jobsPath, []byte("{not json"), 0o644))
	tr := e.tracker(t, Config{})
	require.Zero(t, tr.RunningCount())
}

func TestStatus_RecoversLostJob(t *testing.T) {
	e := newEnv(t)
	id := e.noteWithActions(t, agentAction)
	ctx := context.Background()
	tr := e.tracker(t, Config{})

	view, err := tr.Status(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, StateNotStarted, view.Status)

	old := e.clock.Now().Add(-11 * time.Minute).UTC()
	actions := []models.Action{agentAction}
	actions[0].JobID = "job-gone"
	actions[0].JobStatus = models.JobRunning
	actions[0].JobStartedAt = &old
	_, err = e.store.PatchMetadata(ctx, id, models.MetadataPatch{SuggestedActions: &actions})
	require.NoError(t, err)

	view, err = tr.Status(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, "failed", view.Status)
	require.True(t, view.Recovered)
	require.Contains(t, view.Result, "Lost job tracking")

	a := e.action(t, id, 0)
	require.Equal(t, models.JobFailed, a.JobStatus)

	view, err = tr.Status(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, "failed", view.Status)
	require.False(t, view.Recovered)
}

func TestCaptureToCompletedAction(t *testing.T) {
	e := newEnv(t)
	tr := e.tracker(t, Config{})
	ctx := context.Background()

	n, err := e.store.Create(ctx, "placeholder")
	require.NoError(t, err)
	n, err = e.store.SaveContent(ctx, n.ID(), "Buy milk")
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, n.Metadata.Status)

	kind, clarity := "action", "clear"
	actions := []models.Action{{Label: "Order groceries", Assignee: models.AssigneeAgent}}
	_, err = e.store.PatchMetadata(ctx, n.ID(), models.MetadataPatch{
		Kind:             &kind,
		Actionability:    &clarity,
		SuggestedActions: &actions,
	})
	require.NoError(t, err)

	job, err := tr.RunAction(ctx, n.ID(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	done, err := tr.CompleteAction(ctx, n.ID(), 0, Completion{JobID: job.ID, Status: models.JobCompleted, Result: "✓ done"})
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, done.Status)

	a := e.action(t, n.ID(), 0)
	require.Equal(t, "✓ done", a.Result)
	require.Equal(t, models.JobCompleted, a.JobStatus)
}

func TestStaleRecoveryKeepsExistingResult(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	old := e.clock.Now().Add(-20 * time.Minute).UTC()

	swept := e.noteWithActions(t, agentAction)
	sweptJob := "job-" + swept + "-0-1"
	actions := []models.Action{agentAction}
	actions[0].JobID = sweptJob
	actions[0].JobStatus = models.JobRunning
	actions[0].JobStartedAt = &old
	_, err := e.store.PatchMetadata(ctx, swept, models.MetadataPatch{SuggestedActions: &actions})
	require.NoError(t, err)

	data, err := json.Marshal(tableFile{Jobs: []*models.Job{{
		ID: sweptJob, Status: models.JobRunning, StartedAt: old, NoteID: swept, Result: "half the draft written",
	}}})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.jobsPath), 0o755))
	require.NoError(t, os.WriteFile(e.jobsPath, data, 0o644))

	tr := e.tracker(t, Config{})
	require.Equal(t, 1, tr.SweepStalled(ctx))
	j, ok := tr.Job(sweptJob)
	require.True(t, ok)
	require.Equal(t, models.JobFailed, j.Status)
	require.Equal(t, "half the draft written", j.Result)
	require.Equal(t, "half the draft written", e.action(t, swept, 0).Result)

	lost := e.noteWithActions(t, agentAction)
	actions = []models.Action{agentAction}
	actions[0].JobID = "job-untracked"
	actions[0].JobStatus = models.JobRunning
	actions[0].JobStartedAt = &old
	actions[0].Result = "reply sent, summary pending"
	_, err = e.store.PatchMetadata(ctx, lost, models.MetadataPatch{SuggestedActions: &actions})
	require.NoError(t, err)

	view, err := tr.Status(ctx, lost, 0)
	require.NoError(t, err)
	require.True(t, view.Recovered)
	require.Equal(t, "failed", view.Status)
	require.Equal(t, "reply sent, summary pending", view.Result)
	a := e.action(t, lost, 0)
	require.Equal(t, models.JobFailed, a.JobStatus)
	require.Equal(t, "reply sent, summary pending", a.Result)
}

func TestKeepResult(t *testing.T) {
	require.Equal(t, "diag", keepResult("", "diag"))
	require.Equal(t, "diag", keepResult("  ", "diag"))
	require.Equal(t, "partial", keepResult("partial", "diag"))
}
