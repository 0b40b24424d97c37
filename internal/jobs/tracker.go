// Package jobs tracks agent action executions from dispatch to their
// completion callback, timeout or stale reap.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/starford/snippets/internal/agent"
	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/models"
	"github.com/starford/snippets/internal/telemetry"
)

const (
	cooldownPruneAt   = 200
	cooldownRetention = 5 * time.Minute
)

// Notes is the slice of the document store the tracker needs.
type Notes interface {
	Get(ctx context.Context, id string) (*models.Note, error)
	Exists(ctx context.Context, id string) (bool, error)
	PatchMetadata(ctx context.Context, id string, patch models.MetadataPatch) (*models.Note, error)
	UpdateActions(ctx context.Context, id string, fn func([]models.Action) ([]models.Action, error)) (*models.Note, error)
}

// Dispatcher hands a task to the external agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, t agent.Task) error
}

// EdgeAdder records generated-note connections.
type EdgeAdder interface {
	AddEdge(e models.Edge) (bool, error)
}

// Config holds the tracker's timing and addressing settings. Zero
// durations take the defaults.
type Config struct {
	// Path is the job table file. Empty keeps the table in memory only.
	Path          string
	Cooldown      time.Duration
	Timeout       time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// PublicURL is the externally reachable base of this server, used in
	// the callback instructions handed to the agent.
	PublicURL string
	// AuthToken is included in those instructions when API auth is on.
	AuthToken string
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return c
}

// Options wires a Tracker. Notes and Dispatcher are required.
type Options struct {
	Config     Config
	Notes      Notes
	Dispatcher Dispatcher
	Edges      EdgeAdder // optional
	Logger     *slog.Logger
	Now        func() time.Time
}

// Completion is the body of an agent completion callback.
type Completion struct {
	JobID           string           `json:"jobId"`
	Status          models.JobStatus `json:"status"`
	Result          string           `json:"result"`
	LinkedNoteID    string           `json:"linkedNoteId"`
	LinkedNoteTitle string           `json:"linkedNoteTitle"`
}

// View states that are not job statuses.
const (
	StateNotStarted = "not-started"
	StateUnknown    = "unknown"
)

// StatusView is what callers polling an action see.
type StatusView struct {
	JobID       string     `json:"jobId,omitempty"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Recovered   bool       `json:"recovered,omitempty"`
}

// Tracker owns the job table and the per-action cooldown table. All state
// transitions happen under mu and are persisted before returning.
type Tracker struct {
	cfg        Config
	notes      Notes
	dispatcher Dispatcher
	edges      EdgeAdder
	logger     *slog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*models.Job
	cooldowns map[string]time.Time
	timers    map[string]*time.Timer
	closed    bool
}

// New builds a tracker and reloads the persisted job table. A corrupt table
// is logged and replaced by an empty one.
func New(opts Options) (*Tracker, error) {
	if opts.Notes == nil {
		return nil, fmt.Errorf("jobs: notes store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("jobs: dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:        opts.Config.withDefaults(),
		notes:      opts.Notes,
		dispatcher: opts.Dispatcher,
		edges:      opts.Edges,
		logger:     logger,
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*models.Job),
		cooldowns:  make(map[string]time.Time),
		timers:     make(map[string]*time.Timer),
	}
	if err := t.load(); err != nil {
		cancel()
		return nil, err
	}
	t.updateGauge()
	return t, nil
}

// RunAction dispatches the agent action at idx of the note and returns the
// new running job. The dispatch itself happens in the background.
func (t *Tracker) RunAction(ctx context.Context, noteID string, idx int) (*models.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action, err := t.actionAt(ctx, noteID, idx)
	if err != nil {
		return nil, err
	}
	if action.Assignee != models.AssigneeAgent {
		return nil, apperr.ErrWrongAssignee
	}

	now := t.now()
	key := cooldownKey(noteID, idx)
	if last, ok := t.cooldowns[key]; ok {
		if rem := t.cfg.Cooldown - now.Sub(last); rem > 0 {
			telemetry.CooldownRejects.Inc()
			return nil, &apperr.CooldownError{Remaining: rem}
		}
	}

	started := now.UTC()
	job := &models.Job{
		ID:          t.newJobID(noteID, idx, now),
		Status:      models.JobRunning,
		StartedAt:   started,
		NoteID:      noteID,
		ActionIndex: idx,
	}
	t.jobs[job.ID] = job
	if err := t.persist(); err != nil {
		delete(t.jobs, job.ID)
		return nil, err
	}

	_, err = t.notes.UpdateActions(ctx, noteID, func(actions []models.Action) ([]models.Action, error) {
		if idx >= len(actions) {
			return nil, apperr.ErrActionIndex
		}
		actions[idx].JobID = job.ID
		actions[idx].JobStatus = models.JobRunning
		actions[idx].JobStartedAt = &started
		return actions, nil
	})
	if err != nil {
		delete(t.jobs, job.ID)
		if perr := t.persist(); perr != nil {
			t.logger.Error("job revert not persisted", slog.String("job_id", job.ID), slog.String("error", perr.Error()))
		}
		return nil, err
	}

	t.cooldowns[key] = now
	t.pruneCooldowns(now)

	id := job.ID
	t.timers[id] = time.AfterFunc(t.cfg.Timeout, func() { t.expire(id) })

	task := agent.ActionTask(agent.ActionRequest{
		Label:         action.DisplayLabel(),
		JobID:         id,
		CallbackURL:   fmt.Sprintf("%s/api/agent-actions/%s/%d/complete", t.cfg.PublicURL, url.PathEscape(noteID), idx),
		CreateNoteURL: t.cfg.PublicURL + "/api/notes",
		AuthToken:     t.cfg.AuthToken,
	})
	t.wg.Add(1)
	go t.dispatch(id, task)

	telemetry.JobsStarted.Inc()
	t.updateGauge()
	t.logger.Info("action dispatched",
		slog.String("job_id", id),
		slog.String("note_id", noteID),
		slog.Int("action_index", idx))

	out := *job
	return &out, nil
}

// CompleteAction applies an agent callback to the action's current job.
// Any status other than failed counts as completed. A callback arriving
// after the timeout fired still overwrites the failed state.
func (t *Tracker) CompleteAction(ctx context.Context, noteID string, idx int, c Completion) (*models.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action, err := t.actionAt(ctx, noteID, idx)
	if err != nil {
		return nil, err
	}
	if action.JobID == "" {
		return nil, apperr.ErrNoAssociatedJob
	}
	if c.JobID != "" && c.JobID != action.JobID {
		return nil, fmt.Errorf("callback for %s, action runs %s: %w", c.JobID, action.JobID, apperr.ErrJobIDMismatch)
	}

	job, ok := t.jobs[action.JobID]
	if !ok {
		started := t.now().UTC()
		if action.JobStartedAt != nil {
			started = *action.JobStartedAt
		}
		job = &models.Job{
			ID:          action.JobID,
			Status:      models.JobRunning,
			Result:      action.Result,
			StartedAt:   started,
			NoteID:      noteID,
			ActionIndex: idx,
		}
		t.jobs[job.ID] = job
	}
	prev := *job

	status := models.JobCompleted
	if c.Status == models.JobFailed {
		status = models.JobFailed
	}
	result := strings.TrimSpace(c.Result)
	if result == "" {
		result = job.Result
	}
	if result == "" {
		result = defaultResult(status)
	}

	linkedID := strings.TrimSpace(c.LinkedNoteID)
	linked := false
	if linkedID != "" {
		exists, err := t.notes.Exists(ctx, linkedID)
		switch {
		case err != nil:
			t.logger.Warn("linked note lookup failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		case !exists:
			t.logger.Warn("linked note does not exist", slog.String("job_id", job.ID), slog.String("linked_note_id", linkedID))
		case linkedID == noteID:
		default:
			linked = true
		}
	}
	if linked {
		job.LinkedNoteID = linkedID
		job.LinkedNoteTitle = strings.TrimSpace(c.LinkedNoteTitle)
	}
	t.transition(job, status, result)

	if err := t.persist(); err != nil {
		*job = prev
		t.updateGauge()
		return nil, err
	}
	if err := t.mirror(ctx, job); err != nil {
		return nil, err
	}
	if linked {
		t.link(ctx, noteID, linkedID, action)
	}

	t.logger.Info("action completed",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)))
	out := *job
	return &out, nil
}

// Status reports the state of the action's current job. When the job table
// has no record the persisted action fields are used, and a running state
// older than the stale bound is recovered as failed.
func (t *Tracker) Status(ctx context.Context, noteID string, idx int) (StatusView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action, err := t.actionAt(ctx, noteID, idx)
	if err != nil {
		return StatusView{}, err
	}
	if action.JobID == "" {
		return StatusView{Status: StateNotStarted}, nil
	}
	if job, ok := t.jobs[action.JobID]; ok {
		started := job.StartedAt
		view := StatusView{
			JobID:     job.ID,
			Status:    string(job.Status),
			Result:    job.Result,
			StartedAt: &started,
		}
		if job.CompletedAt != nil {
			v := *job.CompletedAt
			view.CompletedAt = &v
		}
		return view, nil
	}

	if action.JobStatus == models.JobRunning {
		stale := action.JobStartedAt == nil || t.now().Sub(*action.JobStartedAt) > t.cfg.StaleAfter
		if stale {
			lost := keepResult(action.Result, "Lost job tracking after restart. Please rerun this action.")
			jobID := action.JobID
			_, err := t.notes.UpdateActions(ctx, noteID, func(actions []models.Action) ([]models.Action, error) {
				if idx >= len(actions) || actions[idx].JobID != jobID {
					return nil, errSuperseded
				}
				actions[idx].JobStatus = models.JobFailed
				actions[idx].Result = lost
				return actions, nil
			})
			if err != nil && !errors.Is(err, errSuperseded) {
				return StatusView{}, err
			}
			t.logger.Warn("recovered lost job", slog.String("job_id", jobID), slog.String("note_id", noteID))
			return StatusView{JobID: jobID, Status: string(models.JobFailed), Result: lost, Recovered: true}, nil
		}
	}
	if action.JobStatus != "" {
		return StatusView{JobID: action.JobID, Status: string(action.JobStatus), Result: action.Result}, nil
	}
	return StatusView{JobID: action.JobID, Status: StateUnknown}, nil
}

// SweepStalled fails every running job older than the stale bound and
// reports how many it reaped.
func (t *Tracker) SweepStalled(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var reaped []*models.Job
	for _, job := range t.jobs {
		if job.Status != models.JobRunning {
			continue
		}
		age := now.Sub(job.StartedAt)
		if age <= t.cfg.StaleAfter {
			continue
		}
		result := fmt.Sprintf("Job timeout: no completion callback after %d minutes. Server may have been restarted.", int(age.Minutes()))
		t.transition(job, models.JobFailed, keepResult(job.Result, result))
		reaped = append(reaped, job)
	}
	if len(reaped) == 0 {
		return 0
	}
	telemetry.StaleJobsReaped.Add(float64(len(reaped)))

	if err := t.persist(); err != nil {
		t.logger.Error("stale sweep not persisted", slog.String("error", err.Error()))
	}
	for _, job := range reaped {
		if err := t.mirror(ctx, job); err != nil {
			t.logger.Warn("stale job not mirrored", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
	}
	t.logger.Info("stale jobs reaped", slog.Int("count", len(reaped)))
	return len(reaped)
}

// Run sweeps once immediately and then on every sweep interval until ctx
// is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.SweepStalled(ctx)
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.SweepStalled(ctx)
		}
	}
}

// RunningCount returns the number of jobs waiting for a callback.
func (t *Tracker) RunningCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

// Job returns a copy of the job with id.
func (t *Tracker) Job(id string) (*models.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	out := *job
	return &out, true
}

// Close stops pending timeouts and waits for in-flight dispatches.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

var errSuperseded = errors.New("action runs a newer job")

// keepResult returns current unless it is blank, in which case the
// diagnostic is used.
func keepResult(current, diagnostic string) string {
	if strings.TrimSpace(current) != "" {
		return current
	}
	return diagnostic
}

func (t *Tracker) dispatch(id string, task agent.Task) {
	defer t.wg.Done()
	err := t.dispatcher.Dispatch(t.ctx, task)
	if err == nil {
		return
	}

	result := "Error: " + err.Error()
	var se *agent.StatusError
	if errors.As(err, &se) {
		result = fmt.Sprintf("Failed to queue: %d", se.Code)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	job, ok := t.jobs[id]
	if !ok || job.Status != models.JobRunning {
		return
	}
	t.logger.Warn("action dispatch failed", slog.String("job_id", id), slog.String("error", err.Error()))
	t.transition(job, models.JobFailed, result)
	t.save(context.Background(), job)
}

func (t *Tracker) expire(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	delete(t.timers, id)
	job, ok := t.jobs[id]
	if !ok || job.Status != models.JobRunning {
		return
	}
	telemetry.JobTimeouts.Inc()
	t.logger.Warn("action timed out", slog.String("job_id", id))
	t.transition(job, models.JobFailed, keepResult(job.Result,
		fmt.Sprintf("Action timed out (%s) waiting for callback. Please rerun.", humanDuration(t.cfg.Timeout))))
	t.save(context.Background(), job)
}

// save persists the table and mirrors job onto its action, logging
// failures. Used by background transitions that have no caller to report to.
func (t *Tracker) save(ctx context.Context, job *models.Job) {
	if err := t.persist(); err != nil {
		t.logger.Error("job table not persisted", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	if err := t.mirror(ctx, job); err != nil {
		t.logger.Warn("job not mirrored", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func (t *Tracker) transition(job *models.Job, status models.JobStatus, result string) {
	now := t.now().UTC()
	job.Status = status
	job.Result = result
	job.CompletedAt = &now
	if timer, ok := t.timers[job.ID]; ok {
		timer.Stop()
		delete(t.timers, job.ID)
	}
	telemetry.JobsFinished.WithLabelValues(string(status)).Inc()
	t.updateGauge()
}

// mirror copies the job state onto the owning action. An action that has
// since been re-run under a newer job is left alone.
func (t *Tracker) mirror(ctx context.Context, job *models.Job) error {
	_, err := t.notes.UpdateActions(ctx, job.NoteID, func(actions []models.Action) ([]models.Action, error) {
		if job.ActionIndex >= len(actions) || actions[job.ActionIndex].JobID != job.ID {
			return nil, errSuperseded
		}
		a := &actions[job.ActionIndex]
		a.JobStatus = job.Status
		if job.Status == models.JobCompleted {
			a.Status = models.ActionCompleted
		}
		if job.Result != "" {
			a.Result = job.Result
		}
		if job.LinkedNoteID != "" {
			a.LinkedNoteID = job.LinkedNoteID
			a.LinkedNoteTitle = job.LinkedNoteTitle
		}
		return actions, nil
	})
	if errors.Is(err, errSuperseded) {
		return nil
	}
	return err
}

// link records the generated note on the source note and in the graph.
func (t *Tracker) link(ctx context.Context, noteID, linkedID string, action models.Action) {
	note, err := t.notes.Get(ctx, noteID)
	if err != nil {
		t.logger.Warn("source note not linked", slog.String("note_id", noteID), slog.String("error", err.Error()))
		return
	}
	conns := note.Metadata.Connections
	present := false
	for _, c := range conns {
		if c == linkedID {
			present = true
			break
		}
	}
	if !present {
		conns = append(append([]string(nil), conns...), linkedID)
		if _, err := t.notes.PatchMetadata(ctx, noteID, models.MetadataPatch{Connections: &conns}); err != nil {
			t.logger.Warn("connection not recorded", slog.String("note_id", noteID), slog.String("error", err.Error()))
		}
	}
	if t.edges == nil {
		return
	}
	_, err = t.edges.AddEdge(models.Edge{
		Source:       noteID,
		Target:       linkedID,
		Relationship: "generated",
		Strength:     1.0,
		Reason:       "Generated by action: " + action.DisplayLabel(),
	})
	if err != nil {
		t.logger.Warn("edge not recorded", slog.String("note_id", noteID), slog.String("error", err.Error()))
	}
}

func (t *Tracker) actionAt(ctx context.Context, noteID string, idx int) (models.Action, error) {
	note, err := t.notes.Get(ctx, noteID)
	if err != nil {
		return models.Action{}, err
	}
	if idx < 0 || idx >= len(note.Metadata.SuggestedActions) {
		return models.Action{}, fmt.Errorf("action %d of %s: %w", idx, noteID, apperr.ErrActionIndex)
	}
	return note.Metadata.SuggestedActions[idx], nil
}

func (t *Tracker) newJobID(noteID string, idx int, now time.Time) string {
	ms := now.UnixMilli()
	for {
		id := fmt.Sprintf("job-%s-%d-%d", noteID, idx, ms)
		if _, taken := t.jobs[id]; !taken {
			return id
		}
		ms++
	}
}

func (t *Tracker) pruneCooldowns(now time.Time) {
	if len(t.cooldowns) <= cooldownPruneAt {
		return
	}
	for key, at := range t.cooldowns {
		if now.Sub(at) > cooldownRetention {
			delete(t.cooldowns, key)
		}
	}
}

func (t *Tracker) runningLocked() int {
	n := 0
	for _, job := range t.jobs {
		if job.Status == models.JobRunning {
			n++
		}
	}
	return n
}

func (t *Tracker) updateGauge() {
	telemetry.RunningJobsGauge.Set(float64(t.runningLocked()))
}

func cooldownKey(noteID string, idx int) string {
	return fmt.Sprintf("%s#%d", noteID, idx)
}

func defaultResult(status models.JobStatus) string {
	if status == models.JobFailed {
		return "Action failed in hook execution."
	}
	return "Action completed successfully. No detailed result was returned by the agent."
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d.Minutes()))
	}
	return d.String()
}
