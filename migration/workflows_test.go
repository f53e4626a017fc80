package migration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calshift/calshift/activity"
	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/directory"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/notify"
	"github.com/calshift/calshift/store/memory"
	"github.com/calshift/calshift/workflow"
)

type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *workflow.Run, string, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *workflow.Run, string, error)            {}
func (nopEmitter) EmitWorkflowStarted(context.Context, *workflow.Run)                      {}
func (nopEmitter) EmitWorkflowCompleted(context.Context, *workflow.Run, time.Duration)     {}
func (nopEmitter) EmitWorkflowFailed(context.Context, *workflow.Run, error)                {}

type harness struct {
	store   *memory.Store
	dir     directory.Client
	notices *notify.Recorder
	runner  *workflow.Runner
	service *Service
}

// newHarness assembles the full migration stack on in-memory backends.
// client defaults to a fresh directory.Memory when nil.
func newHarness(t *testing.T, client directory.Client) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	if client == nil {
		client = directory.NewMemory()
	}
	notices := notify.NewRecorder()

	actReg := activity.NewRegistry()
	NewActivities(client, notices, event.NewBus(store)).Register(actReg)

	actorSvc := actor.NewService(store, logger)
	RegisterActorKinds(actorSvc)

	wfReg := workflow.NewRegistry()
	RegisterWorkflows(wfReg)

	runner := workflow.NewRunner(wfReg, store, store, nopEmitter{}, logger)
	runner.SetActivityExecutor(activity.NewExecutor(actReg, logger))
	runner.SetActorInvoker(actorSvc)

	return &harness{
		store:   store,
		dir:     client,
		notices: notices,
		runner:  runner,
		service: NewService(runner, store, logger),
	}
}

func seedUser(dir *directory.Memory, upn string) {
	dir.AddUser(directory.User{PrincipalName: upn, DisplayName: upn})
}

func seedMeeting(dir *directory.Memory, organizer, subject string, start time.Time) directory.Meeting {
	return dir.AddMeeting(directory.Meeting{
		Subject:         subject,
		Organizer:       organizer,
		Attendees:       []string{"guest@example.com"},
		Start:           start,
		End:             start.Add(time.Hour),
		IsOnlineMeeting: true,
		IsOrganizer:     true,
	})
}

// await polls until the run reaches want. Submissions return while the
// batch is still running, so outcome assertions go through here.
func (h *harness) await(t *testing.T, runID id.RunID, want workflow.RunState) *workflow.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := h.store.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.State == want {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run state = %q after deadline, want %q (error: %s)", run.State, want, run.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeOutput[T any](t *testing.T, run *workflow.Run) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(run.Output, &out); err != nil {
		t.Fatalf("decode output of %s: %v", run.Name, err)
	}
	return out
}

func TestSubmitBatch_RejectsMalformedTableWithoutSideEffects(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.service.SubmitBatch(context.Background(), "a@x,2024-01-01\nbadline")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Lines) != 1 || verr.Lines[0] != 1 {
		t.Errorf("Lines = %v, want [1]", verr.Lines)
	}

	runs, listErr := h.store.ListRuns(context.Background(), workflow.ListOpts{})
	if listErr != nil {
		t.Fatalf("ListRuns: %v", listErr)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs for rejected batch, got %d", len(runs))
	}
}

// gatedClient blocks every GetUser until the gate opens.
type gatedClient struct {
	*directory.Memory
	gate chan struct{}
}

func (c *gatedClient) GetUser(ctx context.Context, identity string) (*directory.User, error) {
	<-c.gate
	return c.Memory.GetUser(ctx, identity)
}

func TestSubmitBatch_ReturnsWhileBatchInFlight(t *testing.T) {
	mem := directory.NewMemory()
	seedUser(mem, "amy@example.com")
	client := &gatedClient{Memory: mem, gate: make(chan struct{})}

	h := newHarness(t, client)

	// The directory is stalled, so a synchronous submission would never
	// return. The caller still gets the run ID at once.
	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if run.State != workflow.RunStateRunning {
		t.Fatalf("run state = %s, want running", run.State)
	}

	status, err := h.service.Status(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Run.State.Terminal() {
		t.Errorf("status reported terminal state %s before the batch finished", status.Run.State)
	}

	close(client.gate)
	h.await(t, run.ID, workflow.RunStateCompleted)
}

func TestMigrateBatch_EndToEnd(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@example.com")
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inScope := seedMeeting(dir, "amy@example.com", "standup", cutoff.AddDate(0, 1, 0))
	seedMeeting(dir, "amy@example.com", "old planning", cutoff.AddDate(0, -1, 0)) // before cutoff

	h := newHarness(t, dir)

	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	run = h.await(t, run.ID, workflow.RunStateCompleted)

	result := decodeOutput[BatchResult](t, run)
	if result.Total != 1 || result.Succeeded != 1 || result.Failed != 0 {
		t.Errorf("batch result = %+v", result)
	}

	// The in-scope meeting was recreated and the source cancelled; the
	// pre-cutoff meeting was untouched.
	var replacement *directory.Meeting
	for _, m := range dir.Meetings() {
		m := m
		switch {
		case m.ID == inScope.ID:
			if !m.IsCancelled {
				t.Errorf("source meeting not cancelled")
			}
		case m.Subject == "standup":
			replacement = &m
		case m.Subject == "old planning" && m.IsCancelled:
			t.Errorf("pre-cutoff meeting was cancelled")
		}
	}
	if replacement == nil {
		t.Fatalf("replacement meeting not created")
	}
	if replacement.Organizer != "amy@example.com" {
		t.Errorf("replacement organizer = %q", replacement.Organizer)
	}

	// Both notices went out.
	notices := h.notices.Notices()
	if len(notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(notices))
	}
	if notices[0].Subject != upcomingNoticeSubject || notices[1].Subject != finishedNoticeSubject {
		t.Errorf("notice subjects = %q, %q", notices[0].Subject, notices[1].Subject)
	}
}

func TestMigrateBatch_PartialFailureIsolated(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@example.com")
	seedMeeting(dir, "amy@example.com", "standup", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	// ghost@example.com is not in the directory.

	h := newHarness(t, dir)

	run, err := h.service.SubmitBatch(context.Background(), "ghost@example.com,2024-01-01\namy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	run = h.await(t, run.ID, workflow.RunStateCompleted)

	result := decodeOutput[BatchResult](t, run)
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("batch result = %+v", result)
	}
	if result.Failures[0].PrincipalName != "ghost@example.com" {
		t.Errorf("failure principal = %q", result.Failures[0].PrincipalName)
	}

	// Amy's migration went through despite the ghost failing.
	cancelled := 0
	for _, m := range dir.Meetings() {
		if m.IsCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("cancelled meetings = %d, want 1", cancelled)
	}
}

func TestMigrateMeeting_RemapsThroughIdentityMap(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@old.com")
	dir.AddMeeting(directory.Meeting{
		Subject:         "review",
		Organizer:       "amy@old.com",
		Attendees:       []string{"bob@old.com", "unmapped@old.com"},
		Start:           time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		End:             time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		IsOnlineMeeting: true,
		IsOrganizer:     true,
	})

	h := newHarness(t, dir)

	refresh, err := h.service.RefreshMapping(context.Background(), "amy@old.com,amy@new.com\nbob@old.com,bob@new.com")
	if err != nil {
		t.Fatalf("RefreshMapping: %v", err)
	}
	h.await(t, refresh.ID, workflow.RunStateCompleted)

	run, err := h.service.SubmitBatch(context.Background(), "amy@old.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	h.await(t, run.ID, workflow.RunStateCompleted)

	var replacement *directory.Meeting
	for _, m := range dir.Meetings() {
		m := m
		if m.Subject == "review" && !m.IsCancelled {
			replacement = &m
		}
	}
	if replacement == nil {
		t.Fatalf("replacement meeting not created")
	}
	if replacement.Organizer != "amy@new.com" {
		t.Errorf("organizer = %q, want amy@new.com", replacement.Organizer)
	}
	if len(replacement.Attendees) != 2 || replacement.Attendees[0] != "bob@new.com" {
		t.Errorf("attendees = %v", replacement.Attendees)
	}
	// The unmapped attendee passes through unchanged.
	if replacement.Attendees[1] != "unmapped@old.com" {
		t.Errorf("unmapped attendee = %q", replacement.Attendees[1])
	}
}

// orderingClient records the sequence of create and cancel calls.
type orderingClient struct {
	*directory.Memory
	mu    sync.Mutex
	calls []string
}

func (c *orderingClient) CreateMeeting(ctx context.Context, spec directory.MeetingSpec) (*directory.Meeting, error) {
	c.mu.Lock()
	c.calls = append(c.calls, "create:"+spec.Subject)
	c.mu.Unlock()
	return c.Memory.CreateMeeting(ctx, spec)
}

func (c *orderingClient) CancelMeeting(ctx context.Context, organizer, meetingID, reason string) error {
	c.mu.Lock()
	c.calls = append(c.calls, "cancel:"+meetingID)
	c.mu.Unlock()
	return c.Memory.CancelMeeting(ctx, organizer, meetingID, reason)
}

func TestMigrateMeeting_CreatesBeforeCancelling(t *testing.T) {
	mem := directory.NewMemory()
	seedUser(mem, "amy@example.com")
	m := seedMeeting(mem, "amy@example.com", "standup", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	client := &orderingClient{Memory: mem}

	h := newHarness(t, client)

	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	h.await(t, run.ID, workflow.RunStateCompleted)

	client.mu.Lock()
	calls := append([]string(nil), client.calls...)
	client.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0] != "create:standup" || calls[1] != "cancel:"+m.ID {
		t.Errorf("call order = %v, want create before cancel", calls)
	}
}

// cancelFailClient fails every cancellation.
type cancelFailClient struct {
	*directory.Memory
}

func (c *cancelFailClient) CancelMeeting(context.Context, string, string, string) error {
	return errors.New("directory unavailable")
}

func TestMigrateMeeting_CancelFailureDoesNotFailMigration(t *testing.T) {
	mem := directory.NewMemory()
	seedUser(mem, "amy@example.com")
	seedMeeting(mem, "amy@example.com", "standup", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))

	h := newHarness(t, &cancelFailClient{Memory: mem})

	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	run = h.await(t, run.ID, workflow.RunStateCompleted)

	result := decodeOutput[BatchResult](t, run)
	if result.Succeeded != 1 {
		t.Errorf("batch result = %+v", result)
	}

	// The replacement exists even though the source could not be cancelled.
	replacements := 0
	for _, m := range mem.Meetings() {
		if m.Subject == "standup" && !m.IsCancelled {
			replacements++
		}
	}
	if replacements != 2 {
		t.Errorf("expected source plus replacement, got %d standups", replacements)
	}
}

func TestMigrateBatch_ResumeDoesNotRepeatWork(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@example.com")
	seedMeeting(dir, "amy@example.com", "standup", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))

	h := newHarness(t, dir)

	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	run = h.await(t, run.ID, workflow.RunStateCompleted)
	before := len(dir.Meetings())
	noticesBefore := len(h.notices.Notices())

	// Rewind the run to running, as if the process crashed before the
	// final state update, and resume. Replay hits checkpoints everywhere:
	// no new meetings, no repeated notices.
	run.State = workflow.RunStateRunning
	run.CompletedAt = nil
	if err := h.store.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := h.runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	resumed, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if resumed.State != workflow.RunStateCompleted {
		t.Errorf("resumed state = %s", resumed.State)
	}
	if got := len(dir.Meetings()); got != before {
		t.Errorf("meetings after resume = %d, want %d", got, before)
	}
	if got := len(h.notices.Notices()); got != noticesBefore {
		t.Errorf("notices after resume = %d, want %d", got, noticesBefore)
	}
}

func TestCountBatch_ReportsWithoutSideEffects(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@example.com")
	seedUser(dir, "bob@example.com")
	seedMeeting(dir, "amy@example.com", "a1", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	seedMeeting(dir, "amy@example.com", "a2", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	seedMeeting(dir, "bob@example.com", "b1", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))

	h := newHarness(t, dir)

	run, err := h.service.SubmitCount(context.Background(), "amy@example.com,2024-01-01\nbob@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitCount: %v", err)
	}
	run = h.await(t, run.ID, workflow.RunStateCompleted)

	report := decodeOutput[CountReport](t, run)
	if report.Total != 3 {
		t.Errorf("total = %d, want 3", report.Total)
	}
	if len(report.PerUser) != 2 || report.PerUser[0].Meetings != 2 || report.PerUser[1].Meetings != 1 {
		t.Errorf("per-user = %+v", report.PerUser)
	}

	for _, m := range dir.Meetings() {
		if m.IsCancelled {
			t.Errorf("count batch cancelled meeting %s", m.ID)
		}
	}
	if len(dir.Meetings()) != 3 {
		t.Errorf("count batch created meetings: %d total", len(dir.Meetings()))
	}
}

func TestRefreshMapping_CompletesAndReportsEntries(t *testing.T) {
	h := newHarness(t, nil)

	run, err := h.service.RefreshMapping(context.Background(), "a@src.com,a@dst.com\nb@src.com,b@dst.com")
	if err != nil {
		t.Fatalf("RefreshMapping: %v", err)
	}
	run = h.await(t, run.ID, workflow.RunStateCompleted)

	result := decodeOutput[MappingResult](t, run)
	if result.Entries != 2 {
		t.Errorf("entries = %d, want 2", result.Entries)
	}
}

func TestRefreshMapping_RejectsMalformedTable(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.service.RefreshMapping(context.Background(), "a@src.com,a@dst.com\nonlyonefield")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Lines) != 1 || verr.Lines[0] != 1 {
		t.Errorf("Lines = %v, want [1]", verr.Lines)
	}
}

func TestStatus_ListsChildren(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@example.com")
	seedUser(dir, "bob@example.com")

	h := newHarness(t, dir)

	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01\nbob@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	h.await(t, run.ID, workflow.RunStateCompleted)

	status, err := h.service.Status(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Run.State != workflow.RunStateCompleted {
		t.Errorf("run state = %s", status.Run.State)
	}
	if len(status.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(status.Children))
	}
	for _, child := range status.Children {
		if child.Name != WorkflowMigrateMailbox {
			t.Errorf("child name = %q", child.Name)
		}
		if child.State != workflow.RunStateCompleted {
			t.Errorf("child %s state = %s: %s", child.RunID, child.State, child.Error)
		}
	}
}

func TestMigrateMeetings_FanOutScheduleOrder(t *testing.T) {
	dir := directory.NewMemory()
	seedUser(dir, "amy@example.com")
	// Seed out of order; discovery sorts by start time.
	late := seedMeeting(dir, "amy@example.com", "late", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	early := seedMeeting(dir, "amy@example.com", "early", time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	mem := &orderingClient{Memory: dir}

	h := newHarness(t, mem)

	run, err := h.service.SubmitBatch(context.Background(), "amy@example.com,2024-01-01")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	h.await(t, run.ID, workflow.RunStateCompleted)

	// The sweep output lists failures by schedule position; here both
	// succeeded, so verify via the sweep child's output ordering is not
	// observable. Instead check both sources were cancelled.
	cancelled := map[string]bool{}
	mem.mu.Lock()
	for _, call := range mem.calls {
		if strings.HasPrefix(call, "cancel:") {
			cancelled[strings.TrimPrefix(call, "cancel:")] = true
		}
	}
	mem.mu.Unlock()
	if !cancelled[early.ID] || !cancelled[late.ID] {
		t.Errorf("cancelled = %v, want both %s and %s", cancelled, early.ID, late.ID)
	}
}

func TestMigrateMailbox_UnknownUserFailsRun(t *testing.T) {
	h := newHarness(t, nil)

	run, err := workflow.Submit(context.Background(), h.runner, WorkflowMigrateMailbox, MailboxInput{
		PrincipalName: "ghost@example.com",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state = %s, want failed", run.State)
	}
	if !strings.Contains(run.Error, "not found") {
		t.Errorf("run error = %q", run.Error)
	}
}
