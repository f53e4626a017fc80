package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

func newStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	t.Parallel()
	return New(), context.Background()
}

func TestLifecycleNoOps(t *testing.T) {
	s, ctx := newStore(t)

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Task Store tests
// ──────────────────────────────────────────────────

func pendingTask(name, queue string, priority int) *task.Task {
	return &task.Task{
		Entity:     calshift.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       name,
		Queue:      queue,
		Payload:    []byte(`{"mailbox":"pat@source.example"}`),
		State:      task.StatePending,
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      time.Now().UTC().Add(-time.Second), // already due
	}
}

func mustEnqueue(t *testing.T, s *Store, ctx context.Context, tasks ...*task.Task) {
	t.Helper()
	for _, tk := range tasks {
		if err := s.EnqueueTask(ctx, tk); err != nil {
			t.Fatalf("EnqueueTask(%s): %v", tk.Name, err)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	s, ctx := newStore(t)

	tk := pendingTask("migrate-mailbox", "default", 0)
	mustEnqueue(t, s, ctx, tk)

	// A second enqueue of the same ID is rejected.
	if err := s.EnqueueTask(ctx, tk); !errors.Is(err, calshift.ErrTaskAlreadyExists) {
		t.Fatalf("duplicate enqueue: err = %v, want ErrTaskAlreadyExists", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != "migrate-mailbox" {
		t.Fatalf("GetTask name = %q", got.Name)
	}

	// Mutating the returned copy must not leak into the store.
	got.Name = "mutated"
	again, _ := s.GetTask(ctx, tk.ID)
	if again.Name != "migrate-mailbox" {
		t.Fatal("GetTask handed out the store's own record")
	}

	tk.State = task.StateCompleted
	if err := s.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	again, _ = s.GetTask(ctx, tk.ID)
	if again.State != task.StateCompleted {
		t.Fatalf("state after update = %q, want completed", again.State)
	}

	if err := s.DeleteTask(ctx, tk.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask(ctx, tk.ID); !errors.Is(err, calshift.ErrTaskNotFound) {
		t.Fatalf("GetTask after delete: err = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskMissingRecordErrors(t *testing.T) {
	s, ctx := newStore(t)

	unknown := id.NewTaskID()
	if _, err := s.GetTask(ctx, unknown); !errors.Is(err, calshift.ErrTaskNotFound) {
		t.Fatalf("GetTask: err = %v", err)
	}
	if err := s.UpdateTask(ctx, pendingTask("ghost", "default", 0)); !errors.Is(err, calshift.ErrTaskNotFound) {
		t.Fatalf("UpdateTask: err = %v", err)
	}
	if err := s.DeleteTask(ctx, unknown); !errors.Is(err, calshift.ErrTaskNotFound) {
		t.Fatalf("DeleteTask: err = %v", err)
	}
	if err := s.HeartbeatTask(ctx, unknown, id.NewWorkerID()); !errors.Is(err, calshift.ErrTaskNotFound) {
		t.Fatalf("HeartbeatTask: err = %v", err)
	}
}

func TestDequeueRespectsQueueAndPriority(t *testing.T) {
	s, ctx := newStore(t)

	mustEnqueue(t, s, ctx,
		pendingTask("remap-attendees", "default", 1),
		pendingTask("migrate-mailbox", "default", 10),
		pendingTask("refresh-mappings", "migrations", 5),
	)

	claimed, err := s.DequeueTasks(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueTasks: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d from default, want 2", len(claimed))
	}
	if claimed[0].Name != "migrate-mailbox" {
		t.Fatalf("highest-priority task was %q, want migrate-mailbox", claimed[0].Name)
	}
	for _, tk := range claimed {
		if tk.State != task.StateRunning {
			t.Fatalf("claimed task %q still in state %q", tk.Name, tk.State)
		}
		if tk.StartedAt == nil {
			t.Fatalf("claimed task %q has no StartedAt", tk.Name)
		}
	}

	// The migrations queue still has its task; a second sweep of default
	// comes back empty.
	claimed, _ = s.DequeueTasks(ctx, []string{"migrations"}, 10)
	if len(claimed) != 1 || claimed[0].Name != "refresh-mappings" {
		t.Fatalf("migrations queue claim = %+v", claimed)
	}
	claimed, _ = s.DequeueTasks(ctx, []string{"default"}, 10)
	if len(claimed) != 0 {
		t.Fatalf("re-claimed %d tasks from drained queue", len(claimed))
	}
}

func TestDequeueSkipsFutureTasksAndHonorsLimit(t *testing.T) {
	s, ctx := newStore(t)

	future := pendingTask("scheduled-sweep", "default", 1)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	mustEnqueue(t, s, ctx, future,
		pendingTask("due-1", "default", 1),
		pendingTask("due-2", "default", 1),
	)

	claimed, err := s.DequeueTasks(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("DequeueTasks: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d with limit 1, want 1", len(claimed))
	}
	if claimed[0].Name == "scheduled-sweep" {
		t.Fatal("claimed a task whose RunAt is an hour out")
	}
}

func TestListTasksByState(t *testing.T) {
	s, ctx := newStore(t)

	running := pendingTask("in-flight", "default", 0)
	running.State = task.StateRunning
	mustEnqueue(t, s, ctx,
		pendingTask("queued-1", "default", 0),
		pendingTask("queued-2", "default", 0),
		running,
	)

	cases := []struct {
		name  string
		state task.State
		opts  task.ListOpts
		want  int
	}{
		{"pending", task.StatePending, task.ListOpts{}, 2},
		{"running", task.StateRunning, task.ListOpts{}, 1},
		{"pending limit 1", task.StatePending, task.ListOpts{Limit: 1}, 1},
		{"pending offset 1", task.StatePending, task.ListOpts{Offset: 1}, 1},
		{"pending offset past end", task.StatePending, task.ListOpts{Offset: 5}, 0},
		{"completed", task.StateCompleted, task.ListOpts{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tasks, err := s.ListTasksByState(ctx, tc.state, tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(tasks) != tc.want {
				t.Fatalf("listed %d tasks, want %d", len(tasks), tc.want)
			}
		})
	}
}

func TestHeartbeatClearsStaleness(t *testing.T) {
	s, ctx := newStore(t)

	tk := pendingTask("long-haul", "default", 0)
	tk.State = task.StateRunning
	stamp := time.Now().UTC().Add(-time.Minute)
	tk.HeartbeatAt = &stamp
	mustEnqueue(t, s, ctx, tk)

	stale, err := s.ReapStaleTasks(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("found %d stale tasks, want 1", len(stale))
	}

	if err := s.HeartbeatTask(ctx, tk.ID, id.NewWorkerID()); err != nil {
		t.Fatal(err)
	}

	stale, _ = s.ReapStaleTasks(ctx, 30*time.Second)
	if len(stale) != 0 {
		t.Fatalf("found %d stale tasks after heartbeat, want 0", len(stale))
	}
}

func TestCountTasksFilters(t *testing.T) {
	s, ctx := newStore(t)

	running := pendingTask("in-flight", "default", 0)
	running.State = task.StateRunning
	mustEnqueue(t, s, ctx,
		pendingTask("queued", "default", 0),
		pendingTask("batch", "migrations", 0),
		running,
	)

	cases := []struct {
		name string
		opts task.CountOpts
		want int64
	}{
		{"everything", task.CountOpts{}, 3},
		{"default queue", task.CountOpts{Queue: "default"}, 2},
		{"pending", task.CountOpts{State: task.StatePending}, 2},
		{"default pending", task.CountOpts{Queue: "default", State: task.StatePending}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := s.CountTasks(ctx, tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if n != tc.want {
				t.Fatalf("counted %d, want %d", n, tc.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Workflow Store tests
// ──────────────────────────────────────────────────

func runFixture(name string, state workflow.RunState) *workflow.Run {
	return &workflow.Run{
		Entity:    calshift.NewEntity(),
		ID:        id.NewRunID(),
		Name:      name,
		State:     state,
		Input:     []byte(`{"mailbox":"pat@source.example"}`),
		StartedAt: time.Now().UTC(),
	}
}

func TestRunLifecycle(t *testing.T) {
	s, ctx := newStore(t)

	r := runFixture("migrate-mailbox", workflow.RunStateRunning)
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, r); !errors.Is(err, calshift.ErrRunAlreadyExists) {
		t.Fatalf("duplicate CreateRun: err = %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Name != "migrate-mailbox" {
		t.Fatalf("run name = %q", got.Name)
	}

	done := time.Now().UTC()
	r.State = workflow.RunStateCompleted
	r.CompletedAt = &done
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, _ = s.GetRun(ctx, r.ID)
	if got.State != workflow.RunStateCompleted || got.CompletedAt == nil {
		t.Fatalf("run after update: state=%q completedAt=%v", got.State, got.CompletedAt)
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, calshift.ErrRunNotFound) {
		t.Fatalf("GetRun unknown: err = %v", err)
	}
	if err := s.UpdateRun(ctx, runFixture("ghost", workflow.RunStateRunning)); !errors.Is(err, calshift.ErrRunNotFound) {
		t.Fatalf("UpdateRun unknown: err = %v", err)
	}
}

func TestListRunsFilters(t *testing.T) {
	s, ctx := newStore(t)

	for _, r := range []*workflow.Run{
		runFixture("migrate-mailbox", workflow.RunStateRunning),
		runFixture("migrate-batch", workflow.RunStateCompleted),
		runFixture("migrate-mailbox", workflow.RunStateRunning),
	} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name string
		opts workflow.ListOpts
		want int
	}{
		{"everything", workflow.ListOpts{}, 3},
		{"running", workflow.ListOpts{State: workflow.RunStateRunning}, 2},
		{"completed", workflow.ListOpts{State: workflow.RunStateCompleted}, 1},
		{"by name", workflow.ListOpts{Name: "migrate-mailbox"}, 2},
		{"limit 1", workflow.ListOpts{Limit: 1}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(runs) != tc.want {
				t.Fatalf("listed %d runs, want %d", len(runs), tc.want)
			}
		})
	}
}

func TestListChildRuns(t *testing.T) {
	s, ctx := newStore(t)

	parent := runFixture("migrate-batch", workflow.RunStateRunning)
	if err := s.CreateRun(ctx, parent); err != nil {
		t.Fatal(err)
	}

	childA := runFixture("migrate-mailbox", workflow.RunStateRunning)
	childA.ParentRunID = &parent.ID
	childB := runFixture("migrate-mailbox", workflow.RunStateCompleted)
	childB.ParentRunID = &parent.ID
	loner := runFixture("migrate-mailbox", workflow.RunStateRunning)

	for _, r := range []*workflow.Run{childA, childB, loner} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	children, err := s.ListChildRuns(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("listed %d children, want 2", len(children))
	}
	for _, c := range children {
		if c.ParentRunID == nil || *c.ParentRunID != parent.ID {
			t.Fatalf("child %s carries the wrong parent", c.ID)
		}
	}
}

func TestCheckpointSaveGetList(t *testing.T) {
	s, ctx := newStore(t)
	runID := id.NewRunID()

	if err := s.SaveCheckpoint(ctx, runID, "list-meetings", []byte(`{"count":42}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCheckpoint(ctx, runID, "remap-attendees", []byte(`{"count":40}`)); err != nil {
		t.Fatal(err)
	}

	data, err := s.GetCheckpoint(ctx, runID, "list-meetings")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"count":42}` {
		t.Fatalf("checkpoint data = %q", data)
	}

	// A step that has not run yields nil, nil.
	data, err = s.GetCheckpoint(ctx, runID, "verify-ownership")
	if err != nil {
		t.Fatal(err)
	}
	if data != nil {
		t.Fatalf("missing checkpoint returned %q", data)
	}

	cps, err := s.ListCheckpoints(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Fatalf("listed %d checkpoints, want 2", len(cps))
	}

	// A re-save replaces the step's data.
	if err := s.SaveCheckpoint(ctx, runID, "list-meetings", []byte(`{"count":43}`)); err != nil {
		t.Fatal(err)
	}
	data, _ = s.GetCheckpoint(ctx, runID, "list-meetings")
	if string(data) != `{"count":43}` {
		t.Fatalf("checkpoint after re-save = %q", data)
	}
}

func TestDeleteCheckpointsAfter(t *testing.T) {
	s, ctx := newStore(t)
	runID := id.NewRunID()

	// Distinct timestamps so creation order is unambiguous.
	for _, step := range []string{"list-meetings", "remap-attendees", "verify-ownership"} {
		if err := s.SaveCheckpoint(ctx, runID, step, []byte(step)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := s.DeleteCheckpointsAfter(ctx, runID, "list-meetings"); err != nil {
		t.Fatal(err)
	}

	cps, err := s.ListCheckpoints(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 || cps[0].StepName != "list-meetings" {
		t.Fatalf("after truncation: %+v", cps)
	}

	// An unknown anchor changes nothing.
	if err := s.DeleteCheckpointsAfter(ctx, runID, "no-such-step"); err != nil {
		t.Fatal(err)
	}
	cps, _ = s.ListCheckpoints(ctx, runID)
	if len(cps) != 1 {
		t.Fatalf("unknown anchor removed checkpoints: %d left", len(cps))
	}
}

func TestHistoryAppendOrder(t *testing.T) {
	s, ctx := newStore(t)
	runID := id.NewRunID()

	kinds := []workflow.HistoryEventKind{
		workflow.HistoryOrchestratorStarted,
		workflow.HistoryTaskScheduled,
		workflow.HistoryTaskCompleted,
		workflow.HistoryExecutionCompleted,
	}
	for _, kind := range kinds {
		if err := s.AppendHistory(ctx, workflow.NewHistoryEvent(runID, kind, "create-meeting", nil)); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.ListHistory(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("listed %d events, want %d", len(events), len(kinds))
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Fatalf("event %d kind = %q, want %q", i, events[i].Kind, kind)
		}
	}

	// An unknown run has empty history, not an error.
	events, err = s.ListHistory(ctx, id.NewRunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("unknown run has %d history events", len(events))
	}
}

// ──────────────────────────────────────────────────
// Actor Store tests
// ──────────────────────────────────────────────────

func actorFixture(kind, key string, state []byte) *actor.Instance {
	return &actor.Instance{
		Entity: calshift.NewEntity(),
		ID:     id.NewActorID(),
		Kind:   kind,
		Key:    key,
		State:  state,
	}
}

func TestActorUpsertAndGet(t *testing.T) {
	s, ctx := newStore(t)

	inst := actorFixture("mailbox-config", "pat@source.example", []byte(`{"target":"pat@target.example"}`))
	if err := s.SaveActor(ctx, inst); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetActor(ctx, "mailbox-config", "pat@source.example")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.State) != string(inst.State) {
		t.Fatalf("actor state = %q", got.State)
	}

	// Saving again replaces the instance.
	inst.State = []byte(`{"target":"pat@other.example"}`)
	inst.Version++
	if err := s.SaveActor(ctx, inst); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetActor(ctx, "mailbox-config", "pat@source.example")
	if got.Version != inst.Version {
		t.Fatalf("actor version = %d, want %d", got.Version, inst.Version)
	}

	if _, err := s.GetActor(ctx, "mailbox-config", "nobody@source.example"); !errors.Is(err, calshift.ErrActorNotFound) {
		t.Fatalf("GetActor unknown: err = %v", err)
	}
}

func TestActorListByKindAndDelete(t *testing.T) {
	s, ctx := newStore(t)

	for _, inst := range []*actor.Instance{
		actorFixture("mailbox-config", "pat@source.example", nil),
		actorFixture("mailbox-config", "sam@source.example", nil),
		actorFixture("identity-map", "directory-a", nil),
	} {
		if err := s.SaveActor(ctx, inst); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListActors(ctx, "mailbox-config")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d mailbox-config actors, want 2", len(list))
	}
	if list[0].Key != "pat@source.example" || list[1].Key != "sam@source.example" {
		t.Fatalf("actors out of key order: %q, %q", list[0].Key, list[1].Key)
	}

	if err := s.DeleteActor(ctx, "mailbox-config", "pat@source.example"); err != nil {
		t.Fatal(err)
	}
	list, _ = s.ListActors(ctx, "mailbox-config")
	if len(list) != 1 {
		t.Fatalf("after delete: %d actors left", len(list))
	}

	if err := s.DeleteActor(ctx, "mailbox-config", "nobody@source.example"); !errors.Is(err, calshift.ErrActorNotFound) {
		t.Fatalf("DeleteActor unknown: err = %v", err)
	}
}

// ──────────────────────────────────────────────────
// Cron Store tests
// ──────────────────────────────────────────────────

func cronFixture(name, schedule string) *cron.Entry {
	return &cron.Entry{
		Entity:   calshift.NewEntity(),
		ID:       id.NewCronID(),
		Name:     name,
		Schedule: schedule,
		TaskName: "refresh-mappings",
		Enabled:  true,
	}
}

func TestCronRegisterGetDelete(t *testing.T) {
	s, ctx := newStore(t)

	e := cronFixture("nightly-refresh", "0 3 * * *")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatal(err)
	}

	// The name is taken even under a different ID.
	if err := s.RegisterCron(ctx, cronFixture("nightly-refresh", "*/5 * * * *")); !errors.Is(err, calshift.ErrDuplicateCron) {
		t.Fatalf("duplicate name: err = %v", err)
	}

	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "nightly-refresh" {
		t.Fatalf("cron name = %q", got.Name)
	}

	if err := s.RegisterCron(ctx, cronFixture("hourly-sweep", "0 * * * *")); err != nil {
		t.Fatal(err)
	}
	list, _ := s.ListCrons(ctx)
	if len(list) != 2 {
		t.Fatalf("listed %d crons, want 2", len(list))
	}

	if err := s.DeleteCron(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = s.ListCrons(ctx)
	if len(list) != 1 {
		t.Fatalf("after delete: %d crons left", len(list))
	}

	if _, err := s.GetCron(ctx, id.NewCronID()); !errors.Is(err, calshift.ErrCronNotFound) {
		t.Fatalf("GetCron unknown: err = %v", err)
	}
	if err := s.DeleteCron(ctx, id.NewCronID()); !errors.Is(err, calshift.ErrCronNotFound) {
		t.Fatalf("DeleteCron unknown: err = %v", err)
	}
}

func TestCronLockContention(t *testing.T) {
	s, ctx := newStore(t)

	e := cronFixture("contended", "* * * * *")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatal(err)
	}

	holder := id.NewWorkerID()
	rival := id.NewWorkerID()
	ttl := 5 * time.Minute

	if ok, err := s.AcquireCronLock(ctx, e.ID, holder, ttl); err != nil || !ok {
		t.Fatalf("initial acquire: ok=%v err=%v", ok, err)
	}
	if ok, err := s.AcquireCronLock(ctx, e.ID, rival, ttl); err != nil || ok {
		t.Fatalf("rival acquire while held: ok=%v err=%v", ok, err)
	}
	// The holder may extend its own lock.
	if ok, err := s.AcquireCronLock(ctx, e.ID, holder, ttl); err != nil || !ok {
		t.Fatalf("holder re-acquire: ok=%v err=%v", ok, err)
	}

	// A rival release is a no-op; the holder's release frees the lock.
	if err := s.ReleaseCronLock(ctx, e.ID, rival); err != nil {
		t.Fatalf("rival release: %v", err)
	}
	if ok, _ := s.AcquireCronLock(ctx, e.ID, rival, ttl); ok {
		t.Fatal("rival release freed a lock it did not hold")
	}
	if err := s.ReleaseCronLock(ctx, e.ID, holder); err != nil {
		t.Fatalf("holder release: %v", err)
	}
	if ok, err := s.AcquireCronLock(ctx, e.ID, rival, ttl); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestCronLastRunStamp(t *testing.T) {
	s, ctx := newStore(t)

	e := cronFixture("stamped", "* * * * *")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatal(err)
	}

	fired := time.Now().UTC()
	if err := s.UpdateCronLastRun(ctx, e.ID, fired); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetCron(ctx, e.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fired) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, fired)
	}

	if err := s.UpdateCronLastRun(ctx, id.NewCronID(), fired); !errors.Is(err, calshift.ErrCronNotFound) {
		t.Fatalf("unknown entry: err = %v", err)
	}
}

func TestCronUpdatePreservesLock(t *testing.T) {
	s, ctx := newStore(t)

	e := cronFixture("locked-update", "* * * * *")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatal(err)
	}

	holder := id.NewWorkerID()
	if ok, _ := s.AcquireCronLock(ctx, e.ID, holder, time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	// An entry update carrying empty lock fields must not clobber the lock.
	e.Enabled = false
	if err := s.UpdateCronEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetCron(ctx, e.ID)
	if got.Enabled {
		t.Fatal("Enabled flag was not updated")
	}
	if got.LockedBy != holder.String() {
		t.Fatalf("lock holder after update = %q, want %q", got.LockedBy, holder)
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func dlqFixture(queue string, failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		ID:         id.NewDLQID(),
		TaskID:     id.NewTaskID(),
		TaskName:   "migrate-mailbox",
		Queue:      queue,
		Payload:    []byte(`{"mailbox":"pat@source.example"}`),
		Error:      "directory timeout",
		RetryCount: 3,
		FailedAt:   failedAt,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestDLQPushGetReplay(t *testing.T) {
	s, ctx := newStore(t)

	e := dlqFixture("default", time.Now().UTC())
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != "directory timeout" {
		t.Fatalf("entry error = %q", got.Error)
	}
	if got.ReplayedAt != nil {
		t.Fatal("fresh entry already marked replayed")
	}

	if err := s.ReplayDLQ(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetDLQ(ctx, e.ID)
	if got.ReplayedAt == nil {
		t.Fatal("ReplayedAt not stamped")
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, calshift.ErrDLQNotFound) {
		t.Fatalf("GetDLQ unknown: err = %v", err)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, calshift.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ unknown: err = %v", err)
	}
}

func TestDLQListByQueue(t *testing.T) {
	s, ctx := newStore(t)

	for _, e := range []*dlq.Entry{
		dlqFixture("default", time.Now().UTC()),
		dlqFixture("migrations", time.Now().UTC()),
		dlqFixture("default", time.Now().UTC()),
	} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name string
		opts dlq.ListOpts
		want int
	}{
		{"everything", dlq.ListOpts{}, 3},
		{"default queue", dlq.ListOpts{Queue: "default"}, 2},
		{"migrations queue", dlq.ListOpts{Queue: "migrations"}, 1},
		{"limit 1", dlq.ListOpts{Limit: 1}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := s.ListDLQ(ctx, tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tc.want {
				t.Fatalf("listed %d entries, want %d", len(entries), tc.want)
			}
		})
	}
}

func TestDLQPurgeOldEntries(t *testing.T) {
	s, ctx := newStore(t)

	if err := s.PushDLQ(ctx, dlqFixture("default", time.Now().UTC().Add(-24*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.PushDLQ(ctx, dlqFixture("default", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	purged, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("purged %d entries, want 1", purged)
	}

	n, _ := s.CountDLQ(ctx)
	if n != 1 {
		t.Fatalf("%d entries remain, want 1", n)
	}
}

// ──────────────────────────────────────────────────
// Event Store tests
// ──────────────────────────────────────────────────

func eventFixture(name string) *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		Name:      name,
		Payload:   []byte(`{"directory":"directory-a"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestEventPublishSubscribeAck(t *testing.T) {
	s, ctx := newStore(t)

	evt := eventFixture("mapping.refreshed")
	if err := s.PublishEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}

	got, err := s.SubscribeEvent(ctx, "mapping.refreshed", 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID.String() != evt.ID.String() {
		t.Fatalf("SubscribeEvent = %+v, want the published event", got)
	}

	if err := s.AckEvent(ctx, evt.ID); err != nil {
		t.Fatal(err)
	}

	// Acked events are invisible to later subscribers.
	got, err = s.SubscribeEvent(ctx, "mapping.refreshed", 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("an acked event was delivered again")
	}

	if err := s.AckEvent(ctx, id.NewEventID()); !errors.Is(err, calshift.ErrEventNotFound) {
		t.Fatalf("AckEvent unknown: err = %v", err)
	}
}

func TestEventSubscribeTimesOutQuietly(t *testing.T) {
	s, ctx := newStore(t)

	got, err := s.SubscribeEvent(ctx, "migration.requested", 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("quiet timeout returned %+v", got)
	}
}

func TestEventSubscribeHonorsCancel(t *testing.T) {
	s, _ := newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := s.SubscribeEvent(ctx, "never-published", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// ──────────────────────────────────────────────────
// Cluster Store tests
// ──────────────────────────────────────────────────

func workerFixture(hostname string) *cluster.Worker {
	return &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    hostname,
		Queues:      []string{"default"},
		Concurrency: 10,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestWorkerRegistry(t *testing.T) {
	s, ctx := newStore(t)

	w1 := workerFixture("shift-node-1")
	w2 := workerFixture("shift-node-2")
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatal(err)
		}
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 2 {
		t.Fatalf("listed %d workers, want 2", len(workers))
	}

	if err := s.DeregisterWorker(ctx, w1.ID); err != nil {
		t.Fatal(err)
	}
	workers, _ = s.ListWorkers(ctx)
	if len(workers) != 1 || workers[0].Hostname != "shift-node-2" {
		t.Fatalf("after deregister: %+v", workers)
	}

	if err := s.DeregisterWorker(ctx, id.NewWorkerID()); !errors.Is(err, calshift.ErrWorkerNotFound) {
		t.Fatalf("DeregisterWorker unknown: err = %v", err)
	}
}

func TestWorkerHeartbeatAndReap(t *testing.T) {
	s, ctx := newStore(t)

	w := workerFixture("shift-node-1")
	w.LastSeen = time.Now().UTC().Add(-time.Minute)
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatal(err)
	}

	dead, err := s.ReapDeadWorkers(ctx, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("reaper found %d workers, want 1", len(dead))
	}

	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	dead, _ = s.ReapDeadWorkers(ctx, 30*time.Second)
	if len(dead) != 0 {
		t.Fatalf("reaper found %d workers after heartbeat, want 0", len(dead))
	}

	if err := s.HeartbeatWorker(ctx, id.NewWorkerID()); !errors.Is(err, calshift.ErrWorkerNotFound) {
		t.Fatalf("HeartbeatWorker unknown: err = %v", err)
	}
}

func TestLeadershipLease(t *testing.T) {
	s, ctx := newStore(t)

	w1 := workerFixture("shift-node-1")
	w2 := workerFixture("shift-node-2")
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatal(err)
		}
	}
	ttl := 5 * time.Minute

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if leader != nil {
		t.Fatalf("vacant lease reported a leader: %+v", leader)
	}

	if ok, err := s.AcquireLeadership(ctx, w1.ID, ttl); err != nil || !ok {
		t.Fatalf("w1 acquire: ok=%v err=%v", ok, err)
	}
	leader, _ = s.GetLeader(ctx)
	if leader == nil || leader.ID.String() != w1.ID.String() {
		t.Fatalf("leader = %+v, want w1", leader)
	}

	// A rival cannot take or renew a live lease.
	if ok, err := s.AcquireLeadership(ctx, w2.ID, ttl); err != nil || ok {
		t.Fatalf("w2 acquire while held: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RenewLeadership(ctx, w2.ID, ttl); err != nil || ok {
		t.Fatalf("w2 renew: ok=%v err=%v", ok, err)
	}

	// The incumbent may both renew and re-acquire.
	if ok, err := s.RenewLeadership(ctx, w1.ID, ttl); err != nil || !ok {
		t.Fatalf("w1 renew: ok=%v err=%v", ok, err)
	}
	if ok, err := s.AcquireLeadership(ctx, w1.ID, ttl); err != nil || !ok {
		t.Fatalf("w1 re-acquire: ok=%v err=%v", ok, err)
	}
}
