package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/calshift/calshift/task"
)

type mailboxBatch struct {
	Mailbox  string `json:"mailbox"`
	Meetings int    `json:"meetings"`
}

func register(t *testing.T, r *task.Registry, name string, handler func(context.Context, mailboxBatch) error) task.HandlerFunc {
	t.Helper()
	task.RegisterDefinition(r, task.NewDefinition(name, handler))
	h, ok := r.Get(name)
	if !ok {
		t.Fatalf("handler %q not registered", name)
	}
	return h
}

func TestRegistryDecodesPayloadForTypedHandler(t *testing.T) {
	r := task.NewRegistry()

	var got mailboxBatch
	h := register(t, r, "remap-mailbox", func(_ context.Context, b mailboxBatch) error {
		got = b
		return nil
	})

	payload, _ := json.Marshal(mailboxBatch{Mailbox: "pat@source.example", Meetings: 42})
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.Mailbox != "pat@source.example" || got.Meetings != 42 {
		t.Errorf("decoded payload = %+v, want pat@source.example/42", got)
	}
}

func TestRegistryHandlerEdges(t *testing.T) {
	t.Run("garbage payload never reaches the handler", func(t *testing.T) {
		r := task.NewRegistry()
		h := register(t, r, "remap-mailbox", func(_ context.Context, _ mailboxBatch) error {
			t.Error("handler called with undecodable payload")
			return nil
		})
		if err := h(context.Background(), []byte(`{not json`)); err == nil {
			t.Fatal("want decode error, got nil")
		}
	})

	t.Run("empty payload hands over the zero value", func(t *testing.T) {
		r := task.NewRegistry()
		called := false
		h := register(t, r, "sweep-directory", func(_ context.Context, b mailboxBatch) error {
			called = true
			if b.Mailbox != "" || b.Meetings != 0 {
				t.Errorf("payload = %+v, want zero value", b)
			}
			return nil
		})
		if err := h(context.Background(), nil); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if !called {
			t.Fatal("handler not called for empty payload")
		}
	})

	t.Run("handler errors pass through unwrapped", func(t *testing.T) {
		r := task.NewRegistry()
		want := errors.New("directory timeout")
		h := register(t, r, "verify-entry", func(_ context.Context, _ mailboxBatch) error {
			return want
		})
		if err := h(context.Background(), nil); !errors.Is(err, want) {
			t.Fatalf("err = %v, want %v", err, want)
		}
	})
}

func TestRegistryUnknownName(t *testing.T) {
	r := task.NewRegistry()
	if _, ok := r.Get("never-registered"); ok {
		t.Fatal("Get returned a handler for an unknown name")
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := task.NewRegistry()

	register(t, r, "swap-owner", func(_ context.Context, _ mailboxBatch) error {
		return errors.New("old revision")
	})
	h := register(t, r, "swap-owner", func(_ context.Context, _ mailboxBatch) error {
		return errors.New("new revision")
	})

	err := h(context.Background(), nil)
	if err == nil || err.Error() != "new revision" {
		t.Fatalf("err = %v, want the replacement handler's error", err)
	}
}

func TestRegistryNames(t *testing.T) {
	r := task.NewRegistry()
	for _, name := range []string{"remap-mailbox", "swap-owner", "verify-entry"} {
		register(t, r, name, func(_ context.Context, _ mailboxBatch) error { return nil })
	}

	names := r.Names()
	slices.Sort(names)
	want := []string{"remap-mailbox", "swap-owner", "verify-entry"}
	if !slices.Equal(names, want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
}

func TestDefinitionOptions(t *testing.T) {
	def := task.NewDefinition("migrate-mailbox",
		func(_ context.Context, _ mailboxBatch) error { return nil },
		task.WithQueue("migrations"),
		task.WithMaxRetries(5),
		task.WithPriority(2),
		task.WithTimeout(30*time.Second),
	)

	if def.Opts.Queue != "migrations" {
		t.Errorf("Queue = %q, want migrations", def.Opts.Queue)
	}
	if def.Opts.MaxRetries != 5 || def.Opts.Priority != 2 {
		t.Errorf("MaxRetries/Priority = %d/%d, want 5/2", def.Opts.MaxRetries, def.Opts.Priority)
	}
	if def.Opts.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", def.Opts.Timeout)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := task.DefaultOptions()
	if opts.Queue != "default" || opts.MaxRetries != 3 {
		t.Errorf("defaults = %+v, want queue default and 3 retries", opts)
	}
	if !opts.RunAt.IsZero() {
		t.Errorf("RunAt = %v, want zero (run immediately)", opts.RunAt)
	}
}

func TestTaskCanRetry(t *testing.T) {
	tk := &task.Task{MaxRetries: 2}
	for want, retries := range map[bool][]int{true: {0, 1, 2}, false: {3, 4}} {
		for _, n := range retries {
			tk.RetryCount = n
			if got := tk.CanRetry(); got != want {
				t.Errorf("CanRetry with %d/%d retries = %v, want %v", n, tk.MaxRetries, got, want)
			}
		}
	}
}
