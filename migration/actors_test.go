package migration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/store/memory"
)

func newActorService(t *testing.T) *actor.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := actor.NewService(memory.New(), logger)
	RegisterActorKinds(svc)
	return svc
}

func invoke[T, R any](t *testing.T, svc *actor.Service, kind, key, op string, input T) R {
	t.Helper()
	data, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	out, err := svc.InvokeRaw(context.Background(), kind, key, op, data)
	if err != nil {
		t.Fatalf("invoke %s/%s: %v", kind, op, err)
	}
	var result R
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return result
}

func TestMailboxConfig_SetGetCutoff(t *testing.T) {
	svc := newActorService(t)
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	invoke[time.Time, time.Time](t, svc, KindMailboxConfig, "amy@example.com", OpSetCutoff, cutoff)

	got := invoke[struct{}, time.Time](t, svc, KindMailboxConfig, "amy@example.com", OpGetCutoff, struct{}{})
	if !got.Equal(cutoff) {
		t.Errorf("cutoff = %v, want %v", got, cutoff)
	}
}

func TestMailboxConfig_FreshActorZeroCutoff(t *testing.T) {
	svc := newActorService(t)
	got := invoke[struct{}, time.Time](t, svc, KindMailboxConfig, "nobody@example.com", OpGetCutoff, struct{}{})
	if !got.IsZero() {
		t.Errorf("fresh cutoff = %v, want zero", got)
	}
}

func TestMailboxConfig_KeysAreIsolated(t *testing.T) {
	svc := newActorService(t)
	invoke[time.Time, time.Time](t, svc, KindMailboxConfig, "amy@example.com", OpSetCutoff,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	got := invoke[struct{}, time.Time](t, svc, KindMailboxConfig, "bob@example.com", OpGetCutoff, struct{}{})
	if !got.IsZero() {
		t.Errorf("bob's cutoff = %v, want zero", got)
	}
}

func TestIdentityMap_LookupFallsBackToSource(t *testing.T) {
	svc := newActorService(t)
	got := invoke[string, string](t, svc, KindIdentityMap, IdentityMapKey, OpLookup, "unmapped@example.com")
	if got != "unmapped@example.com" {
		t.Errorf("lookup = %q, want pass-through", got)
	}
}

func TestIdentityMap_LookupMappedAndCaseInsensitive(t *testing.T) {
	svc := newActorService(t)
	invoke[[]MappingRow, int](t, svc, KindIdentityMap, IdentityMapKey, OpReplaceMapping, []MappingRow{
		{Source: "Old@Src.com", Target: "new@dst.com"},
	})

	if got := invoke[string, string](t, svc, KindIdentityMap, IdentityMapKey, OpLookup, "old@src.com"); got != "new@dst.com" {
		t.Errorf("lookup = %q, want new@dst.com", got)
	}
}

func TestIdentityMap_ReplaceIsWholesale(t *testing.T) {
	svc := newActorService(t)
	invoke[[]MappingRow, int](t, svc, KindIdentityMap, IdentityMapKey, OpReplaceMapping, []MappingRow{
		{Source: "a@src.com", Target: "a@dst.com"},
		{Source: "b@src.com", Target: "b@dst.com"},
	})

	count := invoke[[]MappingRow, int](t, svc, KindIdentityMap, IdentityMapKey, OpReplaceMapping, []MappingRow{
		{Source: "c@src.com", Target: "c@dst.com"},
	})
	if count != 1 {
		t.Errorf("entry count after replace = %d, want 1", count)
	}

	// The old entry is gone, so lookup passes the source through.
	if got := invoke[string, string](t, svc, KindIdentityMap, IdentityMapKey, OpLookup, "a@src.com"); got != "a@src.com" {
		t.Errorf("lookup of dropped entry = %q, want pass-through", got)
	}
	if got := invoke[string, string](t, svc, KindIdentityMap, IdentityMapKey, OpLookup, "c@src.com"); got != "c@dst.com" {
		t.Errorf("lookup = %q, want c@dst.com", got)
	}
}
