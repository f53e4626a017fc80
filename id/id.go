// Package id defines TypeID-based identifiers for calshift records.
//
// Every record shares one ID struct; the prefix names the record type, so a
// raw "run_01h2x..." string is self-describing in logs and API payloads.
// IDs are UUIDv7-based, which keeps them K-sortable and globally unique.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the record type encoded in a TypeID.
type Prefix string

const (
	PrefixTask       Prefix = "task"
	PrefixRun        Prefix = "run"
	PrefixCheckpoint Prefix = "ckpt"
	PrefixHistory    Prefix = "hist"
	PrefixActor      Prefix = "act"
	PrefixCron       Prefix = "cron"
	PrefixDLQ        Prefix = "dlq"
	PrefixEvent      Prefix = "evt"
	PrefixWorker     Prefix = "wkr"
)

// ID wraps a TypeID in the form "prefix_suffix". The zero value is Nil and
// renders as the empty string.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a fresh ID under the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse converts a TypeID string (e.g. "run_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects it when the prefix is not expected,
// so a task ID cannot slip into a run-ID field.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is Parse for hardcoded values; it panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler. Nil renders empty.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil maps to SQL NULL so optional foreign
// key columns stay nullable.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner. NULL and empty values map to Nil.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

// Per-record aliases. These are aliases rather than distinct types so the
// stores can share one Scanner/Valuer implementation; ParseXxxID gives the
// prefix check where it matters, at API boundaries.
type (
	TaskID       = ID
	RunID        = ID
	CheckpointID = ID
	HistoryID    = ID
	ActorID      = ID
	CronID       = ID
	DLQID        = ID
	EventID      = ID
	WorkerID     = ID
)

func NewTaskID() ID       { return New(PrefixTask) }
func NewRunID() ID        { return New(PrefixRun) }
func NewCheckpointID() ID { return New(PrefixCheckpoint) }
func NewHistoryID() ID    { return New(PrefixHistory) }
func NewActorID() ID      { return New(PrefixActor) }
func NewCronID() ID       { return New(PrefixCron) }
func NewDLQID() ID        { return New(PrefixDLQ) }
func NewEventID() ID      { return New(PrefixEvent) }
func NewWorkerID() ID     { return New(PrefixWorker) }

func ParseTaskID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixTask) }
func ParseRunID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixRun) }
func ParseCheckpointID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCheckpoint) }
func ParseActorID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixActor) }
func ParseCronID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixCron) }
func ParseDLQID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixDLQ) }
func ParseEventID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixEvent) }
func ParseWorkerID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixWorker) }
