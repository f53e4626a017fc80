package migration

import (
	"context"
	"strings"
	"time"

	"github.com/calshift/calshift/actor"
)

// Actor kinds backing the migration. Mailbox cutoffs and the identity
// mapping live in actor state so concurrent workflows read and write them
// through the store's per-key serialization.
const (
	KindMailboxConfig = "mailbox-config"
	KindIdentityMap   = "identity-map"
)

// Operations on the mailbox-config actor (keyed by principal name).
const (
	OpSetCutoff = "set-cutoff"
	OpGetCutoff = "get-cutoff"
)

// Operations on the identity-map actor (a single shared key).
const (
	OpReplaceMapping = "replace-mapping"
	OpLookup         = "lookup"
)

// IdentityMapKey is the actor key of the shared identity map.
const IdentityMapKey = "default"

// MailboxConfig is the per-mailbox actor state.
type MailboxConfig struct {
	Cutoff time.Time `json:"cutoff"`
}

// IdentityMap is the shared mapping actor state. Entries are keyed by
// lower-cased source principal name.
type IdentityMap struct {
	Entries map[string]string `json:"entries"`
}

// RegisterActorKinds registers the migration actor kinds on svc.
func RegisterActorKinds(svc *actor.Service) {
	mailbox := actor.NewKind(KindMailboxConfig)
	actor.RegisterOp(mailbox, OpSetCutoff, func(_ context.Context, state *MailboxConfig, cutoff time.Time) (time.Time, error) {
		state.Cutoff = cutoff
		return cutoff, nil
	})
	actor.RegisterOp(mailbox, OpGetCutoff, func(_ context.Context, state *MailboxConfig, _ struct{}) (time.Time, error) {
		return state.Cutoff, nil
	})
	svc.RegisterKind(mailbox)

	identity := actor.NewKind(KindIdentityMap)
	// The mapping is replaced wholesale, never merged: a refresh drops
	// every entry the new table does not carry.
	actor.RegisterOp(identity, OpReplaceMapping, func(_ context.Context, state *IdentityMap, rows []MappingRow) (int, error) {
		entries := make(map[string]string, len(rows))
		for _, row := range rows {
			entries[strings.ToLower(row.Source)] = row.Target
		}
		state.Entries = entries
		return len(entries), nil
	})
	// A miss resolves to the queried identity itself, so unmapped users
	// pass through migrations unchanged.
	actor.RegisterOp(identity, OpLookup, func(_ context.Context, state *IdentityMap, source string) (string, error) {
		if target, ok := state.Entries[strings.ToLower(source)]; ok {
			return target, nil
		}
		return source, nil
	})
	svc.RegisterKind(identity)
}
