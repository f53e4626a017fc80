package memory

import (
	"context"
	"sort"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/actor"
)

func actorKey(kind, key string) string {
	return kind + "/" + key
}

// GetActor retrieves the instance addressed by (kind, key).
func (m *Store) GetActor(_ context.Context, kind, key string) (*actor.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, err := fetch(m.actors, actorKey(kind, key), calshift.ErrActorNotFound)
	if err != nil {
		return nil, err
	}
	return clone(inst), nil
}

// SaveActor upserts an actor instance.
func (m *Store) SaveActor(_ context.Context, inst *actor.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actorKey(inst.Kind, inst.Key)] = clone(inst)
	return nil
}

// ListActors returns every instance of a kind, ordered by key.
func (m *Store) ListActors(_ context.Context, kind string) ([]*actor.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*actor.Instance
	for _, inst := range m.actors {
		if inst.Kind != kind {
			continue
		}
		out = append(out, clone(inst))
	}

	sort.Slice(out, func(i, k int) bool {
		return out[i].Key < out[k].Key
	})
	return out, nil
}

// DeleteActor removes the instance addressed by (kind, key).
func (m *Store) DeleteActor(_ context.Context, kind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.actors, actorKey(kind, key), calshift.ErrActorNotFound)
}

// AppendActorOp appends one entry to an actor's operation log.
func (m *Store) AppendActorOp(_ context.Context, rec *actor.OpRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := actorKey(rec.Kind, rec.Key)
	m.actorOps[k] = append(m.actorOps[k], clone(rec))
	return nil
}

// ListActorOps returns the operation log for (kind, key) in append order.
func (m *Store) ListActorOps(_ context.Context, kind, key string) ([]*actor.OpRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ops := m.actorOps[actorKey(kind, key)]
	out := make([]*actor.OpRecord, len(ops))
	for i, rec := range ops {
		out[i] = clone(rec)
	}
	return out, nil
}
