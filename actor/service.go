package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
)

// Service routes invocations to registered actor kinds and serializes
// operations per (kind, key). It satisfies the workflow package's
// ActorInvoker interface.
type Service struct {
	store  Store
	logger *slog.Logger

	kindsMu sync.RWMutex
	kinds   map[string]*Kind

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a Service over the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		kinds:  make(map[string]*Kind),
		locks:  make(map[string]*sync.Mutex),
	}
}

// RegisterKind makes an actor kind invokable through the service.
func (s *Service) RegisterKind(k *Kind) {
	s.kindsMu.Lock()
	defer s.kindsMu.Unlock()
	s.kinds[k.Name] = k
}

// lockFor returns the mutex guarding a single actor. Locks are created on
// first use and never removed; the actor population is bounded by the set
// of mailboxes and directories being migrated.
func (s *Service) lockFor(kind, key string) *sync.Mutex {
	name := kind + "/" + key
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	return mu
}

// InvokeRaw runs the named operation on the actor (kind, key) and returns
// its raw JSON output. The actor's lock is held across load, handler, and
// save. A fresh actor starts with empty state.
func (s *Service) InvokeRaw(ctx context.Context, kind, key, op string, input []byte) ([]byte, error) {
	s.kindsMu.RLock()
	k, ok := s.kinds[kind]
	s.kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", calshift.ErrActorNotFound, kind)
	}
	fn, ok := k.Op(op)
	if !ok {
		return nil, fmt.Errorf("%w: operation %q on kind %q", calshift.ErrActorNotFound, op, kind)
	}

	mu := s.lockFor(kind, key)
	mu.Lock()
	defer mu.Unlock()

	inst, err := s.store.GetActor(ctx, kind, key)
	if err != nil {
		if !errors.Is(err, calshift.ErrActorNotFound) {
			return nil, fmt.Errorf("load actor %s/%s: %w", kind, key, err)
		}
		inst = &Instance{
			Entity: calshift.NewEntity(),
			ID:     id.NewActorID(),
			Kind:   kind,
			Key:    key,
		}
	}

	newState, output, err := fn(ctx, inst.State, input)
	if err != nil {
		return nil, fmt.Errorf("actor %s/%s op %q: %w", kind, key, op, err)
	}

	inst.State = newState
	inst.Version++
	inst.Touch()
	if err := s.store.SaveActor(ctx, inst); err != nil {
		return nil, fmt.Errorf("save actor %s/%s: %w", kind, key, err)
	}

	// The op log is audit data; a write failure must not undo an invoke
	// whose state is already saved.
	rec := &OpRecord{
		Kind:      kind,
		Key:       key,
		Op:        op,
		Version:   inst.Version,
		InvokedAt: time.Now().UTC(),
	}
	if opErr := s.store.AppendActorOp(ctx, rec); opErr != nil {
		s.logger.Warn("failed to append actor op record",
			slog.String("kind", kind),
			slog.String("key", key),
			slog.String("op", op),
			slog.String("error", opErr.Error()),
		)
	}

	s.logger.Debug("actor invoked",
		slog.String("kind", kind),
		slog.String("key", key),
		slog.String("op", op),
		slog.Int64("version", inst.Version),
	)
	return output, nil
}

// OpLog returns the actor's operation log in invoke order.
func (s *Service) OpLog(ctx context.Context, kind, key string) ([]*OpRecord, error) {
	return s.store.ListActorOps(ctx, kind, key)
}

// SignalRaw runs the named operation and discards its output.
func (s *Service) SignalRaw(ctx context.Context, kind, key, op string, input []byte) error {
	_, err := s.InvokeRaw(ctx, kind, key, op, input)
	return err
}
