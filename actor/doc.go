// Package actor provides durable keyed state with serialized operations.
//
// An actor is addressed by (kind, key), for example ("mailbox-config",
// "amy@example.com"). Each actor holds a JSON state blob in the store.
// Operations on the same actor are serialized: the service holds a per-key
// lock across load, handler, and save, so concurrent workflows never
// interleave reads and writes on one actor. Operations on different keys
// run concurrently.
//
// # Defining Actor Kinds
//
//	mailbox := actor.NewKind("mailbox-config")
//	actor.RegisterOp(mailbox, "get", func(_ context.Context, s *MailboxState, _ struct{}) (MailboxState, error) {
//	    return *s, nil
//	})
//	actor.RegisterOp(mailbox, "set-target", func(_ context.Context, s *MailboxState, target string) (MailboxState, error) {
//	    s.TargetAddress = target
//	    return *s, nil
//	})
//
//	svc := actor.NewService(store, logger)
//	svc.RegisterKind(mailbox)
//
// Handlers receive a pointer to the decoded state. Mutations made through
// the pointer are persisted after the handler returns without error. A
// handler error leaves the stored state untouched.
package actor
