// Package notify delivers user-facing migration notices. The engine treats
// delivery as best-effort: a failed notice never fails the migration that
// triggered it.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier sends a notice to a recipient identified by principal name.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes notices to the structured log instead of delivering
// them. It is the default when no mail transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that logs each notice at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, recipient, subject, body string) error {
	n.logger.Info("notice",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
		slog.Int("body_len", len(body)),
	)
	return nil
}

// Recorder captures notices in memory, for tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notice is one captured Send call.
type Notice struct {
	Recipient string
	Subject   string
	Body      string
}

var _ Notifier = (*Recorder)(nil)

// NewRecorder creates an empty in-memory notifier.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, recipient, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Recipient: recipient, Subject: subject, Body: body})
	return nil
}

// Notices returns a snapshot of everything sent so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
