package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/calshift/calshift/directory"
	"github.com/calshift/calshift/workflow"
)

// Workflow names. The batch workflows fan out into the per-mailbox and
// per-meeting workflows below them.
const (
	WorkflowMigrateBatch    = "migrate-batch"
	WorkflowMigrateMailbox  = "migrate-mailbox"
	WorkflowMigrateMeetings = "migrate-meetings"
	WorkflowMigrateMeeting  = "migrate-meeting"
	WorkflowRefreshMapping  = "refresh-mapping"
	WorkflowCountBatch      = "count-batch"
	WorkflowCountMailbox    = "count-mailbox"
)

// EventMappingRefreshed is published on the bus after the identity map is
// replaced.
const EventMappingRefreshed = "mapping.refreshed"

// Notice texts sent around a mailbox migration.
const (
	upcomingNoticeSubject = "Your upcoming migration"
	upcomingNoticeBody    = "Your account is being migrated to the new directory.\n" +
		"The migration will:\n" +
		"1. Recreate each of your upcoming meetings under the new account names.\n" +
		"2. Cancel the original meetings.\n" +
		"You will be notified when your migration is done."
	finishedNoticeSubject = "Your migration is finished"
	finishedNoticeBody    = "Your meetings have been migrated to the new directory."
)

// BatchInput starts a batch workflow from a raw user table.
type BatchInput struct {
	Table string `json:"table"`
}

// MailboxInput migrates one mailbox.
type MailboxInput struct {
	PrincipalName string `json:"principalName"`
}

// MailboxResult is the output of one mailbox migration.
type MailboxResult struct {
	PrincipalName string `json:"principalName"`
	Meetings      int    `json:"meetings"`
	Recreated     int    `json:"recreated"`
	Failed        int    `json:"failed"`
}

// BatchFailure records one mailbox whose migration failed.
type BatchFailure struct {
	PrincipalName string `json:"principalName"`
	Error         string `json:"error"`
}

// BatchResult aggregates a whole batch. Failed mailboxes are listed but
// never abort their siblings.
type BatchResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// MeetingSweepInput discovers and migrates the meetings of one mailbox.
type MeetingSweepInput struct {
	PrincipalName string `json:"principalName"`
}

// MeetingFailure records one meeting that could not be migrated.
type MeetingFailure struct {
	MeetingID string `json:"meetingId"`
	Subject   string `json:"subject"`
	Error     string `json:"error"`
}

// MeetingSweepResult is the output of one mailbox's meeting sweep.
type MeetingSweepResult struct {
	Total    int              `json:"total"`
	Migrated int              `json:"migrated"`
	Failed   int              `json:"failed"`
	Failures []MeetingFailure `json:"failures,omitempty"`
}

// MeetingInput migrates a single meeting.
type MeetingInput struct {
	Meeting directory.Meeting `json:"meeting"`
}

// MeetingResult is the output of a single meeting migration. CancelError
// is set when the replacement was created but the source meeting could not
// be cancelled; the migration still counts as successful.
type MeetingResult struct {
	SourceID    string `json:"sourceId"`
	NewID       string `json:"newId"`
	Organizer   string `json:"organizer"`
	CancelError string `json:"cancelError,omitempty"`
}

// MappingInput replaces the identity map from a raw mapping table.
type MappingInput struct {
	Table string `json:"table"`
}

// MappingResult reports the size of the new identity map.
type MappingResult struct {
	Entries int `json:"entries"`
}

// CountInput counts the in-scope meetings of one mailbox.
type CountInput struct {
	PrincipalName string `json:"principalName"`
}

// CountResult is one mailbox's meeting count.
type CountResult struct {
	PrincipalName string `json:"principalName"`
	Meetings      int    `json:"meetings"`
	Error         string `json:"error,omitempty"`
}

// CountReport aggregates a count batch.
type CountReport struct {
	Total   int           `json:"total"`
	PerUser []CountResult `json:"perUser"`
}

// RegisterWorkflows registers the migration workflows on reg.
func RegisterWorkflows(reg *workflow.Registry) {
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowMigrateBatch, migrateBatch))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowMigrateMailbox, migrateMailbox))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowMigrateMeetings, migrateMeetings))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowMigrateMeeting, migrateMeeting))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowRefreshMapping, refreshMapping))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowCountBatch, countBatch))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowCountMailbox, countMailbox))
}

// migrateBatch parses the user table, seeds each mailbox's cutoff actor
// and fans out one mailbox migration per row. A failed mailbox is recorded
// in the batch result without disturbing its siblings.
func migrateBatch(w *workflow.Workflow, in BatchInput) error {
	rows, err := parseUserTableStep(w, in.Table)
	if err != nil {
		return err
	}

	if err := seedCutoffs(w, rows); err != nil {
		return err
	}

	inputs := make([]MailboxInput, len(rows))
	for i, row := range rows {
		inputs[i] = MailboxInput{PrincipalName: row.PrincipalName}
	}
	outcomes, err := workflow.FanOutSettled[MailboxInput, MailboxResult](w, WorkflowMigrateMailbox, inputs)
	if err != nil {
		return err
	}

	result := BatchResult{Total: len(rows)}
	for i, outcome := range outcomes {
		if outcome.Failed() {
			result.Failed++
			result.Failures = append(result.Failures, BatchFailure{
				PrincipalName: rows[i].PrincipalName,
				Error:         outcome.Error,
			})
			continue
		}
		result.Succeeded++
	}
	return w.SetOutput(result)
}

// migrateMailbox migrates one mailbox: resolve the user, send the
// upcoming-migration notice, run the meeting sweep, send the finished
// notice. Notices are best-effort; a failed send never fails the mailbox.
func migrateMailbox(w *workflow.Workflow, in MailboxInput) error {
	user, err := workflow.ExecuteActivity[string, *directory.User](w, ActivityGetUser, in.PrincipalName)
	if err != nil {
		return err
	}

	// Best-effort notice; the step failure is in history if it happens.
	_, _ = workflow.ExecuteActivityAs[NoticeInput, bool](w, "notice-upcoming", ActivitySendNotice, NoticeInput{
		Recipient: user.PrincipalName,
		Subject:   upcomingNoticeSubject,
		Body:      upcomingNoticeBody,
	})

	sweep, err := workflow.RunChild[MeetingSweepInput, MeetingSweepResult](w, WorkflowMigrateMeetings, MeetingSweepInput{
		PrincipalName: user.PrincipalName,
	})
	if err != nil {
		return err
	}

	_, _ = workflow.ExecuteActivityAs[NoticeInput, bool](w, "notice-finished", ActivitySendNotice, NoticeInput{
		Recipient: user.PrincipalName,
		Subject:   finishedNoticeSubject,
		Body:      finishedNoticeBody,
	})

	return w.SetOutput(MailboxResult{
		PrincipalName: user.PrincipalName,
		Meetings:      sweep.Total,
		Recreated:     sweep.Migrated,
		Failed:        sweep.Failed,
	})
}

// migrateMeetings reads the mailbox's cutoff, lists the in-scope meetings
// in a stable schedule order and fans out one meeting migration per
// meeting. A discovery failure aborts the whole sweep; individual meeting
// failures are collected per branch.
func migrateMeetings(w *workflow.Workflow, in MeetingSweepInput) error {
	cutoff, err := workflow.CallActor[struct{}, time.Time](w, "get-cutoff", KindMailboxConfig, in.PrincipalName, OpGetCutoff, struct{}{})
	if err != nil {
		return err
	}

	meetings, err := workflow.ExecuteActivity[ListMeetingsInput, []directory.Meeting](w, ActivityListMeetings, ListMeetingsInput{
		PrincipalName: in.PrincipalName,
		Cutoff:        cutoff,
	})
	if err != nil {
		return err
	}

	sortMeetings(meetings)

	inputs := make([]MeetingInput, len(meetings))
	for i, m := range meetings {
		inputs[i] = MeetingInput{Meeting: m}
	}
	outcomes, err := workflow.FanOutSettled[MeetingInput, MeetingResult](w, WorkflowMigrateMeeting, inputs)
	if err != nil {
		return err
	}

	result := MeetingSweepResult{Total: len(meetings)}
	for i, outcome := range outcomes {
		if outcome.Failed() {
			result.Failed++
			result.Failures = append(result.Failures, MeetingFailure{
				MeetingID: meetings[i].ID,
				Subject:   meetings[i].Subject,
				Error:     outcome.Error,
			})
			continue
		}
		result.Migrated++
	}
	return w.SetOutput(result)
}

// migrateMeeting remaps the organizer and attendees through the identity
// map, creates the replacement meeting and only then cancels the source
// meeting. A failed cancellation is recorded on the result but does not
// fail the migration; the replacement already exists.
func migrateMeeting(w *workflow.Workflow, in MeetingInput) error {
	m := in.Meeting

	organizer, err := workflow.CallActor[string, string](w, "map-organizer", KindIdentityMap, IdentityMapKey, OpLookup, m.Organizer)
	if err != nil {
		return err
	}

	attendees := make([]string, len(m.Attendees))
	for i, attendee := range m.Attendees {
		mapped, lookupErr := workflow.CallActor[string, string](w, fmt.Sprintf("map-attendee:%d", i), KindIdentityMap, IdentityMapKey, OpLookup, attendee)
		if lookupErr != nil {
			return lookupErr
		}
		attendees[i] = mapped
	}

	created, err := workflow.ExecuteActivity[directory.MeetingSpec, *directory.Meeting](w, ActivityCreateMeeting, directory.MeetingSpec{
		Subject:   m.Subject,
		Organizer: organizer,
		Attendees: attendees,
		Start:     m.Start,
		End:       m.End,
	})
	if err != nil {
		return err
	}

	result := MeetingResult{
		SourceID:  m.ID,
		NewID:     created.ID,
		Organizer: organizer,
	}

	// The source is cancelled under its original organizer.
	if _, cancelErr := workflow.ExecuteActivity[CancelMeetingInput, string](w, ActivityCancelMeeting, CancelMeetingInput{
		Organizer: m.Organizer,
		MeetingID: m.ID,
	}); cancelErr != nil {
		result.CancelError = cancelErr.Error()
	}

	return w.SetOutput(result)
}

// refreshMapping parses the mapping table and replaces the identity map
// wholesale, then publishes mapping.refreshed on the bus.
func refreshMapping(w *workflow.Workflow, in MappingInput) error {
	rows, err := workflow.StepWithResult(w, "parse-mapping-table", func(_ context.Context) ([]MappingRow, error) {
		return ParseMappingTable(in.Table)
	})
	if err != nil {
		return err
	}

	entries, err := workflow.CallActor[[]MappingRow, int](w, "replace-mapping", KindIdentityMap, IdentityMapKey, OpReplaceMapping, rows)
	if err != nil {
		return err
	}

	// Best-effort publication; subscribers learn the map changed.
	_, _ = workflow.ExecuteActivity[PublishEventInput, string](w, ActivityPublishEvent, PublishEventInput{
		Name: EventMappingRefreshed,
	})

	return w.SetOutput(MappingResult{Entries: entries})
}

// countBatch reports how many in-scope meetings each mailbox in the table
// has, without migrating anything. Cutoffs are seeded the same way a
// migration batch seeds them.
func countBatch(w *workflow.Workflow, in BatchInput) error {
	rows, err := parseUserTableStep(w, in.Table)
	if err != nil {
		return err
	}

	if err := seedCutoffs(w, rows); err != nil {
		return err
	}

	inputs := make([]CountInput, len(rows))
	for i, row := range rows {
		inputs[i] = CountInput{PrincipalName: row.PrincipalName}
	}
	outcomes, err := workflow.FanOutSettled[CountInput, CountResult](w, WorkflowCountMailbox, inputs)
	if err != nil {
		return err
	}

	report := CountReport{PerUser: make([]CountResult, len(rows))}
	for i, outcome := range outcomes {
		result := outcome.Result
		result.PrincipalName = rows[i].PrincipalName
		if outcome.Failed() {
			result.Error = outcome.Error
		}
		report.Total += result.Meetings
		report.PerUser[i] = result
	}
	return w.SetOutput(report)
}

// countMailbox resolves one mailbox and counts its in-scope meetings.
func countMailbox(w *workflow.Workflow, in CountInput) error {
	user, err := workflow.ExecuteActivity[string, *directory.User](w, ActivityGetUser, in.PrincipalName)
	if err != nil {
		return err
	}

	cutoff, err := workflow.CallActor[struct{}, time.Time](w, "get-cutoff", KindMailboxConfig, user.PrincipalName, OpGetCutoff, struct{}{})
	if err != nil {
		return err
	}

	count, err := workflow.ExecuteActivity[ListMeetingsInput, int](w, ActivityCountMeetings, ListMeetingsInput{
		PrincipalName: user.PrincipalName,
		Cutoff:        cutoff,
	})
	if err != nil {
		return err
	}

	return w.SetOutput(CountResult{PrincipalName: user.PrincipalName, Meetings: count})
}

// parseUserTableStep parses the batch table inside a checkpointed step so
// a replayed run sees the exact rows of the original parse.
func parseUserTableStep(w *workflow.Workflow, table string) ([]UserRow, error) {
	return workflow.StepWithResult(w, "parse-user-table", func(_ context.Context) ([]UserRow, error) {
		return ParseUserTable(table)
	})
}

// seedCutoffs writes each row's cutoff into its mailbox-config actor.
func seedCutoffs(w *workflow.Workflow, rows []UserRow) error {
	for _, row := range rows {
		key := "set-cutoff:" + row.PrincipalName
		if err := workflow.SignalActor(w, key, KindMailboxConfig, row.PrincipalName, OpSetCutoff, row.Cutoff); err != nil {
			return err
		}
	}
	return nil
}

// sortMeetings orders the discovery result by start time, then ID, so the
// fan-out schedule is stable across replays.
func sortMeetings(meetings []directory.Meeting) {
	sort.Slice(meetings, func(i, j int) bool {
		if !meetings[i].Start.Equal(meetings[j].Start) {
			return meetings[i].Start.Before(meetings[j].Start)
		}
		return meetings[i].ID < meetings[j].ID
	})
}
