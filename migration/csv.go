package migration

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports the malformed rows of a submitted table. Lines
// holds zero-based indexes into the submitted text, counting every line
// including the malformed ones. A batch with any malformed row is rejected
// whole; nothing is enqueued.
type ValidationError struct {
	Lines []int
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Lines))
	for i, n := range e.Lines {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("migration: malformed rows at line(s) %s", strings.Join(parts, ", "))
}

// UserRow is one parsed row of a migration batch table: the mailbox to
// migrate and the cutoff after which its meetings are in scope.
type UserRow struct {
	PrincipalName string    `json:"principalName"`
	Cutoff        time.Time `json:"cutoff"`
}

// MappingRow is one parsed row of an identity-mapping table.
type MappingRow struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// cutoffLayouts are accepted cutoff formats, tried in order.
var cutoffLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseUserTable parses a migration batch table. Each line is
// "principalName,cutoff"; blank lines are skipped but still counted for
// line indexes. If any row is malformed the whole table is rejected with
// a *ValidationError naming every bad line.
func ParseUserTable(text string) ([]UserRow, error) {
	var (
		rows []UserRow
		bad  []int
	)
	for i, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			bad = append(bad, i)
			continue
		}
		upn := strings.TrimSpace(fields[0])
		cutoff, ok := parseCutoff(strings.TrimSpace(fields[1]))
		if upn == "" || !ok {
			bad = append(bad, i)
			continue
		}
		rows = append(rows, UserRow{PrincipalName: upn, Cutoff: cutoff})
	}
	if len(bad) > 0 {
		return nil, &ValidationError{Lines: bad}
	}
	return rows, nil
}

// ParseMappingTable parses an identity-mapping table. Each line is
// "source,target" with both fields non-empty. The same whole-table
// rejection applies as for ParseUserTable.
func ParseMappingTable(text string) ([]MappingRow, error) {
	var (
		rows []MappingRow
		bad  []int
	)
	for i, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			bad = append(bad, i)
			continue
		}
		source := strings.TrimSpace(fields[0])
		target := strings.TrimSpace(fields[1])
		if source == "" || target == "" {
			bad = append(bad, i)
			continue
		}
		rows = append(rows, MappingRow{Source: source, Target: target})
	}
	if len(bad) > 0 {
		return nil, &ValidationError{Lines: bad}
	}
	return rows, nil
}

func parseCutoff(s string) (time.Time, bool) {
	for _, layout := range cutoffLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitLines splits on \n and tolerates \r\n line endings.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
