package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when no job matches a reference
var ErrNotFound = errors.New("job not found")

// SortField names a column the table can be sorted by
type SortField string

// Sortable columns. The names match the feed keys.
const (
	FieldJobID  SortField = "JobID"
	FieldName   SortField = "Job_Name"
	FieldCPUs   SortField = "CPUs"
	FieldStatus SortField = "Status"
	FieldOwner  SortField = "Owner"
	FieldServer SortField = "Server"
	FieldMemory SortField = "Memory"
	FieldPath   SortField = "Job_Path"
)

// SortFields lists the sortable columns in menu order
var SortFields = []SortField{
	FieldJobID, FieldName, FieldCPUs, FieldStatus,
	FieldOwner, FieldServer, FieldMemory, FieldPath,
}

// ParseSortField accepts a column name, case-insensitively
func ParseSortField(name string) (SortField, error) {
	for _, f := range SortFields {
		if strings.EqualFold(string(f), name) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sort field %q", name)
}

// Display returns the rendered value of a column
func (r Record) Display(f SortField) string {
	switch f {
	case FieldJobID:
		return r.JobID
	case FieldName:
		return r.Name.String()
	case FieldCPUs:
		return r.CPUs.String()
	case FieldStatus:
		return r.Status.String()
	case FieldOwner:
		return r.Owner.String()
	case FieldServer:
		return r.Server
	case FieldMemory:
		return r.Memory.String()
	case FieldPath:
		return r.Path.String()
	}
	return ""
}

// Table is the merged job list. It is replaced wholesale on every fetch and
// never modified in place.
type Table struct {
	records []Record
}

// NewTable wraps records in table order
func NewTable(records []Record) *Table {
	return &Table{records: records}
}

// Records returns the records in table order
func (t *Table) Records() []Record {
	if t == nil {
		return nil
	}
	return t.records
}

// Len returns the number of records
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Filter returns the records matching pred, in table order
func (t *Table) Filter(pred func(Record) bool) []Record {
	var out []Record
	for _, r := range t.Records() {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// SortBy returns a stably sorted copy. CPUs sort numerically; every other
// column sorts by its rendered string.
func (t *Table) SortBy(field SortField) ([]Record, error) {
	if _, err := ParseSortField(string(field)); err != nil {
		return nil, err
	}
	out := append([]Record(nil), t.Records()...)
	if field == FieldCPUs {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CPUCount() < out[j].CPUCount()
		})
		return out, nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Display(field) < out[j].Display(field)
	})
	return out, nil
}

// MatchesID reports whether a job ID matches a partial reference: the token
// occurs anywhere in the ID, or the ID starts with "token."
func MatchesID(jobID, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(jobID, token) || strings.HasPrefix(jobID, token+".")
}

// FindByPartialID returns the first record in table order whose ID matches
func (t *Table) FindByPartialID(token string) (Record, error) {
	for _, r := range t.Records() {
		if MatchesID(r.JobID, token) {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %q", ErrNotFound, token)
}

// ByStatus matches records with the given status, e.g. "R"
func ByStatus(status string) func(Record) bool {
	return func(r Record) bool {
		return strings.EqualFold(r.Status.String(), status)
	}
}

// ByOwner matches records owned by user
func ByOwner(user string) func(Record) bool {
	return func(r Record) bool {
		return r.Owner.String() == user
	}
}

// ByServer matches records from the named server
func ByServer(name string) func(Record) bool {
	return func(r Record) bool {
		return r.Server == name
	}
}

// All combines predicates; nil entries are ignored
func All(preds ...func(Record) bool) func(Record) bool {
	return func(r Record) bool {
		for _, p := range preds {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

// Column is a table column and its display width
type Column struct {
	Field SortField
	Width int
}

// Columns are the display columns in order
var Columns = []Column{
	{FieldServer, 20},
	{FieldJobID, 35},
	{FieldName, 30},
	{FieldPath, 50},
	{FieldCPUs, 6},
	{FieldStatus, 8},
	{FieldOwner, 10},
	{FieldMemory, 10},
}

// Truncate shortens value to fit a column of width, ending with "..."
func Truncate(value string, width int) string {
	if width < 5 || len(value) <= width-1 {
		return value
	}
	return value[:width-4] + "..."
}
