// Package jobs holds the aggregated job table and its queries.
package jobs

import (
	"strconv"
	"strings"
)

// NotAvailable is how an absent field is rendered
const NotAvailable = "N/A"

// Field is an optional string value from the scheduler feed
type Field struct {
	value   string
	present bool
}

// Present returns a Field holding v
func Present(v string) Field {
	return Field{value: v, present: true}
}

// Absent returns an empty Field
func Absent() Field {
	return Field{}
}

// Value returns the value and whether it was present
func (f Field) Value() (string, bool) {
	return f.value, f.present
}

// IsPresent reports whether the field was present in the feed
func (f Field) IsPresent() bool {
	return f.present
}

// String renders the field, with N/A for absent values
func (f Field) String() string {
	if !f.present {
		return NotAvailable
	}
	return f.value
}

// Record is one job as reported by one server
type Record struct {
	Server string
	JobID  string
	Name   Field
	Path   Field
	CPUs   Field
	Status Field
	Owner  Field
	Memory Field
}

// CPUCount parses CPUs. Absent or non-numeric values count as 0.
func (r Record) CPUCount() int {
	v, ok := r.CPUs.Value()
	if !ok {
		return 0
	}
	v = strings.TrimSpace(v)
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Running reports whether the scheduler lists the job as running
func (r Record) Running() bool {
	return r.Status.String() == "R"
}
