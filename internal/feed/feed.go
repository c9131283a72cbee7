// Package feed decodes the JSON job list printed on each server.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/osteele/pbs-jobs/internal/jobs"
)

// ErrFeedParse is matched by every *ParseError
var ErrFeedParse = errors.New("feed parse error")

// ParseError reports a feed that could not be decoded even after repair.
// Raw holds the repaired payload for diagnosis.
type ParseError struct {
	Server string
	Raw    []byte
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed from %s: %v", e.Server, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFeedParse) true
func (e *ParseError) Is(target error) bool {
	return target == ErrFeedParse
}

// Keys of one feed entry
const (
	KeyJobID  = "JobID"
	KeyName   = "Job_Name"
	KeyPath   = "Job_Path"
	KeyCPUs   = "CPUs"
	KeyStatus = "Status"
	KeyOwner  = "Owner"
	KeyMemory = "Memory"
)

// Entry is one job as printed by the feed command. Values keep the type
// the scheduler reported them with; nil encodes as null.
type Entry struct {
	JobID  string `json:"JobID"`
	Name   any    `json:"Job_Name"`
	Path   any    `json:"Job_Path"`
	CPUs   any    `json:"CPUs"`
	Status any    `json:"Status"`
	Owner  any    `json:"Owner"`
	Memory any    `json:"Memory"`
}

// Parse repairs and decodes a feed payload from server. Entries keep the
// order of the payload.
func Parse(raw []byte, server string) ([]jobs.Record, error) {
	repaired := Repair(raw)

	var entries []map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(repaired))
	dec.UseNumber()
	if err := dec.Decode(&entries); err != nil {
		return nil, &ParseError{Server: server, Raw: repaired, Err: err}
	}

	records := make([]jobs.Record, 0, len(entries))
	for i, e := range entries {
		id, err := field(e, KeyJobID)
		if err != nil {
			return nil, &ParseError{Server: server, Raw: repaired, Err: fmt.Errorf("entry %d: %w", i, err)}
		}
		jobID, ok := id.Value()
		if !ok || jobID == "" {
			return nil, &ParseError{Server: server, Raw: repaired, Err: fmt.Errorf("entry %d: missing %s", i, KeyJobID)}
		}

		r := jobs.Record{Server: server, JobID: jobID}
		for _, f := range []struct {
			key string
			dst *jobs.Field
		}{
			{KeyName, &r.Name},
			{KeyPath, &r.Path},
			{KeyCPUs, &r.CPUs},
			{KeyStatus, &r.Status},
			{KeyOwner, &r.Owner},
			{KeyMemory, &r.Memory},
		} {
			v, err := field(e, f.key)
			if err != nil {
				return nil, &ParseError{Server: server, Raw: repaired, Err: fmt.Errorf("entry %s: %w", jobID, err)}
			}
			*f.dst = v
		}

		if owner, ok := r.Owner.Value(); ok {
			r.Owner = jobs.Present(StripDomain(owner))
		}
		if mem, ok := r.Memory.Value(); ok {
			r.Memory = jobs.Present(NormalizeMemory(mem))
		}
		records = append(records, r)
	}
	return records, nil
}

// field reads a scalar as a string. Missing keys and null are absent.
func field(entry map[string]json.RawMessage, key string) (jobs.Field, error) {
	raw, ok := entry[key]
	if !ok {
		return jobs.Absent(), nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return jobs.Absent(), fmt.Errorf("%s: %w", key, err)
	}
	switch x := v.(type) {
	case nil:
		return jobs.Absent(), nil
	case string:
		return jobs.Present(x), nil
	case json.Number:
		return jobs.Present(x.String()), nil
	case bool:
		return jobs.Present(strconv.FormatBool(x)), nil
	default:
		return jobs.Absent(), fmt.Errorf("%s: expected a scalar, got %T", key, v)
	}
}

// StripDomain removes an "@host" suffix from a PBS owner
func StripDomain(owner string) string {
	if i := strings.Index(owner, "@"); i >= 0 {
		return owner[:i]
	}
	return owner
}

// NormalizeMemory converts a kb amount to Mb, or Gb above 1024 Mb, with one
// decimal. Other units are returned unchanged.
func NormalizeMemory(raw string) string {
	num, ok := strings.CutSuffix(raw, "kb")
	if !ok {
		return raw
	}
	kb, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return raw
	}
	mb := kb / 1024
	if mb > 1024 {
		return strconv.FormatFloat(mb/1024, 'f', 1, 64) + "Gb"
	}
	return strconv.FormatFloat(mb, 'f', 1, 64) + "Mb"
}
