// Package qstat runs the PBS qstat command on the local machine and turns
// its full JSON job dump into the compact feed the console consumes.
package qstat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/feed"
	"github.com/osteele/pbs-jobs/internal/log"
)

// ExecCommandFunc has the signature of exec.CommandContext, so tests can
// substitute the command
type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Client runs qstat
type Client struct {
	path        string
	execCommand ExecCommandFunc
}

// New returns a Client for the qstat binary at path
func New(path string) *Client {
	if path == "" {
		path = "qstat"
	}
	return &Client{path: path, execCommand: exec.CommandContext}
}

// WithExecCommand replaces the command constructor
func (c *Client) WithExecCommand(f ExecCommandFunc) *Client {
	c.execCommand = f
	return c
}

// Raw returns the output of "qstat -f -F json"
func (c *Client) Raw(ctx context.Context) ([]byte, error) {
	cmd := c.execCommand(ctx, c.path, "-f", "-F", "json")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		log.Logger().Error("failed to exec qstat",
			zap.String("cmd", cmd.String()), zap.String("stderr", strings.TrimSpace(stderr.String())), zap.Error(err))
		return nil, fmt.Errorf("run %s: %w", c.path, err)
	}
	return out, nil
}

// Jobs runs qstat and converts its output
func (c *Client) Jobs(ctx context.Context) ([]feed.Entry, error) {
	raw, err := c.Raw(ctx)
	if err != nil {
		return nil, err
	}
	return Convert(raw)
}

// job is the part of one qstat job record the feed needs
type job struct {
	Name          any            `json:"Job_Name"`
	State         any            `json:"job_state"`
	Owner         any            `json:"Job_Owner"`
	VariableList  map[string]any `json:"Variable_List"`
	ResourcesUsed map[string]any `json:"resources_used"`
}

// Convert repairs qstat's JSON and extracts one feed entry per job, in the
// order qstat listed them. A payload without a "Jobs" object yields no
// entries.
func Convert(raw []byte) ([]feed.Entry, error) {
	repaired := feed.Repair(raw)
	parseErr := func(err error) error {
		return &feed.ParseError{Server: "localhost", Raw: repaired, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(repaired))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, parseErr(err)
	}
	entries := []feed.Entry{}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, parseErr(err)
		}
		if key != "Jobs" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, parseErr(err)
			}
			continue
		}
		if err := expectDelim(dec, '{'); err != nil {
			return nil, parseErr(err)
		}
		for dec.More() {
			idTok, err := dec.Token()
			if err != nil {
				return nil, parseErr(err)
			}
			id, _ := idTok.(string)
			var j job
			if err := dec.Decode(&j); err != nil {
				return nil, parseErr(fmt.Errorf("job %s: %w", id, err))
			}
			entries = append(entries, j.entry(id))
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, parseErr(err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, parseErr(err)
	}
	return entries, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func (j job) entry(id string) feed.Entry {
	e := feed.Entry{
		JobID:  id,
		Name:   j.Name,
		Path:   j.VariableList["PBS_O_WORKDIR"],
		CPUs:   j.ResourcesUsed["ncpus"],
		Status: j.State,
	}
	if owner, ok := j.Owner.(string); ok {
		e.Owner = feed.StripDomain(owner)
	}
	switch mem := j.ResourcesUsed["mem"].(type) {
	case string:
		e.Memory = feed.NormalizeMemory(mem)
	case nil:
	default:
		e.Memory = mem
	}
	return e
}
