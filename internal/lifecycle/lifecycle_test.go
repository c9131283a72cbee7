package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/db"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/ssh"
	"github.com/osteele/pbs-jobs/internal/ssh/sshtest"
)

type memHistory struct {
	mu  sync.Mutex
	ops []db.Operation
}

func (m *memHistory) RecordOperation(op db.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

type countingFetcher struct {
	calls   int
	records []jobs.Record
}

func (f *countingFetcher) FetchAll(context.Context, []config.Server) []jobs.Record {
	f.calls++
	return f.records
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Paths.LinuxBasePath = "/data/users"
	cfg.SSH.User = "alice"
	cfg.Servers = []config.Server{
		{Name: "alpha", Hostname: "alpha.example"},
		{Name: "beta", Hostname: "beta.example"},
	}
	return cfg
}

func testTable() *jobs.Table {
	return jobs.NewTable([]jobs.Record{
		{Server: "alpha", JobID: "98123.server1", Path: jobs.Present("/data/users/alice/wing")},
		{Server: "beta", JobID: "123.server2", Path: jobs.Present("/data/users/alice/tail")},
	})
}

func TestSubmit(t *testing.T) {
	fake := sshtest.New().Reply("alpha.example", "456.server1\n")
	fetcher := &countingFetcher{records: []jobs.Record{{Server: "alpha", JobID: "456.server1"}}}
	history := &memHistory{}
	c := New(testConfig(), fake, fetcher, history)

	res, err := c.Submit(context.Background(), "alpha.example", "/data/users/alice/run 1", "")
	require.NoError(t, err)
	assert.Equal(t, "456.server1", res.JobID)
	assert.Equal(t, "alpha", res.Server.Name)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cd '/data/users/alice/run 1' && /opt/pbs/bin/qsub 'submit.sh'", calls[0].Command)

	assert.Equal(t, 1, fetcher.calls, "table is refreshed after submission")
	assert.Equal(t, 1, c.Table().Len())
	require.Len(t, history.ops, 1)
	assert.Equal(t, db.OpSubmit, history.ops[0].Kind)
	assert.Empty(t, history.ops[0].Error)
}

func TestSubmitEmptyOutput(t *testing.T) {
	fake := sshtest.New().Handle("alpha.example", func(string) (ssh.Result, error) {
		return ssh.Result{Stderr: "qsub: script not found", ExitCode: 1}, nil
	})
	fetcher := &countingFetcher{}
	history := &memHistory{}
	c := New(testConfig(), fake, fetcher, history)

	_, err := c.Submit(context.Background(), "alpha.example", "/data/users/alice/run1", "job.sh")
	assert.True(t, errors.Is(err, ErrSubmissionFailed))
	assert.Contains(t, err.Error(), "script not found")
	assert.Zero(t, fetcher.calls)
	require.Len(t, history.ops, 1)
	assert.NotEmpty(t, history.ops[0].Error)
}

func TestSubmitUnknownServer(t *testing.T) {
	c := New(testConfig(), sshtest.New(), &countingFetcher{}, nil)
	_, err := c.Submit(context.Background(), "nowhere", "/x", "")
	assert.True(t, errors.Is(err, ErrUnknownServer))
}

func TestKillByPartialID(t *testing.T) {
	fake := sshtest.New().Reply("alpha.example", "").Reply("beta.example", "")
	c := New(testConfig(), fake, &countingFetcher{}, nil)
	c.SetTable(testTable())

	res, err := c.Kill(context.Background(), "123", "")
	require.NoError(t, err)
	assert.Equal(t, "98123.server1", res.JobID, "first match in table order")
	assert.Equal(t, "alpha", res.Server.Name)
	assert.Equal(t, "/data/users/alice/wing", res.Path)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "alpha.example", calls[0].Host)
	assert.Equal(t, "/opt/pbs/bin/qdel '98123.server1'", calls[0].Command)
}

func TestKillWithServer(t *testing.T) {
	fake := sshtest.New().Reply("beta.example", "")
	c := New(testConfig(), fake, &countingFetcher{}, nil)
	c.SetTable(testTable())

	res, err := c.Kill(context.Background(), "123.server2", "beta")
	require.NoError(t, err)
	assert.Equal(t, "/data/users/alice/tail", res.Path)

	_, err = c.Kill(context.Background(), "1", "gamma")
	assert.True(t, errors.Is(err, ErrUnknownServer))
}

func TestKillNotFound(t *testing.T) {
	c := New(testConfig(), sshtest.New(), &countingFetcher{}, nil)
	c.SetTable(testTable())

	_, err := c.Kill(context.Background(), "777", "")
	assert.True(t, errors.Is(err, jobs.ErrNotFound))
}

func TestKillFailureNeverDeletes(t *testing.T) {
	fake := sshtest.New().Handle("alpha.example", func(string) (ssh.Result, error) {
		return ssh.Result{Stderr: "qdel: Unknown Job Id 98123.server1", ExitCode: 1}, nil
	})
	history := &memHistory{}
	c := New(testConfig(), fake, &countingFetcher{}, history)
	c.SetTable(testTable())

	res, err := c.Kill(context.Background(), "98123", "")
	assert.True(t, errors.Is(err, ErrKillFailed))
	assert.Empty(t, fake.CommandsMatching("rm -rf"))

	// a zero KillResult grants nothing
	assert.Error(t, c.RemoveWorkDir(context.Background(), res))
	assert.Empty(t, fake.CommandsMatching("rm -rf"))
	require.Len(t, history.ops, 1)
	assert.Equal(t, db.OpKill, history.ops[0].Kind)
}

func TestKillConnectionError(t *testing.T) {
	c := New(testConfig(), sshtest.New(), &countingFetcher{}, nil)
	c.SetTable(testTable())

	_, err := c.Kill(context.Background(), "98123", "")
	assert.True(t, errors.Is(err, ErrKillFailed))
	assert.True(t, errors.Is(err, ssh.ErrConnection))
}

func TestRemoveWorkDir(t *testing.T) {
	fake := sshtest.New().Reply("alpha.example", "")
	history := &memHistory{}
	c := New(testConfig(), fake, &countingFetcher{}, history)
	c.SetTable(testTable())

	res, err := c.Kill(context.Background(), "98123", "")
	require.NoError(t, err)
	require.NoError(t, c.RemoveWorkDir(context.Background(), res))

	rm := fake.CommandsMatching("rm -rf")
	require.Len(t, rm, 1)
	assert.Equal(t, "rm -rf '/data/users/alice/wing'", rm[0])
	require.Len(t, history.ops, 2)
	assert.Equal(t, db.OpRemoveWorkDir, history.ops[1].Kind)
}

func TestRemoveWorkDirRefusesRoots(t *testing.T) {
	fake := sshtest.New().Reply("alpha.example", "")
	c := New(testConfig(), fake, &countingFetcher{}, nil)
	srv := config.Server{Name: "alpha", Hostname: "alpha.example"}

	for _, p := range []string{"", "N/A", "relative/dir", "/", "/data/users", "/data/users/alice/", "/data/users/alice/x/.."} {
		err := c.RemoveWorkDir(context.Background(), KillResult{Server: srv, JobID: "1.s", Path: p})
		assert.Error(t, err, p)
	}
	for _, call := range fake.Calls() {
		assert.False(t, strings.HasPrefix(call.Command, "rm"), call.Command)
	}
}
