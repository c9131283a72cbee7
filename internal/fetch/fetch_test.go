package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/feed"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/ssh"
	"github.com/osteele/pbs-jobs/internal/ssh/sshtest"
)

const feedCmd = "python3 /data/users/alice/que.py --json"

var servers = []config.Server{
	{Name: "alpha", Hostname: "alpha.example"},
	{Name: "beta", Hostname: "beta.example"},
	{Name: "gamma", Hostname: "gamma.example"},
}

type memSink struct {
	mu      sync.Mutex
	servers []string
}

func (m *memSink) RecordFeedError(server string, _ error, _ []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, server)
}

func jobIDs(records []jobs.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Server + "/" + r.JobID
	}
	return out
}

func newAggregator(exec ssh.Executor, sink Sink, parallelism int) *Aggregator {
	return &Aggregator{Exec: exec, FeedCommand: feedCmd, Parallelism: parallelism, Sink: sink}
}

func TestFetchAllMergesInServerOrder(t *testing.T) {
	fake := sshtest.New().
		Reply("alpha.example", `[{"JobID":"2.a"},{"JobID":"1.a"}]`).
		Reply("beta.example", `[{"JobID":"7.b"}]`).
		Reply("gamma.example", `[{"JobID":"3.c"}]`)

	for _, parallelism := range []int{0, 1, 2} {
		records := newAggregator(fake, nil, parallelism).FetchAll(context.Background(), servers)
		assert.Equal(t, []string{"alpha/2.a", "alpha/1.a", "beta/7.b", "gamma/3.c"}, jobIDs(records))
	}

	for _, c := range fake.Calls() {
		assert.Equal(t, feedCmd, c.Command)
	}
}

func TestFetchAllSkipsFailingServers(t *testing.T) {
	sink := &memSink{}
	fake := sshtest.New().
		// alpha is unreachable: no handler
		Reply("beta.example", `[{"JobID":"7.b"`).
		Reply("gamma.example", `[{"JobID":"3.c"}]`)

	records, report := newAggregator(fake, sink, 0).FetchAllWithReport(context.Background(), servers)
	assert.Equal(t, []string{"gamma/3.c"}, jobIDs(records))

	require.Len(t, report, 3)
	assert.True(t, errors.Is(report[0].Err, ssh.ErrConnection))
	assert.True(t, errors.Is(report[1].Err, feed.ErrFeedParse))
	assert.NoError(t, report[2].Err)
	assert.Equal(t, 1, report[2].Count)

	assert.Equal(t, []string{"beta"}, sink.servers)
}

func TestFetchAllEmptyOutput(t *testing.T) {
	fake := sshtest.New().Reply("alpha.example", "  \n")

	records, report := newAggregator(fake, nil, 0).FetchAllWithReport(context.Background(), servers[:1])
	assert.Empty(t, records)
	assert.True(t, errors.Is(report[0].Err, ErrEmptyFeed))
}

func TestFetchAllAllDisconnected(t *testing.T) {
	records, report := newAggregator(sshtest.New(), nil, 0).FetchAllWithReport(context.Background(), servers)
	assert.Empty(t, records)
	for _, r := range report {
		assert.Error(t, r.Err)
	}
}

func TestFetchAllIsIdempotent(t *testing.T) {
	fake := sshtest.New().
		Reply("alpha.example", `[{"JobID":"1.a","CPUs":4,"Memory":"512000kb"}]`).
		Reply("beta.example", `[]`)

	a := newAggregator(fake, nil, 0)
	first := a.FetchAll(context.Background(), servers[:2])
	second := a.FetchAll(context.Background(), servers[:2])
	assert.Equal(t, first, second)
	assert.Equal(t, "500.0Mb", first[0].Memory.String())
}

func TestFetchAllNoServers(t *testing.T) {
	records, report := newAggregator(sshtest.New(), nil, 0).FetchAllWithReport(context.Background(), nil)
	assert.Empty(t, records)
	assert.Empty(t, report)
}
