package tail

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/ssh"
	"github.com/osteele/pbs-jobs/internal/ssh/sshtest"
)

const logPath = "/data/users/alice/wing/Simulation/messag"

var server = config.Server{Name: "alpha", Hostname: "alpha.example"}

// remoteLog answers the probes a Session sends with a scripted sequence of
// file sizes
type remoteLog struct {
	mu      sync.Mutex
	exists  bool
	sizes   []int64
	failAt  map[int]bool
	probes  int
	fetched []string
}

func (r *remoteLog) handle(command string) (ssh.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasPrefix(command, "test -f"):
		if r.exists {
			return ssh.Result{Stdout: "EXISTS\n"}, nil
		}
		return ssh.Result{Stdout: "NOT_FOUND\n"}, nil
	case strings.HasPrefix(command, "stat"):
		i := r.probes
		r.probes++
		if r.failAt[i] {
			return ssh.Result{}, ssh.ErrConnection
		}
		size := r.sizes[len(r.sizes)-1]
		if i < len(r.sizes) {
			size = r.sizes[i]
		}
		return ssh.Result{Stdout: strconv.FormatInt(size, 10) + "\n"}, nil
	case strings.HasPrefix(command, "tail"):
		r.fetched = append(r.fetched, command)
		return ssh.Result{Stdout: "<" + command + ">"}, nil
	}
	return ssh.Result{ExitCode: 127}, nil
}

func newSession(r *remoteLog) *Session {
	fake := sshtest.New().Handle(server.Hostname, r.handle)
	return New(fake, server, logPath, Options{Lines: 50})
}

func TestLogPath(t *testing.T) {
	assert.Equal(t, logPath, LogPath("/data/users/alice/wing/", "Simulation/messag"))
}

func TestSessionSizeSequence(t *testing.T) {
	r := &remoteLog{exists: true, sizes: []int64{100, 100, 250, 40}}
	s := newSession(r)
	ctx := context.Background()

	initial, err := s.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<tail -n 50 '"+logPath+"'>", initial.Text)
	assert.Equal(t, int64(100), s.State().Baseline)
	assert.Equal(t, Streaming.String(), s.Current())

	chunk, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, chunk.Text)

	chunk, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<tail -c 150 '"+logPath+"'>", chunk.Text)
	assert.Equal(t, int64(250), s.State().Baseline)

	chunk, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, chunk.Reset)
	assert.Contains(t, chunk.Text, ResetMarker)
	assert.True(t, strings.HasSuffix(chunk.Text, "<tail -n 50 '"+logPath+"'>"))
	assert.Equal(t, int64(40), s.State().Baseline)
	assert.Equal(t, Streaming.String(), s.Current())

	assert.Len(t, r.fetched, 3)
}

func TestSessionSkipsFailedProbe(t *testing.T) {
	r := &remoteLog{exists: true, sizes: []int64{100, 0, 120}, failAt: map[int]bool{1: true}}
	s := newSession(r)
	ctx := context.Background()

	_, err := s.Open(ctx)
	require.NoError(t, err)

	chunk, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, chunk.Skipped)
	assert.Equal(t, int64(100), s.State().Baseline, "failed probe changes nothing")

	chunk, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<tail -c 20 '"+logPath+"'>", chunk.Text)
}

func TestOpenMissingLog(t *testing.T) {
	s := newSession(&remoteLog{exists: false, sizes: []int64{0}})
	_, err := s.Open(context.Background())
	assert.True(t, errors.Is(err, ErrLogNotFound))
}

func TestOpenUnreachable(t *testing.T) {
	s := New(sshtest.New(), server, logPath, Options{})
	_, err := s.Open(context.Background())
	assert.True(t, errors.Is(err, ErrLogNotFound))
}

func TestOpenSizeProbeFailureIsFatal(t *testing.T) {
	s := newSession(&remoteLog{exists: true, sizes: []int64{0}, failAt: map[int]bool{0: true}})
	_, err := s.Open(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLogNotFound))
	assert.Equal(t, Init.String(), s.Current())
}

func TestCloseStopsPolling(t *testing.T) {
	s := newSession(&remoteLog{exists: true, sizes: []int64{10}})
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	s.Close()
	assert.Equal(t, Terminated.String(), s.Current())
	_, err = s.Poll(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	s.Close()
}

func TestRunStopsOnCancel(t *testing.T) {
	r := &remoteLog{exists: true, sizes: []int64{10, 20, 30, 40, 50}}
	s := newSession(r)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var chunks []Chunk
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, 5*time.Millisecond, func(c Chunk) {
			chunks = append(chunks, c)
			if len(chunks) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Len(t, chunks, 2)
}
