// Package tail follows a job's log file on a remote server by polling its
// size and fetching the bytes appended since the last poll.
package tail

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/log"
	"github.com/osteele/pbs-jobs/internal/ssh"
)

// ResetMarker is emitted when the log file shrinks between polls
const ResetMarker = "[Log file was reset/truncated]"

const (
	existsMarker   = "EXISTS"
	notFoundMarker = "NOT_FOUND"
)

var (
	// ErrLogNotFound is returned by Open when the log file does not exist
	// or its existence cannot be checked
	ErrLogNotFound = errors.New("log file not found")
	// ErrClosed is returned by Poll after Close
	ErrClosed = errors.New("tail session closed")
)

// State is the bookkeeping of one session
type State struct {
	Path     string
	Server   string
	Baseline int64
	Started  time.Time
}

// Chunk is the output of one poll
type Chunk struct {
	Text string
	// Reset is set when the file shrank; Text then starts with ResetMarker
	Reset bool
	// Skipped is set when the size probe failed; nothing changed
	Skipped bool
	Err     error
	Size    int64
}

// Options tune a session
type Options struct {
	// Lines is the number of lines shown on open and after a reset
	Lines int
	// Timeout bounds each remote command
	Timeout time.Duration
}

// Session follows one log file. It is not safe for concurrent use.
type Session struct {
	ID     string
	exec   ssh.Executor
	server config.Server
	opts   Options
	state  State
	fsm    *fsm.FSM
}

// LogPath is the log file of a job whose working directory is jobPath
func LogPath(jobPath, relPath string) string {
	return strings.TrimSuffix(jobPath, "/") + "/" + strings.TrimPrefix(relPath, "/")
}

// New creates a session for path on server. Nothing is run until Open.
func New(exec ssh.Executor, server config.Server, path string, opts Options) *Session {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	return &Session{
		ID:     uuid.NewString(),
		exec:   exec,
		server: server,
		opts:   opts,
		state:  State{Path: path, Server: server.Name},
		fsm:    newSessionState(),
	}
}

// State returns a copy of the session's bookkeeping
func (s *Session) State() State {
	return s.state
}

// Current returns the state machine's state
func (s *Session) Current() string {
	return s.fsm.Current()
}

func (s *Session) event(ctx context.Context, ev SessionEvent) error {
	err := s.fsm.Event(ctx, ev.String(), s.ID)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("tail session %s: %w", ev, err)
	}
	return nil
}

func (s *Session) run(ctx context.Context, command string) (string, error) {
	cmdCtx, cancel := ssh.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	res, err := s.exec.Run(cmdCtx, s.server, command)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return res.Stdout, fmt.Errorf("%s: exit status %d: %s", command, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (s *Session) quotedPath() string {
	return ssh.Quote(s.state.Path)
}

func (s *Session) lastLines(ctx context.Context) (string, error) {
	return s.run(ctx, fmt.Sprintf("tail -n %d %s", s.opts.Lines, s.quotedPath()))
}

func (s *Session) size(ctx context.Context) (int64, error) {
	p := s.quotedPath()
	out, err := s.run(ctx, fmt.Sprintf("stat -c %%s %s 2>/dev/null || stat -f %%z %s", p, p))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("unexpected size %q", strings.TrimSpace(out))
	}
	return size, nil
}

// Open checks that the log exists, returns its last lines, and records the
// current size as the baseline
func (s *Session) Open(ctx context.Context) (Chunk, error) {
	if s.fsm.Current() != Init.String() {
		return Chunk{}, fmt.Errorf("tail session already %s", s.fsm.Current())
	}

	p := s.quotedPath()
	out, err := s.run(ctx, fmt.Sprintf("test -f %s && echo '%s' || echo '%s'", p, existsMarker, notFoundMarker))
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %s on %s: %w", ErrLogNotFound, s.state.Path, s.server.Name, err)
	}
	if strings.TrimSpace(out) != existsMarker {
		return Chunk{}, fmt.Errorf("%w: %s on %s", ErrLogNotFound, s.state.Path, s.server.Name)
	}

	initial, err := s.lastLines(ctx)
	if err != nil {
		log.Logger().Warn("failed to read initial log lines",
			zap.String("server", s.server.Name), zap.String("path", s.state.Path), zap.Error(err))
	}

	size, err := s.size(ctx)
	if err != nil {
		return Chunk{}, fmt.Errorf("tail %s on %s: size probe: %w", s.state.Path, s.server.Name, err)
	}

	s.state.Baseline = size
	s.state.Started = time.Now()
	if err := s.event(ctx, Open); err != nil {
		return Chunk{}, err
	}
	return Chunk{Text: initial, Size: size}, nil
}

// Poll runs one iteration: probe the size and fetch what changed
func (s *Session) Poll(ctx context.Context) (Chunk, error) {
	switch s.fsm.Current() {
	case Terminated.String():
		return Chunk{}, ErrClosed
	case Init.String():
		return Chunk{}, errors.New("tail session not open")
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	size, err := s.size(ctx)
	if err != nil {
		log.Logger().Debug("size probe failed", zap.String("session", s.ID), zap.Error(err))
		return Chunk{Skipped: true, Err: err, Size: s.state.Baseline}, nil
	}

	switch {
	case size > s.state.Baseline:
		delta := size - s.state.Baseline
		text, err := s.run(ctx, fmt.Sprintf("tail -c %d %s", delta, s.quotedPath()))
		if err != nil {
			log.Logger().Warn("failed to read new log bytes", zap.String("session", s.ID), zap.Error(err))
		}
		s.state.Baseline = size
		return Chunk{Text: text, Err: err, Size: size}, nil

	case size < s.state.Baseline:
		if err := s.event(ctx, Truncate); err != nil {
			return Chunk{}, err
		}
		text, err := s.lastLines(ctx)
		if err != nil {
			log.Logger().Warn("failed to re-read log after reset", zap.String("session", s.ID), zap.Error(err))
		}
		s.state.Baseline = size
		if err := s.event(ctx, Resume); err != nil {
			return Chunk{}, err
		}
		return Chunk{Text: "\n" + ResetMarker + "\n\n" + text, Reset: true, Err: err, Size: size}, nil
	}
	return Chunk{Size: size}, nil
}

// Run polls every interval until ctx is done, passing each chunk with
// output to emit. A poll that started before cancellation is still emitted.
func (s *Session) Run(ctx context.Context, interval time.Duration, emit func(Chunk)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		chunk, err := s.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if chunk.Text != "" || chunk.Reset {
			emit(chunk)
		}
	}
}

// Close ends the session. Later polls return ErrClosed.
func (s *Session) Close() {
	_ = s.event(context.Background(), Close)
}
