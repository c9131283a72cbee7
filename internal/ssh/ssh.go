package ssh

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/osteele/pbs-jobs/internal/config"
)

// ErrConnection marks failures to reach or authenticate with a server
var ErrConnection = errors.New("connection error")

// Result is the captured output of one remote command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs a shell command on a server and waits for it to finish.
// Implementations must release the connection before returning, including
// when ctx is cancelled.
type Executor interface {
	Run(ctx context.Context, server config.Server, command string) (Result, error)
}

// connectionErrorPattern matches SSH connection errors reported on stderr
var connectionErrorPattern = regexp.MustCompile(`(?i)(connection timed out|no route to host|host is unreachable|connection refused|network is unreachable|could not resolve hostname|name or service not known|permission denied|host key verification failed)`)

// IsConnectionError checks if the error output indicates a connection failure
func IsConnectionError(output string) bool {
	return connectionErrorPattern.MatchString(output)
}

// EscapeForSingleQuotes escapes a string for embedding in single quotes
// by replacing ' with '\'' (end quote, escaped quote, start quote)
func EscapeForSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// Quote wraps s in single quotes for the remote shell
func Quote(s string) string {
	return "'" + EscapeForSingleQuotes(s) + "'"
}

// New returns the executor selected by the configuration
func New(cfg *config.Config) (Executor, error) {
	switch cfg.SSH.Transport {
	case "", config.TransportNative:
		return NewNative(cfg)
	case config.TransportOpenSSH:
		return &OpenSSH{
			User:    cfg.RemoteUser(),
			Timeout: cfg.ConnectionTimeout(),
			KeyFile: cfg.KeyFileFor,
		}, nil
	default:
		return nil, fmt.Errorf("unknown ssh transport %q", cfg.SSH.Transport)
	}
}

// Output runs command and returns its stdout. Like the remote shell tools
// this mirrors, a command that wrote only to stderr counts as failed.
func Output(ctx context.Context, exec Executor, server config.Server, command string) (string, error) {
	res, err := exec.Run(ctx, server, command)
	if err != nil {
		return "", err
	}
	if res.Stdout == "" && strings.TrimSpace(res.Stderr) != "" {
		return "", fmt.Errorf("%s: %s", server.Hostname, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// WithTimeout bounds a single command by the connection timeout
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
