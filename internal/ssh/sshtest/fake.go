// Package sshtest provides a scripted ssh.Executor for tests.
package sshtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/ssh"
)

// Call records one command sent to the fake
type Call struct {
	Host    string
	Command string
}

// Handler answers a command for a host
type Handler func(command string) (ssh.Result, error)

// Fake routes each command to the handler registered for its host.
// Hosts without a handler fail with ssh.ErrConnection.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

// New returns an empty Fake
func New() *Fake {
	return &Fake{handlers: make(map[string]Handler)}
}

// Handle registers the handler for a hostname
func (f *Fake) Handle(host string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[host] = h
	return f
}

// Reply registers a handler that answers every command with stdout
func (f *Fake) Reply(host, stdout string) *Fake {
	return f.Handle(host, func(string) (ssh.Result, error) {
		return ssh.Result{Stdout: stdout}, nil
	})
}

// Run implements ssh.Executor
func (f *Fake) Run(ctx context.Context, server config.Server, command string) (ssh.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: server.Hostname, Command: command})
	h, ok := f.handlers[server.Hostname]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ssh.Result{}, err
	}
	if !ok {
		return ssh.Result{}, fmt.Errorf("%w: %s: connection refused", ssh.ErrConnection, server.Hostname)
	}
	return h(command)
}

// Calls returns the commands seen so far
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CommandsMatching returns the commands containing substr
func (f *Fake) CommandsMatching(substr string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.Contains(c.Command, substr) {
			out = append(out, c.Command)
		}
	}
	return out
}
