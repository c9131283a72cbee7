package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/log"
)

const defaultPort = "22"

// Native executes commands with the built-in SSH client. Every Run dials a
// fresh connection and closes it before returning.
type Native struct {
	User            string
	Timeout         time.Duration
	KeyFile         func(config.Server) string
	HostKeyCallback gossh.HostKeyCallback
}

// NewNative builds a Native executor from the configuration
func NewNative(cfg *config.Config) (*Native, error) {
	hostKeys := gossh.InsecureIgnoreHostKey()
	if cfg.SSH.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.SSH.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeys = cb
	}
	return &Native{
		User:            cfg.RemoteUser(),
		Timeout:         cfg.ConnectionTimeout(),
		KeyFile:         cfg.KeyFileFor,
		HostKeyCallback: hostKeys,
	}, nil
}

// clientConfig returns the client configuration and a func releasing the
// agent connection, if one was opened
func (n *Native) clientConfig(server config.Server) (*gossh.ClientConfig, func(), error) {
	var auth []gossh.AuthMethod
	release := func() {}

	if n.KeyFile != nil {
		if keyFile := n.KeyFile(server); keyFile != "" {
			data, err := os.ReadFile(keyFile)
			if err != nil {
				return nil, release, fmt.Errorf("read SSH key: %w", err)
			}
			signer, err := gossh.ParsePrivateKey(data)
			if err != nil {
				return nil, release, fmt.Errorf("failed to parse SSH private key: %w", err)
			}
			auth = append(auth, gossh.PublicKeys(signer))
		}
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auth = append(auth, gossh.PublicKeysCallback(agent.NewClient(conn).Signers))
			release = func() { conn.Close() }
		}
	}

	if len(auth) == 0 {
		return nil, release, errors.New("no SSH key or agent available")
	}

	return &gossh.ClientConfig{
		User:            n.User,
		Auth:            auth,
		HostKeyCallback: n.HostKeyCallback,
		Timeout:         n.Timeout,
	}, release, nil
}

func hostAddr(hostname string) string {
	if _, _, err := net.SplitHostPort(hostname); err == nil {
		return hostname
	}
	return net.JoinHostPort(hostname, defaultPort)
}

// Run executes command on server
func (n *Native) Run(ctx context.Context, server config.Server, command string) (Result, error) {
	sshConfig, release, err := n.clientConfig(server)
	defer release()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrConnection, server.Hostname, err)
	}

	addr := hostAddr(server.Hostname)
	dialer := net.Dialer{Timeout: n.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrConnection, server.Hostname, err)
	}

	// The handshake has no context; bound it with a deadline instead
	if n.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(n.Timeout))
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return Result{}, fmt.Errorf("%w: %s: %v", ErrConnection, server.Hostname, err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := gossh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: new session: %v", ErrConnection, server.Hostname, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the client unblocks session.Run
		client.Close()
		<-done
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %s: %w", ErrConnection, server.Hostname, ctx.Err())
		}
		return res, ctx.Err()
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *gossh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		return res, fmt.Errorf("%w: %s: %v", ErrConnection, server.Hostname, err)
	}

	log.Logger().Debug("remote command finished",
		zap.String("host", server.Hostname),
		zap.String("command", command),
		zap.Int("exitCode", res.ExitCode),
		zap.Int("stdoutBytes", len(res.Stdout)))
	return res, nil
}
