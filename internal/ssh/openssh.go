package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/osteele/pbs-jobs/internal/config"
)

// sshExitConnection is the status the ssh binary uses for its own failures
const sshExitConnection = 255

// OpenSSH executes commands through the system ssh binary, so that
// ~/.ssh/config, ProxyJump and agents work as they do in a terminal
type OpenSSH struct {
	User    string
	Timeout time.Duration
	KeyFile func(config.Server) string

	// Binary defaults to "ssh"
	Binary string
}

func (o *OpenSSH) args(server config.Server, command string) []string {
	timeout := int(o.Timeout / time.Second)
	if timeout <= 0 {
		timeout = 10
	}
	args := []string{
		"-o", fmt.Sprintf("ConnectTimeout=%d", timeout),
		"-o", "BatchMode=yes",
	}
	if o.KeyFile != nil {
		if key := o.KeyFile(server); key != "" {
			args = append(args, "-i", key)
		}
	}
	if o.User != "" {
		args = append(args, "-l", o.User)
	}
	return append(args, server.Hostname, command)
}

// Run executes command on server. The ssh process is killed when ctx is done.
func (o *OpenSSH) Run(ctx context.Context, server config.Server, command string) (Result, error) {
	binary := o.Binary
	if binary == "" {
		binary = "ssh"
	}
	cmd := exec.CommandContext(ctx, binary, o.args(server, command)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't wait on pipes held open by grandchildren once ssh is killed
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %s: SSH command timed out after %v", ErrConnection, server.Hostname, o.Timeout)
		}
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode == sshExitConnection || IsConnectionError(res.Stderr) {
			return res, fmt.Errorf("%w: %s: %s", ErrConnection, server.Hostname, strings.TrimSpace(res.Stderr))
		}
	default:
		return res, fmt.Errorf("%w: %s: %v", ErrConnection, server.Hostname, err)
	}
	return res, nil
}
