// Package lifecycle submits and kills PBS jobs on the servers that host them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/db"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/log"
	"github.com/osteele/pbs-jobs/internal/ssh"
)

var (
	// ErrSubmissionFailed is returned when qsub prints no job ID
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrKillFailed is returned when qdel reports an error
	ErrKillFailed = errors.New("kill failed")
	// ErrUnknownServer is returned for a server name or hostname that is not configured
	ErrUnknownServer = errors.New("unknown server")
)

// History records operations for auditing
type History interface {
	RecordOperation(op db.Operation)
}

// Refresher rebuilds the job table
type Refresher interface {
	FetchAll(ctx context.Context, servers []config.Server) []jobs.Record
}

// SubmitResult is a successful submission
type SubmitResult struct {
	Server     config.Server
	RemotePath string
	// JobID is qsub's output, e.g. "123.server1"
	JobID string
}

// KillResult is a successful kill. It is the only way to obtain the right
// to remove the job's working directory.
type KillResult struct {
	Server config.Server
	JobID  string
	// Path is the job's working directory, empty when the feed had none
	Path string
}

// Controller runs qsub and qdel and keeps the job table current
type Controller struct {
	cfg     *config.Config
	exec    ssh.Executor
	fetcher Refresher
	history History

	mu    sync.RWMutex
	table *jobs.Table
}

// New creates a Controller. history may be nil.
func New(cfg *config.Config, exec ssh.Executor, fetcher Refresher, history History) *Controller {
	return &Controller{
		cfg:     cfg,
		exec:    exec,
		fetcher: fetcher,
		history: history,
		table:   jobs.NewTable(nil),
	}
}

// Table returns the current job table
func (c *Controller) Table() *jobs.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table
}

// SetTable replaces the job table
func (c *Controller) SetTable(t *jobs.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = t
}

// Refresh fetches all servers and replaces the table
func (c *Controller) Refresh(ctx context.Context) *jobs.Table {
	t := jobs.NewTable(c.fetcher.FetchAll(ctx, c.cfg.Servers))
	c.SetTable(t)
	return t
}

func (c *Controller) record(op db.Operation, err error) {
	if c.history == nil {
		return
	}
	op.Error = db.ErrString(err)
	c.history.RecordOperation(op)
}

func (c *Controller) run(ctx context.Context, srv config.Server, command string) (ssh.Result, error) {
	cmdCtx, cancel := ssh.WithTimeout(ctx, c.cfg.ConnectionTimeout())
	defer cancel()
	return c.exec.Run(cmdCtx, srv, command)
}

// Submit runs qsub with script in remotePath on the server with hostname.
// On success the job table is refreshed.
func (c *Controller) Submit(ctx context.Context, hostname, remotePath, script string) (SubmitResult, error) {
	srv, ok := c.cfg.ServerByHostname(hostname)
	if !ok {
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrUnknownServer, hostname)
	}
	if script == "" {
		script = c.cfg.PBS.SubmitScriptName
	}

	command := fmt.Sprintf("cd %s && %s %s", ssh.Quote(remotePath), c.cfg.PBS.QsubPath, ssh.Quote(script))
	op := db.Operation{Kind: db.OpSubmit, Server: srv.Name, Path: remotePath}

	res, err := c.run(ctx, srv, command)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		c.record(op, err)
		return SubmitResult{}, err
	}
	jobID := strings.TrimSpace(res.Stdout)
	if jobID == "" {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = "qsub printed no job ID"
		}
		err = fmt.Errorf("%w on %s: %s", ErrSubmissionFailed, srv.Name, detail)
		c.record(op, err)
		return SubmitResult{}, err
	}

	op.JobID = jobID
	op.Output = jobID
	c.record(op, nil)
	log.Logger().Info("submitted job",
		zap.String("server", srv.Name), zap.String("path", remotePath), zap.String("jobID", jobID))

	c.Refresh(ctx)
	return SubmitResult{Server: srv, RemotePath: remotePath, JobID: jobID}, nil
}

// Resolve finds the job and server a kill applies to. With serverName set,
// jobRef is used as-is on that server; otherwise the first table entry
// matching jobRef is used.
func (c *Controller) Resolve(jobRef, serverName string) (config.Server, jobs.Record, error) {
	if serverName != "" {
		srv, ok := c.cfg.ServerByName(serverName)
		if !ok {
			return config.Server{}, jobs.Record{}, fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
		}
		// Take the path from the table when the job is known there
		for _, r := range c.Table().Filter(jobs.ByServer(serverName)) {
			if jobs.MatchesID(r.JobID, jobRef) {
				return srv, r, nil
			}
		}
		return srv, jobs.Record{Server: serverName, JobID: jobRef}, nil
	}

	r, err := c.Table().FindByPartialID(jobRef)
	if err != nil {
		return config.Server{}, jobs.Record{}, err
	}
	srv, ok := c.cfg.ServerByName(r.Server)
	if !ok {
		return config.Server{}, jobs.Record{}, fmt.Errorf("%w: %s", ErrUnknownServer, r.Server)
	}
	return srv, r, nil
}

// Kill runs qdel for jobRef. It never deletes files; see RemoveWorkDir.
func (c *Controller) Kill(ctx context.Context, jobRef, serverName string) (KillResult, error) {
	srv, r, err := c.Resolve(jobRef, serverName)
	if err != nil {
		return KillResult{}, err
	}

	command := fmt.Sprintf("%s %s", c.cfg.PBS.QdelPath, ssh.Quote(r.JobID))
	path, _ := r.Path.Value()
	op := db.Operation{Kind: db.OpKill, Server: srv.Name, JobID: r.JobID, Path: path}

	res, err := c.run(ctx, srv, command)
	if err == nil && res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr + " " + res.Stdout)
		err = fmt.Errorf("qdel exited with status %d: %s", res.ExitCode, detail)
	}
	if err != nil {
		err = fmt.Errorf("%w: %s on %s: %w", ErrKillFailed, r.JobID, srv.Name, err)
		c.record(op, err)
		return KillResult{}, err
	}

	op.Output = strings.TrimSpace(res.Stdout)
	c.record(op, nil)
	log.Logger().Info("killed job", zap.String("server", srv.Name), zap.String("jobID", r.JobID))
	return KillResult{Server: srv, JobID: r.JobID, Path: path}, nil
}

// RemoveWorkDir deletes the working directory of a killed job. Callers must
// confirm with the operator after Kill and before calling this.
func (c *Controller) RemoveWorkDir(ctx context.Context, killed KillResult) error {
	if killed.JobID == "" || killed.Server.Hostname == "" {
		return errors.New("remove work dir: no successful kill")
	}
	dir, err := c.checkRemovable(killed.Path)
	if err != nil {
		return err
	}

	op := db.Operation{Kind: db.OpRemoveWorkDir, Server: killed.Server.Name, JobID: killed.JobID, Path: dir}
	res, err := c.run(ctx, killed.Server, "rm -rf "+ssh.Quote(dir))
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("rm exited with status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if err != nil {
		err = fmt.Errorf("remove %s on %s: %w", dir, killed.Server.Name, err)
		c.record(op, err)
		return err
	}
	c.record(op, nil)
	log.Logger().Info("removed job directory", zap.String("server", killed.Server.Name), zap.String("path", dir))
	return nil
}

// checkRemovable refuses paths whose removal would destroy more than one
// job's directory
func (c *Controller) checkRemovable(dir string) (string, error) {
	if dir == "" || dir == jobs.NotAvailable {
		return "", errors.New("remove work dir: job has no working directory")
	}
	if !path.IsAbs(dir) {
		return "", fmt.Errorf("remove work dir: %q is not absolute", dir)
	}
	clean := path.Clean(dir)
	base := path.Clean(c.cfg.Paths.LinuxBasePath)
	protected := []string{"/", base, path.Join(base, c.cfg.RemoteUser())}
	for _, p := range protected {
		if clean == p {
			return "", fmt.Errorf("remove work dir: refusing to remove %s", clean)
		}
	}
	return clean, nil
}

