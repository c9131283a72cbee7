package tui

import (
	"errors"
	"fmt"
	"time"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/feed"
	"github.com/osteele/pbs-jobs/internal/fetch"
	"github.com/osteele/pbs-jobs/internal/pathmap"
	"github.com/osteele/pbs-jobs/internal/ssh"
)

// ServerState is the outcome of the last fetch from a server
type ServerState int

const (
	ServerUnknown ServerState = iota
	ServerChecking
	ServerOnline
	ServerOffline
	// ServerBroken answered with a feed that could not be parsed
	ServerBroken
)

// ServerStatus is one row of the servers view
type ServerStatus struct {
	Server    config.Server
	Drive     string
	State     ServerState
	Jobs      int
	Elapsed   time.Duration
	Error     string
	LastCheck time.Time
}

// newServerStatuses lists the configured servers before the first fetch
func newServerStatuses(servers []config.Server, paths *pathmap.Translator) []ServerStatus {
	out := make([]ServerStatus, len(servers))
	for i, srv := range servers {
		out[i] = ServerStatus{Server: srv, State: ServerChecking}
		if paths != nil {
			out[i].Drive, _ = paths.DriveFor(srv.Hostname)
		}
	}
	return out
}

// applyReport updates statuses from a fetch report, matched by server name
func applyReport(statuses []ServerStatus, report []fetch.ServerResult, at time.Time) []ServerStatus {
	out := append([]ServerStatus(nil), statuses...)
	for _, r := range report {
		for i := range out {
			if out[i].Server.Name != r.Server.Name {
				continue
			}
			out[i].Jobs = r.Count
			out[i].Elapsed = r.Elapsed
			out[i].LastCheck = at
			out[i].Error = ""
			switch {
			case r.Err == nil:
				out[i].State = ServerOnline
			case errors.Is(r.Err, feed.ErrFeedParse):
				out[i].State = ServerBroken
				out[i].Error = r.Err.Error()
			case errors.Is(r.Err, ssh.ErrConnection):
				out[i].State = ServerOffline
				out[i].Error = r.Err.Error()
			default:
				// Reachable, but the feed command failed or printed nothing
				out[i].State = ServerBroken
				out[i].Error = r.Err.Error()
			}
		}
	}
	return out
}

// StatusString renders the state for the servers view
func (s ServerStatus) StatusString() string {
	switch s.State {
	case ServerChecking:
		return "checking"
	case ServerOnline:
		return fmt.Sprintf("online (%d jobs)", s.Jobs)
	case ServerOffline:
		return "offline"
	case ServerBroken:
		return "feed error"
	}
	return "unknown"
}

// DriveLabel renders the mapped drive, or "-"
func (s ServerStatus) DriveLabel() string {
	if s.Drive == "" {
		return "-"
	}
	return s.Drive + ":"
}
