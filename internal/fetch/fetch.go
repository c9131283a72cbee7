// Package fetch collects the job lists of all configured servers into one
// table.
package fetch

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/osteele/pbs-jobs/internal/config"
	"github.com/osteele/pbs-jobs/internal/feed"
	"github.com/osteele/pbs-jobs/internal/jobs"
	"github.com/osteele/pbs-jobs/internal/log"
	"github.com/osteele/pbs-jobs/internal/ssh"
)

// ErrEmptyFeed is reported for a server whose feed command printed nothing
var ErrEmptyFeed = errors.New("empty feed output")

// Sink receives feed payloads that could not be parsed
type Sink interface {
	RecordFeedError(server string, err error, payload []byte)
}

// ServerResult is the outcome of fetching one server
type ServerResult struct {
	Server  config.Server
	Count   int
	Err     error
	Elapsed time.Duration
}

// Aggregator fetches and merges the job lists of several servers
type Aggregator struct {
	Exec        ssh.Executor
	FeedCommand string
	Timeout     time.Duration
	// Parallelism bounds concurrent connections; 0 means one per server
	Parallelism int
	Sink        Sink
}

// New builds an Aggregator from the configuration
func New(cfg *config.Config, exec ssh.Executor, sink Sink) *Aggregator {
	return &Aggregator{
		Exec:        exec,
		FeedCommand: cfg.RemoteFeedCommand(),
		Timeout:     cfg.ConnectionTimeout(),
		Parallelism: cfg.SSH.Parallelism,
		Sink:        sink,
	}
}

// FetchAll returns the merged jobs of servers, in server order then feed
// order. Unreachable or broken servers contribute no jobs.
func (a *Aggregator) FetchAll(ctx context.Context, servers []config.Server) []jobs.Record {
	records, _ := a.FetchAllWithReport(ctx, servers)
	return records
}

// FetchAllWithReport is FetchAll plus the per-server outcome
func (a *Aggregator) FetchAllWithReport(ctx context.Context, servers []config.Server) ([]jobs.Record, []ServerResult) {
	perServer := make([][]jobs.Record, len(servers))
	results := make([]ServerResult, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	limit := a.Parallelism
	if limit <= 0 {
		limit = len(servers)
	}
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, srv := range servers {
		g.Go(func() error {
			start := time.Now()
			records, err := a.fetchOne(gctx, srv)
			// Each goroutine writes only its own slot
			perServer[i] = records
			results[i] = ServerResult{Server: srv, Count: len(records), Err: err, Elapsed: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	var merged []jobs.Record
	for _, records := range perServer {
		merged = append(merged, records...)
	}
	return merged, results
}

func (a *Aggregator) fetchOne(ctx context.Context, srv config.Server) ([]jobs.Record, error) {
	logger := log.Logger().With(zap.String("server", srv.Name), zap.String("host", srv.Hostname))

	cmdCtx, cancel := ssh.WithTimeout(ctx, a.Timeout)
	defer cancel()

	res, err := a.Exec.Run(cmdCtx, srv, a.FeedCommand)
	if err != nil {
		logger.Warn("failed to fetch jobs", zap.Error(err))
		return nil, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		logger.Warn("feed command produced no output",
			zap.Int("exitCode", res.ExitCode), zap.String("stderr", strings.TrimSpace(res.Stderr)))
		return nil, ErrEmptyFeed
	}

	records, err := feed.Parse([]byte(out), srv.Name)
	if err != nil {
		logger.Error("failed to parse feed", zap.Error(err))
		var perr *feed.ParseError
		if a.Sink != nil && errors.As(err, &perr) {
			a.Sink.RecordFeedError(srv.Name, perr.Err, perr.Raw)
		}
		return nil, err
	}
	logger.Debug("fetched jobs", zap.Int("count", len(records)))
	return records, nil
}
