package db

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/log"
)

// Recorder adapts a database handle to the diagnostic and history
// interfaces used by the fetch and lifecycle packages. A nil handle makes
// every call a no-op, so the console still works without a database.
type Recorder struct {
	DB *sql.DB
}

// RecordFeedError implements fetch.Sink
func (r Recorder) RecordFeedError(server string, err error, payload []byte) {
	if r.DB == nil {
		return
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	id, dbErr := RecordFeedError(r.DB, server, msg, payload)
	if dbErr != nil {
		log.Logger().Warn("failed to store feed error", zap.String("server", server), zap.Error(dbErr))
		return
	}
	log.Logger().Info("stored unparseable feed", zap.String("server", server), zap.Int64("id", id))
}

// RecordOperation implements lifecycle.History
func (r Recorder) RecordOperation(op Operation) {
	if r.DB == nil {
		return
	}
	if _, err := RecordOperation(r.DB, op); err != nil {
		log.Logger().Warn("failed to record operation",
			zap.String("kind", op.Kind), zap.String("server", op.Server), zap.Error(err))
	}
}

// ErrString returns err's message, or "" for nil
func ErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
