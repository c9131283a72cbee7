package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FeedError is a feed payload that could not be parsed, kept for diagnosis
type FeedError struct {
	ID        int64
	Server    string
	Message   string
	Payload   string
	CreatedAt int64
}

// Operation is one submit, kill or directory removal, successful or not.
// The history is for auditing only; the job table is always rebuilt from
// the servers.
type Operation struct {
	ID        string
	Kind      string
	Server    string
	JobID     string
	Path      string
	Output    string
	Error     string
	CreatedAt int64
}

// Operation kinds
const (
	OpSubmit        = "submit"
	OpKill          = "kill"
	OpRemoveWorkDir = "remove_workdir"
)

// Open opens the database at path, creating it if necessary
func Open(path string) (*sql.DB, error) {
	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; the fetch goroutines share this handle
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feed_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feed_errors_created ON feed_errors(created_at DESC);

	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		server TEXT NOT NULL,
		job_id TEXT,
		path TEXT,
		output TEXT,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operations_created ON operations(created_at DESC);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordFeedError stores a feed that failed to parse
func RecordFeedError(db *sql.DB, server, message string, payload []byte) (int64, error) {
	result, err := db.Exec(
		`INSERT INTO feed_errors (server, message, payload, created_at) VALUES (?, ?, ?, ?)`,
		server, message, string(payload), time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListFeedErrors returns the most recent feed errors, newest first.
// Payloads are not loaded; use GetFeedError for one entry.
func ListFeedErrors(db *sql.DB, limit int) ([]*FeedError, error) {
	rows, err := db.Query(
		`SELECT id, server, message, created_at FROM feed_errors ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FeedError
	for rows.Next() {
		var e FeedError
		if err := rows.Scan(&e.ID, &e.Server, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetFeedError returns one feed error with its payload, or nil if not found
func GetFeedError(db *sql.DB, id int64) (*FeedError, error) {
	var e FeedError
	var payload sql.NullString
	err := db.QueryRow(
		`SELECT id, server, message, payload, created_at FROM feed_errors WHERE id = ?`, id,
	).Scan(&e.ID, &e.Server, &e.Message, &payload, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		e.Payload = payload.String
	}
	return &e, nil
}

// RecordOperation appends op to the history, assigning an ID and timestamp
// when they are unset. It returns the ID.
func RecordOperation(db *sql.DB, op Operation) (string, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().Unix()
	}
	_, err := db.Exec(
		`INSERT INTO operations (id, kind, server, job_id, path, output, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.Server, op.JobID, op.Path, op.Output, op.Error, op.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	return op.ID, nil
}

// ListOperations returns the most recent operations, newest first,
// optionally filtered by server
func ListOperations(db *sql.DB, server string, limit int) ([]*Operation, error) {
	query := `SELECT id, kind, server, job_id, path, output, error, created_at FROM operations WHERE 1=1`
	args := []interface{}{}

	if server != "" {
		query += ` AND server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Operation
	for rows.Next() {
		var op Operation
		var jobID, path, output, errMsg sql.NullString
		if err := rows.Scan(&op.ID, &op.Kind, &op.Server, &jobID, &path, &output, &errMsg, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.JobID = jobID.String
		op.Path = path.String
		op.Output = output.String
		op.Error = errMsg.String
		out = append(out, &op)
	}
	return out, rows.Err()
}

// CleanupOld removes feed errors and operations older than days
func CleanupOld(db *sql.DB, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()

	var total int64
	for _, table := range []string{"feed_errors", "operations"} {
		result, err := db.Exec(`DELETE FROM `+table+` WHERE created_at < ?`, cutoff)
		if err != nil {
			return total, err
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}
