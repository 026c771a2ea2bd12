// Package journal records program runs in a SQLite database so past
// outcomes can be listed from the CLI and the RPC server.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/javelin/vm"
)

var log = commonlog.GetLogger("javelin.journal")

// ErrNotFound indicates the requested run doesn't exist.
var ErrNotFound = errors.New("journal: run not found")

// Entry is one recorded run.
type Entry struct {
	ID        int64
	Program   string // entry class, slash form
	Source    string // file or image the program came from
	Status    string // vm.OutcomeStatus name
	ExitCode  int
	Exception string // dotted class name; empty for normal runs
	Message   string
	Trace     []string // Class.method per frame, innermost first
	Steps     uint64
	Started   time.Time
	Duration  time.Duration
}

// FromOutcome builds an entry for a finished run.
func FromOutcome(program, source string, out vm.Outcome, started time.Time, d time.Duration) Entry {
	e := Entry{
		Program:  program,
		Source:   source,
		Status:   out.Status.String(),
		ExitCode: out.ExitCode(),
		Steps:    out.Steps,
		Started:  started,
		Duration: d,
	}
	if diag := out.Diagnostic; diag != nil {
		e.Exception = strings.ReplaceAll(diag.Class, "/", ".")
		e.Message = diag.Message
		e.Trace = diag.Methods()
	}
	return e
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	program   TEXT NOT NULL,
	source    TEXT NOT NULL DEFAULT '',
	status    TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	exception TEXT NOT NULL DEFAULT '',
	message   TEXT NOT NULL DEFAULT '',
	trace     TEXT NOT NULL DEFAULT '',
	steps     INTEGER NOT NULL,
	started   INTEGER NOT NULL,
	duration  INTEGER NOT NULL
)`

// Journal is a SQLite-backed run log. It is safe for concurrent use.
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database: %w", err)
	}
	// A single connection keeps an in-memory database alive and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: creating table: %w", err)
	}
	log.Debugf("opened journal %s", path)
	return &Journal{db: db, path: path}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Path returns the database path the journal was opened with.
func (j *Journal) Path() string {
	return j.path
}

// Record stores e and returns its id.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Started.IsZero() {
		e.Started = time.Now()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (program, source, status, exit_code, exception, message, trace, steps, started, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Program, e.Source, e.Status, e.ExitCode, e.Exception, e.Message,
		strings.Join(e.Trace, "\n"), int64(e.Steps), e.Started.UnixNano(), int64(e.Duration),
	)
	if err != nil {
		return 0, fmt.Errorf("journal: recording run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: recording run: %w", err)
	}
	log.Debugf("recorded run %d of %s (%s)", id, e.Program, e.Status)
	return id, nil
}

const selectColumns = `SELECT id, program, source, status, exit_code, exception, message, trace, steps, started, duration FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                       Entry
		trace                   string
		steps, started, elapsed int64
	)
	if err := s.Scan(&e.ID, &e.Program, &e.Source, &e.Status, &e.ExitCode,
		&e.Exception, &e.Message, &trace, &steps, &started, &elapsed); err != nil {
		return Entry{}, err
	}
	if trace != "" {
		e.Trace = strings.Split(trace, "\n")
	}
	e.Steps = uint64(steps)
	e.Started = time.Unix(0, started)
	e.Duration = time.Duration(elapsed)
	return e, nil
}

// Get returns the run with the given id.
func (j *Journal) Get(ctx context.Context, id int64) (Entry, error) {
	e, err := scanEntry(j.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("journal: querying run: %w", err)
	}
	return e, nil
}

// Recent returns up to limit runs, newest first. A non-empty program
// restricts the list to runs of that entry class.
func (j *Journal) Recent(ctx context.Context, program string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := selectColumns
	var args []any
	if program != "" {
		query += " WHERE program = ?"
		args = append(args, program)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: listing runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: listing runs: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: listing runs: %w", err)
	}
	return out, nil
}
