// Package journal keeps a local sqlite record of sync outcomes so that the
// CLI can show when each profile last synced and why a sync failed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/client/journal/migrations"
	"github.com/dmitrijs2005/parrotkeeper/internal/dbx"
	"github.com/dmitrijs2005/parrotkeeper/internal/syncer"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Entry is one recorded sync.
type Entry struct {
	ID       int64
	Profile  string
	Started  time.Time
	Finished time.Time
	Success  bool
	Uploaded bool
	Changes  int
	Error    string
	Log      []string
}

// FromResult converts a sync result into a journal entry.
func FromResult(res *syncer.Result) Entry {
	e := Entry{
		Profile:  res.Profile,
		Started:  res.Started,
		Finished: res.Finished,
		Success:  res.Success,
		Uploaded: res.Uploaded,
		Log:      res.Log,
	}
	if res.Merge != nil {
		e.Changes = res.Merge.DestinationChanges()
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

type Repository interface {
	Append(ctx context.Context, e Entry) (int64, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Last returns the newest entry for profile, or nil if there is none.
	Last(ctx context.Context, profile string) (*Entry, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e Entry) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_journal (profile, started_at, finished_at, success, uploaded, changes, error, log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Profile, e.Started.UnixMilli(), e.Finished.UnixMilli(), e.Success, e.Uploaded, e.Changes, e.Error, strings.Join(e.Log, "\n"))
	if err != nil {
		return 0, fmt.Errorf("failed to append journal entry: %w", err)
	}
	return res.LastInsertId()
}

const selectEntry = `SELECT id, profile, started_at, finished_at, success, uploaded, changes, error, log FROM sync_journal`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                 Entry
		started, finished int64
		log               string
	)
	if err := s.Scan(&e.ID, &e.Profile, &started, &finished, &e.Success, &e.Uploaded, &e.Changes, &e.Error, &log); err != nil {
		return Entry{}, err
	}
	e.Started = time.UnixMilli(started)
	e.Finished = time.UnixMilli(finished)
	if log != "" {
		e.Log = strings.Split(log, "\n")
	}
	return e, nil
}

func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntry+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal rows: %w", err)
	}

	return result, nil
}

func (r *SQLiteRepository) Last(ctx context.Context, profile string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectEntry+` WHERE profile = ? ORDER BY id DESC LIMIT 1`, profile))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last journal entry for %s: %w", profile, err)
	}
	return &e, nil
}

// Journal owns the sqlite handle behind a Repository.
type Journal struct {
	*SQLiteRepository
	db *sql.DB
}

// RunMigrations brings the journal schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// Open opens (creating if needed) the journal at dsn.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway; one connection also keeps
	// ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrations: %w", err)
	}
	return &Journal{SQLiteRepository: NewSQLiteRepository(db), db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
