package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/parrotkeeper/internal/dbx"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// SQLChannel keeps files as rows of the vault_files table.
type SQLChannel struct {
	db *sql.DB
}

func NewSQLChannel(db *sql.DB) *SQLChannel {
	return &SQLChannel{db: db}
}

// OpenPostgres connects with pgx, applies migrations and returns a channel
// that owns the connection.
func OpenPostgres(ctx context.Context, dsn string) (*SQLChannel, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, transportError("open", "postgres", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, transportError("migrate", "postgres", err)
	}
	return NewSQLChannel(db), nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (c *SQLChannel) Exists(ctx context.Context, p string) (bool, error) {
	var ok bool
	err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM vault_files WHERE path = $1)`, p).Scan(&ok)
	if err != nil {
		return false, transportError("exists", p, err)
	}
	return ok, nil
}

func (c *SQLChannel) Read(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT data FROM vault_files WHERE path = $1`, p).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notExist("read", p)
	}
	if err != nil {
		return nil, transportError("read", p, err)
	}
	return data, nil
}

func (c *SQLChannel) Write(ctx context.Context, p string, data []byte) error {
	query := `INSERT INTO vault_files (path, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (path)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	if _, err := c.db.ExecContext(ctx, query, p, data); err != nil {
		return transportError("write", p, err)
	}
	return nil
}

func (c *SQLChannel) Rename(ctx context.Context, from, to string) error {
	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vault_files WHERE path = $1`, to); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE vault_files SET path = $1, updated_at = now() WHERE path = $2`, to, from)
		if err != nil {
			return err
		}
		return expectOneRow(res, "rename", from)
	})
	if IsNotExist(err) {
		return err
	}
	if err != nil {
		return transportError("rename", from, err)
	}
	return nil
}

func (c *SQLChannel) Remove(ctx context.Context, p string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM vault_files WHERE path = $1`, p)
	if err != nil {
		return transportError("remove", p, err)
	}
	return expectOneRow(res, "remove", p)
}

func expectOneRow(res sql.Result, op, p string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notExist(op, p)
	}
	return nil
}

func (c *SQLChannel) Close() error {
	return c.db.Close()
}
