package snapshots

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/components/telemetry"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// DatabaseConfig points either to a local sqlite file or to a remote libsql
// database, Url takes precedence when both are set.
type DatabaseConfig struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config DatabaseConfig) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		values := url.Values{}
		if config.AuthToken != "" {
			values.Add("authToken", config.AuthToken)
		}
		return sql.Open("libsql", config.Url+"?"+values.Encode())
	}

	if config.File == "" {
		return nil, fmt.Errorf("neither a database file nor url was specified")
	}
	if config.File != ":memory:" {
		err := os.MkdirAll(filepath.Dir(config.File), 0700)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", config.File)
	if err != nil {
		return nil, err
	}
	// sqlite only supports one writer at a time, see
	// https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SqliteRepository stores snapshots in the `session_snapshot` table.
type SqliteRepository struct {
	db   *sql.DB
	time chrono.TimeAPI
	tel  telemetry.API
}

// NewSqliteRepository creates the table if it doesn't exist yet.
func NewSqliteRepository(ctx context.Context, db *sql.DB, time chrono.TimeAPI, tel telemetry.API) (SqliteRepository, error) {
	assert.NotNil(db)
	assert.NotNil(time)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("snapshots", tel)

	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		tel.ReportBroken(report_db_query, fmt.Errorf("create schema: %w", err))
		return SqliteRepository{}, err
	}

	return SqliteRepository{
		db:   db,
		time: time,
		tel:  tel,
	}, nil
}

func (r SqliteRepository) Load(ctx context.Context, userId string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(
		ctx,
		"select data from session_snapshot where user_id = ?",
		userId,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		r.tel.ReportBroken(report_db_query, err, "Load", userId)
		return nil, err
	}
	return data, nil
}

func (r SqliteRepository) Save(ctx context.Context, userId string, data []byte) error {
	_, err := r.db.ExecContext(
		ctx,
		`insert into session_snapshot(user_id, data, updated_at) values (?, ?, ?)
		on conflict(user_id) do update set data = excluded.data, updated_at = excluded.updated_at`,
		userId,
		data,
		r.time.Now().Unix(),
	)
	if err != nil {
		r.tel.ReportBroken(report_db_query, err, "Save", userId)
		return err
	}
	return nil
}

func (r SqliteRepository) Delete(ctx context.Context, userId string) error {
	_, err := r.db.ExecContext(ctx, "delete from session_snapshot where user_id = ?", userId)
	if err != nil {
		r.tel.ReportBroken(report_db_query, err, "Delete", userId)
		return err
	}
	return nil
}

func (r SqliteRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "select user_id from session_snapshot order by user_id")
	if err != nil {
		r.tel.ReportBroken(report_db_query, err, "List")
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userId string
		err := rows.Scan(&userId)
		if err != nil {
			r.tel.ReportBroken(report_db_query, err, "List")
			return nil, err
		}
		users = append(users, userId)
	}
	return users, rows.Err()
}

// UpdatedAt returns when the user's snapshot was last saved.
func (r SqliteRepository) UpdatedAt(ctx context.Context, userId string) (time.Time, error) {
	var updatedAt int64
	err := r.db.QueryRowContext(
		ctx,
		"select updated_at from session_snapshot where user_id = ?",
		userId,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrSnapshotNotFound
	}
	if err != nil {
		r.tel.ReportBroken(report_db_query, err, "UpdatedAt", userId)
		return time.Time{}, err
	}
	return time.Unix(updatedAt, 0).In(r.time.Location()), nil
}
