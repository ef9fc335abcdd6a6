// Package snapshots persists session snapshots for users, the content of a
// snapshot is opaque to it.
package snapshots

import (
	"context"
	"errors"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

const (
	report_db_query    = "db.query"
	report_redis_query = "redis.query"
)

// Repository is the durable storage of session snapshots.
type Repository interface {
	// Load returns ErrSnapshotNotFound if the user has no snapshot.
	Load(ctx context.Context, userId string) ([]byte, error)
	// Save stores the snapshot byte-for-byte, replacing any previous one.
	Save(ctx context.Context, userId string, data []byte) error
	// Delete is a no-op if the user has no snapshot.
	Delete(ctx context.Context, userId string) error
	// List returns every user that has a snapshot.
	List(ctx context.Context) ([]string, error)
}
