package server

import (
	"context"

	"mcscout/internal/query"
	"mcscout/internal/shared"
)

// SnapshotStore holds the live snapshot of discovered servers.
type SnapshotStore interface {
	// ReplaceAll swaps the whole snapshot in one transaction. On error the
	// previous snapshot is left untouched.
	ReplaceAll(ctx context.Context, records []shared.ServerRecord) error
	DeleteByHash(ctx context.Context, hash string) error
	GetServer(ctx context.Context, hash string) (*shared.ServerRecord, error)
	ListServers(ctx context.Context) ([]shared.ServerRecord, error)
}

// StarredStore holds bookmarked copies of snapshot rows. Rows here are never
// touched by snapshot replacement or removal.
type StarredStore interface {
	Star(ctx context.Context, hash string) (*shared.ServerRecord, error)
	Unstar(ctx context.Context, hash string) error
	IsStarred(ctx context.Context, hash string) (bool, error)
	ListStarred(ctx context.Context) ([]shared.ServerRecord, error)
}

// Store is the full persistence surface used by the API.
type Store interface {
	SnapshotStore
	StarredStore
	ListView(ctx context.Context, opts query.Options) ([]shared.ServerView, error)
	Stats(ctx context.Context) (shared.TableStats, error)
	Close() error
}
