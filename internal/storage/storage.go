// Package storage is the local durable log of replica updates. Updates are
// appended per room and periodically compacted into one snapshot.
package storage

import (
	"context"
	"errors"

	"github.com/zeusync/annosync/internal/core/replica"
)

var (
	ErrClosed      = errors.New("store is closed")
	ErrInvalidRoom = errors.New("invalid room name")
)

// Store persists the update history of rooms.
type Store interface {
	// Load returns the snapshot of room followed by every later update.
	Load(ctx context.Context, room string) ([]*replica.Update, error)
	// Append stores one update. Updates already stored are ignored.
	Append(ctx context.Context, room string, u *replica.Update) error
	// Compact replaces the snapshot and the updates of room with one snapshot.
	Compact(ctx context.Context, room string) error
	Statistics(ctx context.Context, room string) (Statistics, error)
	Rooms(ctx context.Context) ([]string, error)
	Close() error
}

// Statistics describes what a store holds for one room.
type Statistics struct {
	Updates       int64
	UpdateBytes   int64
	SnapshotBytes int64
	LastUpdateID  int64
}
