package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zeusync/annosync/internal/compress"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/pkg/encoding"
)

var _ Store = (*GormStore)(nil)

// GormStore keeps the log in a SQL database through gorm.
type GormStore struct {
	db     *gorm.DB
	codec  string
	logger log.Log
	closed atomic.Bool
}

// Open opens (and migrates) a sqlite database at path. codec names the
// compression of new payloads, see compress.ByName.
func Open(path, codec string, logger log.Log) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db, codec, logger)
}

func NewGormStore(db *gorm.DB, codec string, logger log.Log) (*GormStore, error) {
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if codec == "" {
		codec = "lz4"
	}
	return &GormStore{
		db:     db,
		codec:  strings.ToLower(codec),
		logger: log.OrNop(logger).With(log.Component("storage")),
	}, nil
}

func checkRoom(room string) error {
	if strings.TrimSpace(room) == "" {
		return ErrInvalidRoom
	}
	return nil
}

func (g *GormStore) encode(u *replica.Update) (payload []byte, hash string, err error) {
	data, err := encoding.Marshal[*replica.Update](u)
	if err != nil {
		return nil, "", err
	}
	hash = strconv.FormatUint(xxhash.Sum64(data), 16)
	payload, err = compress.ByName(g.codec).Encode(data)
	return payload, hash, err
}

func decode(payload []byte, codec string) (*replica.Update, error) {
	data, err := compress.ByName(codec).Decode(payload)
	if err != nil {
		return nil, err
	}
	return replica.DecodeUpdate(data)
}

func (g *GormStore) Append(ctx context.Context, room string, u *replica.Update) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if err := checkRoom(room); err != nil {
		return err
	}
	if u.Empty() {
		return nil
	}
	payload, hash, err := g.encode(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	row := UpdateRow{Room: room, Hash: hash, Payload: payload, Codec: g.codec}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (g *GormStore) Load(ctx context.Context, room string) ([]*replica.Update, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkRoom(room); err != nil {
		return nil, err
	}
	snap, rows, err := load(g.db.WithContext(ctx), room)
	if err != nil {
		return nil, err
	}
	return decodeAll(room, snap, rows)
}

func load(db *gorm.DB, room string) (*SnapshotRow, []UpdateRow, error) {
	var snaps []SnapshotRow
	if err := db.Where("room = ?", room).Limit(1).Find(&snaps).Error; err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap *SnapshotRow
	if len(snaps) > 0 {
		snap = &snaps[0]
	}
	// compaction removes the rows it folds in, so every row left is newer
	var rows []UpdateRow
	if err := db.Where("room = ?", room).Order("id").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load updates: %w", err)
	}
	return snap, rows, nil
}

func decodeAll(room string, snap *SnapshotRow, rows []UpdateRow) ([]*replica.Update, error) {
	out := make([]*replica.Update, 0, len(rows)+1)
	if snap != nil {
		u, err := decode(snap.Payload, snap.Codec)
		if err != nil {
			return nil, fmt.Errorf("snapshot of %s: %w", room, err)
		}
		out = append(out, u)
	}
	var errs []error
	for _, row := range rows {
		u, err := decode(row.Payload, row.Codec)
		if err != nil {
			errs = append(errs, fmt.Errorf("update %d of %s: %w", row.ID, room, err))
			continue
		}
		out = append(out, u)
	}
	return out, errors.Join(errs...)
}

// Compact folds the snapshot and the updates of room into a fresh snapshot.
// Rooms whose history has unresolved dependencies are left as they are.
func (g *GormStore) Compact(ctx context.Context, room string) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if err := checkRoom(room); err != nil {
		return err
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap, rows, err := load(tx, room)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		updates, err := decodeAll(room, snap, rows)
		if err != nil {
			return err
		}

		doc := replica.NewWithClient("compactor")
		defer doc.Destroy()
		if err := doc.ApplyUpdate(replica.Merge(updates...), replica.Durable); err != nil {
			return fmt.Errorf("replay %s: %w", room, err)
		}
		if n := doc.Pending(); n > 0 {
			g.logger.Warn("compaction skipped, history incomplete", log.Room(room), log.Int("pending", n))
			return nil
		}

		payload, _, err := g.encode(doc.EncodeState())
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		last := rows[len(rows)-1].ID
		next := SnapshotRow{Room: room, Payload: payload, Codec: g.codec, UpdateID: last}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&next).Error; err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if err := tx.Where("room = ? AND id <= ?", room, last).Delete(&UpdateRow{}).Error; err != nil {
			return fmt.Errorf("truncate log: %w", err)
		}
		g.logger.Info("compacted", log.Room(room), log.Int("updates", len(rows)), log.Int("bytes", len(payload)))
		return nil
	})
}

func (g *GormStore) Statistics(ctx context.Context, room string) (Statistics, error) {
	if g.closed.Load() {
		return Statistics{}, ErrClosed
	}
	var stats Statistics
	err := g.db.WithContext(ctx).Model(&UpdateRow{}).
		Select("count(*) AS updates, coalesce(sum(length(payload)), 0) AS update_bytes, coalesce(max(id), 0) AS last_update_id").
		Where("room = ?", room).
		Scan(&stats).Error
	if err != nil {
		return Statistics{}, err
	}
	var snaps []SnapshotRow
	if err := g.db.WithContext(ctx).Where("room = ?", room).Limit(1).Find(&snaps).Error; err != nil {
		return Statistics{}, err
	}
	if len(snaps) > 0 {
		stats.SnapshotBytes = int64(len(snaps[0].Payload))
		stats.LastUpdateID = max(stats.LastUpdateID, snaps[0].UpdateID)
	}
	return stats, nil
}

// Rooms lists every room with a snapshot or updates, sorted.
func (g *GormStore) Rooms(ctx context.Context) ([]string, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	var fromUpdates, fromSnapshots []string
	if err := g.db.WithContext(ctx).Model(&UpdateRow{}).Distinct().Pluck("room", &fromUpdates).Error; err != nil {
		return nil, err
	}
	if err := g.db.WithContext(ctx).Model(&SnapshotRow{}).Pluck("room", &fromSnapshots).Error; err != nil {
		return nil, err
	}
	rooms := mapset.NewThreadUnsafeSet(fromUpdates...).Union(mapset.NewThreadUnsafeSet(fromSnapshots...)).ToSlice()
	slices.Sort(rooms)
	return rooms, nil
}

func (g *GormStore) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
