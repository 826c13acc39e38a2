package storage

import "gorm.io/gorm"

// UpdateRow is one appended update.
type UpdateRow struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Room      string `gorm:"column:room;size:190;not null;index:idx_replica_updates_room;uniqueIndex:idx_replica_updates_dedupe,priority:1"`
	Hash      string `gorm:"column:hash;size:32;not null;uniqueIndex:idx_replica_updates_dedupe,priority:2"`
	Payload   []byte `gorm:"column:payload;not null"`
	Codec     string `gorm:"column:codec;size:16;not null"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime:milli"`
}

func (UpdateRow) TableName() string {
	return "replica_updates"
}

// SnapshotRow is the compacted state of a room up to UpdateID.
type SnapshotRow struct {
	Room      string `gorm:"column:room;primaryKey;size:190"`
	Payload   []byte `gorm:"column:payload;not null"`
	Codec     string `gorm:"column:codec;size:16;not null"`
	UpdateID  int64  `gorm:"column:update_id;not null;default:0"`
	UpdatedAt int64  `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (SnapshotRow) TableName() string {
	return "replica_snapshots"
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&UpdateRow{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&SnapshotRow{}); err != nil {
		return err
	}
	return nil
}
