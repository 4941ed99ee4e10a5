package database

import (
	"errors"
	"time"

	"github.com/nestmatelabs/nestmate/internal/allocation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRecountRoomOccupancy = "2026-07-21_recount_room_occupancy"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecountRoomOccupancy, apply: recountRoomOccupancy},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// recountRoomOccupancy repairs the derived is_occupied cache from the
// occupant rows. Rooms written before the cache recompute landed in
// SelectRoom may carry stale values.
func recountRoomOccupancy(db *gorm.DB) error {
	var rooms []allocation.Room
	if err := db.Find(&rooms).Error; err != nil {
		return err
	}
	for _, room := range rooms {
		var count int64
		if err := db.Model(&allocation.RoomOccupant{}).
			Where("room_id = ?", room.ID).
			Count(&count).Error; err != nil {
			return err
		}
		occupied := count >= int64(room.Type.Capacity())
		if occupied == room.IsOccupied {
			continue
		}
		if err := db.Model(&allocation.Room{}).
			Where("id = ?", room.ID).
			Update("is_occupied", occupied).Error; err != nil {
			return err
		}
	}
	return nil
}
