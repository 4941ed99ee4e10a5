package allocation

import "time"

// RoomType enumerates the supported room layouts.
type RoomType string

const (
	// RoomTypeSingle houses one occupant.
	RoomTypeSingle RoomType = "Single"
	// RoomTypeTwin houses two occupants.
	RoomTypeTwin RoomType = "Twin"
)

// Capacity returns the maximum occupant count for the room type.
func (t RoomType) Capacity() int {
	if t == RoomTypeTwin {
		return 2
	}
	return 1
}

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomTypeSingle || t == RoomTypeTwin
}

// Room is a shared physical room. IsOccupied is a derived cache over
// the occupant rows and is recomputed on every occupant mutation.
type Room struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	RoomNumber string    `gorm:"column:room_number;size:32;not null;uniqueIndex"`
	Type       RoomType  `gorm:"column:type;size:16;not null"`
	Floor      string    `gorm:"column:floor;size:32"`
	HasWindow  bool      `gorm:"column:has_window;not null;default:false"`
	IsOccupied bool      `gorm:"column:is_occupied;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// RoomOccupant is one member of a room's occupant set. The composite
// primary key gives set semantics: re-adding an occupant is a no-op
// at the storage layer.
type RoomOccupant struct {
	RoomID string `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID string `gorm:"column:user_id;primaryKey;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoomOccupant) TableName() string {
	return "room_occupants"
}

// RoomAllocation tracks room selection for one match. Exactly one row
// exists per match, created inside the request-accept transaction.
// Terminal once IsConfirmed is set.
type RoomAllocation struct {
	ID             string    `gorm:"column:id;primaryKey;size:190;not null"`
	MatchID        string    `gorm:"column:match_id;size:190;not null;uniqueIndex"`
	AllocatorID    string    `gorm:"column:allocator_id;size:190;not null"`
	SelectedRoomID *string   `gorm:"column:selected_room_id;size:190"`
	IsConfirmed    bool      `gorm:"column:is_confirmed;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (RoomAllocation) TableName() string {
	return "room_allocations"
}
