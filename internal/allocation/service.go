package allocation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nestmatelabs/nestmate/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingResolver   = errors.New("match resolver is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for new rooms.
type IDProvider interface {
	NewID() (string, error)
}

// MatchResolver supplies the participant pair of a match. Implemented
// by the matching service.
type MatchResolver interface {
	Participants(ctx context.Context, matchID string) ([2]string, error)
}

// ServiceConfig describes the dependencies of the allocation service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Matches    MatchResolver
}

// Service mediates room selection for confirmed matches and owns the
// shared room pool. Room capacity is the only long-lived shared
// resource mutated by independent flows, so every occupant mutation
// goes through the locked check-and-append in SelectRoom.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	matches    MatchResolver
}

// NewService constructs the allocation service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Matches == nil {
		return nil, errMissingResolver
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		matches:    cfg.Matches,
	}, nil
}

// View is an allocation enriched with the selected room, if any.
type View struct {
	Allocation   RoomAllocation
	SelectedRoom *Room
}

// Get returns the allocation for a match.
func (s *Service) Get(ctx context.Context, matchID string) (*View, error) {
	var roomAllocation RoomAllocation
	err := s.db.WithContext(ctx).Where("match_id = ?", matchID).Take(&roomAllocation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "room allocation not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load room allocation", err)
	}

	view := &View{Allocation: roomAllocation}
	if roomAllocation.SelectedRoomID != nil {
		var room Room
		err := s.db.WithContext(ctx).Where("id = ?", *roomAllocation.SelectedRoomID).Take(&room).Error
		if err == nil {
			view.SelectedRoom = &room
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load selected room", err)
		}
	}
	return view, nil
}

// SelectRoom commits the allocator's room choice: the allocation is
// confirmed, both match participants become occupants, and the room's
// occupancy cache is recomputed. The capacity check runs under a row
// lock inside the transaction, so two allocators racing for the last
// slot resolve to one success and one "room is full" rejection.
func (s *Service) SelectRoom(ctx context.Context, matchID, requesterID, roomID string) (*View, error) {
	if roomID == "" {
		return nil, apperr.New(apperr.KindBadRequest, "roomId is required")
	}

	participants, err := s.matches.Participants(ctx, matchID)
	if err != nil {
		return nil, err
	}

	var view *View
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var roomAllocation RoomAllocation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("match_id = ?", matchID).
			Take(&roomAllocation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, "room allocation not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to load room allocation", err)
		}

		if roomAllocation.AllocatorID != requesterID {
			return apperr.New(apperr.KindForbidden, "not authorized to select room")
		}
		if roomAllocation.IsConfirmed {
			return apperr.New(apperr.KindBadRequest, "room allocation already confirmed")
		}

		var room Room
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", roomID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, "room not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to load room", err)
		}

		occupantCount, err := countOccupants(tx, room.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to count occupants", err)
		}
		if occupantCount >= int64(room.Type.Capacity()) {
			return apperr.New(apperr.KindBadRequest, "selected room is full")
		}

		roomAllocation.SelectedRoomID = &room.ID
		roomAllocation.IsConfirmed = true
		roomAllocation.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&roomAllocation).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to save room allocation", err)
		}

		for _, userID := range participants {
			occupant := RoomOccupant{RoomID: room.ID, UserID: userID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&occupant).Error; err != nil {
				return apperr.Wrap(apperr.KindInternal, "failed to add occupant", err)
			}
		}

		updatedCount, err := countOccupants(tx, room.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to recount occupants", err)
		}
		room.IsOccupied = updatedCount >= int64(room.Type.Capacity())
		if err := tx.Save(&room).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to save room", err)
		}

		view = &View{Allocation: roomAllocation, SelectedRoom: &room}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("room allocated",
		zap.String("match_id", matchID),
		zap.String("room_id", roomID),
		zap.String("allocator_id", requesterID))
	return view, nil
}

// RoomView is a room plus its current occupant set.
type RoomView struct {
	Room      Room
	Occupants []string
}

// ListRooms returns the full room pool with occupants.
func (s *Service) ListRooms(ctx context.Context) ([]RoomView, error) {
	var rooms []Room
	if err := s.db.WithContext(ctx).Order("room_number ASC").Find(&rooms).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list rooms", err)
	}

	var occupants []RoomOccupant
	if err := s.db.WithContext(ctx).Find(&occupants).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list occupants", err)
	}
	byRoom := make(map[string][]string)
	for _, occupant := range occupants {
		byRoom[occupant.RoomID] = append(byRoom[occupant.RoomID], occupant.UserID)
	}

	views := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, RoomView{Room: room, Occupants: byRoom[room.ID]})
	}
	return views, nil
}

// AddRoomInput carries the fields for a new room.
type AddRoomInput struct {
	RoomNumber string
	Type       RoomType
	Floor      string
	HasWindow  bool
}

// AddRoom registers a new room in the pool.
func (s *Service) AddRoom(ctx context.Context, input AddRoomInput) (*Room, error) {
	roomNumber := strings.TrimSpace(input.RoomNumber)
	if roomNumber == "" {
		return nil, apperr.New(apperr.KindBadRequest, "roomNumber is required")
	}
	if !input.Type.Valid() {
		return nil, apperr.New(apperr.KindBadRequest, "type must be Single or Twin")
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to generate room id", err)
	}
	room := Room{
		ID:         id,
		RoomNumber: roomNumber,
		Type:       input.Type,
		Floor:      strings.TrimSpace(input.Floor),
		HasWindow:  input.HasWindow,
	}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, apperr.New(apperr.KindConflict, "room number already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create room", err)
	}
	return &room, nil
}

func countOccupants(tx *gorm.DB, roomID string) (int64, error) {
	var count int64
	err := tx.Model(&RoomOccupant{}).Where("room_id = ?", roomID).Count(&count).Error
	return count, err
}
