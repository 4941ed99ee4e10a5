package matching

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nestmatelabs/nestmate/internal/allocation"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the matching service.
// Counts is optional; without it match counts always hit the database.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Counts     *cache.MatchCounts
}

// Service owns the connection-request state machine and the match
// store. The accept path is a single transaction: request update,
// match creation, room-allocation creation, and notification either
// all commit or all roll back.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	counts     *cache.MatchCounts
}

// NewService constructs the matching service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
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
		counts:     cfg.Counts,
	}, nil
}

// Create opens a pending request from sender to receiver. All guards
// run before the insert; the unique pair key converts a racing
// duplicate insert into a Conflict instead of a second pending row.
func (s *Service) Create(ctx context.Context, senderID, receiverID string) (*ConnectionRequest, error) {
	if senderID == "" || receiverID == "" {
		return nil, apperr.New(apperr.KindBadRequest, "sender and receiver are required")
	}
	if senderID == receiverID {
		return nil, apperr.New(apperr.KindBadRequest, "cannot connect with yourself")
	}

	var created *ConnectionRequest
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		senderCount, err := matchCountTx(tx, senderID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to count matches", err)
		}
		if senderCount >= MaxMatchesPerUser {
			return apperr.New(apperr.KindConflict, "you have already reached 2 matches")
		}

		receiverCount, err := matchCountTx(tx, receiverID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to count matches", err)
		}
		if receiverCount >= MaxMatchesPerUser {
			return apperr.New(apperr.KindConflict, "user is at maximum matches")
		}

		pairKey := PairKeyFor(senderID, receiverID)

		var existingMatch Match
		err = tx.Where("pair_key = ?", pairKey).Take(&existingMatch).Error
		if err == nil {
			return apperr.New(apperr.KindConflict, "already matched")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Wrap(apperr.KindInternal, "failed to check existing match", err)
		}

		var existingRequest ConnectionRequest
		err = tx.Where("pair_key = ?", pairKey).Take(&existingRequest).Error
		if err == nil {
			if existingRequest.Status == StatusRejected {
				return apperr.New(apperr.KindConflict, "connection was previously rejected")
			}
			return apperr.New(apperr.KindBadRequest, "connection request already exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Wrap(apperr.KindInternal, "failed to check existing request", err)
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to generate request id", err)
		}
		request := ConnectionRequest{
			ID:         id,
			SenderID:   senderID,
			ReceiverID: receiverID,
			PairKey:    pairKey,
			Status:     StatusPending,
		}
		if err := tx.Create(&request).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, "connection request already exists")
			}
			return apperr.Wrap(apperr.KindInternal, "failed to create request", err)
		}
		created = &request
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return created, nil
}

// RespondOutcome reports the resolution of a pending request.
type RespondOutcome struct {
	Status RequestStatus
	Match  *Match
}

// Respond resolves a pending request. Only the receiver may respond;
// a request transitions exactly once. Accepting creates the match,
// its room allocation (allocator = original sender), and a
// notification to the sender, all in one transaction.
func (s *Service) Respond(ctx context.Context, requestID, responderID, decision string) (*RespondOutcome, error) {
	status, err := parseDecision(decision)
	if err != nil {
		return nil, err
	}

	outcome := &RespondOutcome{Status: status}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request ConnectionRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", requestID).
			Take(&request).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, "request not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to load request", err)
		}

		if responderID != request.ReceiverID {
			return apperr.New(apperr.KindForbidden, "not authorized to respond")
		}
		if request.Status != StatusPending {
			return apperr.New(apperr.KindBadRequest, "request already responded to")
		}

		request.Status = status
		request.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&request).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to update request", err)
		}

		if status == StatusRejected {
			return nil
		}

		responderCount, err := matchCountTx(tx, responderID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to count matches", err)
		}
		if responderCount >= MaxMatchesPerUser {
			return apperr.New(apperr.KindBadRequest, "you can have only up to 2 matches")
		}
		senderCount, err := matchCountTx(tx, request.SenderID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to count matches", err)
		}
		if senderCount >= MaxMatchesPerUser {
			return apperr.New(apperr.KindBadRequest, "sender is at maximum matches")
		}

		var existingMatch Match
		err = tx.Where("pair_key = ?", request.PairKey).Take(&existingMatch).Error
		if err == nil {
			return apperr.New(apperr.KindBadRequest, "match already exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Wrap(apperr.KindInternal, "failed to check existing match", err)
		}

		matchID, err := s.idProvider.NewID()
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to generate match id", err)
		}
		match := Match{
			ID:      matchID,
			UserAID: request.SenderID,
			UserBID: request.ReceiverID,
			PairKey: request.PairKey,
		}
		if err := tx.Create(&match).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.New(apperr.KindConflict, "match already exists")
			}
			return apperr.Wrap(apperr.KindInternal, "failed to create match", err)
		}

		allocationID, err := s.idProvider.NewID()
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to generate allocation id", err)
		}
		roomAllocation := allocation.RoomAllocation{
			ID:          allocationID,
			MatchID:     match.ID,
			AllocatorID: request.SenderID,
		}
		if err := tx.Create(&roomAllocation).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to create room allocation", err)
		}

		notificationID, err := s.idProvider.NewID()
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to generate notification id", err)
		}
		metadata, err := json.Marshal(map[string]string{"matchId": match.ID})
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to encode notification metadata", err)
		}
		notification := Notification{
			ID:           notificationID,
			RecipientID:  request.SenderID,
			Type:         NotificationTypeConnectionAccepted,
			Message:      "Your connection request has been accepted! You are now matched.",
			MetadataJSON: string(metadata),
		}
		if err := tx.Create(&notification).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to create notification", err)
		}

		outcome.Match = &match
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if outcome.Match != nil {
		s.invalidateCounts(ctx, outcome.Match.UserAID, outcome.Match.UserBID)
	}
	return outcome, nil
}

// Rematch dissolves a match: the match row and any accepted request
// between the pair are deleted transactionally, returning the pair to
// an unconnected state. Rejection tombstones are untouched.
func (s *Service) Rematch(ctx context.Context, matchID, requesterID string) error {
	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.PartnerOf(requesterID) == "" {
		return apperr.New(apperr.KindForbidden, "you are not part of this match")
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", matchID).Delete(&Match{}).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to delete match", err)
		}
		if err := tx.Where("pair_key = ? AND status = ?", match.PairKey, StatusAccepted).
			Delete(&ConnectionRequest{}).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to delete accepted request", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.invalidateCounts(ctx, match.UserAID, match.UserBID)
	return nil
}

// GetMatch loads a match by id.
func (s *Service) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	var match Match
	err := s.db.WithContext(ctx).Where("id = ?", matchID).Take(&match).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "match not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load match", err)
	}
	return &match, nil
}

// Participants returns the user pair of a match. Implements the
// resolver the allocation service depends on.
func (s *Service) Participants(ctx context.Context, matchID string) ([2]string, error) {
	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return [2]string{}, err
	}
	return [2]string{match.UserAID, match.UserBID}, nil
}

// MatchCount returns the number of matches userID currently holds,
// cache-first with a database fallback.
func (s *Service) MatchCount(ctx context.Context, userID string) (int64, error) {
	if count, ok := s.counts.Lookup(ctx, userID); ok {
		return count, nil
	}
	count, err := matchCountTx(s.db.WithContext(ctx), userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "failed to count matches", err)
	}
	s.counts.Store(ctx, userID, count)
	return count, nil
}

// MatchCountsFor bulk-counts matches for many users in two grouped
// queries. Users with zero matches are absent from the result.
func (s *Service) MatchCountsFor(ctx context.Context) (map[string]int64, error) {
	type grouped struct {
		UserID string
		Total  int64
	}
	counts := make(map[string]int64)
	for _, column := range []string{"user_a_id", "user_b_id"} {
		var rows []grouped
		err := s.db.WithContext(ctx).Model(&Match{}).
			Select(column + " AS user_id, COUNT(*) AS total").
			Group(column).
			Find(&rows).Error
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to aggregate match counts", err)
		}
		for _, row := range rows {
			counts[row.UserID] += row.Total
		}
	}
	return counts, nil
}

// AcceptedPartnerIDs returns the ids userID is currently matched with.
func (s *Service) AcceptedPartnerIDs(ctx context.Context, userID string) ([]string, error) {
	matches, err := s.ListMatches(ctx, userID)
	if err != nil {
		return nil, err
	}
	partners := make([]string, 0, len(matches))
	for _, match := range matches {
		partners = append(partners, match.PartnerOf(userID))
	}
	return partners, nil
}

// RejectedPartnerIDs returns every user with whom userID shares a
// rejection tombstone, in either direction.
func (s *Service) RejectedPartnerIDs(ctx context.Context, userID string) ([]string, error) {
	var requests []ConnectionRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND (sender_id = ? OR receiver_id = ?)", StatusRejected, userID, userID).
		Find(&requests).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list rejected requests", err)
	}
	partners := make([]string, 0, len(requests))
	for _, request := range requests {
		if request.SenderID == userID {
			partners = append(partners, request.ReceiverID)
		} else {
			partners = append(partners, request.SenderID)
		}
	}
	return partners, nil
}

// ListMatches returns every match userID participates in.
func (s *Service) ListMatches(ctx context.Context, userID string) ([]Match, error) {
	var matches []Match
	err := s.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&matches).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list matches", err)
	}
	return matches, nil
}

// ListIncoming returns pending requests addressed to userID.
func (s *Service) ListIncoming(ctx context.Context, userID string) ([]ConnectionRequest, error) {
	return s.listRequests(ctx, "receiver_id = ? AND status = ?", userID, StatusPending)
}

// ListPendingSent returns pending requests userID has sent.
func (s *Service) ListPendingSent(ctx context.Context, userID string) ([]ConnectionRequest, error) {
	return s.listRequests(ctx, "sender_id = ? AND status = ?", userID, StatusPending)
}

// ListAccepted returns accepted requests involving userID.
func (s *Service) ListAccepted(ctx context.Context, userID string) ([]ConnectionRequest, error) {
	return s.listRequests(ctx, "(sender_id = ? OR receiver_id = ?) AND status = ?", userID, userID, StatusAccepted)
}

// ListRejected returns rejected requests involving userID.
func (s *Service) ListRejected(ctx context.Context, userID string) ([]ConnectionRequest, error) {
	return s.listRequests(ctx, "(sender_id = ? OR receiver_id = ?) AND status = ?", userID, userID, StatusRejected)
}

func (s *Service) listRequests(ctx context.Context, query string, args ...interface{}) ([]ConnectionRequest, error) {
	var requests []ConnectionRequest
	err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list requests", err)
	}
	return requests, nil
}

// UnreadNotifications returns unread notifications for userID, newest first.
func (s *Service) UnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	var notifications []Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ? AND read = ?", userID, false).
		Order("created_at DESC").
		Find(&notifications).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list notifications", err)
	}
	return notifications, nil
}

// MarkNotificationsRead flags the given notifications as read. Ids
// belonging to other recipients are silently skipped.
func (s *Service) MarkNotificationsRead(ctx context.Context, userID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND id IN ?", userID, notificationIDs).
		Update("read", true).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to mark notifications read", err)
	}
	return nil
}

func (s *Service) invalidateCounts(ctx context.Context, userIDs ...string) {
	for _, userID := range userIDs {
		if err := s.counts.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("match count invalidation failed", zap.Error(err), zap.String("user_id", userID))
		}
	}
}

func matchCountTx(tx *gorm.DB, userID string) (int64, error) {
	var count int64
	err := tx.Model(&Match{}).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Count(&count).Error
	return count, err
}

func parseDecision(value string) (RequestStatus, error) {
	switch RequestStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", apperr.New(apperr.KindBadRequest, "invalid status value")
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
