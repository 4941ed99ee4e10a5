package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for new profiles.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the profile service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages user profiles and onboarding survey submissions.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the profile service.
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
	}, nil
}

// RegisterInput carries the fields required to create a profile.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Register creates a profile with a hashed password and pending onboarding.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Profile, error) {
	firstName := normalize(input.FirstName)
	lastName := normalize(input.LastName)
	email := strings.ToLower(normalize(input.Email))
	if firstName == "" || lastName == "" || email == "" || input.Password == "" {
		return nil, apperr.New(apperr.KindBadRequest, "firstName, lastName, email and password are required")
	}

	var existing Profile
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return nil, apperr.New(apperr.KindConflict, "email is already registered")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up email", err)
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to hash password", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to generate profile id", err)
	}

	created := Profile{
		ID:               id,
		FirstName:        firstName,
		LastName:         lastName,
		Email:            email,
		PasswordHash:     hash,
		OnboardingStatus: OnboardingPending,
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		s.logger.Error("profile create failed", zap.Error(err), zap.String("email", email))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create profile", err)
	}
	return &created, nil
}

// Authenticate verifies email+password credentials and returns the profile.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Profile, error) {
	normalizedEmail := strings.ToLower(normalize(email))
	if normalizedEmail == "" || password == "" {
		return nil, apperr.New(apperr.KindBadRequest, "email and password are required")
	}

	var found Profile
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindForbidden, "invalid email or password")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to look up profile", err)
	}

	if err := auth.CheckPassword(found.PasswordHash, password); err != nil {
		return nil, apperr.New(apperr.KindForbidden, "invalid email or password")
	}
	return &found, nil
}

// Get returns the profile for the given user id.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	var found Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load profile", err)
	}
	return &found, nil
}

// GetMany loads profiles for the given ids, keyed by id. Missing ids
// are simply absent from the result.
func (s *Service) GetMany(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	result := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var rows []Profile
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load profiles", err)
	}
	for _, row := range rows {
		result[row.ID] = row
	}
	return result, nil
}

// ListCompleted returns every profile that finished onboarding,
// excluding the given user id.
func (s *Service) ListCompleted(ctx context.Context, excludeUserID string) ([]Profile, error) {
	var rows []Profile
	err := s.db.WithContext(ctx).
		Where("onboarding_status = ? AND id <> ?", OnboardingCompleted, excludeUserID).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list completed profiles", err)
	}
	return rows, nil
}

// SubmitSurvey validates and persists the onboarding answers, marking
// the profile completed. Resubmission overwrites the previous answers.
func (s *Service) SubmitSurvey(ctx context.Context, userID string, answers Answers) (*Profile, error) {
	if err := ValidateAnswers(answers); err != nil {
		return nil, err
	}

	updated, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated.Answers = answers
	updated.OnboardingStatus = OnboardingCompleted
	updated.UpdatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Save(updated).Error; err != nil {
		s.logger.Error("survey save failed", zap.Error(err), zap.String("user_id", userID))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to save survey answers", err)
	}
	return updated, nil
}
