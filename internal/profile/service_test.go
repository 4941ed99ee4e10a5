package profile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"gorm.io/gorm"
)

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("user-%d", g.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:profile_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1750000000, 0).UTC() },
		IDProvider: &sequentialIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}
	return service
}

func validAnswers() Answers {
	return Answers{
		Cleanliness:    3,
		SleepSchedule:  "early",
		Diet:           "veg",
		NoiseTolerance: "medium",
		Goal:           "college",
	}
}

func TestRegisterNormalizesAndHashes(t *testing.T) {
	service := newTestService(t)

	created, err := service.Register(context.Background(), RegisterInput{
		FirstName: "  Asha ",
		LastName:  "Rao",
		Email:     " Asha@Example.COM ",
		Password:  "sekrit",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Email != "asha@example.com" {
		t.Fatalf("email must be lowercased and trimmed, got %q", created.Email)
	}
	if created.FirstName != "Asha" {
		t.Fatalf("first name must be trimmed, got %q", created.FirstName)
	}
	if created.PasswordHash == "sekrit" || created.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}
	if created.OnboardingStatus != OnboardingPending {
		t.Fatalf("new profiles start pending, got %q", created.OnboardingStatus)
	}
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	service := newTestService(t)

	_, err := service.Register(context.Background(), RegisterInput{FirstName: "Asha"})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	input := RegisterInput{FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Password: "sekrit"}

	if _, err := service.Register(ctx, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input.Email = "ASHA@example.com"
	_, err := service.Register(ctx, input)
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.Register(ctx, RegisterInput{
		FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Password: "sekrit",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	authenticated, err := service.Authenticate(ctx, "Asha@Example.com", "sekrit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authenticated.ID != created.ID {
		t.Fatalf("expected the registered profile back")
	}

	if _, err := service.Authenticate(ctx, "asha@example.com", "wrong"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for bad password, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "ghost@example.com", "sekrit"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for unknown email, got %v", err)
	}
}

func TestSubmitSurveyCompletesOnboarding(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.Register(ctx, RegisterInput{
		FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Password: "sekrit",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := service.SubmitSurvey(ctx, created.ID, validAnswers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.SurveyCompleted() {
		t.Fatalf("survey submission must complete onboarding")
	}
	if updated.Answers.Diet != "veg" {
		t.Fatalf("answers must be persisted, got %+v", updated.Answers)
	}

	// Resubmission overwrites the previous answers.
	revised := validAnswers()
	revised.Diet = "non-veg"
	updated, err = service.SubmitSurvey(ctx, created.ID, revised)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Answers.Diet != "non-veg" {
		t.Fatalf("resubmission must overwrite answers, got %+v", updated.Answers)
	}
}

func TestSubmitSurveyUnknownUser(t *testing.T) {
	service := newTestService(t)

	_, err := service.SubmitSurvey(context.Background(), "ghost", validAnswers())
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidateAnswers(t *testing.T) {
	if err := ValidateAnswers(validAnswers()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invalid := []Answers{
		{},
		{Cleanliness: 0, SleepSchedule: "early", Diet: "veg", NoiseTolerance: "low", Goal: "job"},
		{Cleanliness: 6, SleepSchedule: "early", Diet: "veg", NoiseTolerance: "low", Goal: "job"},
		{Cleanliness: 3, SleepSchedule: "noon", Diet: "veg", NoiseTolerance: "low", Goal: "job"},
		{Cleanliness: 3, SleepSchedule: "early", Diet: "keto", NoiseTolerance: "low", Goal: "job"},
		{Cleanliness: 3, SleepSchedule: "early", Diet: "veg", NoiseTolerance: "deaf", Goal: "job"},
		{Cleanliness: 3, SleepSchedule: "early", Diet: "veg", NoiseTolerance: "low", Goal: "retire"},
	}
	for _, answers := range invalid {
		if err := ValidateAnswers(answers); apperr.KindOf(err) != apperr.KindBadRequest {
			t.Fatalf("expected bad request for %+v, got %v", answers, err)
		}
	}
}

func TestGetManySkipsMissingIDs(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	created, err := service.Register(ctx, RegisterInput{
		FirstName: "Asha", LastName: "Rao", Email: "asha@example.com", Password: "sekrit",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := service.GetMany(ctx, []string{created.ID, "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one profile, got %d", len(found))
	}
	if _, present := found["ghost"]; present {
		t.Fatalf("missing ids must be absent from the result")
	}
}
