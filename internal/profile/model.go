package profile

import (
	"strings"
	"time"

	"github.com/nestmatelabs/nestmate/internal/apperr"
)

// Onboarding status values.
const (
	OnboardingPending   = "pending"
	OnboardingCompleted = "completed"
)

// Answers holds the onboarding survey answer set used for
// compatibility scoring. Zero values mean "not answered".
type Answers struct {
	Cleanliness    int    `gorm:"column:cleanliness" json:"cleanliness"`
	SleepSchedule  string `gorm:"column:sleep_schedule;size:16" json:"sleepSchedule"`
	Diet           string `gorm:"column:diet;size:16" json:"diet"`
	NoiseTolerance string `gorm:"column:noise_tolerance;size:16" json:"noiseTolerance"`
	Goal           string `gorm:"column:goal;size:32" json:"goal"`
}

// Profile is the canonical user record: identity, credentials, and
// the onboarding survey state consumed by the ranker.
type Profile struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null"`
	FirstName        string    `gorm:"column:first_name;size:190;not null"`
	LastName         string    `gorm:"column:last_name;size:190;not null"`
	Email            string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash     string    `gorm:"column:password_hash;size:190;not null"`
	OnboardingStatus string    `gorm:"column:onboarding_status;size:16;not null;default:pending"`
	Answers          Answers   `gorm:"embedded"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "user_profiles"
}

// SurveyCompleted reports whether the user finished onboarding.
func (p Profile) SurveyCompleted() bool {
	return p.OnboardingStatus == OnboardingCompleted
}

var (
	sleepSchedules  = []string{"early", "late", "flexible"}
	diets           = []string{"veg", "non-veg"}
	noiseTolerances = []string{"low", "medium", "high"}
	goals           = []string{"entrance-exam", "college", "job"}
)

// ValidateAnswers checks every survey field for presence and range.
// A single BadRequest naming the required fields is returned on any
// failure, matching what the survey UI renders.
func ValidateAnswers(answers Answers) error {
	valid := answers.Cleanliness >= 1 && answers.Cleanliness <= 5 &&
		contains(sleepSchedules, answers.SleepSchedule) &&
		contains(diets, answers.Diet) &&
		contains(noiseTolerances, answers.NoiseTolerance) &&
		contains(goals, answers.Goal)
	if !valid {
		return apperr.New(apperr.KindBadRequest,
			"invalid or incomplete survey data; required fields: cleanliness, sleepSchedule, diet, noiseTolerance, goal")
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
