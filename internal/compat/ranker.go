package compat

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/matching"
	"github.com/nestmatelabs/nestmate/internal/profile"
	"go.uber.org/zap"
)

// rankLimit caps the suggestion list returned to the client.
const rankLimit = 3

var (
	errMissingProfiles = errors.New("profile service is required")
	errMissingMatches  = errors.New("matching service is required")
	noOpLogger         = zap.NewNop()
)

// RankerConfig describes the dependencies of the candidate ranker.
type RankerConfig struct {
	Profiles *profile.Service
	Matches  *matching.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ranker produces ordered roommate suggestions for a user by scoring
// every eligible candidate against the user's survey answers.
type Ranker struct {
	profiles *profile.Service
	matches  *matching.Service
	clock    func() time.Time
	logger   *zap.Logger
}

// NewRanker constructs the ranker.
func NewRanker(cfg RankerConfig) (*Ranker, error) {
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	if cfg.Matches == nil {
		return nil, errMissingMatches
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ranker{
		profiles: cfg.Profiles,
		matches:  cfg.Matches,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Candidate is one ranked suggestion.
type Candidate struct {
	UserID    string   `json:"userId"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Score     int      `json:"compatibilityScore"`
	Reasons   []string `json:"compatibilityReasons"`
}

// RankCandidates returns up to three candidates for userID, highest
// score first; ties break by candidate id ascending so the ordering
// is stable. Candidates must have completed the survey, not already
// be matched with the user, share no rejection tombstone with the
// user, and both parties must be below the match cap. A requester who
// has not completed onboarding gets PreconditionFailed.
func (r *Ranker) RankCandidates(ctx context.Context, userID string) ([]Candidate, error) {
	requester, err := r.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !requester.SurveyCompleted() {
		return nil, apperr.New(apperr.KindPreconditionFailed, "complete onboarding first")
	}

	// Cache-first: the requester's own count is the hot read here, so
	// it goes through the cached path instead of the bulk aggregate.
	requesterCount, err := r.matches.MatchCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if requesterCount >= matching.MaxMatchesPerUser {
		return []Candidate{}, nil
	}

	matchedPartners, err := r.matches.AcceptedPartnerIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	rejectedPartners, err := r.matches.RejectedPartnerIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	matchCounts, err := r.matches.MatchCountsFor(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(matchedPartners)+len(rejectedPartners))
	for _, partnerID := range matchedPartners {
		excluded[partnerID] = struct{}{}
	}
	for _, partnerID := range rejectedPartners {
		excluded[partnerID] = struct{}{}
	}

	pool, err := r.profiles.ListCompleted(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(pool))
	for _, candidateProfile := range pool {
		if _, skip := excluded[candidateProfile.ID]; skip {
			continue
		}
		if matchCounts[candidateProfile.ID] >= matching.MaxMatchesPerUser {
			continue
		}
		scored := Score(requester.Answers, candidateProfile.Answers)
		candidates = append(candidates, Candidate{
			UserID:    candidateProfile.ID,
			FirstName: candidateProfile.FirstName,
			LastName:  candidateProfile.LastName,
			Email:     candidateProfile.Email,
			Score:     scored.Score,
			Reasons:   scored.Reasons,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].UserID < candidates[j].UserID
	})

	if len(candidates) > rankLimit {
		candidates = candidates[:rankLimit]
	}
	return candidates, nil
}
