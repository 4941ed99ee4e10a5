package compat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/nestmatelabs/nestmate/internal/allocation"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/cache"
	"github.com/nestmatelabs/nestmate/internal/matching"
	"github.com/nestmatelabs/nestmate/internal/profile"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

func newTestRanker(t *testing.T) (*Ranker, *gorm.DB) {
	ranker, db, _ := newCachedTestRanker(t)
	return ranker, db
}

func newCachedTestRanker(t *testing.T) (*Ranker, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dsn := fmt.Sprintf("file:ranker_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	models := []interface{}{
		&profile.Profile{},
		&matching.ConnectionRequest{},
		&matching.Match{},
		&matching.Notification{},
		&allocation.RoomAllocation{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	profiles, err := profile.NewService(profile.ServiceConfig{
		Database:   db,
		IDProvider: &sequentialIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}
	matches, err := matching.NewService(matching.ServiceConfig{
		Database:   db,
		IDProvider: &sequentialIDGenerator{},
		Counts:     &cache.MatchCounts{Client: client, TTL: time.Minute},
	})
	if err != nil {
		t.Fatalf("failed to construct matching service: %v", err)
	}
	ranker, err := NewRanker(RankerConfig{Profiles: profiles, Matches: matches})
	if err != nil {
		t.Fatalf("failed to construct ranker: %v", err)
	}
	return ranker, db, mini
}

func seedProfile(t *testing.T, db *gorm.DB, id string, completed bool, answers profile.Answers) {
	t.Helper()
	status := profile.OnboardingPending
	if completed {
		status = profile.OnboardingCompleted
	}
	row := profile.Profile{
		ID:               id,
		FirstName:        id,
		LastName:         "Tester",
		Email:            id + "@example.com",
		PasswordHash:     "x",
		OnboardingStatus: status,
		Answers:          answers,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed profile %s: %v", id, err)
	}
}

func seedPair(t *testing.T, db *gorm.DB, id, userA, userB string) {
	t.Helper()
	match := matching.Match{ID: id, UserAID: userA, UserBID: userB, PairKey: matching.PairKeyFor(userA, userB)}
	if err := db.Create(&match).Error; err != nil {
		t.Fatalf("failed to seed match: %v", err)
	}
}

func TestRankCandidatesRequiresCompletedSurvey(t *testing.T) {
	ranker, db := newTestRanker(t)
	seedProfile(t, db, "alice", false, profile.Answers{})

	_, err := ranker.RankCandidates(context.Background(), "alice")
	if apperr.KindOf(err) != apperr.KindPreconditionFailed {
		t.Fatalf("expected precondition failure, got %v", err)
	}
}

func TestRankCandidatesUnknownUser(t *testing.T) {
	ranker, _ := newTestRanker(t)

	_, err := ranker.RankCandidates(context.Background(), "ghost")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRankCandidatesOrdersByScoreThenID(t *testing.T) {
	ranker, db := newTestRanker(t)
	base := fullAnswers()
	seedProfile(t, db, "alice", true, base)

	// Perfect overlap with alice.
	seedProfile(t, db, "dave", true, base)
	// Same perfect overlap; ties break by id ascending.
	seedProfile(t, db, "carol", true, base)
	// Weaker overlap: diet only.
	seedProfile(t, db, "bob", true, profile.Answers{
		Cleanliness:    1,
		SleepSchedule:  "late",
		Diet:           "veg",
		NoiseTolerance: "high",
		Goal:           "job",
	})

	candidates, err := ranker.RankCandidates(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0].UserID != "carol" || candidates[1].UserID != "dave" {
		t.Fatalf("tie must break by id ascending: %v", candidateIDs(candidates))
	}
	if candidates[2].UserID != "bob" {
		t.Fatalf("lowest score must come last: %v", candidateIDs(candidates))
	}
	if candidates[0].Score <= candidates[2].Score {
		t.Fatalf("ordering must be score descending")
	}
}

func TestRankCandidatesCapsListAtThree(t *testing.T) {
	ranker, db := newTestRanker(t)
	base := fullAnswers()
	seedProfile(t, db, "alice", true, base)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		seedProfile(t, db, id, true, base)
	}

	candidates, err := ranker.RankCandidates(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected the list capped at 3, got %d", len(candidates))
	}
}

func TestRankCandidatesExcludesIneligibleUsers(t *testing.T) {
	ranker, db := newTestRanker(t)
	base := fullAnswers()
	seedProfile(t, db, "alice", true, base)
	seedProfile(t, db, "matched", true, base)
	seedProfile(t, db, "rejected", true, base)
	seedProfile(t, db, "incomplete", false, base)
	seedProfile(t, db, "full", true, base)
	seedProfile(t, db, "eligible", true, base)

	// Already matched with alice.
	seedPair(t, db, "m-1", "alice", "matched")
	// Rejection tombstone in either direction excludes the pair.
	tombstone := matching.ConnectionRequest{
		ID:         "r-1",
		SenderID:   "rejected",
		ReceiverID: "alice",
		PairKey:    matching.PairKeyFor("rejected", "alice"),
		Status:     matching.StatusRejected,
	}
	if err := db.Create(&tombstone).Error; err != nil {
		t.Fatalf("failed to seed tombstone: %v", err)
	}
	// "full" already holds the maximum number of matches.
	seedPair(t, db, "m-2", "full", "p1")
	seedPair(t, db, "m-3", "full", "p2")

	candidates, err := ranker.RankCandidates(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].UserID != "eligible" {
		t.Fatalf("expected only the eligible candidate, got %v", candidateIDs(candidates))
	}
}

func TestRankCandidatesEmptyWhenRequesterAtCap(t *testing.T) {
	ranker, db := newTestRanker(t)
	base := fullAnswers()
	seedProfile(t, db, "alice", true, base)
	seedProfile(t, db, "eligible", true, base)

	seedPair(t, db, "m-1", "alice", "p1")
	seedPair(t, db, "m-2", "alice", "p2")

	candidates, err := ranker.RankCandidates(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("requester at cap must get an empty list, got %v", candidateIDs(candidates))
	}
}

func TestRankCandidatesWarmsRequesterCountCache(t *testing.T) {
	ranker, db, mini := newCachedTestRanker(t)
	base := fullAnswers()
	seedProfile(t, db, "alice", true, base)
	seedProfile(t, db, "eligible", true, base)

	if _, err := ranker.RankCandidates(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cached, err := mini.Get("matches:count:alice")
	if err != nil {
		t.Fatalf("ranking must populate the requester's count cache: %v", err)
	}
	if cached != "0" {
		t.Fatalf("unexpected cached count %q", cached)
	}
}

func TestRankCandidatesReadsRequesterCountFromCache(t *testing.T) {
	ranker, db, mini := newCachedTestRanker(t)
	base := fullAnswers()
	seedProfile(t, db, "alice", true, base)
	seedProfile(t, db, "eligible", true, base)

	// No matches exist in the store; only the cache says alice is full.
	if err := mini.Set("matches:count:alice", "2"); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
	mini.SetTTL("matches:count:alice", time.Minute)

	candidates, err := ranker.RankCandidates(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("cached cap must short-circuit ranking, got %v", candidateIDs(candidates))
	}
}

func candidateIDs(candidates []Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.UserID)
	}
	return ids
}
