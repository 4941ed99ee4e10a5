package compat

import (
	"reflect"
	"testing"

	"github.com/nestmatelabs/nestmate/internal/profile"
)

func fullAnswers() profile.Answers {
	return profile.Answers{
		Cleanliness:    4,
		SleepSchedule:  "early",
		Diet:           "veg",
		NoiseTolerance: "low",
		Goal:           "college",
	}
}

func TestScoreIdenticalAnswersIsFull(t *testing.T) {
	answers := fullAnswers()
	result := Score(answers, answers)
	if result.Score != 100 {
		t.Fatalf("expected score 100, got %d", result.Score)
	}
	if len(result.Reasons) != 5 {
		t.Fatalf("expected 5 reasons, got %d: %v", len(result.Reasons), result.Reasons)
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	first := fullAnswers()
	second := profile.Answers{
		Cleanliness:    3,
		SleepSchedule:  "late",
		Diet:           "veg",
		NoiseTolerance: "low",
		Goal:           "job",
	}
	forward := Score(first, second)
	backward := Score(second, first)
	if forward.Score != backward.Score {
		t.Fatalf("score not symmetric: %d vs %d", forward.Score, backward.Score)
	}
	if !reflect.DeepEqual(forward.Reasons, backward.Reasons) {
		t.Fatalf("reasons not symmetric: %v vs %v", forward.Reasons, backward.Reasons)
	}
}

func TestScorePartialOverlap(t *testing.T) {
	first := fullAnswers()
	second := profile.Answers{
		Cleanliness:    4,
		SleepSchedule:  "early",
		Diet:           "veg",
		NoiseTolerance: "high",
		Goal:           "job",
	}

	result := Score(first, second)
	if result.Score != 80 {
		t.Fatalf("expected score 80, got %d", result.Score)
	}
	expectedReasons := []string{
		"Both have the same cleanliness level.",
		"Both have the same sleep schedule.",
		"Both follow the same diet.",
	}
	if !reflect.DeepEqual(result.Reasons, expectedReasons) {
		t.Fatalf("unexpected reasons: %v", result.Reasons)
	}
}

func TestScoreCloseCleanlinessEarnsPartialCredit(t *testing.T) {
	first := profile.Answers{Cleanliness: 3}
	second := profile.Answers{Cleanliness: 4}

	result := Score(first, second)
	if result.Score != 10 {
		t.Fatalf("expected score 10, got %d", result.Score)
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != "Cleanliness levels are close." {
		t.Fatalf("unexpected reasons: %v", result.Reasons)
	}
}

func TestScoreDistantCleanlinessEarnsNothing(t *testing.T) {
	result := Score(profile.Answers{Cleanliness: 1}, profile.Answers{Cleanliness: 4})
	if result.Score != 0 {
		t.Fatalf("expected score 0, got %d", result.Score)
	}
	if len(result.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", result.Reasons)
	}
}

func TestScoreSkipsUnansweredFields(t *testing.T) {
	result := Score(profile.Answers{}, profile.Answers{})
	if result.Score != 0 {
		t.Fatalf("two empty answer sets must not match, got score %d", result.Score)
	}
	if len(result.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", result.Reasons)
	}
}

func TestScoreStaysWithinBounds(t *testing.T) {
	answerSets := []profile.Answers{
		{},
		{Cleanliness: 5},
		{Cleanliness: 1, SleepSchedule: "late"},
		fullAnswers(),
		{SleepSchedule: "flexible", Diet: "non-veg", NoiseTolerance: "medium", Goal: "entrance-exam"},
	}
	for _, first := range answerSets {
		for _, second := range answerSets {
			result := Score(first, second)
			if result.Score < 0 || result.Score > 100 {
				t.Fatalf("score out of range for %v vs %v: %d", first, second, result.Score)
			}
		}
	}
}
