package compat

import (
	"math"

	"github.com/nestmatelabs/nestmate/internal/profile"
)

const maxRawScore = 10

// Result is the outcome of scoring one candidate pair.
type Result struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// Score computes the compatibility between two answer sets on a 0-100
// scale plus the human-readable reasons for every triggered rule, in a
// fixed order. Unanswered fields (zero values) contribute nothing.
// Score is pure and symmetric: Score(a, b) == Score(b, a).
func Score(a, b profile.Answers) Result {
	rawScore := 0
	reasons := make([]string, 0, 5)

	if a.Cleanliness >= 1 && b.Cleanliness >= 1 {
		switch diff := absInt(a.Cleanliness - b.Cleanliness); diff {
		case 0:
			rawScore += 3
			reasons = append(reasons, "Both have the same cleanliness level.")
		case 1:
			rawScore += 1
			reasons = append(reasons, "Cleanliness levels are close.")
		}
	}

	if a.SleepSchedule != "" && a.SleepSchedule == b.SleepSchedule {
		rawScore += 3
		reasons = append(reasons, "Both have the same sleep schedule.")
	}

	if a.Diet != "" && a.Diet == b.Diet {
		rawScore += 2
		reasons = append(reasons, "Both follow the same diet.")
	}

	if a.NoiseTolerance != "" && a.NoiseTolerance == b.NoiseTolerance {
		rawScore += 1
		reasons = append(reasons, "Both have the same noise tolerance level.")
	}

	if a.Goal != "" && a.Goal == b.Goal {
		rawScore += 1
		reasons = append(reasons, "Both share similar goals.")
	}

	return Result{
		Score:   int(math.Round(float64(rawScore) / maxRawScore * 100)),
		Reasons: reasons,
	}
}

func absInt(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
