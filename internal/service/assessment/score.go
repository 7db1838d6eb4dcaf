package assessment

import (
	"math"

	"github.com/trustwork/trustwork-core/internal/models"
)

// Score computes the final integer percentage for a materialized question
// set. It is a pure function of the slots and their loaded questions:
// replaying it over the same answers yields the same score.
func Score(slots []models.AttemptQuestion) int {
	if len(slots) == 0 {
		return 0
	}
	correct := 0
	for _, slot := range slots {
		if slot.ChosenLetter != nil && *slot.ChosenLetter == slot.Question.CorrectLetter {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(len(slots))))
}

// passes reports whether score clears the fraction threshold.
func passes(score int, fraction float64) bool {
	return float64(score) >= 100*fraction
}
