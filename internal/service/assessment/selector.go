package assessment

import (
	"hash/fnv"
	"math/rand"

	"github.com/trustwork/trustwork-core/internal/models"
)

// letters is the canonical option order before shuffling.
var letters = []string{models.LetterA, models.LetterB, models.LetterC, models.LetterD}

// seedFrom derives a deterministic PRNG seed from the attempt id. The same
// attempt always materializes the same question set and option order, so the
// selection survives resume.
func seedFrom(attemptID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(attemptID))
	return int64(h.Sum64())
}

// selectQuestions picks count distinct questions from the bank using the
// seeded pseudo-random permutation and shuffles each question's option order.
// The bank must already be in a stable order.
func selectQuestions(attemptID string, bank []models.Question, count int) []models.AttemptQuestion {
	rng := rand.New(rand.NewSource(seedFrom(attemptID)))
	perm := rng.Perm(len(bank))

	slots := make([]models.AttemptQuestion, 0, count)
	for ordinal := 0; ordinal < count; ordinal++ {
		q := bank[perm[ordinal]]
		slots = append(slots, models.AttemptQuestion{
			AttemptID:   attemptID,
			Ordinal:     ordinal,
			QuestionID:  q.ID,
			OptionOrder: shuffledOrder(rng),
		})
	}
	return slots
}

// shuffledOrder returns the four option letters in a random presentation
// order, encoded as a string like "CADB".
func shuffledOrder(rng *rand.Rand) string {
	order := make([]string, len(letters))
	copy(order, letters)
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	s := ""
	for _, l := range order {
		s += l
	}
	return s
}
