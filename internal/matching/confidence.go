package matching

import "fmt"

// Outcome is the system classification of one bank transaction.
type Outcome string

const (
	OutcomeAutoMatched Outcome = "auto_matched"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeUnmatched   Outcome = "unmatched"
)

// Classification thresholds on the final confidence score.
const (
	autoMatchThreshold = 95.0
	reviewThreshold    = 60.0
)

// nameWeight is the weight of name similarity in the final confidence. The
// ranking weight in the matcher is independent of it.
const nameWeight = 1.0

// Breakdown explains how a confidence score was assembled. It is persisted
// verbatim inside match_details.
type Breakdown struct {
	RawName      float64 `json:"raw_name"`
	WeightedName float64 `json:"weighted_name"`
	Date         int     `json:"date"`
	Ambiguity    int     `json:"ambiguity"`
	RawTotal     float64 `json:"raw_total"`
}

// AmbiguityPenalty grows with the number of candidates competing for the
// same amount: a single candidate is trusted, a crowd is not.
func AmbiguityPenalty(candidateCount int) int {
	switch {
	case candidateCount <= 1:
		return 0
	case candidateCount == 2:
		return 5
	default:
		return 10
	}
}

// Combine merges the name similarity, date proximity score and ambiguity
// penalty into the final confidence score, clamped to [0, 100] and rounded
// to two decimals, then classifies it against the thresholds.
func Combine(nameScore float64, dateScore, candidateCount int) (float64, Outcome, Breakdown) {
	penalty := AmbiguityPenalty(candidateCount)
	raw := nameScore*nameWeight + float64(dateScore) - float64(penalty)

	score := raw
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	score = round2(score)

	var outcome Outcome
	switch {
	case score >= autoMatchThreshold:
		outcome = OutcomeAutoMatched
	case score >= reviewThreshold:
		outcome = OutcomeNeedsReview
	default:
		outcome = OutcomeUnmatched
	}

	breakdown := Breakdown{
		RawName:      nameScore,
		WeightedName: round2(nameScore * nameWeight),
		Date:         dateScore,
		Ambiguity:    penalty,
		RawTotal:     round2(raw),
	}
	return score, outcome, breakdown
}

func explain(outcome Outcome, b Breakdown, candidateCount int) string {
	switch outcome {
	case OutcomeAutoMatched:
		return fmt.Sprintf("High confidence: name similarity %.2f, date score %d, %d candidate(s)", b.RawName, b.Date, candidateCount)
	case OutcomeNeedsReview:
		return fmt.Sprintf("Needs review: name similarity %.2f, date score %d, %d candidate(s)", b.RawName, b.Date, candidateCount)
	default:
		return fmt.Sprintf("No acceptable candidate: best name similarity %.2f, date score %d, %d candidate(s)", b.RawName, b.Date, candidateCount)
	}
}
