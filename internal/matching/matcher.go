package matching

import "time"

// rankNameWeight weights name similarity while ranking candidates. It is
// deliberately independent of the weight used for the final confidence.
const rankNameWeight = 0.7

// NoCandidatesExplanation is returned when the amount lookup produced no
// unpaid invoices for a transaction.
const NoCandidatesExplanation = "No candidate invoices found with matching amount"

// Candidate is an unpaid invoice whose amount equals the transaction amount.
type Candidate struct {
	ID            string
	InvoiceNumber string
	CustomerName  string
	DueDate       time.Time
}

// Input carries the transaction fields the matcher scores against.
type Input struct {
	Description     string
	TransactionDate time.Time
}

// Result is the matcher verdict for one transaction.
type Result struct {
	Outcome          Outcome
	Score            float64
	MatchedInvoiceID string
	InvoiceNumber    string
	Explanation      string
	Breakdown        Breakdown
	CandidateCount   int
}

// Match scores one transaction against its candidate set and classifies the
// best candidate. Candidates must already be filtered to unpaid invoices
// with the exact transaction amount. The function is pure: identical inputs
// produce identical results, and candidate order never changes the winner
// (ties break toward the smaller candidate id).
func Match(in Input, candidates []Candidate) Result {
	if len(candidates) == 0 {
		return Result{
			Outcome:     OutcomeUnmatched,
			Explanation: NoCandidatesExplanation,
		}
	}

	desc := Normalize(in.Description)

	winner := -1
	var winnerRank, winnerName float64
	var winnerDate int
	for i, c := range candidates {
		name := Similarity(desc, Normalize(c.CustomerName))
		date := DateProximityScore(in.TransactionDate, c.DueDate)
		rank := name*rankNameWeight + float64(date)

		better := winner < 0 || rank > winnerRank ||
			(rank == winnerRank && c.ID < candidates[winner].ID)
		if better {
			winner = i
			winnerRank = rank
			winnerName = name
			winnerDate = date
		}
	}

	score, outcome, breakdown := Combine(winnerName, winnerDate, len(candidates))
	res := Result{
		Outcome:        outcome,
		Score:          score,
		Explanation:    explain(outcome, breakdown, len(candidates)),
		Breakdown:      breakdown,
		CandidateCount: len(candidates),
	}
	if outcome != OutcomeUnmatched {
		res.MatchedInvoiceID = candidates[winner].ID
		res.InvoiceNumber = candidates[winner].InvoiceNumber
	}
	return res
}
