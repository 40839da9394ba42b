package matching

import "strings"

// noiseWords are banking boilerplate tokens stripped before comparing names.
// The set is closed; entries are compared after uppercasing.
var noiseWords = map[string]struct{}{
	"PAYMENT":    {},
	"DEPOSIT":    {},
	"TRANSFER":   {},
	"WITHDRAWAL": {},
	"CREDIT":     {},
	"DEBIT":      {},
	"CHK":        {},
	"CHECK":      {},
	"CHEQUE":     {},
	"ACH":        {},
	"WIRE":       {},
	"EFT":        {},
	"ONLINE":     {},
	"ELECTRONIC": {},
	"EBANK":      {},
	"INTERNET":   {},
	"MOBILE":     {},
	"PMT":        {},
	"DEP":        {},
	"TRF":        {},
	"TXN":        {},
	"REF":        {},
	"POS":        {},
	"FROM":       {},
	"TO":         {},
	"FOR":        {},
	"THE":        {},
	"AND":        {},
	"PENDING":    {},
	"CLEARED":    {},
	"POSTED":     {},
	"MEMO":       {},
}

// Normalize canonicalizes free-form text (bank descriptions, customer names)
// into an uppercase token stream joined by single spaces. Everything outside
// A-Z and 0-9 becomes a separator, empty tokens and noise words are dropped.
// Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	up := strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(up))
	for _, r := range up {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, noise := noiseWords[tok]; noise {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}
