package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain name", "Acme Corporation", "ACME CORPORATION"},
		{"strips punctuation", "ACME, CORP. #123", "ACME CORP 123"},
		{"drops noise words", "PAYMENT FROM SMITH", "SMITH"},
		{"drops bank prefixes", "CHK DEP SMITH JOHN", "SMITH JOHN"},
		{"noise only", "ACH WIRE TRANSFER PENDING", ""},
		{"collapses whitespace", "  Global   Tech\tLLC  ", "GLOBAL TECH LLC"},
		{"keeps digits", "Invoice 2024-001", "INVOICE 2024 001"},
		{"non ascii becomes separator", "Café Münster", "CAF M NSTER"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"PAYMENT FROM SMITH",
		"Acme, Corp. & Sons",
		"CHK 1024 DEPOSIT JOHN SMITH",
		"",
		"plain",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
