package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "   ", want: ""},
		{name: "short token", input: "abcd", want: "****"},
		{name: "keeps last four", input: "supersecrettoken", want: "****oken"},
		{name: "keeps prefix", input: "vm_live_abcdef123456", want: "vm_live_****3456"},
		{name: "short remainder after prefix", input: "vm_abc", want: "vm_****"},
		{name: "trailing underscore", input: "token_", want: "****ken_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecret(tt.input))
		})
	}
}
