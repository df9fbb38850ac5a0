package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"only newlines", "\n\n\n", nil},
		{"trailing newline", "a\nb\n", []string{"a", "b"}},
		{"no trailing newline", "a\nb", []string{"a", "b"}},
		{"blank lines skipped", "a\n\nb\n\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lines(tt.in))
		})
	}
}

func TestLast(t *testing.T) {
	lines := []string{"1", "2", "3"}

	assert.Nil(t, Last(lines, 0))
	assert.Equal(t, []string{"3"}, Last(lines, 1))
	assert.Equal(t, lines, Last(lines, 3))
	assert.Equal(t, lines, Last(lines, 10))
}
