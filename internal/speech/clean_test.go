package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello\n\tworld", "Hello world"},
		{"**bold** and `code`", "bold and code"},
		{"a | b | c", "a, b, c"},
		{"wait... what", "wait, what"},
		{"one -- two --- three", "one, two, three"},
		{"snake_case_name", "snake case name"},
		{"> quoted <tag>", "quoted tag"},
		{"empty () [] {} groups", "empty groups"},
		{"spaces   before , punctuation !", "spaces before, punctuation!"},
		{"double , , comma", "double, comma"},
		{"## Heading", "Heading"},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestHasArabic(t *testing.T) {
	assert.True(t, HasArabic("مرحبا"))
	assert.True(t, HasArabic("turn on المصباح"))
	assert.True(t, HasArabic(string(rune(0x06FF))))
	assert.False(t, HasArabic("hello"))
	assert.False(t, HasArabic("привет"))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank(" ,.! "))
	assert.False(t, IsBlank("ok"))
	assert.False(t, IsBlank("٣"))
}
