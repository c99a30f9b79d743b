package sentence_test

import (
	"strings"
	"testing"

	"github.com/loqalabs/loqa-reader/internal/sentence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: []string{}},
		{name: "whitespace only", input: " \n\t ", want: []string{}},
		{name: "no terminator", input: "Hello world", want: []string{"Hello world"}},
		{name: "mixed terminators", input: "Hi! How are you? Fine.", want: []string{"Hi!", "How are you?", "Fine."}},
		{name: "no spaces", input: "a.b.c.", want: []string{"a.", "b.", "c."}},
		{name: "terminator runs stay attached", input: "Wait... What?! Ok.", want: []string{"Wait...", "What?!", "Ok."}},
		{name: "full-width terminators", input: "你好。你好吗？很好！", want: []string{"你好。", "你好吗？", "很好！"}},
		{name: "whitespace collapsed", input: "  One\n\n  two.   Three\tfour.  ", want: []string{"One two.", "Three four."}},
		{name: "trailing fragment dropped", input: "First. second part", want: []string{"First."}},
		{name: "unterminated tail after sentence", input: "Hello there. and more", want: []string{"Hello there."}},
		{name: "terminators only", input: "?!.", want: []string{"?!."}},
		{name: "leading terminators dropped", input: "...Go on.", want: []string{"Go on."}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, sentence.Split(tc.input))
		})
	}
}

func TestSplitIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Hi! How are you? Fine.",
		"a.b.c.",
		"One sentence without an end",
		"Done. then a tail",
		"Mixed。 full-width！ and ascii? yes.",
		"  lots   of\nspace.  here  ",
	}
	for _, input := range inputs {
		first := sentence.Split(input)
		second := sentence.Split(strings.Join(first, " "))
		require.Equal(t, first, second, "input %q", input)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", sentence.Normalize("\ta   b\n\nc "))
	assert.Equal(t, "", sentence.Normalize("   "))
}
