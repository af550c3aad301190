package humanize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborwave/humanizer/internal/domain"
)

func TestParse_Literal(t *testing.T) {
	tmpl := Parse("hello there")
	assert.True(t, tmpl.IsValid)
	assert.Empty(t, tmpl.Blocks)
	assert.Equal(t, 1, tmpl.TotalCombinations)
}

func TestParse_VariationBlock(t *testing.T) {
	tmpl := Parse("Hi there|friend!")
	require.True(t, tmpl.IsValid)
	require.Len(t, tmpl.Blocks, 1)
	assert.Equal(t, []string{"there", "friend!"}, tmpl.Blocks[0].Options)
}

func TestParse_Variable(t *testing.T) {
	tmpl := Parse("Hi {{first_name}}!")
	require.True(t, tmpl.IsValid)
	require.Empty(t, tmpl.Blocks)
	assert.Equal(t, []string{"first_name"}, tmpl.VariableNames)
}

func TestParse_MixedBlocksAndVariables(t *testing.T) {
	tmpl := Parse("Hey|Hi {{first_name}}, are-you-free|got-a-minute?")
	require.True(t, tmpl.IsValid)
	require.Len(t, tmpl.Blocks, 2)
	assert.Equal(t, []string{"first_name"}, tmpl.VariableNames)
}

func TestParse_OffsetsAreCodePointIndices(t *testing.T) {
	raw := "café hi|hey there"
	tmpl := Parse(raw)
	require.True(t, tmpl.IsValid)
	require.Len(t, tmpl.Blocks, 1)
	runes := []rune(raw)
	b := tmpl.Blocks[0]
	assert.Equal(t, "hi|hey", string(runes[b.StartOffset:b.EndOffset]))
}

func TestParse_EmptyTemplate(t *testing.T) {
	tmpl := Parse("   ")
	assert.True(t, tmpl.IsValid)
	require.NotEmpty(t, tmpl.Warnings)
	assert.Equal(t, domain.IssueNoVariations, tmpl.Warnings[0].Kind)
}

func TestParse_InsufficientVariations(t *testing.T) {
	tmpl := Parse("bad|")
	require.False(t, tmpl.IsValid)
	require.NotEmpty(t, tmpl.Errors)
	assert.Equal(t, domain.IssueInsufficientVariations, tmpl.Errors[0].Kind)
}

func TestParse_TooManyVariations(t *testing.T) {
	tmpl := Parse("a|b|c|d|e|f|g|h|i|j|k")
	require.False(t, tmpl.IsValid)
	assert.Equal(t, domain.IssueTooManyVariations, tmpl.Errors[0].Kind)
}

func TestParse_TooManyBlocks(t *testing.T) {
	raw := ""
	for i := 0; i < 25; i++ {
		raw += "a|b "
	}
	tmpl := Parse(raw)
	require.False(t, tmpl.IsValid)
	found := false
	for _, e := range tmpl.Errors {
		if e.Kind == domain.IssueTooManyBlocks {
			found = true
		}
	}
	assert.True(t, found)
	assert.LessOrEqual(t, len(tmpl.Blocks), maxBlocks)
}

func TestParse_OptionTooLong(t *testing.T) {
	long := ""
	for i := 0; i < 501; i++ {
		long += "x"
	}
	tmpl := Parse(long + "|short")
	require.False(t, tmpl.IsValid)
	assert.Equal(t, domain.IssueOptionTooLong, tmpl.Errors[0].Kind)
}

func TestParse_DuplicateVariations(t *testing.T) {
	tmpl := Parse("hi|hi there")
	require.True(t, tmpl.IsValid)
	require.NotEmpty(t, tmpl.Warnings)
	assert.Equal(t, domain.IssueDuplicateVariations, tmpl.Warnings[0].Kind)
}

func TestParse_EmptyVariationsDropped(t *testing.T) {
	tmpl := Parse("hi||there")
	require.True(t, tmpl.IsValid)
	require.Len(t, tmpl.Blocks, 1)
	assert.Equal(t, []string{"hi", "there"}, tmpl.Blocks[0].Options)
	require.NotEmpty(t, tmpl.Warnings)
	assert.Equal(t, domain.IssueEmptyVariations, tmpl.Warnings[0].Kind)
}

func TestParse_NoStaticText(t *testing.T) {
	tmpl := Parse("hi|there")
	require.True(t, tmpl.IsValid)
	require.NotEmpty(t, tmpl.Warnings)
	assert.Equal(t, domain.IssueNoStaticText, tmpl.Warnings[0].Kind)
}

func TestParse_NeverErrors(t *testing.T) {
	inputs := []string{"", "   ", "|||", "\t\n", "a|b|c", "{{}}", "{{unterminated"}
	for _, raw := range inputs {
		raw := raw
		assert.NotPanics(t, func() { Parse(raw) })
	}
}

func TestParse_PreservesRaw(t *testing.T) {
	raw := "Hi {{name}}, welcome|hello!"
	tmpl := Parse(raw)
	assert.Equal(t, raw, tmpl.Raw)
	assert.IsType(t, domain.Template{}, tmpl)
}

func TestParse_Deterministic(t *testing.T) {
	raw := "Morning|Afternoon {{name}}, quick-one|got-a-sec?"
	a := Parse(raw)
	b := Parse(raw)
	assert.Equal(t, a, b)
}
