package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fencedResponse = "Here is my assessment.\n\n```json\n{\"decision\": \"RECOMMEND\", \"comparison_rows\": [{\"Criterion\": \"Leadership\", \"Primary Score\": 4, \"Final\": 3, \"Reason\": \"attribution\"}]}\n```\n\nThe candidate shows strong strategic thinking.\n\nFinal Recommendation: RECOMMEND"

func TestExtractDecision_FencedJSON(t *testing.T) {
	sd, narrative := ExtractDecision(fencedResponse)

	require.NotNil(t, sd)
	assert.Equal(t, "RECOMMEND", sd.Decision)
	require.Len(t, sd.ComparisonRows, 1)
	assert.Equal(t, "Leadership", sd.ComparisonRows[0]["Criterion"])

	// Narrative is the response with the fenced block removed, trimmed.
	assert.NotContains(t, narrative, "```")
	assert.NotContains(t, narrative, "comparison_rows")
	assert.Contains(t, narrative, "Here is my assessment.")
	assert.Contains(t, narrative, "Final Recommendation: RECOMMEND")
}

func TestExtractDecision_FencedWithoutLanguageTag(t *testing.T) {
	text := "Intro.\n```\n{\"decision\": \"BORDERLINE\", \"comparison_rows\": []}\n```\nOutro."
	sd, narrative := ExtractDecision(text)

	require.NotNil(t, sd)
	assert.Equal(t, "BORDERLINE", sd.Decision)
	assert.Empty(t, sd.ComparisonRows)
	assert.Equal(t, "Intro.\n\nOutro.", narrative)
}

func TestExtractDecision_ClosingFenceOnSameLine(t *testing.T) {
	text := "Lead-in.\n```json\n{\"decision\": \"RECOMMEND\", \"comparison_rows\": []}```\nTail."
	sd, narrative := ExtractDecision(text)

	require.NotNil(t, sd)
	assert.Equal(t, "RECOMMEND", sd.Decision)
	assert.NotContains(t, narrative, "```")
	assert.Contains(t, narrative, "Lead-in.")
	assert.Contains(t, narrative, "Tail.")
}

func TestExtractDecision_BareBraceSpan(t *testing.T) {
	text := "Summary first.\n{\"decision\": \"DO NOT RECOMMEND\", \"comparison_rows\": [{\"Criterion\": \"Impact\"}]}\nTrailing narrative."
	sd, narrative := ExtractDecision(text)

	require.NotNil(t, sd)
	assert.Equal(t, "DO NOT RECOMMEND", sd.Decision)
	assert.Contains(t, narrative, "Summary first.")
	assert.Contains(t, narrative, "Trailing narrative.")
	assert.NotContains(t, narrative, "comparison_rows")
}

func TestExtractDecision_BraceInsideStringIgnored(t *testing.T) {
	text := `{"decision": "RECOMMEND { with caveats }", "comparison_rows": []}`
	sd, _ := ExtractDecision(text)

	require.NotNil(t, sd)
	assert.Equal(t, "RECOMMEND { with caveats }", sd.Decision)
}

func TestExtractDecision_NoJSON(t *testing.T) {
	text := "  Plain narrative with no structure.\n\nFinal Recommendation: BORDERLINE  "
	sd, narrative := ExtractDecision(text)

	assert.Nil(t, sd)
	assert.Equal(t, "Plain narrative with no structure.\n\nFinal Recommendation: BORDERLINE", narrative)
}

func TestExtractDecision_MalformedJSONDegrades(t *testing.T) {
	text := "```json\n{\"decision\": \"RECOMMEND\", \"comparison_rows\": [unclosed\n```\nNarrative."
	sd, narrative := ExtractDecision(text)

	assert.Nil(t, sd)
	// Degrades to the entire raw response.
	assert.Contains(t, narrative, "unclosed")
	assert.Contains(t, narrative, "Narrative.")
}

func TestExtractDecision_SchemaMismatchDegrades(t *testing.T) {
	// decision must be a string, comparison_rows an array.
	text := "```json\n{\"decision\": 42, \"comparison_rows\": {}}\n```"
	sd, _ := ExtractDecision(text)
	assert.Nil(t, sd)

	text = "```json\n{\"decision\": \"RECOMMEND\"}\n```"
	sd, _ = ExtractDecision(text)
	assert.Nil(t, sd)
}

func TestExtractDecision_TotalOnArbitraryInput(t *testing.T) {
	for _, input := range []string{
		"",
		"{",
		"}{",
		"{{{{",
		"```json\n```",
		"```json\nnull\n```",
		`{"decision": "x"`,
		"\x00\xff binary garbage {\"decision\"",
	} {
		assert.NotPanics(t, func() {
			ExtractDecision(input)
		}, "input %q", input)
	}
}
