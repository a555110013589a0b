package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// StructuredDecision is the machine-parseable block the decision agent is
// asked to emit ahead of its narrative.
type StructuredDecision struct {
	Decision       string           `json:"decision"`
	ComparisonRows []map[string]any `json:"comparison_rows"`
}

// decisionSchema gates extracted blocks: a block that parses as JSON but
// does not match this shape degrades to narrative-only.
const decisionSchema = `{
	"type": "object",
	"required": ["decision", "comparison_rows"],
	"properties": {
		"decision": {"type": "string"},
		"comparison_rows": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

// The newline before the closing fence is optional: models sometimes end
// the block right after the JSON.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)\\s*```")

// ExtractDecision splits a decision response into a structured decision
// and narrative text. It is total: for any input it returns a (possibly
// nil) structured decision and a narrative, never an error.
//
// A fenced JSON block takes priority; when none parses, the largest
// balanced-brace span containing both marker keys is tried. If neither
// yields a schema-valid object, the structured decision is nil and the
// narrative is the entire raw response.
func ExtractDecision(text string) (*StructuredDecision, string) {
	for _, m := range fencedBlockRe.FindAllStringSubmatchIndex(text, -1) {
		candidate := text[m[2]:m[3]]
		if sd := parseDecision(candidate); sd != nil {
			narrative := strings.TrimSpace(text[:m[0]] + text[m[1]:])
			return sd, narrative
		}
	}

	if span, ok := largestBraceSpan(text); ok {
		if sd := parseDecision(text[span[0]:span[1]]); sd != nil {
			narrative := strings.TrimSpace(text[:span[0]] + text[span[1]:])
			return sd, narrative
		}
	}

	return nil, strings.TrimSpace(text)
}

// parseDecision returns the structured decision when candidate is valid
// JSON matching the decision schema, nil otherwise.
func parseDecision(candidate string) *StructuredDecision {
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") {
		return nil
	}

	docLoader := gojsonschema.NewStringLoader(candidate)
	schemaLoader := gojsonschema.NewStringLoader(decisionSchema)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil || !result.Valid() {
		return nil
	}

	var sd StructuredDecision
	if err := json.Unmarshal([]byte(candidate), &sd); err != nil {
		return nil
	}
	if sd.ComparisonRows == nil {
		sd.ComparisonRows = []map[string]any{}
	}
	return &sd
}

// largestBraceSpan finds the largest balanced-brace span that contains
// both marker keys. Braces inside JSON strings are skipped.
func largestBraceSpan(text string) ([2]int, bool) {
	var best [2]int
	found := false

	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end, ok := matchBrace(text, start)
		if !ok {
			continue
		}
		span := text[start : end+1]
		if !strings.Contains(span, `"decision"`) || !strings.Contains(span, `"comparison_rows"`) {
			continue
		}
		if !found || (end+1-start) > (best[1]-best[0]) {
			best = [2]int{start, end + 1}
			found = true
		}
	}
	return best, found
}

// matchBrace returns the index of the brace closing the one at start.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
