// Package browser executes fill plans in a headless browser session and
// classifies submission outcomes.
package browser

import (
	"encoding/json"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/listpilot/listpilot/internal/domain/model"
)

// jmespathPrefix marks a marker that is a JMESPath expression evaluated
// against a JSON response body instead of a plain substring match.
const jmespathPrefix = "jmespath:"

// Verdict is the classifier's reading of one submission response.
type Verdict struct {
	Status model.ResultStatus
	// Marker is the success or error marker that matched, empty when the
	// outcome is ambiguous.
	Marker string
}

// Classify inspects a response body against the directory's known success
// and error markers. Error markers win over success markers: a page that
// renders both ("submission received" next to "error: duplicate listing")
// is a rejection dressed up politely. When neither side matches, the outcome
// is ambiguous and the result is queued for human review instead of being
// guessed.
func Classify(dir *model.Directory, body string) Verdict {
	var doc any
	isJSON := false
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		isJSON = json.Unmarshal([]byte(trimmed), &doc) == nil
	}

	if marker := firstMatch(dir.ErrorMarkers, body, doc, isJSON); marker != "" {
		return Verdict{Status: model.ResultStatusFailed, Marker: marker}
	}
	if marker := firstMatch(dir.SuccessMarkers, body, doc, isJSON); marker != "" {
		return Verdict{Status: model.ResultStatusSubmitted, Marker: marker}
	}
	return Verdict{Status: model.ResultStatusNeedsHuman}
}

func firstMatch(markers []string, body string, doc any, isJSON bool) string {
	lowerBody := strings.ToLower(body)
	for _, marker := range markers {
		if expr, ok := strings.CutPrefix(marker, jmespathPrefix); ok {
			if isJSON && evalJMESPath(expr, doc) {
				return marker
			}
			continue
		}
		if marker != "" && strings.Contains(lowerBody, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

// evalJMESPath returns true when the expression evaluates to a truthy value
// against the parsed JSON document. A broken expression never matches.
func evalJMESPath(expr string, doc any) bool {
	result, err := jmespath.Search(expr, doc)
	if err != nil || result == nil {
		return false
	}
	switch v := result.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
