package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultParameter replaces an empty parameter in the line variant.
	DefaultParameter = "Desconhecido"
	// DefaultValue replaces a missing value in the line variant.
	DefaultValue = "N/A"
)

// ParseStructured parses schema-constrained model output. It tries the text
// as-is, then with code fences or surrounding prose removed, then falls back
// to pattern recovery. Zero records is a KindUnprocessable error.
func ParseStructured(text string) ([]ExamResult, Outcome, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", &Error{Kind: KindUnprocessable, Message: "empty model output"}
	}

	if results, err := decodeExams(trimmed); err == nil {
		return results, OutcomeClean, nil
	}

	for _, candidate := range []string{stripCodeFences(trimmed), extractJSONCandidate(trimmed)} {
		if candidate == "" || candidate == trimmed {
			continue
		}
		if results, err := decodeExams(candidate); err == nil {
			return results, OutcomeUnwrapped, nil
		}
	}

	results := RecoverExams(trimmed)
	if len(results) == 0 {
		return nil, "", &Error{Kind: KindUnprocessable, Message: "no exam records could be parsed from model output"}
	}
	return results, OutcomeRecovered, nil
}

// decodeExams accepts {"exams": [...]} or a bare array, validated against the schema.
func decodeExams(candidate string) ([]ExamResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, err
	}
	if arr, ok := doc.([]any); ok {
		doc = map[string]any{"exams": arr}
	}
	if err := validateEnvelope(doc); err != nil {
		return nil, err
	}

	// Re-decode the validated document into typed records.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var env examsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return normalizeAll(env.Exams), nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return ""
	}

	body := trimmed[start+3:]
	// Drop the language tag line (```json).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return ""
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// extractJSONCandidate cuts the outermost object or array out of surrounding prose.
func extractJSONCandidate(content string) string {
	objectStart := strings.IndexByte(content, '{')
	arrayStart := strings.IndexByte(content, '[')

	start, closeChar := -1, byte(0)
	switch {
	case objectStart >= 0 && (arrayStart < 0 || objectStart < arrayStart):
		start, closeChar = objectStart, '}'
	case arrayStart >= 0:
		start, closeChar = arrayStart, ']'
	default:
		return ""
	}

	end := strings.LastIndexByte(content, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

var (
	parameterKey = regexp.MustCompile(`"parameter"\s*:`)
	fieldPattern = map[string]*regexp.Regexp{
		"parameter": regexp.MustCompile(`"parameter"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		"value":     regexp.MustCompile(`"value"\s*:\s*(?:"((?:[^"\\]|\\.)*)"|(-?\d+(?:\.\d+)?))`),
		"unit":      regexp.MustCompile(`"unit"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	}
)

// RecoverExams salvages records from malformed or truncated JSON. The text is
// split into one segment per "parameter" key, each starting at the brace that
// opens its object. A segment yields a record when both parameter and value
// are complete; a missing unit becomes "".
func RecoverExams(text string) []ExamResult {
	locs := parameterKey.FindAllStringIndex(text, -1)
	starts := make([]int, len(locs))
	for i, loc := range locs {
		lower := 0
		if i > 0 {
			lower = locs[i-1][1]
		}
		starts[i] = loc[0]
		if open := strings.LastIndexByte(text[lower:loc[0]], '{'); open >= 0 {
			starts[i] = lower + open
		}
	}

	var results []ExamResult
	for i := range locs {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		segment := text[starts[i]:end]

		param, ok := matchString(fieldPattern["parameter"], segment)
		if !ok {
			continue
		}
		value, ok := matchValue(segment)
		if !ok {
			continue
		}
		unit, _ := matchString(fieldPattern["unit"], segment)

		if r, keep := normalize(ExamResult{Parameter: param, Value: value, Unit: unit}); keep {
			results = append(results, r)
		}
	}
	return results
}

func matchString(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return unescape(m[1]), true
}

func matchValue(s string) (string, bool) {
	m := fieldPattern["value"].FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if m[2] != "" {
		return m[2], true
	}
	return unescape(m[1]), true
}

func unescape(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

// ParseLines parses "Parameter: Value" lines. Blank lines are dropped, each
// line is split on its first colon, empty parameters become "Desconhecido"
// and missing values "N/A". Values are kept as the model wrote them.
func ParseLines(text string) []ExamResult {
	var results []ExamResult
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		param, value, _ := strings.Cut(line, ":")
		param = strings.TrimSpace(param)
		value = strings.TrimSpace(value)
		if param == "" {
			param = DefaultParameter
		}
		if value == "" {
			value = DefaultValue
		}
		results = append(results, ExamResult{
			Parameter: norm.NFC.String(param),
			Value:     value,
		})
	}
	return results
}

var decimalComma = regexp.MustCompile(`^-?\d+,\d+$`)

// normalize trims fields, applies NFC to the parameter and converts a lone
// decimal comma. Records with neither parameter nor value are dropped.
func normalize(r ExamResult) (ExamResult, bool) {
	r.Parameter = norm.NFC.String(strings.TrimSpace(r.Parameter))
	r.Value = strings.TrimSpace(r.Value)
	r.Unit = strings.TrimSpace(r.Unit)
	if decimalComma.MatchString(r.Value) {
		r.Value = strings.Replace(r.Value, ",", ".", 1)
	}
	return r, r.Parameter != "" || r.Value != ""
}

func normalizeAll(in []ExamResult) []ExamResult {
	out := make([]ExamResult, 0, len(in))
	for _, r := range in {
		if n, keep := normalize(r); keep {
			out = append(out, n)
		}
	}
	return out
}

// RenderRawText renders results as "parameter: value[ unit]" lines.
func RenderRawText(results []ExamResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		line := r.Parameter + ": " + r.Value
		if r.Unit != "" {
			line += " " + r.Unit
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
