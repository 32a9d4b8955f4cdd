package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseStructured(t *testing.T) {
	want := []ExamResult{
		{Parameter: "Glicose", Value: "95", Unit: "mg/dL"},
		{Parameter: "Hemoglobina", Value: "13.5", Unit: "g/dL"},
	}
	envelope := `{"exams":[{"parameter":"Glicose","value":"95","unit":"mg/dL"},{"parameter":"Hemoglobina","value":"13.5","unit":"g/dL"}]}`

	tests := []struct {
		name    string
		text    string
		outcome Outcome
	}{
		{"clean envelope", envelope, OutcomeClean},
		{"clean with whitespace", "\n  " + envelope + "\n", OutcomeClean},
		{"code fence", "```json\n" + envelope + "\n```", OutcomeUnwrapped},
		{"bare fence", "```\n" + envelope + "\n```", OutcomeUnwrapped},
		{"prose wrapped", "Aqui estão os resultados:\n" + envelope + "\nEspero ter ajudado.", OutcomeUnwrapped},
		{"bare array", `[{"parameter":"Glicose","value":"95","unit":"mg/dL"},{"parameter":"Hemoglobina","value":"13.5","unit":"g/dL"}]`, OutcomeClean},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome, err := ParseStructured(tt.text)
			if err != nil {
				t.Fatalf("ParseStructured() error = %v", err)
			}
			if outcome != tt.outcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.outcome)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("results = %+v, want %+v", got, want)
			}
		})
	}
}

func TestParseStructured_EmptyExams(t *testing.T) {
	got, outcome, err := ParseStructured(`{"exams":[]}`)
	if err != nil {
		t.Fatalf("ParseStructured() error = %v", err)
	}
	if outcome != OutcomeClean {
		t.Errorf("outcome = %q, want clean", outcome)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestParseStructured_TruncatedRecovery(t *testing.T) {
	text := `{"exams":[{"parameter":"Glicose","value":"95","unit":"mg/dL"},{"parameter":"Hemo`

	got, outcome, err := ParseStructured(text)
	if err != nil {
		t.Fatalf("ParseStructured() error = %v", err)
	}
	if outcome != OutcomeRecovered {
		t.Errorf("outcome = %q, want recovered", outcome)
	}
	if !outcome.Degraded() {
		t.Error("recovered outcome should be degraded")
	}
	want := []ExamResult{{Parameter: "Glicose", Value: "95", Unit: "mg/dL"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("results = %+v, want %+v", got, want)
	}
}

func TestParseStructured_SchemaMismatchFallsBack(t *testing.T) {
	// unit is missing, so schema validation fails and recovery fills "".
	text := `{"exams":[{"parameter":"TSH","value":2.1}]}`

	got, outcome, err := ParseStructured(text)
	if err != nil {
		t.Fatalf("ParseStructured() error = %v", err)
	}
	if outcome != OutcomeRecovered {
		t.Errorf("outcome = %q, want recovered", outcome)
	}
	want := []ExamResult{{Parameter: "TSH", Value: "2.1", Unit: ""}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("results = %+v, want %+v", got, want)
	}
}

func TestParseStructured_Unprocessable(t *testing.T) {
	for _, text := range []string{"", "   ", "Não consegui ler o documento.", `{"exams":[{"parameter":`} {
		_, _, err := ParseStructured(text)
		if err == nil {
			t.Fatalf("ParseStructured(%q) expected error", text)
		}
		if KindOf(err) != KindUnprocessable {
			t.Errorf("ParseStructured(%q) kind = %q, want %q", text, KindOf(err), KindUnprocessable)
		}
	}
}

func TestRecoverExams(t *testing.T) {
	text := `garbage {"value": "7,2", "parameter": "Ureia", "unit": "mg/dL"}, {"parameter": "Sódio \"Na\"", "value": 140} {"parameter": "Potássio"`

	got := RecoverExams(text)
	want := []ExamResult{
		{Parameter: "Ureia", Value: "7.2", Unit: "mg/dL"},
		{Parameter: `Sódio "Na"`, Value: "140", Unit: ""},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RecoverExams() = %+v, want %+v", got, want)
	}
}

func TestParseLines(t *testing.T) {
	text := "Glicose: 95\n\n  \nHemoglobina: 13,5\nMalformedLine\n: 42\nVHS: \nHora: 10:30"

	got := ParseLines(text)
	want := []ExamResult{
		{Parameter: "Glicose", Value: "95"},
		{Parameter: "Hemoglobina", Value: "13,5"},
		{Parameter: "MalformedLine", Value: DefaultValue},
		{Parameter: DefaultParameter, Value: "42"},
		{Parameter: "VHS", Value: DefaultValue},
		{Parameter: "Hora", Value: "10:30"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseLines() = %+v, want %+v", got, want)
	}
}

func TestParseLines_Empty(t *testing.T) {
	if got := ParseLines(" \n\n"); len(got) != 0 {
		t.Errorf("ParseLines() = %+v, want empty", got)
	}
}

func TestNormalize(t *testing.T) {
	decomposed := "Cre\u0301atinina"
	got, keep := normalize(ExamResult{Parameter: "  " + decomposed + " ", Value: " 0,9 ", Unit: " mg/dL "})
	if !keep {
		t.Fatal("normalize() dropped a valid record")
	}
	if got.Parameter != "Cr\u00e9atinina" {
		t.Errorf("Parameter = %q, want NFC form", got.Parameter)
	}
	if got.Value != "0.9" {
		t.Errorf("Value = %q, want 0.9", got.Value)
	}
	if got.Unit != "mg/dL" {
		t.Errorf("Unit = %q, want mg/dL", got.Unit)
	}

	// Thousands separators and ranges are left alone.
	for _, v := range []string{"1.234,5", "3,5-5,0", "positivo"} {
		r, _ := normalize(ExamResult{Parameter: "X", Value: v})
		if r.Value != v {
			t.Errorf("normalize(%q) = %q, want unchanged", v, r.Value)
		}
	}

	if _, keep := normalize(ExamResult{Parameter: " ", Value: ""}); keep {
		t.Error("normalize() kept an empty record")
	}
}

func TestRenderRawText(t *testing.T) {
	results := []ExamResult{
		{Parameter: "Glicose", Value: "95", Unit: "mg/dL"},
		{Parameter: "Fator Rh", Value: "positivo", Unit: ""},
	}
	want := "Glicose: 95 mg/dL\nFator Rh: positivo"
	if got := RenderRawText(results); got != want {
		t.Errorf("RenderRawText() = %q, want %q", got, want)
	}
	if got := RenderRawText(nil); got != "" {
		t.Errorf("RenderRawText(nil) = %q, want empty", got)
	}
}

func TestRenderRawText_RoundTripsParsedResults(t *testing.T) {
	text := `{"exams":[{"parameter":"Colesterol Total","value":"180","unit":"mg/dL"},{"parameter":"HDL","value":"55","unit":""}]}`
	results, _, err := ParseStructured(text)
	if err != nil {
		t.Fatalf("ParseStructured() error = %v", err)
	}

	lines := strings.Split(RenderRawText(results), "\n")
	if len(lines) != len(results) {
		t.Fatalf("got %d lines for %d results", len(lines), len(results))
	}
	for i, r := range results {
		want := r.Parameter + ": " + r.Value
		if r.Unit != "" {
			want += " " + r.Unit
		}
		if lines[i] != want {
			t.Errorf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}
