package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// examsEnvelope is the shape requested from the model.
type examsEnvelope struct {
	Exams []ExamResult `json:"exams" jsonschema:"description=One entry per exam found in the document"`
}

var (
	schemaOnce     sync.Once
	schemaRaw      json.RawMessage
	schemaCompiled *validator.Schema
	schemaErr      error
)

// ResponseSchema returns the JSON Schema sent to providers: an object with a
// required "exams" array whose items require string parameter, value and unit.
func ResponseSchema() (json.RawMessage, error) {
	schemaOnce.Do(buildSchema)
	return schemaRaw, schemaErr
}

func buildSchema() {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&examsEnvelope{})
	s.Version = ""
	s.ID = ""

	raw, err := json.Marshal(s)
	if err != nil {
		schemaErr = fmt.Errorf("failed to marshal response schema: %w", err)
		return
	}
	schemaRaw = raw

	compiler := validator.NewCompiler()
	if err := compiler.AddResource("exams.json", bytes.NewReader(raw)); err != nil {
		schemaErr = fmt.Errorf("failed to load response schema: %w", err)
		return
	}
	schemaCompiled, schemaErr = compiler.Compile("exams.json")
	if schemaErr != nil {
		schemaErr = fmt.Errorf("failed to compile response schema: %w", schemaErr)
	}
}

// validateEnvelope checks decoded JSON against the response schema.
func validateEnvelope(doc any) error {
	schemaOnce.Do(buildSchema)
	if schemaErr != nil {
		return schemaErr
	}
	if err := schemaCompiled.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}
