package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists every schema violation found in a tool input.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Details, "; ")
}

// CompileSchema loads a tool parameter schema. A nil schema accepts any object.
func CompileSchema(schema map[string]interface{}) (*gojsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateInput checks input against a tool's parameter schema.
func ValidateInput(schema map[string]interface{}, input json.RawMessage) error {
	compiled, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	return validate(compiled, input)
}

func validate(schema *gojsonschema.Schema, input json.RawMessage) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return &ValidationError{Details: []string{"input is not valid JSON"}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return &ValidationError{Details: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}
	return &ValidationError{Details: details}
}

// IsValidationError reports whether err came from schema validation.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
