package tool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInput(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type": "string",
			},
			"age": map[string]interface{}{
				"type":    "integer",
				"minimum": 0,
			},
			"op": map[string]interface{}{
				"type":    "string",
				"pattern": "^(add|sub)$",
			},
			"tags": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "string",
				},
			},
		},
		"required": []string{"name"},
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "Valid input",
			input:   `{"name": "Alice", "age": 30, "tags": ["admin"]}`,
			wantErr: false,
		},
		{
			name:    "Missing required field",
			input:   `{"age": 30}`,
			wantErr: true,
		},
		{
			name:    "Invalid type (string vs integer)",
			input:   `{"name": "Alice", "age": "thirty"}`,
			wantErr: true,
		},
		{
			name:    "Below minimum",
			input:   `{"name": "Alice", "age": -1}`,
			wantErr: true,
		},
		{
			name:    "Pattern mismatch",
			input:   `{"name": "Alice", "op": "pow"}`,
			wantErr: true,
		},
		{
			name:    "Invalid array item type",
			input:   `{"name": "Alice", "tags": [123]}`,
			wantErr: true,
		},
		{
			name:    "Extra fields (allowed)",
			input:   `{"name": "Alice", "extra": "field"}`,
			wantErr: false,
		},
		{
			name:    "Not JSON",
			input:   `{"name": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(schema, json.RawMessage(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateInput_JoinsAllDetails(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "number"},
			"b": map[string]interface{}{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	err := ValidateInput(schema, json.RawMessage(`{}`))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Details, 2)
	assert.Contains(t, err.Error(), "; ")
}

func TestValidateInput_EmptyInputIsEmptyObject(t *testing.T) {
	assert.NoError(t, ValidateInput(map[string]interface{}{"type": "object"}, nil))
	assert.NoError(t, ValidateInput(nil, json.RawMessage(`{"x":1}`)))
}

func TestCompileSchema_RejectsBrokenSchema(t *testing.T) {
	_, err := CompileSchema(map[string]interface{}{"type": 12})
	assert.Error(t, err)
}
