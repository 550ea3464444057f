package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name"],
	"additionalProperties": false
}`

func TestSchema_Validate(t *testing.T) {
	s, err := Compile(personSchema)
	require.NoError(t, err)

	tests := []struct {
		name  string
		doc   map[string]interface{}
		valid bool
		field string
	}{
		{name: "valid", doc: map[string]interface{}{"name": "ada", "age": 36}, valid: true},
		{name: "missing required", doc: map[string]interface{}{"age": 3}, field: "name"},
		{name: "wrong type", doc: map[string]interface{}{"name": "ada", "age": "x"}, field: "age"},
		{name: "negative", doc: map[string]interface{}{"name": "ada", "age": -1}, field: "age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Validate(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			if !tt.valid {
				require.NotEmpty(t, res.Errors)
				assert.Equal(t, tt.field, res.Errors[0].Field)
				assert.Contains(t, res.Error(), tt.field)
			}
		})
	}
}

func TestSchema_ValidateBytes(t *testing.T) {
	s := MustCompile(personSchema)

	res, err := s.ValidateBytes([]byte(`{"name":"ada","extra":true}`))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	_, err = s.ValidateBytes([]byte(`{not json`))
	assert.Error(t, err)
}

func TestCompile_GoValue(t *testing.T) {
	res, err := ValidateInput(
		map[string]interface{}{"n": 2},
		map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"n": map[string]interface{}{"type": "integer", "maximum": 1}},
		},
	)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile(`{"type": 12}`)
	assert.Error(t, err)
}
