package vision

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func decodeSchema(t *testing.T, raw string) *Schema {
	t.Helper()
	var s Schema
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return &s
}

const sampleSchema = `{
	"type": "object",
	"properties": {
		"count": {"type": "number"},
		"flags": {"type": "array", "items": {"type": "boolean"}}
	},
	"required": ["count"]
}`

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, decodeSchema(t, sampleSchema).Validate())
}

func TestSchemaValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"missing type", `{"properties": {}}`, "has no type"},
		{"object without properties", `{"type": "object"}`, "no properties"},
		{"required not in properties", `{"type":"object","properties":{"a":{"type":"string"}},"required":["b"]}`, "required property"},
		{"array without items", `{"type": "array"}`, "no items"},
		{"nested violation", `{"type":"object","properties":{"xs":{"type":"array"}}}`, "no items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeSchema(t, tt.raw).Validate()
			require.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchemaTranslate(t *testing.T) {
	got := decodeSchema(t, sampleSchema).Translate()

	assert.Equal(t, genai.TypeObject, got.Type)
	assert.Equal(t, []string{"count"}, got.Required)
	require.Contains(t, got.Properties, "count")
	assert.Equal(t, genai.TypeNumber, got.Properties["count"].Type)
	require.Contains(t, got.Properties, "flags")
	assert.Equal(t, genai.TypeArray, got.Properties["flags"].Type)
	require.NotNil(t, got.Properties["flags"].Items)
	assert.Equal(t, genai.TypeBoolean, got.Properties["flags"].Items.Type)
}

func TestSchemaTranslateUnknownTypeDefaultsToString(t *testing.T) {
	got := (&Schema{Type: "timestamp"}).Translate()
	assert.Equal(t, genai.TypeString, got.Type)
}

func TestSchemaRoundTrip(t *testing.T) {
	// translate(S) then parse(validOutputFor(S)) satisfies S.
	s := decodeSchema(t, sampleSchema)
	require.NotNil(t, s.Translate())

	var value any
	require.NoError(t, json.Unmarshal([]byte(`{"count":3,"flags":[true,false]}`), &value))
	assert.NoError(t, s.CheckOutput(value))
}

func TestSchemaCheckOutputViolations(t *testing.T) {
	s := decodeSchema(t, sampleSchema)

	tests := []struct {
		name string
		raw  string
	}{
		{"missing required", `{"flags":[]}`},
		{"wrong scalar type", `{"count":"three"}`},
		{"wrong element type", `{"count":1,"flags":[1]}`},
		{"not an object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var value any
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &value))
			assert.ErrorIs(t, s.CheckOutput(value), ErrAnalysis)
		})
	}
}
