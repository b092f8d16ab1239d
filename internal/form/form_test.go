package form

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
)

var fields = []model.FormField{
	{Label: "College", Kind: model.FieldText, Required: true},
	{Label: "Track", Kind: model.FieldDropdown, Options: []string{"web", "ml"}},
	{Label: "Diet", Kind: model.FieldCheckbox, Options: []string{"veg", "vegan"}},
	{Label: "Resume", Kind: model.FieldFile},
}

func raw(t *testing.T, m map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = b
	}
	return out
}

func TestValidateTypedValues(t *testing.T) {
	got, err := Validate(fields, raw(t, map[string]any{
		"College": " IIT ",
		"Track":   "ml",
		"Diet":    []string{"veg"},
		"Resume":  "blob-123",
		"Extra":   "ignored",
	}))
	require.NoError(t, err)
	assert.Equal(t, model.FormResponse{
		"College": {Kind: model.FieldText, Text: "IIT"},
		"Track":   {Kind: model.FieldDropdown, Text: "ml"},
		"Diet":    {Kind: model.FieldCheckbox, Choices: []string{"veg"}},
		"Resume":  {Kind: model.FieldFile, FileRef: "blob-123"},
	}, got)
}

func TestValidateMissingRequired(t *testing.T) {
	for name, value := range map[string]any{"absent": nil, "empty": "", "blank": "   "} {
		t.Run(name, func(t *testing.T) {
			answers := map[string]any{}
			if value != nil {
				answers["College"] = value
			}
			_, err := Validate(fields, raw(t, answers))
			var missing *MissingFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, "College", missing.Label)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}

	_, err := Validate(fields, map[string]json.RawMessage{"College": json.RawMessage("null")})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestValidateShapeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]any
	}{
		{"text as number", map[string]any{"College": 42}},
		{"dropdown outside options", map[string]any{"College": "x", "Track": "art"}},
		{"checkbox as string", map[string]any{"College": "x", "Diet": "veg"}},
		{"checkbox outside options", map[string]any{"College": "x", "Diet": []string{"keto"}}},
		{"file as object", map[string]any{"College": "x", "Resume": map[string]string{"a": "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(fields, raw(t, tt.answers))
			assert.ErrorIs(t, err, ErrInvalidFieldValue)
		})
	}
}

func TestValidateCheckboxBoolean(t *testing.T) {
	consent := []model.FormField{{Label: "Consent", Kind: model.FieldCheckbox, Required: true}}

	got, err := Validate(consent, raw(t, map[string]any{"Consent": true}))
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, got["Consent"].Choices)

	_, err = Validate(consent, raw(t, map[string]any{"Consent": false}))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestValidateNoAnswers(t *testing.T) {
	got, err := Validate(nil, raw(t, map[string]any{"a": "b"}))
	require.NoError(t, err)
	assert.Nil(t, got)
}
