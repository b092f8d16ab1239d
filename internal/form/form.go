// Package form validates registration form responses against an event's
// field descriptors and converts them into typed values.
package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
)

var (
	ErrMissingField      = errors.New("required field missing")
	ErrInvalidFieldValue = errors.New("invalid field value")
)

// MissingFieldError names the first required field without a value.
type MissingFieldError struct {
	Label string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q is missing", e.Label)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// Validate decodes raw answers keyed by label into typed values, checking
// them against fields in declaration order. Labels the form does not declare
// are dropped. The result is nil when no field was answered.
func Validate(fields []model.FormField, raw map[string]json.RawMessage) (model.FormResponse, error) {
	var out model.FormResponse
	for _, f := range fields {
		v, err := decode(f, raw[f.Label])
		if err != nil {
			return nil, err
		}
		if v.Empty() {
			if f.Required {
				return nil, &MissingFieldError{Label: f.Label}
			}
			continue
		}
		if out == nil {
			out = make(model.FormResponse)
		}
		out[f.Label] = v
	}
	return out, nil
}

func decode(f model.FormField, raw json.RawMessage) (model.FormValue, error) {
	v := model.FormValue{Kind: f.Kind}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, nil
	}
	invalid := func(want string) error {
		return fmt.Errorf("%w: %q expects %s", ErrInvalidFieldValue, f.Label, want)
	}

	switch f.Kind {
	case model.FieldText, model.FieldDropdown:
		if err := json.Unmarshal(raw, &v.Text); err != nil {
			return v, invalid("a string")
		}
		v.Text = strings.TrimSpace(v.Text)
		if f.Kind == model.FieldDropdown && v.Text != "" && len(f.Options) > 0 && !slices.Contains(f.Options, v.Text) {
			return v, fmt.Errorf("%w: %q is not an option of %q", ErrInvalidFieldValue, v.Text, f.Label)
		}
	case model.FieldCheckbox:
		var checked bool
		if err := json.Unmarshal(raw, &checked); err == nil {
			if checked {
				v.Choices = []string{"true"}
			}
			return v, nil
		}
		if err := json.Unmarshal(raw, &v.Choices); err != nil {
			return v, invalid("a list of strings or a boolean")
		}
		if len(f.Options) > 0 {
			for _, c := range v.Choices {
				if !slices.Contains(f.Options, c) {
					return v, fmt.Errorf("%w: %q is not an option of %q", ErrInvalidFieldValue, c, f.Label)
				}
			}
		}
	case model.FieldFile:
		if err := json.Unmarshal(raw, &v.FileRef); err != nil {
			return v, invalid("a file reference")
		}
		v.FileRef = strings.TrimSpace(v.FileRef)
	default:
		return v, fmt.Errorf("%w: %q has unknown type %q", ErrInvalidFieldValue, f.Label, f.Kind)
	}
	return v, nil
}
