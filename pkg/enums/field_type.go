package enums

import "fmt"

// FieldType is the input kind of a dynamic form field.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeEmail       FieldType = "email"
	FieldTypePhone       FieldType = "phone"
	FieldTypeNumber      FieldType = "number"
	FieldTypeDate        FieldType = "date"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multiselect"
	FieldTypeRadio       FieldType = "radio"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeFile        FieldType = "file"
)

var validFieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeTextarea,
	FieldTypeEmail,
	FieldTypePhone,
	FieldTypeNumber,
	FieldTypeDate,
	FieldTypeSelect,
	FieldTypeMultiSelect,
	FieldTypeRadio,
	FieldTypeCheckbox,
	FieldTypeFile,
}

// String implements fmt.Stringer.
func (f FieldType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FieldType.
func (f FieldType) IsValid() bool {
	for _, candidate := range validFieldTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// HasOptions reports whether the field type draws its values from a fixed option list.
func (f FieldType) HasOptions() bool {
	switch f {
	case FieldTypeSelect, FieldTypeMultiSelect, FieldTypeRadio:
		return true
	}
	return false
}

// ParseFieldType converts raw input into a FieldType.
func ParseFieldType(value string) (FieldType, error) {
	for _, candidate := range validFieldTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid field type %q", value)
}
