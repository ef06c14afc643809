package forms

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

func visaSchema(t *testing.T) Schema {
	t.Helper()
	schema, err := Compile([]models.FormField{
		{Name: "full_name", Label: "Full name", Type: enums.FieldTypeText, Required: true, ValidationRules: "min:3|max:60", SortOrder: 0},
		{Name: "email", Label: "Email", Type: enums.FieldTypeEmail, Required: true, SortOrder: 1},
		{Name: "phone", Label: "Phone", Type: enums.FieldTypePhone, SortOrder: 2},
		{Name: "age", Label: "Age", Type: enums.FieldTypeNumber, ValidationRules: "between:18,99", SortOrder: 3},
		{Name: "travel_date", Label: "Travel date", Type: enums.FieldTypeDate, Required: true, ValidationRules: "after_today", SortOrder: 4},
		{Name: "visa_kind", Label: "Visa kind", Type: enums.FieldTypeSelect, Required: true, Options: []string{"tourist", "business"}, SortOrder: 5},
		{Name: "company", Label: "Company", Type: enums.FieldTypeText, Required: true, DependsOn: strPtr("visa_kind"), DependsEquals: strPtr("business"), SortOrder: 6},
		{Name: "interests", Label: "Interests", Type: enums.FieldTypeMultiSelect, Options: []string{"beach", "temples", "food"}, ValidationRules: "max:2", SortOrder: 7},
		{Name: "accept_terms", Label: "Terms", Type: enums.FieldTypeCheckbox, Required: true, SortOrder: 8},
		{Name: "passport_code", Label: "Passport", Type: enums.FieldTypeText, ValidationRules: "regex:^[A-Z]{2}[0-9]{6}$", SortOrder: 9},
		{Name: "passport_scan", Label: "Passport scan", Type: enums.FieldTypeFile, ValidationRules: "max:1", SortOrder: 10},
		{Name: "currency", Label: "Currency", Type: enums.FieldTypeText, DefaultValue: strPtr("USD"), SortOrder: 11},
	}, testToday, nil)
	require.NoError(t, err)
	return schema
}

func validSubmission() map[string]any {
	return map[string]any{
		"full_name":    "Mali Srisuk",
		"email":        "mali@example.com",
		"phone":        "+66 81 234 5678",
		"age":          float64(31),
		"travel_date":  "2026-04-01",
		"visa_kind":    "tourist",
		"interests":    []any{"beach", "food"},
		"accept_terms": true,
	}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	out := map[string]string{}
	for _, fe := range verr.Errors {
		if _, seen := out[fe.Field]; !seen {
			out[fe.Field] = fe.Code
		}
	}
	return out
}

func TestEvaluateCoercesValues(t *testing.T) {
	values, err := Evaluate(visaSchema(t), validSubmission(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Mali Srisuk", values["full_name"])
	assert.True(t, decimal.NewFromInt(31).Equal(values["age"].(decimal.Decimal)))
	assert.Equal(t, "2026-04-01", values["travel_date"])
	assert.Equal(t, []string{"beach", "food"}, values["interests"])
	assert.Equal(t, true, values["accept_terms"])
	assert.Equal(t, "USD", values["currency"], "static default fills absent value")
	assert.NotContains(t, values, "company")
}

func TestEvaluateCollectsAllErrors(t *testing.T) {
	submitted := map[string]any{
		"full_name":     "Al",
		"email":         "not-an-email",
		"phone":         "call me",
		"age":           "seventeen",
		"travel_date":   "2026-03-01",
		"visa_kind":     "diplomatic",
		"interests":     []any{"beach", "temples", "food"},
		"accept_terms":  false,
		"passport_code": "ab123",
	}
	codes := fieldErrors(t, func() error { _, err := Evaluate(visaSchema(t), submitted, nil); return err }())

	assert.Equal(t, map[string]string{
		"full_name":     ReasonMin,
		"email":         ReasonInvalidFormat,
		"phone":         ReasonInvalidFormat,
		"age":           ReasonInvalidType,
		"travel_date":   ReasonAfter,
		"visa_kind":     ReasonInvalidOption,
		"interests":     ReasonMax,
		"accept_terms":  ReasonRequired,
		"passport_code": ReasonPattern,
	}, codes)
}

func TestEvaluateErrorsFollowSchemaOrder(t *testing.T) {
	_, err := Evaluate(visaSchema(t), map[string]any{}, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	var fields []string
	for _, fe := range verr.Errors {
		fields = append(fields, fe.Field)
	}
	assert.Equal(t, []string{"full_name", "email", "travel_date", "visa_kind", "accept_terms"}, fields)
}

func TestEvaluateHiddenFieldsAreDropped(t *testing.T) {
	submitted := validSubmission()
	submitted["company"] = "Stray Corp"
	submitted["unknown_key"] = "ignored"

	values, err := Evaluate(visaSchema(t), submitted, nil)
	require.NoError(t, err)
	assert.NotContains(t, values, "company")
	assert.NotContains(t, values, "unknown_key")

	submitted["visa_kind"] = "business"
	delete(submitted, "company")
	codes := fieldErrors(t, func() error { _, err := Evaluate(visaSchema(t), submitted, nil); return err }())
	assert.Equal(t, ReasonRequired, codes["company"])

	submitted["company"] = "Siam Trading"
	values, err = Evaluate(visaSchema(t), submitted, nil)
	require.NoError(t, err)
	assert.Equal(t, "Siam Trading", values["company"])
}

func TestEvaluateNestedConditionHiddenWithParent(t *testing.T) {
	schema, err := Compile([]models.FormField{
		{Name: "has_sponsor", Label: "Sponsor?", Type: enums.FieldTypeCheckbox},
		{Name: "sponsor_type", Label: "Sponsor type", Type: enums.FieldTypeRadio, Options: []string{"family", "employer"}, DependsOn: strPtr("has_sponsor"), DependsEquals: strPtr("true")},
		{Name: "employer_name", Label: "Employer", Type: enums.FieldTypeText, Required: true, DependsOn: strPtr("sponsor_type"), DependsEquals: strPtr("employer")},
	}, testToday, nil)
	require.NoError(t, err)

	values, err := Evaluate(schema, map[string]any{
		"has_sponsor":   false,
		"sponsor_type":  "employer",
		"employer_name": "Acme",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, Values{"has_sponsor": false}, values)
}

func TestEvaluateProfileDefaultsNeverOverrideInput(t *testing.T) {
	schema := visaSchema(t)
	defaults := map[string]any{"full_name": "Profile Name", "email": "profile@example.com"}

	submitted := validSubmission()
	submitted["email"] = "   "
	values, err := Evaluate(schema, submitted, defaults)
	require.NoError(t, err)
	assert.Equal(t, "Mali Srisuk", values["full_name"])
	assert.Equal(t, "profile@example.com", values["email"], "blank input takes the profile value")
}

func TestEvaluateIsIdempotent(t *testing.T) {
	schema := visaSchema(t)
	first, err := Evaluate(schema, validSubmission(), nil)
	require.NoError(t, err)
	second, err := Evaluate(schema, validSubmission(), nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	again, err := Evaluate(schema, map[string]any(first), nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestEvaluateFileUploads(t *testing.T) {
	schema := visaSchema(t)
	submitted := validSubmission()
	submitted["passport_scan"] = map[string]any{
		"filename":    "passport.pdf",
		"contentType": "application/pdf",
		"content":     base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 tiny")),
	}
	values, err := Evaluate(schema, submitted, nil)
	require.NoError(t, err)
	upload, ok := values["passport_scan"].(Upload)
	require.True(t, ok)
	assert.Equal(t, "passport.pdf", upload.Filename)

	submitted["passport_scan"] = "documents/abc.pdf"
	values, err = Evaluate(schema, submitted, nil)
	require.NoError(t, err)
	assert.Equal(t, "documents/abc.pdf", values["passport_scan"])

	submitted["passport_scan"] = map[string]any{"filename": "x.pdf", "content": "%%%"}
	codes := fieldErrors(t, func() error { _, err := Evaluate(schema, submitted, nil); return err }())
	assert.Equal(t, ReasonInvalidFile, codes["passport_scan"])

	big := make([]byte, 2048)
	submitted["passport_scan"] = map[string]any{"filename": "big.pdf", "content": base64.StdEncoding.EncodeToString(big)}
	codes = fieldErrors(t, func() error { _, err := Evaluate(schema, submitted, nil); return err }())
	assert.Equal(t, ReasonMax, codes["passport_scan"])
}
