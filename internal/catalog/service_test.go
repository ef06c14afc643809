package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
)

func strPtr(s string) *string { return &s }

func newTestService(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(NewRepository(dbtest.Open(t)), nil, nil)
	require.NoError(t, err)
	return svc
}

func thaiTouristVisa() *models.ServiceModule {
	return &models.ServiceModule{
		Slug:              "Thailand-Tourist-Visa ",
		Name:              "Thailand tourist visa",
		AssignmentModel:   enums.AssignmentCompetitive,
		CommissionType:    enums.CommissionTypePercentage,
		CommissionRate:    decimal.NewFromInt(15),
		QuoteTimeoutHours: 48,
		MinQuotesRequired: 2,
		IsActive:          true,
		Fields: []models.FormField{
			{Name: "travel_date", Label: "Travel date", Type: enums.FieldTypeDate, Required: true, SortOrder: 2},
			{Name: "full_name", Label: "Full name", Type: enums.FieldTypeText, Required: true, SortOrder: 1},
			{Name: "purpose", Label: "Purpose", Type: enums.FieldTypeSelect, Options: []string{"tourism", "family"}, SortOrder: 2},
		},
	}
}

func TestSaveModuleCreatesWithOrderedFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	saved, err := svc.SaveModule(ctx, thaiTouristVisa())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.Equal(t, "thailand-tourist-visa", saved.Slug)
	assert.Equal(t, "USD", saved.Currency)
	assert.True(t, saved.RequiresAgency)
	require.Len(t, saved.Fields, 3)
	assert.Equal(t, []string{"full_name", "purpose", "travel_date"},
		[]string{saved.Fields[0].Name, saved.Fields[1].Name, saved.Fields[2].Name})
	assert.Equal(t, []string{"tourism", "family"}, saved.Fields[1].Options)

	bySlug, err := svc.GetModuleBySlug(ctx, "thailand-tourist-visa")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, bySlug.ID)
	assert.True(t, decimal.NewFromInt(15).Equal(bySlug.CommissionRate))
}

func TestSaveModuleReplacesFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	saved, err := svc.SaveModule(ctx, thaiTouristVisa())
	require.NoError(t, err)

	saved.Name = "Thailand tourist visa (TR)"
	saved.Fields = []models.FormField{
		{Name: "passport_number", Label: "Passport number", Type: enums.FieldTypeText, Required: true},
	}
	updated, err := svc.SaveModule(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, "Thailand tourist visa (TR)", updated.Name)
	require.Len(t, updated.Fields, 1)
	assert.Equal(t, "passport_number", updated.Fields[0].Name)
}

func TestSaveModuleDuplicateSlugConflicts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaveModule(ctx, thaiTouristVisa())
	require.NoError(t, err)
	_, err = svc.SaveModule(ctx, thaiTouristVisa())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestValidateModuleLockingInvariants(t *testing.T) {
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	locked := thaiTouristVisa()
	normalize(locked)
	locked.ResourceLocking = true
	err := ValidateModule(locked, now, nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConfiguration))
	assertIssue(t, err, "resource_locking")

	uni := thaiTouristVisa()
	uni.AssignmentModel = enums.AssignmentExclusiveResource
	uni.ResourceLocking = true
	uni.AllowsMultipleAgencies = true
	normalize(uni)
	err = ValidateModule(uni, now, nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConfiguration))
	assertIssue(t, err, "allows_multiple_agencies")
	assertIssue(t, err, "resource_type")

	uni.AllowsMultipleAgencies = false
	uni.ResourceType = strPtr("university")
	assert.NoError(t, ValidateModule(uni, now, nil))
}

func TestValidateModuleDerivesRequiresAgency(t *testing.T) {
	m := thaiTouristVisa()
	m.AssignmentModel = enums.AssignmentPeerToPeer
	m.RequiresAgency = true
	normalize(m)
	assert.False(t, m.RequiresAgency)
}

func TestValidateModuleCommission(t *testing.T) {
	now := time.Now()
	m := thaiTouristVisa()
	normalize(m)

	m.CommissionRate = decimal.NewFromInt(101)
	assert.True(t, pkgerrors.HasCode(ValidateModule(m, now, nil), pkgerrors.CodeCommissionRateInvalid))

	m.CommissionRate = decimal.NewFromInt(-1)
	assert.True(t, pkgerrors.HasCode(ValidateModule(m, now, nil), pkgerrors.CodeCommissionRateInvalid))

	m.CommissionType = enums.CommissionTypeFixed
	m.CommissionRate = decimal.NewFromInt(250)
	assert.NoError(t, ValidateModule(m, now, nil))
}

func TestValidateModuleReportsSchemaIssues(t *testing.T) {
	m := thaiTouristVisa()
	normalize(m)
	m.QuoteTimeoutHours = 0
	m.Fields = append(m.Fields,
		models.FormField{Name: "a", Label: "A", Type: enums.FieldTypeText, DependsOn: strPtr("b")},
		models.FormField{Name: "b", Label: "B", Type: enums.FieldTypeText, DependsOn: strPtr("a")},
		models.FormField{Name: "c", Label: "C", Type: enums.FieldTypeText, ValidationRules: "wiggle"},
	)
	err := ValidateModule(m, time.Now(), nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConfiguration))
	assertIssue(t, err, "quote_timeout_hours")
	assertIssue(t, err, "fields.c")
}

func TestFormFieldsRequiresActiveModule(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	saved, err := svc.SaveModule(ctx, thaiTouristVisa())
	require.NoError(t, err)

	fields, err := svc.FormFields(ctx, saved.ID)
	require.NoError(t, err)
	assert.Len(t, fields, 3)

	require.NoError(t, svc.SetActive(ctx, saved.ID, false))
	_, err = svc.FormFields(ctx, saved.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = svc.GetModule(ctx, uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	active, err := svc.ListModules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func assertIssue(t *testing.T, err error, field string) {
	t.Helper()
	issues, ok := pkgerrors.As(err).Details().([]forms.Issue)
	require.True(t, ok, "expected issue details, got %T", pkgerrors.As(err).Details())
	for _, issue := range issues {
		if issue.Field == field {
			return
		}
	}
	t.Fatalf("expected an issue for %s in %+v", field, issues)
}
