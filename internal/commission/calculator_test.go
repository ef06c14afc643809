package commission

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
)

type clampCounter struct{ n int }

func (c *clampCounter) IncCommissionClamped() { c.n++ }

func pct(v string) Rate {
	return Rate{Type: enums.CommissionTypePercentage, Value: decimal.RequireFromString(v)}
}

func TestSettlePercentageMatchesThailandScenario(t *testing.T) {
	calc := NewCalculator(nil, nil)

	got, err := calc.Settle(context.Background(), decimal.RequireFromString("130"), nil, nil, pct("15"))
	require.NoError(t, err)

	assert.Equal(t, "19.50", got.PlatformCommission.StringFixed(2))
	assert.Equal(t, "110.50", got.AgencyEarnings.StringFixed(2))
	assert.Equal(t, enums.CommissionSourceModule, got.Source)
}

func TestSettlePercentageSumIsExact(t *testing.T) {
	calc := NewCalculator(nil, nil)
	amounts := []string{"0.01", "0.05", "1.15", "99.99", "130", "333.33", "1234.57", "10000.01"}
	rates := []string{"0", "2.5", "7.75", "12.5", "15", "33.33", "99.99", "100"}

	for _, a := range amounts {
		for _, r := range rates {
			quoted := decimal.RequireFromString(a)
			got, err := calc.Settle(context.Background(), quoted, nil, nil, pct(r))
			require.NoError(t, err)
			assert.True(t, got.PlatformCommission.Add(got.AgencyEarnings).Equal(quoted),
				"amount=%s rate=%s commission=%s earnings=%s", a, r, got.PlatformCommission, got.AgencyEarnings)
			assert.False(t, got.AgencyEarnings.IsNegative())
		}
	}
}

func TestSettleUsesBankersRounding(t *testing.T) {
	calc := NewCalculator(nil, nil)

	// 0.25 * 10% = 0.025 rounds to the even neighbour 0.02.
	got, err := calc.Settle(context.Background(), decimal.RequireFromString("0.25"), nil, nil, pct("10"))
	require.NoError(t, err)
	assert.Equal(t, "0.02", got.PlatformCommission.StringFixed(2))

	// 0.35 * 10% = 0.035 rounds to 0.04.
	got, err = calc.Settle(context.Background(), decimal.RequireFromString("0.35"), nil, nil, pct("10"))
	require.NoError(t, err)
	assert.Equal(t, "0.04", got.PlatformCommission.StringFixed(2))
}

func TestSettleFixedClampsToQuote(t *testing.T) {
	counter := &clampCounter{}
	calc := NewCalculator(nil, counter)
	fixed := Rate{Type: enums.CommissionTypeFixed, Value: decimal.RequireFromString("50")}

	got, err := calc.Settle(context.Background(), decimal.RequireFromString("40"), nil, nil, fixed)
	require.NoError(t, err)
	assert.True(t, got.Clamped)
	assert.Equal(t, "40.00", got.PlatformCommission.StringFixed(2))
	assert.True(t, got.AgencyEarnings.IsZero())
	assert.Equal(t, 1, counter.n)

	got, err = calc.Settle(context.Background(), decimal.RequireFromString("120"), nil, nil, fixed)
	require.NoError(t, err)
	assert.False(t, got.Clamped)
	assert.Equal(t, "70.00", got.AgencyEarnings.StringFixed(2))
}

func TestResolveRateOrder(t *testing.T) {
	fixed := enums.CommissionTypeFixed
	percentage := enums.CommissionTypePercentage
	resource := &models.AgencyResource{
		SpecialCommissionType: &fixed,
		SpecialCommissionRate: decimal.NewNullDecimal(decimal.RequireFromString("25")),
	}
	assignment := &models.AgencyCountryAssignment{
		CommissionType: &percentage,
		CommissionRate: decimal.NewNullDecimal(decimal.RequireFromString("10")),
	}
	module := pct("15")

	rate, source := ResolveRate(resource, assignment, module)
	assert.Equal(t, enums.CommissionSourceResource, source)
	assert.Equal(t, enums.CommissionTypeFixed, rate.Type)

	rate, source = ResolveRate(&models.AgencyResource{}, assignment, module)
	assert.Equal(t, enums.CommissionSourceAssignment, source)
	assert.True(t, rate.Value.Equal(decimal.NewFromInt(10)))

	rate, source = ResolveRate(nil, &models.AgencyCountryAssignment{}, module)
	assert.Equal(t, enums.CommissionSourceModule, source)
	assert.True(t, rate.Value.Equal(decimal.NewFromInt(15)))
}

func TestValidateRate(t *testing.T) {
	cases := []struct {
		name    string
		kind    enums.CommissionType
		rate    string
		invalid bool
	}{
		{name: "percentage in range", kind: enums.CommissionTypePercentage, rate: "15"},
		{name: "percentage upper bound", kind: enums.CommissionTypePercentage, rate: "100"},
		{name: "percentage above 100", kind: enums.CommissionTypePercentage, rate: "100.01", invalid: true},
		{name: "negative percentage", kind: enums.CommissionTypePercentage, rate: "-1", invalid: true},
		{name: "large fixed", kind: enums.CommissionTypeFixed, rate: "5000"},
		{name: "negative fixed", kind: enums.CommissionTypeFixed, rate: "-0.01", invalid: true},
		{name: "unknown type", kind: enums.CommissionType("tiered"), rate: "1", invalid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRate(tc.kind, decimal.RequireFromString(tc.rate))
			if tc.invalid {
				assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeCommissionRateInvalid), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSettleRejectsInvalidOverrideAtRuntime(t *testing.T) {
	percentage := enums.CommissionTypePercentage
	assignment := &models.AgencyCountryAssignment{
		CommissionType: &percentage,
		CommissionRate: decimal.NewNullDecimal(decimal.RequireFromString("150")),
	}
	_, err := NewCalculator(nil, nil).Settle(context.Background(), decimal.NewFromInt(10), nil, assignment, pct("10"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeCommissionRateInvalid))
}

func TestValidateOverrideRequiresBothHalves(t *testing.T) {
	fixed := enums.CommissionTypeFixed
	assert.NoError(t, ValidateOverride(nil, decimal.NullDecimal{}))
	assert.Error(t, ValidateOverride(&fixed, decimal.NullDecimal{}))
	assert.Error(t, ValidateOverride(nil, decimal.NewNullDecimal(decimal.NewFromInt(3))))
	assert.NoError(t, ValidateOverride(&fixed, decimal.NewNullDecimal(decimal.NewFromInt(3))))
}
