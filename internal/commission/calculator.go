package commission

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

// minorUnits is the precision money is settled at.
const minorUnits = 2

var hundred = decimal.NewFromInt(100)

// Rate is a commission configuration at one level of the override chain.
type Rate struct {
	Type  enums.CommissionType
	Value decimal.Decimal
}

// Settlement is the platform/agency split of an accepted quote.
type Settlement struct {
	Source             enums.CommissionSource
	Type               enums.CommissionType
	Rate               decimal.Decimal
	QuotedAmount       decimal.Decimal
	PlatformCommission decimal.Decimal
	AgencyEarnings     decimal.Decimal
	Clamped            bool
}

type clampRecorder interface {
	IncCommissionClamped()
}

// Calculator settles quotes against the resource, assignment and module commission chain.
type Calculator struct {
	logg    *logger.Logger
	metrics clampRecorder
}

// NewCalculator builds a calculator. Metrics may be nil.
func NewCalculator(logg *logger.Logger, metrics clampRecorder) *Calculator {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Calculator{logg: logg, metrics: metrics}
}

// ResolveRate picks the effective rate: resource override, then assignment override,
// then the module default.
func ResolveRate(resource *models.AgencyResource, assignment *models.AgencyCountryAssignment, module Rate) (Rate, enums.CommissionSource) {
	if resource != nil && resource.SpecialCommissionType != nil && resource.SpecialCommissionRate.Valid {
		return Rate{Type: *resource.SpecialCommissionType, Value: resource.SpecialCommissionRate.Decimal}, enums.CommissionSourceResource
	}
	if assignment != nil && assignment.CommissionType != nil && assignment.CommissionRate.Valid {
		return Rate{Type: *assignment.CommissionType, Value: assignment.CommissionRate.Decimal}, enums.CommissionSourceAssignment
	}
	return module, enums.CommissionSourceModule
}

// Settle splits quotedAmount between the platform and the agency.
func (c *Calculator) Settle(ctx context.Context, quotedAmount decimal.Decimal, resource *models.AgencyResource, assignment *models.AgencyCountryAssignment, module Rate) (Settlement, error) {
	rate, source := ResolveRate(resource, assignment, module)
	if err := ValidateRate(rate.Type, rate.Value); err != nil {
		return Settlement{}, err
	}
	if quotedAmount.IsNegative() {
		return Settlement{}, pkgerrors.New(pkgerrors.CodeValidation, "quoted amount must not be negative")
	}

	quoted := quotedAmount.RoundBank(minorUnits)
	out := Settlement{
		Source:       source,
		Type:         rate.Type,
		Rate:         rate.Value,
		QuotedAmount: quoted,
	}

	switch rate.Type {
	case enums.CommissionTypePercentage:
		out.PlatformCommission = quoted.Mul(rate.Value).Div(hundred).RoundBank(minorUnits)
	case enums.CommissionTypeFixed:
		fixed := rate.Value.RoundBank(minorUnits)
		if fixed.GreaterThan(quoted) {
			out.Clamped = true
			fixed = quoted
			ctx = c.logg.WithFields(ctx, map[string]any{
				"commission_source": source,
				"fixed_commission":  rate.Value.StringFixed(minorUnits),
				"quoted_amount":     quoted.StringFixed(minorUnits),
			})
			c.logg.Warn(ctx, "fixed commission exceeds quoted amount; agency earnings clamped to zero")
			if c.metrics != nil {
				c.metrics.IncCommissionClamped()
			}
		}
		out.PlatformCommission = fixed
	}
	out.AgencyEarnings = quoted.Sub(out.PlatformCommission)
	return out, nil
}

// ValidateRate rejects negative rates and percentages above 100.
func ValidateRate(commissionType enums.CommissionType, rate decimal.Decimal) error {
	if !commissionType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeCommissionRateInvalid, "unknown commission type").
			WithDetails(map[string]any{"commissionType": string(commissionType)})
	}
	if rate.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeCommissionRateInvalid, "commission rate must not be negative").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	if commissionType == enums.CommissionTypePercentage && rate.GreaterThan(hundred) {
		return pkgerrors.New(pkgerrors.CodeCommissionRateInvalid, "percentage commission must be between 0 and 100").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	return nil
}

// ValidateOverride checks an optional override pair; both halves must be present or absent.
func ValidateOverride(commissionType *enums.CommissionType, rate decimal.NullDecimal) error {
	if commissionType == nil && !rate.Valid {
		return nil
	}
	if commissionType == nil || !rate.Valid {
		return pkgerrors.New(pkgerrors.CodeCommissionRateInvalid, "commission override needs both a type and a rate")
	}
	return ValidateRate(*commissionType, rate.Decimal)
}
