package assignment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/quoteprovider"
)

// Reasons reported with NO_AGENCY_AVAILABLE.
const (
	ReasonNoAssignment    = "no_active_assignment"
	ReasonNoGlobalAgency  = "global_agency_unset"
	ReasonResourceMissing = "resource_name_missing"
	ReasonUnclaimed       = "resource_unclaimed"
	ReasonClaimPending    = "resource_claim_pending"
)

// Provider outcomes recorded on the external quote histogram.
const (
	providerPriced  = "priced"
	providerNoOffer = "no_offer"
	providerError   = "error"
	providerTimeout = "timeout"
)

// Candidate is one eligible agency and the grant that made it eligible.
type Candidate struct {
	AgencyID     uuid.UUID
	AssignmentID *uuid.UUID
	ResourceID   *uuid.UUID
}

// Result is the outcome of resolving an application's eligible agencies.
type Result struct {
	Model    enums.AssignmentModel
	Agencies []Candidate
	// External is set when a hybrid provider priced the application directly.
	External *quoteprovider.Price
	// FellBack reports a hybrid resolution that fell back to competitive bidding.
	FellBack bool
}

// ExternalQuoteProvider prices hybrid services.
type ExternalQuoteProvider interface {
	Quote(ctx context.Context, req quoteprovider.Request) (quoteprovider.Price, bool, error)
}

type providerMetrics interface {
	ObserveProvider(outcome string, duration time.Duration)
	IncProviderFallback()
}

// NoAgencyAvailable builds the recoverable error returned when nobody can serve an application.
func NoAgencyAvailable(reason string) error {
	return pkgerrors.New(pkgerrors.CodeNoAgencyAvailable, "no agency is available for this application").
		WithDetails(map[string]string{"reason": reason})
}

// NoAgencyReason extracts the reason from a NO_AGENCY_AVAILABLE error.
func NoAgencyReason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNoAgencyAvailable {
		return ""
	}
	if details, ok := typed.Details().(map[string]string); ok {
		return details["reason"]
	}
	return ""
}

// NormalizeResourceName folds case and whitespace so spellings of one resource collide.
func NormalizeResourceName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ResolveEligibleAgencies applies the module's assignment model to an application.
func (s *service) ResolveEligibleAgencies(ctx context.Context, app *models.ServiceApplication, module *models.ServiceModule) (Result, error) {
	result := Result{Model: module.AssignmentModel}

	switch module.AssignmentModel {
	case enums.AssignmentPeerToPeer:
		return result, nil

	case enums.AssignmentCompetitive:
		return s.resolveAssignments(ctx, result, app, false)

	case enums.AssignmentMultiCountry:
		return s.resolveAssignments(ctx, result, app, true)

	case enums.AssignmentHybrid:
		if price, ok := s.externalQuote(ctx, app, module); ok {
			result.External = &price
			return result, nil
		}
		result.FellBack = true
		s.metrics.IncProviderFallback()
		return s.resolveAssignments(ctx, result, app, false)

	case enums.AssignmentGlobalSingle:
		global, err := s.repo.GlobalAssignment(ctx, module.ID)
		if err != nil {
			if db.IsNotFound(err) {
				return result, NoAgencyAvailable(ReasonNoGlobalAgency)
			}
			return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading global assignment")
		}
		result.Agencies = []Candidate{{AgencyID: global.AgencyID}}
		return result, nil

	case enums.AssignmentExclusiveResource:
		if app.ResourceName == nil || NormalizeResourceName(*app.ResourceName) == "" || module.ResourceType == nil {
			return result, NoAgencyAvailable(ReasonResourceMissing)
		}
		claim, err := s.repo.PrimaryClaim(ctx, module.ID, *module.ResourceType, NormalizeResourceName(*app.ResourceName))
		if err != nil {
			if db.IsNotFound(err) {
				return result, NoAgencyAvailable(ReasonUnclaimed)
			}
			return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading resource claim")
		}
		if !claim.IsApproved() {
			return result, NoAgencyAvailable(ReasonClaimPending)
		}
		resourceID := claim.ID
		result.Agencies = []Candidate{{AgencyID: claim.AgencyID, ResourceID: &resourceID}}
		return result, nil
	}

	return result, pkgerrors.New(pkgerrors.CodeConfiguration, "unknown assignment model")
}

func (s *service) resolveAssignments(ctx context.Context, result Result, app *models.ServiceApplication, anyVisaType bool) (Result, error) {
	rows, err := s.repo.ProcessingAssignments(ctx, app.ServiceModuleID, app.Country, app.VisaType, anyVisaType)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading agency assignments")
	}
	seen := map[uuid.UUID]struct{}{}
	for _, row := range rows {
		if _, dup := seen[row.AgencyID]; dup {
			continue
		}
		seen[row.AgencyID] = struct{}{}
		assignmentID := row.ID
		result.Agencies = append(result.Agencies, Candidate{AgencyID: row.AgencyID, AssignmentID: &assignmentID})
	}
	if len(result.Agencies) == 0 {
		return result, NoAgencyAvailable(ReasonNoAssignment)
	}
	return result, nil
}

// externalQuote asks the provider under the configured timeout. Any failure is a
// fallback, never an error.
func (s *service) externalQuote(ctx context.Context, app *models.ServiceApplication, module *models.ServiceModule) (quoteprovider.Price, bool) {
	if s.provider == nil {
		return quoteprovider.Price{}, false
	}
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	started := time.Now()
	price, ok, err := s.provider.Quote(callCtx, quoteprovider.Request{
		ApplicationID: app.ID,
		ServiceSlug:   module.Slug,
		Country:       app.Country,
		VisaType:      app.VisaType,
		Attributes:    app.FormData,
	})
	elapsed := time.Since(started)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"application_id":    app.ID.String(),
		"service_module_id": module.ID.String(),
	})
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)):
		s.metrics.ObserveProvider(providerTimeout, elapsed)
		s.logg.WarnErr(logCtx, "external quote provider timed out, falling back to bidding", err)
		return quoteprovider.Price{}, false
	case err != nil:
		s.metrics.ObserveProvider(providerError, elapsed)
		s.logg.WarnErr(logCtx, "external quote provider failed, falling back to bidding", err)
		return quoteprovider.Price{}, false
	case !ok || !price.Amount.IsPositive():
		s.metrics.ObserveProvider(providerNoOffer, elapsed)
		return quoteprovider.Price{}, false
	}
	s.metrics.ObserveProvider(providerPriced, elapsed)
	return price, true
}
