package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	"github.com/angelmondragon/visamarket-backend/api/validators"
	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const retryBatchAfterGrant = 100

// retryAfterGrant re-resolves applications waiting on moduleID once an admin grants a
// new agency. The grant itself already succeeded, so a failed retry is only logged.
func retryAfterGrant(ctx context.Context, apps applications.Service, logg *logger.Logger, moduleID uuid.UUID) *applications.RetrySummary {
	if apps == nil {
		return nil
	}
	summary, err := apps.RetryPendingAssignments(ctx, applications.RetryFilter{ModuleID: &moduleID, Limit: retryBatchAfterGrant})
	if err != nil {
		if logg != nil {
			logg.WarnErr(logg.WithField(ctx, "service_module_id", moduleID.String()), "pending assignment retry failed", err)
		}
		return nil
	}
	return &summary
}

type countryAssignmentRequest struct {
	AgencyID               uuid.UUID        `json:"agencyId" validate:"required"`
	ModuleID               uuid.UUID        `json:"serviceModuleId" validate:"required"`
	Country                string           `json:"country" validate:"required,len=2,alpha"`
	VisaType               string           `json:"visaType" validate:"max=100"`
	CommissionType         *string          `json:"commissionType" validate:"omitempty,oneof=percentage fixed"`
	CommissionRate         *decimal.Decimal `json:"commissionRate"`
	CanEditRequirements    bool             `json:"canEditRequirements"`
	CanSetFees             *bool            `json:"canSetFees"`
	CanProcessApplications *bool            `json:"canProcessApplications"`
}

func (p countryAssignmentRequest) toInput() assignment.AssignmentInput {
	input := assignment.AssignmentInput{
		AgencyID:               p.AgencyID,
		ModuleID:               p.ModuleID,
		Country:                strings.ToUpper(strings.TrimSpace(p.Country)),
		VisaType:               validators.SanitizeString(p.VisaType, 100),
		CanEditRequirements:    p.CanEditRequirements,
		CanSetFees:             p.CanSetFees,
		CanProcessApplications: p.CanProcessApplications,
	}
	if p.CommissionType != nil {
		ct := enums.CommissionType(*p.CommissionType)
		input.CommissionType = &ct
	}
	if p.CommissionRate != nil {
		input.CommissionRate = decimal.NewNullDecimal(*p.CommissionRate)
	}
	return input
}

// AdminCreateAssignment grants an agency a country (and optionally a visa type) for a
// module, then retries applications that were waiting for one.
func AdminCreateAssignment(svc assignment.Service, apps applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		var payload countryAssignmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.CreateCountryAssignment(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, map[string]any{
			"assignment": toCountryAssignmentDTO(row),
			"retry":      retryAfterGrant(r.Context(), apps, logg, row.ServiceModuleID),
		})
	}
}

func AdminListAssignments(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListCountryAssignments(r.Context(), moduleID, r.URL.Query().Get("active") != "false")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]countryAssignmentDTO, 0, len(rows))
		for i := range rows {
			out = append(out, toCountryAssignmentDTO(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func AdminDeactivateAssignment(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeactivateCountryAssignment(r.Context(), assignmentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": assignmentID, "isActive": false})
	}
}

type globalAssignmentRequest struct {
	AgencyID uuid.UUID `json:"agencyId" validate:"required"`
}

// AdminSetGlobalAssignment names the single agency of a global_single module.
func AdminSetGlobalAssignment(svc assignment.Service, apps applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload globalAssignmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.SetGlobalAssignment(r.Context(), moduleID, payload.AgencyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"serviceModuleId": row.ServiceModuleID,
			"agencyId":        row.AgencyID,
			"retry":           retryAfterGrant(r.Context(), apps, logg, moduleID),
		})
	}
}

func AdminListClaims(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var status *enums.ResourceClaimStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseResourceClaimStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			status = &parsed
		}
		rows, err := svc.ListClaims(r.Context(), moduleID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]resourceClaimDTO, 0, len(rows))
		for i := range rows {
			out = append(out, toResourceClaimDTO(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminApproveClaim makes the claiming agency the resource's primary owner.
func AdminApproveClaim(svc assignment.Service, apps applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		claimID, err := validators.ParseUUIDParam(r, "claimId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		claim, err := svc.ApproveClaim(r.Context(), claimID, id.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"claim": toResourceClaimDTO(claim),
			"retry": retryAfterGrant(r.Context(), apps, logg, claim.ServiceModuleID),
		})
	}
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func AdminRejectClaim(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		claimID, err := validators.ParseUUIDParam(r, "claimId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		claim, err := svc.RejectClaim(r.Context(), claimID, id.UserID, validators.SanitizeText(payload.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResourceClaimDTO(claim))
	}
}

type claimCommissionRequest struct {
	CommissionType *string          `json:"commissionType" validate:"omitempty,oneof=percentage fixed"`
	CommissionRate *decimal.Decimal `json:"commissionRate"`
}

// AdminSetClaimCommission sets or, with both fields null, clears a resource's special rate.
func AdminSetClaimCommission(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		claimID, err := validators.ParseUUIDParam(r, "claimId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload claimCommissionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var ct *enums.CommissionType
		if payload.CommissionType != nil {
			parsed := enums.CommissionType(*payload.CommissionType)
			ct = &parsed
		}
		var rate decimal.NullDecimal
		if payload.CommissionRate != nil {
			rate = decimal.NewNullDecimal(*payload.CommissionRate)
		}
		claim, err := svc.SetResourceCommission(r.Context(), claimID, ct, rate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResourceClaimDTO(claim))
	}
}

// AdminEligibleAgencies shows which agencies an application was routed to.
func AdminEligibleAgencies(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		appID, err := validators.ParseUUIDParam(r, "applicationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.EligibleAgencies(r.Context(), appID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toEligibleAgencyDTOs(rows))
	}
}

type extendWindowRequest struct {
	Hours int `json:"hours" validate:"required,min=1,max=720"`
}

// AdminExtendQuoteWindow pushes an application's bidding deadline out.
func AdminExtendQuoteWindow(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		appID, err := validators.ParseUUIDParam(r, "applicationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload extendWindowRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		app, err := svc.ExtendQuoteWindow(r.Context(), id.UserID, appID, payload.Hours)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}

func AdminRejectApplication(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		appID, err := validators.ParseUUIDParam(r, "applicationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		app, err := svc.Reject(r.Context(), id.UserID, appID, validators.SanitizeText(payload.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}

// AdminPendingQueue lists applications still waiting for an eligible agency.
func AdminPendingQueue(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		filter, err := parseListFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.Statuses = []enums.ApplicationStatus{enums.ApplicationStatusPendingAssignment}
		rows, err := svc.List(r.Context(), actorFor(id), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTOs(rows, id.Role))
	}
}

type retryRequest struct {
	ModuleID      *uuid.UUID `json:"serviceModuleId"`
	ApplicationID *uuid.UUID `json:"applicationId"`
	Limit         int        `json:"limit" validate:"min=0,max=500"`
}

// AdminRetryPending re-runs assignment for waiting applications on demand.
func AdminRetryPending(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		var payload retryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.RetryPendingAssignments(r.Context(), applications.RetryFilter{
			ModuleID:      payload.ModuleID,
			ApplicationID: payload.ApplicationID,
			Limit:         payload.Limit,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
