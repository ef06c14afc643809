package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	"github.com/angelmondragon/visamarket-backend/api/validators"
	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const maxNoteLength = 4000

type claimResourceRequest struct {
	ModuleID     uuid.UUID `json:"serviceModuleId" validate:"required"`
	ResourceName string    `json:"resourceName" validate:"required,max=300"`
}

// AgencyClaimResource files a claim over a named resource. A resource already held by
// another agency answers 409 RESOURCE_CLAIM_CONFLICT.
func AgencyClaimResource(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "assignment")
			return
		}
		id, ok := agencyIdentity(w, r, logg)
		if !ok {
			return
		}
		var payload claimResourceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ClaimResource(r.Context(), agencyRef(id), payload.ModuleID, validators.SanitizeString(payload.ResourceName, 300))
		if err == nil {
			err = result.Err()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toResourceClaimDTO(result.Resource))
	}
}

type quoteRequest struct {
	QuotedAmount   decimal.Decimal `json:"quotedAmount" validate:"dgt0"`
	ServiceFee     decimal.Decimal `json:"serviceFee" validate:"dgte0"`
	ProcessingDays int             `json:"processingDays" validate:"min=0,max=365"`
	Notes          string          `json:"notes" validate:"max=4000"`
	ValidUntil     *time.Time      `json:"validUntil"`
}

// AgencySubmitQuote prices an application the agency is eligible for.
func AgencySubmitQuote(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := agencyIdentity(w, r, logg)
		if !ok {
			return
		}
		appID, err := validators.ParseUUIDParam(r, "applicationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload quoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote, err := svc.SubmitQuote(r.Context(), agencyRef(id), appID, applications.QuoteInput{
			QuotedAmount:   payload.QuotedAmount,
			ServiceFee:     payload.ServiceFee,
			ProcessingDays: payload.ProcessingDays,
			Notes:          validators.SanitizeText(payload.Notes, maxNoteLength),
			ValidUntil:     payload.ValidUntil,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toQuoteDTO(quote, id.Role))
	}
}

func AgencyWithdrawQuote(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := agencyIdentity(w, r, logg)
		if !ok {
			return
		}
		quoteID, err := validators.ParseUUIDParam(r, "quoteId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote, err := svc.WithdrawQuote(r.Context(), agencyRef(id), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toQuoteDTO(quote, id.Role))
	}
}

type lifecycleFunc func(svc applications.Service, r *http.Request, actor applications.Actor, appID uuid.UUID) (*models.ServiceApplication, error)

// ApplicationStart moves an accepted application to in_progress.
func ApplicationStart(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(svc applications.Service, r *http.Request, actor applications.Actor, appID uuid.UUID) (*models.ServiceApplication, error) {
		return svc.StartProcessing(r.Context(), actor, appID)
	})
}

// ApplicationComplete finishes an in-progress application and books the agency's earnings.
func ApplicationComplete(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(svc applications.Service, r *http.Request, actor applications.Actor, appID uuid.UUID) (*models.ServiceApplication, error) {
		return svc.Complete(r.Context(), actor, appID)
	})
}

func lifecycleHandler(svc applications.Service, logg *logger.Logger, step lifecycleFunc) http.HandlerFunc {
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
		app, err := step(svc, r, actorFor(id), appID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}

type noteRequest struct {
	Note string `json:"note" validate:"required,max=4000"`
}

// ApplicationAddNote appends a timestamped note for the processing agency or an admin.
func ApplicationAddNote(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
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
		var payload noteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		app, err := svc.AddNote(r.Context(), actorFor(id), appID, validators.SanitizeText(payload.Note, maxNoteLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}
