package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	"github.com/angelmondragon/visamarket-backend/api/validators"
	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	maxReasonLength  = 1000
)

type submitApplicationRequest struct {
	ModuleID     uuid.UUID      `json:"serviceModuleId" validate:"required"`
	Country      string         `json:"country" validate:"omitempty,len=2,alpha"`
	VisaType     string         `json:"visaType" validate:"max=100"`
	ResourceName string         `json:"resourceName" validate:"max=300"`
	FormData     map[string]any `json:"formData"`
}

func (p submitApplicationRequest) toInput() applications.SubmitInput {
	return applications.SubmitInput{
		ModuleID:     p.ModuleID,
		Country:      strings.ToUpper(strings.TrimSpace(p.Country)),
		VisaType:     validators.SanitizeString(p.VisaType, 100),
		ResourceName: validators.SanitizeString(p.ResourceName, 300),
		FormData:     p.FormData,
	}
}

// ApplicationPreview validates a submission without creating anything.
func ApplicationPreview(svc applications.Service, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		var payload submitApplicationRequest
		if err := validators.DecodeJSONBodyLimit(r, &payload, maxBody); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		values, err := svc.Preview(r.Context(), id.UserID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"valid": true, "formData": values})
	}
}

// ApplicationSubmit creates an application. A submission no agency can serve yet is
// still accepted with status pending_assignment.
func ApplicationSubmit(svc applications.Service, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		var payload submitApplicationRequest
		if err := validators.DecodeJSONBodyLimit(r, &payload, maxBody); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		app, err := svc.Submit(r.Context(), id.UserID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if app.Status == enums.ApplicationStatusPendingAssignment {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, toApplicationDTO(app, id.Role))
	}
}

// ApplicationList lists the caller's applications. Agencies see what they are
// assigned or eligible for; admins may filter by anything.
func ApplicationList(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
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
		rows, err := svc.List(r.Context(), actorFor(id), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTOs(rows, id.Role))
	}
}

func ApplicationGet(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
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
		app, err := svc.Get(r.Context(), actorFor(id), appID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}

// ApplicationQuotes lists quotes visible to the caller: every quote for the owner and
// admins, only its own for an agency.
func ApplicationQuotes(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
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
		rows, err := svc.Quotes(r.Context(), actorFor(id), appID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toQuoteDTOs(rows, id.Role))
	}
}

func ApplicationHistory(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
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
		rows, err := svc.History(r.Context(), actorFor(id), appID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toStatusEventDTOs(rows))
	}
}

// QuoteAccept accepts one quote for the owner; every other pending quote is rejected.
func QuoteAccept(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "applications")
			return
		}
		id, ok := callerIdentity(w, r, logg)
		if !ok {
			return
		}
		quoteID, err := validators.ParseUUIDParam(r, "quoteId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		app, err := svc.AcceptQuote(r.Context(), id.UserID, quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}

type cancelRequest struct {
	Reason   string `json:"reason" validate:"max=1000"`
	Override bool   `json:"override"`
}

// ApplicationCancel serves owners and admins. Override is honoured for admins only.
func ApplicationCancel(svc applications.Service, logg *logger.Logger) http.HandlerFunc {
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
		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := applications.CancelInput{
			Reason:   validators.SanitizeText(payload.Reason, maxReasonLength),
			Override: payload.Override && id.Role == enums.ActorRoleAdmin,
		}
		app, err := svc.Cancel(r.Context(), actorFor(id), appID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toApplicationDTO(app, id.Role))
	}
}

func parseListFilter(r *http.Request) (applications.ListFilter, error) {
	var filter applications.ListFilter
	limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	if filter.ModuleID, err = validators.ParseQueryUUID(r, "moduleId"); err != nil {
		return filter, err
	}
	if filter.UserID, err = validators.ParseQueryUUID(r, "userId"); err != nil {
		return filter, err
	}
	if filter.AgencyID, err = validators.ParseQueryUUID(r, "agencyId"); err != nil {
		return filter, err
	}
	for _, raw := range validators.ParseQueryList(r, "status") {
		status, err := enums.ParseApplicationStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
				WithDetails(map[string]any{"field": "status"})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}
