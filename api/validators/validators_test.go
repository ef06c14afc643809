package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
)

type quoteBody struct {
	QuotedAmount decimal.Decimal `json:"quotedAmount" validate:"dgt0"`
	ServiceFee   decimal.Decimal `json:"serviceFee" validate:"dgte0"`
	Country      string          `json:"country" validate:"required,iso3166_1_alpha2"`
}

func TestDecodeJSONBodyValidatesDecimals(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quotedAmount":"120.50","serviceFee":"0","country":"FR"}`))
	var body quoteBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.True(t, body.QuotedAmount.Equal(decimal.RequireFromString("120.5")))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quotedAmount":"0","serviceFee":"-1","country":"FR"}`))
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be greater than zero", details["quotedAmount"])
	assert.Equal(t, "must be zero or greater", details["serviceFee"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quotedAmount":"1","country":"FR","extra":true}`))
	var body quoteBody
	assert.True(t, pkgerrors.HasCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("applicationId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "applicationId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "quoteId")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&status=assigned,%20quoted,,&moduleId=nope", nil)

	_, err := ParseQueryInt(req, "limit", 50, 1, 200)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, []string{"assigned", "quoted"}, ParseQueryList(req, "status"))

	_, err = ParseQueryUUID(req, "moduleId")
	assert.Error(t, err)
	missing, err := ParseQueryUUID(req, "agencyId")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "line one\nline two", SanitizeText("  line one\nline two\x00\x07 ", 0))
	assert.Equal(t, "héll", SanitizeString("héllo", 4))
}
