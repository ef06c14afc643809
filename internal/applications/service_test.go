package applications

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/internal/profiles"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/quoteprovider"
	"github.com/angelmondragon/visamarket-backend/pkg/storage"
)

type stubModules map[uuid.UUID]*models.ServiceModule

func (s stubModules) GetModule(_ context.Context, id uuid.UUID) (*models.ServiceModule, error) {
	m, ok := s[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
	}
	return m, nil
}

// passthroughForms accepts any submission as-is.
type passthroughForms struct{}

func (passthroughForms) Schema(context.Context, uuid.UUID) (forms.Schema, error) {
	return forms.Schema{}, nil
}

func (passthroughForms) Resolve(_ context.Context, _, _ uuid.UUID, raw map[string]any, _ forms.ResolveOptions) (forms.Values, error) {
	out := forms.Values{}
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

func (passthroughForms) StoreUploads(_ context.Context, _, _ uuid.UUID, values forms.Values) (forms.Values, error) {
	return values, nil
}

type fixedProvider struct {
	price quoteprovider.Price
}

func (p fixedProvider) Quote(context.Context, quoteprovider.Request) (quoteprovider.Price, bool, error) {
	return p.price, true, nil
}

type sentNotice struct {
	recipient notifications.Recipient
	event     enums.OutboxEventType
	payload   any
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (r *recordingSink) Notify(_ context.Context, recipient notifications.Recipient, event enums.OutboxEventType, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{recipient: recipient, event: event, payload: payload})
}

func (r *recordingSink) count(event enums.OutboxEventType, role enums.ActorRole) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.event == event && s.recipient.Role == role {
			n++
		}
	}
	return n
}

type harness struct {
	svc         *service
	assignments assignment.Service
	eligibility *assignment.Repository
	repo        *Repository
	sink        *recordingSink
	modules     stubModules
}

func newHarness(t *testing.T, provider assignment.ExternalQuoteProvider) *harness {
	t.Helper()
	return newHarnessWithForms(t, provider, passthroughForms{})
}

func newHarnessWithForms(t *testing.T, provider assignment.ExternalQuoteProvider, formsSvc forms.Service) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	modules := stubModules{}
	eligibility := assignment.NewRepository(conn)
	assignments, err := assignment.NewService(eligibility, modules, assignment.Config{Provider: provider})
	require.NoError(t, err)

	repo := NewRepository(conn)
	sink := &recordingSink{}
	svc, err := NewService(Deps{
		Repo:        repo,
		Tx:          db.Wrap(conn),
		Modules:     modules,
		Forms:       formsSvc,
		Assignments: assignments,
		Eligibility: eligibility,
		Notifier:    sink,
	})
	require.NoError(t, err)
	return &harness{
		svc:         svc.(*service),
		assignments: assignments,
		eligibility: eligibility,
		repo:        repo,
		sink:        sink,
		modules:     modules,
	}
}

func (h *harness) module(model enums.AssignmentModel, minQuotes int, rate int64) *models.ServiceModule {
	m := &models.ServiceModule{
		ID:                uuid.New(),
		Slug:              "tourist-visa-" + uuid.NewString()[:8],
		Name:              "Tourist Visa",
		AssignmentModel:   model,
		RequiresAgency:    model.RequiresAgency(),
		CommissionType:    enums.CommissionTypePercentage,
		CommissionRate:    decimal.NewFromInt(rate),
		Currency:          "USD",
		QuoteTimeoutHours: 24,
		MinQuotesRequired: minQuotes,
		IsActive:          true,
	}
	h.modules[m.ID] = m
	return m
}

func (h *harness) assign(t *testing.T, module *models.ServiceModule, country, visaType string) uuid.UUID {
	t.Helper()
	agencyID := uuid.New()
	_, err := h.assignments.CreateCountryAssignment(context.Background(), assignment.AssignmentInput{
		AgencyID: agencyID,
		ModuleID: module.ID,
		Country:  country,
		VisaType: visaType,
	})
	require.NoError(t, err)
	return agencyID
}

func (h *harness) submit(t *testing.T, module *models.ServiceModule, userID uuid.UUID) *models.ServiceApplication {
	t.Helper()
	app, err := h.svc.Submit(context.Background(), userID, SubmitInput{
		ModuleID: module.ID,
		FormData: map[string]any{"country": "TH", "visa_type": "tourist", "full_name": "Jane Doe"},
	})
	require.NoError(t, err)
	return app
}

func (h *harness) quote(t *testing.T, agencyID, appID uuid.UUID, amount int64, days int) *models.ServiceQuote {
	t.Helper()
	q, err := h.svc.SubmitQuote(context.Background(), assignment.AgencyRef{ID: agencyID}, appID, QuoteInput{
		QuotedAmount:   decimal.NewFromInt(amount),
		ProcessingDays: days,
	})
	require.NoError(t, err)
	return q
}

func (h *harness) shift(d time.Duration) {
	at := time.Now().UTC().Add(d)
	h.svc.now = func() time.Time { return at }
}

func TestThailandTouristVisaCompetitiveFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 2, 15)
	agencyA := h.assign(t, module, "TH", "tourist")
	agencyB := h.assign(t, module, "TH", "tourist")
	userID := uuid.New()

	app := h.submit(t, module, userID)
	assert.Equal(t, enums.ApplicationStatusAssigned, app.Status)
	assert.Equal(t, "TH", app.Country)
	require.NotNil(t, app.QuoteDeadline)
	assert.Equal(t, 2, h.sink.count(enums.EventApplicationBroadcast, enums.ActorRoleAgency))

	eligible, err := h.assignments.EligibleAgencies(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	for _, e := range eligible {
		assert.Contains(t, []uuid.UUID{agencyA, agencyB}, e.AgencyID)
		assert.NotNil(t, e.AssignmentID)
	}

	quoteA := h.quote(t, agencyA, app.ID, 150, 5)
	current, err := h.svc.Get(ctx, UserActor(userID), app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusAssigned, current.Status, "one quote is short of the minimum")

	quoteB := h.quote(t, agencyB, app.ID, 130, 7)
	current, err = h.svc.Get(ctx, UserActor(userID), app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusQuoted, current.Status)

	accepted, err := h.svc.AcceptQuote(ctx, userID, quoteB.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AssignedAgencyID)
	assert.Equal(t, agencyB, *accepted.AssignedAgencyID)
	assert.Equal(t, "130.00", accepted.QuotedAmount.Decimal.StringFixed(2))
	assert.Equal(t, "19.50", accepted.PlatformCommission.Decimal.StringFixed(2))
	assert.Equal(t, "110.50", accepted.AgencyEarnings.Decimal.StringFixed(2))
	require.NotNil(t, accepted.CommissionSource)
	assert.Equal(t, enums.CommissionSourceModule, *accepted.CommissionSource)

	gotA, err := h.repo.FindQuote(ctx, quoteA.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.QuoteStatusExpired, gotA.Status)
	gotB, err := h.repo.FindQuote(ctx, quoteB.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.QuoteStatusAccepted, gotB.Status)

	assert.Equal(t, 1, h.sink.count(enums.EventQuoteAccepted, enums.ActorRoleAgency))
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteExpired, enums.ActorRoleAgency))

	history, err := h.svc.History(ctx, AdminActor(uuid.New()), app.ID)
	require.NoError(t, err)
	var trail []enums.ApplicationStatus
	for _, e := range history {
		trail = append(trail, e.ToStatus)
	}
	assert.Equal(t, []enums.ApplicationStatus{
		enums.ApplicationStatusDraft,
		enums.ApplicationStatusPending,
		enums.ApplicationStatusAssigned,
		enums.ApplicationStatusQuoted,
		enums.ApplicationStatusAccepted,
	}, trail)

	_, err = h.svc.AcceptQuote(ctx, userID, quoteA.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAcceptanceConflict))
}

func TestConcurrentAcceptanceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	userID := uuid.New()

	const agencies = 5
	ids := make([]uuid.UUID, agencies)
	for i := range ids {
		ids[i] = h.assign(t, module, "TH", "tourist")
	}
	app := h.submit(t, module, userID)
	quotes := make([]uuid.UUID, agencies)
	for i, agencyID := range ids {
		quotes[i] = h.quote(t, agencyID, app.ID, int64(100+i), 3).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, agencies)
	for i := range quotes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.AcceptQuote(ctx, userID, quotes[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAcceptanceConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	rows, err := h.repo.Quotes(ctx, app.ID, nil)
	require.NoError(t, err)
	accepted := 0
	for _, q := range rows {
		if q.Status == enums.QuoteStatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestSubmitValidatesCountry(t *testing.T) {
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)

	_, err := h.svc.Submit(context.Background(), uuid.New(), SubmitInput{
		ModuleID: module.ID,
		FormData: map[string]any{"country": "Thailand"},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

type countingDocuments struct {
	mu     sync.Mutex
	stored int
}

func (d *countingDocuments) Store(_ context.Context, _ []byte, meta storage.DocumentMeta) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stored++
	return "gs://docs/" + meta.Field, nil
}

func (d *countingDocuments) Retrieve(context.Context, string) ([]byte, error) { return nil, nil }

type moduleFields []models.FormField

func (f moduleFields) FormFields(context.Context, uuid.UUID) ([]models.FormField, error) {
	return f, nil
}

type noProfiles struct{}

func (noProfiles) Snapshot(context.Context, uuid.UUID, []profiles.Key) (profiles.Snapshot, error) {
	return profiles.Snapshot{}, nil
}

func TestSubmitStoresUploadsOnlyAfterEveryCheck(t *testing.T) {
	ctx := context.Background()
	docs := &countingDocuments{}
	formsSvc, err := forms.NewService(moduleFields{
		{Name: "country", Label: "Country", Type: enums.FieldTypeText, Required: true},
		{Name: "visa_type", Label: "Visa type", Type: enums.FieldTypeText, SortOrder: 1},
		{Name: "passport_scan", Label: "Passport scan", Type: enums.FieldTypeFile, SortOrder: 2},
	}, noProfiles{}, docs, nil)
	require.NoError(t, err)
	h := newHarnessWithForms(t, nil, formsSvc)
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	h.assign(t, module, "TH", "tourist")
	scan := map[string]any{
		"filename":    "scan.pdf",
		"contentType": "application/pdf",
		"content":     base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 passport")),
	}

	_, err = h.svc.Submit(ctx, uuid.New(), SubmitInput{
		ModuleID: module.ID,
		FormData: map[string]any{"country": "Thailand", "visa_type": "tourist", "passport_scan": scan},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, docs.stored, "a rejected submission stores nothing")

	app, err := h.svc.Submit(ctx, uuid.New(), SubmitInput{
		ModuleID: module.ID,
		FormData: map[string]any{"country": "TH", "visa_type": "tourist", "passport_scan": scan},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.stored)
	assert.Equal(t, "gs://docs/passport_scan", app.FormData["passport_scan"])
}

func TestPeerToPeerCompletesOnSubmit(t *testing.T) {
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentPeerToPeer, 1, 0)

	app := h.submit(t, module, uuid.New())
	assert.Equal(t, enums.ApplicationStatusCompleted, app.Status)
	assert.NotNil(t, app.CompletedAt)
}

func TestHybridAcceptsExternalPrice(t *testing.T) {
	h := newHarness(t, fixedProvider{price: quoteprovider.Price{
		Amount:         decimal.NewFromInt(200),
		ServiceFee:     decimal.NewFromInt(25),
		Currency:       "USD",
		ProcessingDays: 4,
		Reference:      "ext-1",
	}})
	module := h.module(enums.AssignmentHybrid, 1, 10)

	app := h.submit(t, module, uuid.New())
	assert.Equal(t, enums.ApplicationStatusAccepted, app.Status)
	assert.Nil(t, app.AssignedAgencyID)
	assert.Equal(t, "20.00", app.PlatformCommission.Decimal.StringFixed(2))
	assert.Equal(t, "180.00", app.AgencyEarnings.Decimal.StringFixed(2))

	rows, err := h.repo.Quotes(context.Background(), app.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.QuoteSourceExternal, rows[0].Source)
	assert.Equal(t, enums.QuoteStatusAccepted, rows[0].Status)

	started, err := h.svc.StartProcessing(context.Background(), AdminActor(uuid.New()), app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusInProgress, started.Status)
}

func TestPendingAssignmentRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)

	app := h.submit(t, module, uuid.New())
	assert.Equal(t, enums.ApplicationStatusPendingAssignment, app.Status)
	require.NotNil(t, app.StatusReason)
	assert.Equal(t, assignment.ReasonNoAssignment, *app.StatusReason)
	assert.Equal(t, 1, h.sink.count(enums.EventApplicationUnassigned, enums.ActorRoleAdmin))

	summary, err := h.svc.RetryPendingAssignments(ctx, RetryFilter{})
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, StillPending: 1}, summary)

	agencyID := h.assign(t, module, "TH", "")
	summary, err = h.svc.RetryPendingAssignments(ctx, RetryFilter{ModuleID: &module.ID})
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, Assigned: 1}, summary)

	current, err := h.svc.Get(ctx, AgencyActor(agencyID, uuid.New()), app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusAssigned, current.Status)
	assert.Nil(t, current.StatusReason)
	assert.Equal(t, 1, h.sink.count(enums.EventApplicationAssigned, enums.ActorRoleAgency))

	_, err = h.svc.RetryPendingAssignments(ctx, RetryFilter{ApplicationID: &app.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestQuoteRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 2, 10)
	agencyID := h.assign(t, module, "TH", "tourist")
	app := h.submit(t, module, uuid.New())

	_, err := h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: uuid.New()}, app.ID, QuoteInput{QuotedAmount: decimal.NewFromInt(10)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: agencyID}, app.ID, QuoteInput{QuotedAmount: decimal.Zero})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	first := h.quote(t, agencyID, app.ID, 90, 2)
	_, err = h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: agencyID}, app.ID, QuoteInput{QuotedAmount: decimal.NewFromInt(80)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

	withdrawn, err := h.svc.WithdrawQuote(ctx, assignment.AgencyRef{ID: agencyID}, first.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.QuoteStatusWithdrawn, withdrawn.Status)

	second := h.quote(t, agencyID, app.ID, 80, 2)
	assert.Equal(t, enums.QuoteStatusPending, second.Status)
}

func TestQuoteWindowDeadlineAndExtension(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	agencyID := h.assign(t, module, "TH", "tourist")
	userID := uuid.New()
	app := h.submit(t, module, userID)

	h.shift(25 * time.Hour)
	_, err := h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: agencyID}, app.ID, QuoteInput{QuotedAmount: decimal.NewFromInt(50)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	escalated, err := h.svc.EscalateLapsedWindows(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, escalated)
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteWindowEscalated, enums.ActorRoleAdmin))
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteWindowEscalated, enums.ActorRoleUser))

	again, err := h.svc.EscalateLapsedWindows(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, again)

	_, err = h.svc.ExtendQuoteWindow(ctx, uuid.New(), app.ID, 10_000)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	extended, err := h.svc.ExtendQuoteWindow(ctx, uuid.New(), app.ID, 24)
	require.NoError(t, err)
	assert.Nil(t, extended.WindowEscalatedAt)
	require.NotNil(t, extended.QuoteDeadline)
	assert.True(t, extended.QuoteDeadline.After(h.svc.clock()))

	q := h.quote(t, agencyID, app.ID, 50, 1)
	assert.Equal(t, enums.QuoteStatusPending, q.Status)
}

func TestExpireStaleQuotes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	agencyID := h.assign(t, module, "TH", "tourist")
	app := h.submit(t, module, uuid.New())

	validUntil := time.Now().UTC().Add(time.Hour)
	q, err := h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: agencyID}, app.ID, QuoteInput{
		QuotedAmount: decimal.NewFromInt(70),
		ValidUntil:   &validUntil,
	})
	require.NoError(t, err)

	n, err := h.svc.ExpireStaleQuotes(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.shift(2 * time.Hour)
	n, err = h.svc.ExpireStaleQuotes(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.repo.FindQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.QuoteStatusExpired, got.Status)
	assert.False(t, got.WindowBound)
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteExpired, enums.ActorRoleAgency))

	current, err := h.repo.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusQuoted, current.Status)
	assert.NotNil(t, current.WindowEscalatedAt, "a quoted application without offers goes to admins")
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteWindowEscalated, enums.ActorRoleAdmin))
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteWindowEscalated, enums.ActorRoleUser))

	again, err := h.svc.EscalateLapsedWindows(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestQuotedWindowLapseEscalatesAndExtensionRevivesQuotes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 2, 15)
	agencyA := h.assign(t, module, "TH", "tourist")
	agencyB := h.assign(t, module, "TH", "tourist")
	userID := uuid.New()
	app := h.submit(t, module, userID)

	h.quote(t, agencyA, app.ID, 150, 5)
	quoteB := h.quote(t, agencyB, app.ID, 130, 7)
	assert.True(t, quoteB.WindowBound)
	require.NotNil(t, quoteB.ValidUntil)
	assert.WithinDuration(t, *app.QuoteDeadline, *quoteB.ValidUntil, time.Second)

	h.shift(25 * time.Hour)
	expired, err := h.svc.ExpireStaleQuotes(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, expired, "window-bound quotes follow the window")

	escalated, err := h.svc.EscalateLapsedWindows(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, escalated)
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteWindowEscalated, enums.ActorRoleAdmin))
	assert.Equal(t, 1, h.sink.count(enums.EventQuoteWindowEscalated, enums.ActorRoleUser))

	_, err = h.svc.AcceptQuote(ctx, userID, quoteB.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	extended, err := h.svc.ExtendQuoteWindow(ctx, uuid.New(), app.ID, 24)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusQuoted, extended.Status)
	assert.Nil(t, extended.WindowEscalatedAt)

	rows, err := h.repo.Quotes(ctx, app.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, q := range rows {
		assert.Equal(t, enums.QuoteStatusPending, q.Status)
		require.NotNil(t, q.ValidUntil)
		assert.WithinDuration(t, *extended.QuoteDeadline, *q.ValidUntil, time.Second)
	}

	accepted, err := h.svc.AcceptQuote(ctx, userID, quoteB.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusAccepted, accepted.Status)
}

func TestQuoteValidityIsClampedToWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	agencyID := h.assign(t, module, "TH", "tourist")
	app := h.submit(t, module, uuid.New())
	require.NotNil(t, app.QuoteDeadline)

	far := time.Now().UTC().Add(30 * 24 * time.Hour)
	q, err := h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: agencyID}, app.ID, QuoteInput{
		QuotedAmount: decimal.NewFromInt(70),
		ValidUntil:   &far,
	})
	require.NoError(t, err)
	assert.True(t, q.WindowBound)
	require.NotNil(t, q.ValidUntil)
	assert.WithinDuration(t, *app.QuoteDeadline, *q.ValidUntil, time.Second)

	stored, err := h.repo.FindQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, stored.WindowBound)
}

func TestConcurrentQuotesPromoteOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	const agencies = 4
	module := h.module(enums.AssignmentCompetitive, agencies, 10)
	ids := make([]uuid.UUID, agencies)
	for i := range ids {
		ids[i] = h.assign(t, module, "TH", "tourist")
	}
	app := h.submit(t, module, uuid.New())

	var wg sync.WaitGroup
	errs := make([]error, agencies)
	for i, agencyID := range ids {
		wg.Add(1)
		go func(i int, agencyID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = h.svc.SubmitQuote(ctx, assignment.AgencyRef{ID: agencyID}, app.ID, QuoteInput{
				QuotedAmount:   decimal.NewFromInt(int64(100 + i)),
				ProcessingDays: 3,
			})
		}(i, agencyID)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	current, err := h.repo.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusQuoted, current.Status)

	history, err := h.svc.History(ctx, AdminActor(uuid.New()), app.ID)
	require.NoError(t, err)
	quoted := 0
	for _, e := range history {
		if e.ToStatus == enums.ApplicationStatusQuoted {
			quoted++
		}
	}
	assert.Equal(t, 1, quoted)
}

// acceptedApplication runs one application through to acceptance of a single quote.
func acceptedApplication(t *testing.T, h *harness) (*models.ServiceApplication, uuid.UUID, uuid.UUID) {
	t.Helper()
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	agencyID := h.assign(t, module, "TH", "tourist")
	userID := uuid.New()
	app := h.submit(t, module, userID)
	q := h.quote(t, agencyID, app.ID, 100, 3)
	accepted, err := h.svc.AcceptQuote(context.Background(), userID, q.ID)
	require.NoError(t, err)
	return accepted, agencyID, userID
}

func (h *harness) assignmentFor(t *testing.T, appID, agencyID uuid.UUID) *models.AgencyCountryAssignment {
	t.Helper()
	overrides, err := h.assignments.Overrides(context.Background(), appID, agencyID)
	require.NoError(t, err)
	require.NotNil(t, overrides.Assignment)
	row, err := h.eligibility.FindAssignment(context.Background(), overrides.Assignment.ID)
	require.NoError(t, err)
	return row
}

func TestCompletionAppliesCountersOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	app, agencyID, _ := acceptedApplication(t, h)
	agency := AgencyActor(agencyID, uuid.New())

	_, err := h.svc.StartProcessing(ctx, AgencyActor(uuid.New(), uuid.New()), app.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Complete(ctx, agency, app.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "accepted work must start before it completes")

	_, err = h.svc.StartProcessing(ctx, agency, app.ID)
	require.NoError(t, err)
	noted, err := h.svc.AddNote(ctx, agency, app.ID, "documents lodged with the embassy")
	require.NoError(t, err)
	require.NotNil(t, noted.Notes)
	assert.Contains(t, *noted.Notes, "agency: documents lodged with the embassy")

	done, err := h.svc.Complete(ctx, agency, app.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusCompleted, done.Status)
	assert.True(t, done.CountersApplied)

	row := h.assignmentFor(t, app.ID, agencyID)
	assert.Equal(t, 1, row.TotalApplications)
	assert.Equal(t, 1, row.ApprovedApplications)
	assert.True(t, row.TotalRevenue.Equal(decimal.RequireFromString("90")), row.TotalRevenue.String())

	_, err = h.svc.Reject(ctx, uuid.New(), app.ID, "fraud")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	row = h.assignmentFor(t, app.ID, agencyID)
	assert.Equal(t, 1, row.TotalApplications)
}

func TestRejectAfterAcceptanceCountsAgainstAgency(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	app, agencyID, _ := acceptedApplication(t, h)

	_, err := h.svc.Reject(ctx, uuid.New(), app.ID, "  ")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	rejected, err := h.svc.Reject(ctx, uuid.New(), app.ID, "documents forged")
	require.NoError(t, err)
	assert.Equal(t, enums.ApplicationStatusRejected, rejected.Status)

	row := h.assignmentFor(t, app.ID, agencyID)
	assert.Equal(t, 1, row.TotalApplications)
	assert.Equal(t, 1, row.RejectedApplications)
	assert.Zero(t, row.ApprovedApplications)
}

func TestCancelRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	t.Run("user cancels an open application", func(t *testing.T) {
		module := h.module(enums.AssignmentCompetitive, 1, 10)
		agencyID := h.assign(t, module, "TH", "tourist")
		userID := uuid.New()
		app := h.submit(t, module, userID)
		q := h.quote(t, agencyID, app.ID, 60, 2)

		_, err := h.svc.Cancel(ctx, UserActor(uuid.New()), app.ID, CancelInput{Reason: "changed plans"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

		cancelled, err := h.svc.Cancel(ctx, UserActor(userID), app.ID, CancelInput{Reason: "changed plans"})
		require.NoError(t, err)
		assert.Equal(t, enums.ApplicationStatusCancelled, cancelled.Status)

		got, err := h.repo.FindQuote(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.QuoteStatusRejected, got.Status)
		assert.Equal(t, 1, h.sink.count(enums.EventQuoteRejected, enums.ActorRoleAgency))
	})

	t.Run("accepted work needs an admin override", func(t *testing.T) {
		app, _, userID := acceptedApplication(t, h)

		_, err := h.svc.Cancel(ctx, UserActor(userID), app.ID, CancelInput{Reason: "too slow"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

		admin := AdminActor(uuid.New())
		_, err = h.svc.Cancel(ctx, admin, app.ID, CancelInput{Reason: "too slow"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

		cancelled, err := h.svc.Cancel(ctx, admin, app.ID, CancelInput{Reason: "too slow", Override: true})
		require.NoError(t, err)
		assert.Equal(t, enums.ApplicationStatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.StatusReason)
		assert.Equal(t, "too slow", *cancelled.StatusReason)
	})
}

func TestListScopesByActor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	module := h.module(enums.AssignmentCompetitive, 1, 10)
	agencyID := h.assign(t, module, "TH", "tourist")
	owner := uuid.New()
	mine := h.submit(t, module, owner)
	h.submit(t, module, uuid.New())

	rows, err := h.svc.List(ctx, UserActor(owner), ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, mine.ID, rows[0].ID)

	rows, err = h.svc.List(ctx, AgencyActor(agencyID, uuid.New()), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = h.svc.List(ctx, AgencyActor(uuid.New(), uuid.New()), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = h.svc.Get(ctx, UserActor(uuid.New()), mine.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
