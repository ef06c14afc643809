package forms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/internal/profiles"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/storage"
)

// FieldSource loads a module's field definitions.
type FieldSource interface {
	FormFields(ctx context.Context, moduleID uuid.UUID) ([]models.FormField, error)
}

// ResolveOptions tunes a single Resolve call.
type ResolveOptions struct {
	// Preview validates without storing uploads; pending uploads are reported by name.
	Preview bool
	// DeferUploads leaves validated Upload values in place for a later StoreUploads.
	DeferUploads bool
}

// Service resolves raw submissions into validated form data.
type Service interface {
	Schema(ctx context.Context, moduleID uuid.UUID) (Schema, error)
	Resolve(ctx context.Context, moduleID, userID uuid.UUID, raw map[string]any, opts ResolveOptions) (Values, error)
	StoreUploads(ctx context.Context, moduleID, userID uuid.UUID, values Values) (Values, error)
}

type service struct {
	fields    FieldSource
	profiles  profiles.Store
	documents storage.DocumentStore
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the resolver. documents may be nil, in which case file uploads are
// refused and only existing document references are accepted.
func NewService(fields FieldSource, profileStore profiles.Store, documents storage.DocumentStore, logg *logger.Logger) (Service, error) {
	if fields == nil {
		return nil, fmt.Errorf("form field source required")
	}
	if profileStore == nil {
		return nil, fmt.Errorf("profile store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		fields:    fields,
		profiles:  profileStore,
		documents: documents,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) Schema(ctx context.Context, moduleID uuid.UUID) (Schema, error) {
	defs, err := s.fields.FormFields(ctx, moduleID)
	if err != nil {
		return Schema{}, err
	}
	var guard ProfileGuard
	if g, ok := s.profiles.(ProfileGuard); ok {
		guard = g
	}
	schema, err := Compile(defs, s.today(), guard)
	if err != nil {
		var serr *SchemaError
		if errors.As(err, &serr) {
			return Schema{}, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "service form is misconfigured").WithDetails(serr.Issues)
		}
		return Schema{}, err
	}
	return schema, nil
}

func (s *service) Resolve(ctx context.Context, moduleID, userID uuid.UUID, raw map[string]any, opts ResolveOptions) (Values, error) {
	schema, err := s.Schema(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	defaults := map[string]any{}
	if keys := schema.ProfileKeys(); len(keys) > 0 {
		snapshot, err := s.profiles.Snapshot(ctx, userID, keys)
		if err != nil {
			s.logg.WarnErr(s.logg.WithUserID(ctx, userID.String()), "profile snapshot unavailable, resolving without defaults", err)
		}
		for _, f := range schema.Fields {
			if f.ProfileKey == nil {
				continue
			}
			if v, ok := snapshot.Get(*f.ProfileKey); ok {
				defaults[f.Name] = v
			}
		}
	}

	values, err := Evaluate(schema, raw, defaults)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "form validation failed").WithDetails(verr.Errors)
		}
		return nil, err
	}

	switch {
	case opts.Preview:
		for name, v := range values {
			if upload, ok := v.(Upload); ok {
				values[name] = map[string]any{"filename": upload.Filename, "pending": true}
			}
		}
		return values, nil
	case opts.DeferUploads:
		return values, nil
	}
	return s.StoreUploads(ctx, moduleID, userID, values)
}

// StoreUploads writes every Upload in values to the document store and replaces it
// with the returned reference. Callers run it once nothing else can reject the
// submission. References are content-addressed, so storing the same upload again
// yields the same reference.
func (s *service) StoreUploads(ctx context.Context, moduleID, userID uuid.UUID, values Values) (Values, error) {
	names := make([]string, 0, len(values))
	for name, v := range values {
		if _, ok := v.(Upload); ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return values, nil
	}
	sort.Strings(names)
	if s.documents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file uploads are not accepted").
			WithDetails([]FieldError{{Field: names[0], Code: ReasonInvalidFile, Message: "file uploads are not accepted"}})
	}

	out := make(Values, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, name := range names {
		upload := values[name].(Upload)
		ref, err := s.documents.Store(ctx, upload.Content, storage.DocumentMeta{
			OwnerID:     userID,
			ModuleID:    moduleID,
			Field:       name,
			Filename:    upload.Filename,
			ContentType: upload.ContentType,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing document")
		}
		out[name] = ref
	}
	return out, nil
}

func (s *service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
