package validators

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
)

const defaultMaxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	// decimals arrive as strings; "dgte0" and "dgt0" bound them without float conversion.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("dgte0", decimalSign(func(d decimal.Decimal) bool { return !d.IsNegative() }))
	_ = v.RegisterValidation("dgt0", decimalSign(func(d decimal.Decimal) bool { return d.IsPositive() }))
	return v
}

func decimalSign(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && ok(d)
	}
}

// DecodeJSONBody decodes a single JSON object into dest and runs its validate tags.
func DecodeJSONBody(r *http.Request, dest any) error {
	return DecodeJSONBodyLimit(r, dest, defaultMaxBodyBytes)
}

// DecodeJSONBodyLimit is DecodeJSONBody for bodies that carry inline documents.
func DecodeJSONBodyLimit(r *http.Request, dest any, limit int64) error {
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body := http.MaxBytesReader(nil, r.Body, limit)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "alpha":
		return "must contain letters only"
	case "dgte0":
		return "must be zero or greater"
	case "dgt0":
		return "must be greater than zero"
	case "uuid":
		return "must be a valid id"
	}
	return "is invalid"
}
