package forms

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// Reason codes reported per failing field.
const (
	ReasonRequired      = "required"
	ReasonInvalidType   = "invalid_type"
	ReasonInvalidFormat = "invalid_format"
	ReasonInvalidOption = "invalid_option"
	ReasonInvalidFile   = "invalid_file"
	ReasonMin           = "min"
	ReasonMax           = "max"
	ReasonBetween       = "between"
	ReasonLen           = "len"
	ReasonIn            = "in"
	ReasonBefore        = "before"
	ReasonAfter         = "after"
	ReasonPattern       = "pattern"
)

var (
	validate      = validator.New()
	phoneStripper = regexp.MustCompile(`[\s().\-]`)
	kilobyte      = decimal.NewFromInt(1024)
)

// Values maps field names to coerced values: string, decimal.Decimal, bool, []string,
// date strings (YYYY-MM-DD), Upload or a document reference string for files.
type Values map[string]any

// Upload is a raw file submitted for a file field, stored after the form validates.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// FieldError is one failing field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ValidationError lists every failing field of a submission.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Code)
	}
	return "form validation failed: " + strings.Join(parts, ", ")
}

// Evaluate validates submitted values against the schema. Defaults (keyed by field
// name) fill fields the user left absent, null or blank; the field's static default
// applies after them. Fields whose condition is unmet are dropped, as are unknown keys.
// Evaluate is pure: the same inputs always give the same result.
func Evaluate(schema Schema, submitted, defaults map[string]any) (Values, error) {
	values := Values{}
	visible := map[string]bool{}
	failed := map[int][]FieldError{}

	for _, idx := range schema.EvalOrder {
		field := schema.Fields[idx]
		if field.Condition != nil && !conditionMet(field.Condition, visible, values) {
			continue
		}
		visible[field.Name] = true

		raw, present := submitted[field.Name]
		if isBlank(raw) {
			present = false
		}
		if !present {
			if d, ok := defaults[field.Name]; ok && !isBlank(d) {
				raw, present = d, true
			}
		}
		if !present && field.DefaultValue != nil && strings.TrimSpace(*field.DefaultValue) != "" {
			raw, present = *field.DefaultValue, true
		}

		if !present {
			switch {
			case field.Required:
				failed[idx] = []FieldError{newFieldError(field, ReasonRequired, "")}
			case field.Type == enums.FieldTypeCheckbox && len(field.Options) == 0:
				values[field.Name] = false
			}
			continue
		}

		value, fe := coerce(field, raw)
		if fe != nil {
			failed[idx] = []FieldError{*fe}
			continue
		}
		if field.Required && value == false {
			failed[idx] = []FieldError{newFieldError(field, ReasonRequired, "")}
			continue
		}
		if errs := applyRules(field, value); len(errs) > 0 {
			failed[idx] = errs
			continue
		}
		values[field.Name] = value
	}

	if len(failed) == 0 {
		return values, nil
	}
	indexes := make([]int, 0, len(failed))
	for idx := range failed {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	verr := &ValidationError{}
	for _, idx := range indexes {
		verr.Errors = append(verr.Errors, failed[idx]...)
	}
	return nil, verr
}

func conditionMet(cond *Condition, visible map[string]bool, values Values) bool {
	if !visible[cond.DependsOn] {
		return false
	}
	parent, ok := values[cond.DependsOn]
	if !ok {
		return false
	}
	switch v := parent.(type) {
	case bool:
		want, err := strconv.ParseBool(strings.ToLower(cond.Equals))
		return err == nil && v == want
	case decimal.Decimal:
		want, err := decimal.NewFromString(cond.Equals)
		return err == nil && v.Equal(want)
	case []string:
		for _, item := range v {
			if item == cond.Equals {
				return true
			}
		}
		return false
	case string:
		return v == cond.Equals
	}
	return false
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func coerce(field Field, raw any) (any, *FieldError) {
	switch field.Type {
	case enums.FieldTypeText, enums.FieldTypeTextarea:
		s, ok := asString(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
		}
		return s, nil
	case enums.FieldTypeEmail:
		s, ok := asString(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
		}
		if validate.Var(s, "email") != nil {
			return nil, ptr(newFieldError(field, ReasonInvalidFormat, ""))
		}
		return s, nil
	case enums.FieldTypePhone:
		s, ok := asString(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
		}
		if !validPhone(s) {
			return nil, ptr(newFieldError(field, ReasonInvalidFormat, ""))
		}
		return s, nil
	case enums.FieldTypeNumber:
		d, ok := asDecimal(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
		}
		return d, nil
	case enums.FieldTypeDate:
		d, ok := asDate(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidFormat, dateLayout))
		}
		return d.Format(dateLayout), nil
	case enums.FieldTypeSelect, enums.FieldTypeRadio:
		s, ok := asString(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
		}
		if !contains(field.Options, s) {
			return nil, ptr(newFieldError(field, ReasonInvalidOption, s))
		}
		return s, nil
	case enums.FieldTypeMultiSelect:
		return coerceList(field, raw)
	case enums.FieldTypeCheckbox:
		if len(field.Options) > 0 {
			return coerceList(field, raw)
		}
		b, ok := asBool(raw)
		if !ok {
			return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
		}
		return b, nil
	case enums.FieldTypeFile:
		return coerceFile(field, raw)
	}
	return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
}

func coerceList(field Field, raw any) (any, *FieldError) {
	var items []string
	switch t := raw.(type) {
	case string:
		items = strings.Split(t, ",")
	case []string:
		items = t
	case []any:
		for _, item := range t {
			s, ok := asString(item)
			if !ok {
				return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
			}
			items = append(items, s)
		}
	default:
		return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
	}
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !contains(field.Options, item) {
			return nil, ptr(newFieldError(field, ReasonInvalidOption, item))
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 && field.Required {
		return nil, ptr(newFieldError(field, ReasonRequired, ""))
	}
	return out, nil
}

func coerceFile(field Field, raw any) (any, *FieldError) {
	switch t := raw.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case Upload:
		if len(t.Content) == 0 {
			return nil, ptr(newFieldError(field, ReasonInvalidFile, ""))
		}
		return t, nil
	case map[string]any:
		filename, _ := t["filename"].(string)
		contentType, _ := t["contentType"].(string)
		encoded, _ := t["content"].(string)
		if strings.TrimSpace(filename) == "" || encoded == "" {
			return nil, ptr(newFieldError(field, ReasonInvalidFile, ""))
		}
		content, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(content) == 0 {
			return nil, ptr(newFieldError(field, ReasonInvalidFile, ""))
		}
		return Upload{Filename: strings.TrimSpace(filename), ContentType: contentType, Content: content}, nil
	}
	return nil, ptr(newFieldError(field, ReasonInvalidType, ""))
}

func applyRules(field Field, value any) []FieldError {
	var errs []FieldError
	for _, rule := range field.Rules {
		if fe := checkRule(field, rule, value); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func checkRule(field Field, rule Rule, value any) *FieldError {
	switch rule.Name {
	case RuleMin, RuleMax, RuleBetween, RuleLen:
		size, ok := measure(value)
		if !ok || (field.Type == enums.FieldTypeFile && !isUpload(value)) {
			return nil
		}
		switch rule.Name {
		case RuleMin:
			if size.LessThan(rule.bounds[0]) {
				return ptr(newFieldError(field, ReasonMin, formatBound(rule.bounds[0])))
			}
		case RuleMax:
			if size.GreaterThan(rule.bounds[0]) {
				return ptr(newFieldError(field, ReasonMax, formatBound(rule.bounds[0])))
			}
		case RuleBetween:
			if size.LessThan(rule.bounds[0]) || size.GreaterThan(rule.bounds[1]) {
				return ptr(newFieldError(field, ReasonBetween, formatBound(rule.bounds[0])+","+formatBound(rule.bounds[1])))
			}
		case RuleLen:
			if !size.Equal(rule.bounds[0]) {
				return ptr(newFieldError(field, ReasonLen, formatBound(rule.bounds[0])))
			}
		}
	case RuleIn:
		switch v := value.(type) {
		case string:
			if !contains(rule.Args, v) {
				return ptr(newFieldError(field, ReasonIn, strings.Join(rule.Args, ",")))
			}
		case []string:
			for _, item := range v {
				if !contains(rule.Args, item) {
					return ptr(newFieldError(field, ReasonIn, strings.Join(rule.Args, ",")))
				}
			}
		}
	case RuleAlpha, RuleAlphaNum, RuleNumeric, RuleURL, RuleEmail:
		s, ok := value.(string)
		if ok && validate.Var(s, rule.Name) != nil {
			return ptr(newFieldError(field, rule.Name, ""))
		}
	case RuleRegex:
		s, ok := value.(string)
		if ok && !rule.pattern.MatchString(s) {
			return ptr(newFieldError(field, ReasonPattern, ""))
		}
	case RuleBefore, RuleAfter:
		s, ok := value.(string)
		if !ok {
			return nil
		}
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil
		}
		if rule.Name == RuleBefore && !d.Before(rule.date) {
			return ptr(newFieldError(field, ReasonBefore, rule.Args[0]))
		}
		if rule.Name == RuleAfter && !d.After(rule.date) {
			return ptr(newFieldError(field, ReasonAfter, rule.Args[0]))
		}
	}
	return nil
}

// measure returns the size a min/max/len rule compares: the number itself, string
// length in characters, list length or upload size in kilobytes.
func measure(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case string:
		return decimal.NewFromInt(int64(utf8.RuneCountInString(v))), true
	case []string:
		return decimal.NewFromInt(int64(len(v))), true
	case Upload:
		return decimal.NewFromInt(int64(len(v.Content))).Div(kilobyte), true
	}
	return decimal.Decimal{}, false
}

func isUpload(v any) bool {
	_, ok := v.(Upload)
	return ok
}

func asString(raw any) (string, bool) {
	switch t := raw.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case decimal.Decimal:
		return t.String(), true
	case time.Time:
		return t.Format(dateLayout), true
	}
	return "", false
}

func asDecimal(raw any) (decimal.Decimal, bool) {
	switch t := raw.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func asDate(raw any) (time.Time, bool) {
	switch t := raw.(type) {
	case time.Time:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.Parse(dateLayout, s); err == nil {
			return d, true
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func asBool(raw any) (bool, bool) {
	switch t := raw.(type) {
	case bool:
		return t, true
	case float64:
		if t == 0 || t == 1 {
			return t == 1, true
		}
	case int:
		if t == 0 || t == 1 {
			return t == 1, true
		}
	case int64:
		if t == 0 || t == 1 {
			return t == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "on", "yes":
			return true, true
		case "false", "0", "off", "no":
			return false, true
		}
	}
	return false, false
}

func validPhone(s string) bool {
	stripped := phoneStripper.ReplaceAllString(s, "")
	if strings.HasPrefix(stripped, "+") {
		return validate.Var(stripped, "e164") == nil
	}
	return validate.Var(stripped, "numeric,min=6,max=15") == nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func newFieldError(field Field, code, param string) FieldError {
	return FieldError{Field: field.Name, Code: code, Message: describe(field, code, param), Param: param}
}

func describe(field Field, code, param string) string {
	label := field.Label
	if label == "" {
		label = field.Name
	}
	switch code {
	case ReasonRequired:
		return label + " is required"
	case ReasonInvalidOption:
		return fmt.Sprintf("%s has an unknown option %q", label, param)
	case ReasonMin:
		return fmt.Sprintf("%s must be at least %s", label, param)
	case ReasonMax:
		return fmt.Sprintf("%s must be at most %s", label, param)
	case ReasonBetween:
		return fmt.Sprintf("%s must be between %s", label, strings.Replace(param, ",", " and ", 1))
	case ReasonLen:
		return fmt.Sprintf("%s must have length %s", label, param)
	case ReasonBefore:
		return fmt.Sprintf("%s must be before %s", label, param)
	case ReasonAfter:
		return fmt.Sprintf("%s must be after %s", label, param)
	case ReasonInvalidFormat:
		return label + " has an invalid format"
	case ReasonInvalidFile:
		return label + " must be a file upload or document reference"
	}
	return fmt.Sprintf("%s failed %s validation", label, code)
}

func ptr[T any](v T) *T {
	return &v
}
