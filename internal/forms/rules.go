package forms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

const dateLayout = "2006-01-02"

// Rule names accepted in a field's validation string.
const (
	RuleMin         = "min"
	RuleMax         = "max"
	RuleBetween     = "between"
	RuleLen         = "len"
	RuleIn          = "in"
	RuleAlpha       = "alpha"
	RuleAlphaNum    = "alphanum"
	RuleNumeric     = "numeric"
	RuleURL         = "url"
	RuleEmail       = "email"
	RuleBefore      = "before"
	RuleAfter       = "after"
	RuleBeforeToday = "before_today"
	RuleAfterToday  = "after_today"
	RuleRegex       = "regex"
)

// Rule is one parsed validation token.
type Rule struct {
	Name string
	Args []string

	bounds  []decimal.Decimal
	date    time.Time
	pattern *regexp.Regexp
}

// String renders the rule back into token form.
func (r Rule) String() string {
	if len(r.Args) == 0 {
		return r.Name
	}
	if r.Name == RuleRegex {
		return r.Name + ":" + r.Args[0]
	}
	return r.Name + ":" + strings.Join(r.Args, ",")
}

// ParseRules splits a pipe-separated rule string. A regex token consumes the rest of
// the string so patterns may contain pipes.
func ParseRules(raw string) ([]Rule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var rules []Rule
	for raw != "" {
		if strings.HasPrefix(raw, RuleRegex+":") {
			rule, err := parseRegex(strings.TrimPrefix(raw, RuleRegex+":"))
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
			break
		}
		token := raw
		if idx := strings.IndexByte(raw, '|'); idx >= 0 {
			token, raw = raw[:idx], raw[idx+1:]
		} else {
			raw = ""
		}
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		rule, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseRegex(pattern string) (Rule, error) {
	if pattern == "" {
		return Rule{}, fmt.Errorf("regex rule needs a pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("regex rule: %w", err)
	}
	return Rule{Name: RuleRegex, Args: []string{pattern}, pattern: re}, nil
}

func parseToken(token string) (Rule, error) {
	name, argStr, hasArgs := strings.Cut(token, ":")
	name = strings.ToLower(strings.TrimSpace(name))
	var args []string
	if hasArgs {
		for _, a := range strings.Split(argStr, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	rule := Rule{Name: name, Args: args}

	switch name {
	case RuleMin, RuleMax, RuleLen:
		if len(args) != 1 {
			return Rule{}, fmt.Errorf("%s rule needs exactly one argument", name)
		}
		n, err := decimal.NewFromString(args[0])
		if err != nil {
			return Rule{}, fmt.Errorf("%s rule argument %q is not a number", name, args[0])
		}
		if name == RuleLen && (!n.IsInteger() || n.IsNegative()) {
			return Rule{}, fmt.Errorf("len rule argument must be a non-negative integer")
		}
		rule.bounds = []decimal.Decimal{n}
	case RuleBetween:
		if len(args) != 2 {
			return Rule{}, fmt.Errorf("between rule needs two arguments")
		}
		lo, errLo := decimal.NewFromString(args[0])
		hi, errHi := decimal.NewFromString(args[1])
		if errLo != nil || errHi != nil {
			return Rule{}, fmt.Errorf("between rule arguments must be numbers")
		}
		if lo.GreaterThan(hi) {
			return Rule{}, fmt.Errorf("between rule lower bound exceeds upper bound")
		}
		rule.bounds = []decimal.Decimal{lo, hi}
	case RuleIn:
		if len(args) == 0 || (len(args) == 1 && args[0] == "") {
			return Rule{}, fmt.Errorf("in rule needs at least one value")
		}
	case RuleAlpha, RuleAlphaNum, RuleNumeric, RuleURL, RuleEmail, RuleBeforeToday, RuleAfterToday:
		if hasArgs {
			return Rule{}, fmt.Errorf("%s rule takes no arguments", name)
		}
	case RuleBefore, RuleAfter:
		if len(args) != 1 {
			return Rule{}, fmt.Errorf("%s rule needs a date", name)
		}
		d, err := time.Parse(dateLayout, args[0])
		if err != nil {
			return Rule{}, fmt.Errorf("%s rule date %q must be YYYY-MM-DD", name, args[0])
		}
		rule.date = d
	default:
		return Rule{}, fmt.Errorf("unknown validation rule %q", name)
	}
	return rule, nil
}

// checkApplicable rejects rules that cannot apply to the field type.
func checkApplicable(rule Rule, fieldType enums.FieldType) error {
	switch rule.Name {
	case RuleBefore, RuleAfter, RuleBeforeToday, RuleAfterToday:
		if fieldType != enums.FieldTypeDate {
			return fmt.Errorf("%s rule only applies to date fields", rule.Name)
		}
	case RuleAlpha, RuleAlphaNum, RuleNumeric, RuleURL, RuleEmail, RuleRegex:
		if !isTextual(fieldType) {
			return fmt.Errorf("%s rule only applies to text fields", rule.Name)
		}
	case RuleMin, RuleMax, RuleBetween, RuleLen:
		switch fieldType {
		case enums.FieldTypeDate, enums.FieldTypeSelect, enums.FieldTypeRadio:
			return fmt.Errorf("%s rule does not apply to %s fields", rule.Name, fieldType)
		}
	case RuleIn:
		if fieldType == enums.FieldTypeFile || fieldType == enums.FieldTypeNumber {
			return fmt.Errorf("in rule does not apply to %s fields", fieldType)
		}
	}
	return nil
}

// resolveRelativeDates pins before_today/after_today to the given day.
func resolveRelativeDates(rule Rule, today time.Time) Rule {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	switch rule.Name {
	case RuleBeforeToday:
		return Rule{Name: RuleBefore, Args: []string{day.Format(dateLayout)}, date: day}
	case RuleAfterToday:
		return Rule{Name: RuleAfter, Args: []string{day.Format(dateLayout)}, date: day}
	}
	return rule
}

func isTextual(t enums.FieldType) bool {
	switch t {
	case enums.FieldTypeText, enums.FieldTypeTextarea, enums.FieldTypeEmail, enums.FieldTypePhone:
		return true
	}
	return false
}

func formatBound(d decimal.Decimal) string {
	if d.IsInteger() {
		return strconv.FormatInt(d.IntPart(), 10)
	}
	return d.String()
}
