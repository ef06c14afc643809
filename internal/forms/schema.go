package forms

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/visamarket-backend/internal/profiles"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

var fieldNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Condition shows a field only when another field's value equals Equals.
type Condition struct {
	DependsOn string
	Equals    string
}

// Field is a compiled form field.
type Field struct {
	Name         string
	Label        string
	Type         enums.FieldType
	Required     bool
	Rules        []Rule
	Options      []string
	ProfileKey   *profiles.Key
	Condition    *Condition
	DefaultValue *string
}

// Schema is an ordered, validated set of fields. Order follows sortOrder with ties
// broken by name; EvalOrder lists field indexes parents-first.
type Schema struct {
	Fields    []Field
	EvalOrder []int
	index     map[string]int
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// ProfileKeys lists the distinct profile attributes the schema maps.
func (s Schema) ProfileKeys() []profiles.Key {
	seen := map[profiles.Key]struct{}{}
	var keys []profiles.Key
	for _, f := range s.Fields {
		if f.ProfileKey == nil {
			continue
		}
		if _, ok := seen[*f.ProfileKey]; ok {
			continue
		}
		seen[*f.ProfileKey] = struct{}{}
		keys = append(keys, *f.ProfileKey)
	}
	return keys
}

// Issue is one schema configuration problem.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SchemaError collects every configuration problem found in a field set.
type SchemaError struct {
	Issues []Issue
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Message)
	}
	return "invalid form schema: " + strings.Join(parts, "; ")
}

// ProfileGuard reports whether a profile key may be mapped. Nil allows any well-formed key.
type ProfileGuard interface {
	Allows(key profiles.Key) bool
}

// Compile validates field definitions and builds an evaluable schema. Relative date
// rules are pinned to today.
func Compile(defs []models.FormField, today time.Time, guard ProfileGuard) (Schema, error) {
	sorted := make([]models.FormField, len(defs))
	copy(sorted, defs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SortOrder != sorted[j].SortOrder {
			return sorted[i].SortOrder < sorted[j].SortOrder
		}
		return sorted[i].Name < sorted[j].Name
	})

	var issues []Issue
	add := func(field, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	schema := Schema{index: make(map[string]int, len(sorted))}
	for _, def := range sorted {
		name := strings.TrimSpace(def.Name)
		if !fieldNameRe.MatchString(name) {
			add(name, "name must match %s", fieldNameRe.String())
			continue
		}
		if _, dup := schema.index[name]; dup {
			add(name, "duplicate field name")
			continue
		}
		if !def.Type.IsValid() {
			add(name, "unknown field type %q", def.Type)
			continue
		}
		field := Field{
			Name:         name,
			Label:        def.Label,
			Type:         def.Type,
			Required:     def.Required,
			Options:      cleanOptions(def.Options),
			DefaultValue: def.DefaultValue,
		}
		if strings.TrimSpace(def.Label) == "" {
			add(name, "label is required")
		}
		if def.Type.HasOptions() && len(field.Options) == 0 {
			add(name, "%s fields need at least one option", def.Type)
		}

		rules, err := ParseRules(def.ValidationRules)
		if err != nil {
			add(name, "%v", err)
		}
		for _, rule := range rules {
			if err := checkApplicable(rule, def.Type); err != nil {
				add(name, "%v", err)
				continue
			}
			field.Rules = append(field.Rules, resolveRelativeDates(rule, today))
		}

		if def.ProfileTable != nil || def.ProfileColumn != nil {
			key, ok := profileKey(def)
			switch {
			case !ok:
				add(name, "profile mapping needs both table and column")
			case def.Type == enums.FieldTypeFile:
				add(name, "file fields cannot map to profile attributes")
			case guard != nil && !guard.Allows(key):
				add(name, "profile attribute %s is not readable", key)
			default:
				field.ProfileKey = &key
			}
		}

		if def.DependsOn != nil && strings.TrimSpace(*def.DependsOn) != "" {
			cond := &Condition{DependsOn: strings.TrimSpace(*def.DependsOn)}
			if def.DependsEquals != nil {
				cond.Equals = strings.TrimSpace(*def.DependsEquals)
			}
			field.Condition = cond
		}

		schema.index[name] = len(schema.Fields)
		schema.Fields = append(schema.Fields, field)
	}

	for _, f := range schema.Fields {
		if f.Condition == nil {
			continue
		}
		if f.Condition.DependsOn == f.Name {
			add(f.Name, "field cannot depend on itself")
			continue
		}
		parent, ok := schema.Field(f.Condition.DependsOn)
		if !ok {
			add(f.Name, "depends on unknown field %q", f.Condition.DependsOn)
			continue
		}
		if parent.Type == enums.FieldTypeFile {
			add(f.Name, "cannot depend on file field %q", parent.Name)
		}
	}

	if len(issues) == 0 {
		order, cyclic := evaluationOrder(schema)
		if len(cyclic) > 0 {
			for _, name := range cyclic {
				add(name, "conditional dependencies form a cycle")
			}
		} else {
			schema.EvalOrder = order
		}
	}

	if len(issues) > 0 {
		return Schema{}, &SchemaError{Issues: issues}
	}
	return schema, nil
}

// evaluationOrder returns a parents-first ordering, or the names caught in a cycle.
func evaluationOrder(schema Schema) ([]int, []string) {
	n := len(schema.Fields)
	indegree := make([]int, n)
	children := make([][]int, n)
	for i, f := range schema.Fields {
		if f.Condition == nil {
			continue
		}
		parent := schema.index[f.Condition.DependsOn]
		children[parent] = append(children[parent], i)
		indegree[i]++
	}

	order := make([]int, 0, n)
	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(order) == n {
		return order, nil
	}
	var cyclic []string
	for i := 0; i < n; i++ {
		if indegree[i] > 0 {
			cyclic = append(cyclic, schema.Fields[i].Name)
		}
	}
	return nil, cyclic
}

func profileKey(def models.FormField) (profiles.Key, bool) {
	if def.ProfileTable == nil || def.ProfileColumn == nil {
		return profiles.Key{}, false
	}
	key := profiles.Key{Table: strings.TrimSpace(*def.ProfileTable), Column: strings.TrimSpace(*def.ProfileColumn)}
	if key.Table == "" || key.Column == "" {
		return profiles.Key{}, false
	}
	return key, true
}

func cleanOptions(options []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		if _, ok := seen[opt]; ok {
			continue
		}
		seen[opt] = struct{}{}
		out = append(out, opt)
	}
	return out
}
