package forms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

func TestParseRules(t *testing.T) {
	rules, err := ParseRules("min:3 | max:40|in:a,b")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "min:3", rules[0].String())
	assert.Equal(t, "max:40", rules[1].String())
	assert.Equal(t, []string{"a", "b"}, rules[2].Args)
}

func TestParseRulesRegexConsumesRemainder(t *testing.T) {
	rules, err := ParseRules("min:2|regex:^(AB|CD)[0-9]+$")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, RuleRegex, rules[1].Name)
	assert.Equal(t, "^(AB|CD)[0-9]+$", rules[1].Args[0])
	assert.True(t, rules[1].pattern.MatchString("CD42"))
}

func TestParseRulesErrors(t *testing.T) {
	cases := map[string]string{
		"unknown token":     "shout",
		"missing arg":       "min",
		"non numeric":       "max:ten",
		"between order":     "between:9,1",
		"bad date":          "before:2024-13-01",
		"flag with args":    "alpha:yes",
		"empty in":          "in:",
		"bad regex":         "regex:([a-z",
		"fractional length": "len:2.5",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules(raw)
			assert.Error(t, err)
		})
	}
}

func TestCheckApplicable(t *testing.T) {
	before, err := ParseRules("before_today")
	require.NoError(t, err)
	assert.Error(t, checkApplicable(before[0], enums.FieldTypeText))
	assert.NoError(t, checkApplicable(before[0], enums.FieldTypeDate))

	alpha, err := ParseRules("alpha")
	require.NoError(t, err)
	assert.Error(t, checkApplicable(alpha[0], enums.FieldTypeNumber))

	minRule, err := ParseRules("min:1")
	require.NoError(t, err)
	assert.Error(t, checkApplicable(minRule[0], enums.FieldTypeSelect))
	assert.NoError(t, checkApplicable(minRule[0], enums.FieldTypeMultiSelect))
}
