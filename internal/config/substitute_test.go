package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitute_UndefinedVarWithDefault(t *testing.T) {
	assert.Equal(t, "fallback", Substitute("${KATALYST_UNSET_VAR:fallback}"))
}

func TestSubstitute_UndefinedVarWithEmptyDefault(t *testing.T) {
	assert.Equal(t, "", Substitute("${KATALYST_UNSET_VAR:}"))
}

func TestSubstitute_DefinedVarIgnoresDefault(t *testing.T) {
	t.Setenv("KATALYST_SET_VAR", "actual")
	assert.Equal(t, "actual", Substitute("${KATALYST_SET_VAR:fallback}"))
}

func TestSubstitute_DefinedButEmptyVarWins(t *testing.T) {
	t.Setenv("KATALYST_EMPTY_VAR", "")
	assert.Equal(t, "", Substitute("${KATALYST_EMPTY_VAR:fallback}"))
}

func TestSubstitute_NoPlaceholderPassesThrough(t *testing.T) {
	assert.Equal(t, "plain-value", Substitute("plain-value"))
}

func TestSubstitute_MultiplePlaceholders(t *testing.T) {
	t.Setenv("KATALYST_HOST", "db.internal")
	assert.Equal(t, "db.internal:5432", Substitute("${KATALYST_HOST}:${KATALYST_PORT:5432}"))
}
