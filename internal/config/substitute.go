package config

import (
	"os"
	"regexp"
)

// placeholderPattern matches ${VAR} and ${VAR:default}.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}`)

// Substitute resolves every ${VAR:default} placeholder in raw against
// the process environment: an undefined var with a non-empty default
// yields the default, an undefined var with an empty default yields the
// empty string, and a defined var always yields its value (even if
// empty) regardless of any default present.
func Substitute(raw string) string {
	if raw == "" {
		return raw
	}
	return placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}
