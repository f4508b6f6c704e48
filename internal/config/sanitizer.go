package config

import "strings"

// secretKeyMarkers names the case-insensitive substrings of a config key
// that mark its value as sensitive.
var secretKeyMarkers = []string{"password", "secret", "token", "apikey", "api_key", "jwt"}

const redacted = "***REDACTED***"

// IsSecretKey reports whether key looks like it names a credential,
// based on common naming conventions rather than a fixed field list.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Sanitize redacts the value for key if it looks secret, for use when
// logging a resolved configuration snapshot or a validation report that
// might otherwise echo a connection string or credential back verbatim.
func Sanitize(key, value string) string {
	if IsSecretKey(key) {
		return redacted
	}
	return value
}

// SanitizeMap returns a copy of snapshot with every secret-looking key's
// value redacted, leaving the original untouched.
func SanitizeMap(snapshot map[string]string) map[string]string {
	out := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		out[k] = Sanitize(k, v)
	}
	return out
}
