// Package locale collapses Telegram language codes onto the supported set.
package locale

import "strings"

const (
	English = "en"
	Spanish = "es"
)

// Normalize returns Spanish for any code starting with "es" and English otherwise.
func Normalize(code string) string {
	if IsSpanish(code) {
		return Spanish
	}
	return English
}

// IsSpanish reports whether code names a Spanish variant (es, es-MX, ES_ar).
func IsSpanish(code string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(code)), Spanish)
}

// OrDefault returns code, or English when code is empty.
func OrDefault(code string) string {
	if strings.TrimSpace(code) == "" {
		return English
	}
	return code
}
