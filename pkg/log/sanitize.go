package log

import (
	"strings"
)

var sensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "secret", "authorization",
	"credential", "private_key", "dsn",
}

// SanitizeField masks the value when the key names a credential or an email address.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "email") {
		return sanitizeEmail(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeSecret(value)
		}
	}

	return value
}

// sanitizeSecret keeps the first and last four characters of long values.
func sanitizeSecret(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

func sanitizeEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at < 0 {
		return strings.Repeat("*", len(value))
	}

	local, domain := value[:at], value[at:]
	switch {
	case len(local) == 0:
		return domain
	case len(local) <= 3:
		return local[:1] + strings.Repeat("*", len(local)-1) + domain
	default:
		return local[:3] + "***" + domain
	}
}
