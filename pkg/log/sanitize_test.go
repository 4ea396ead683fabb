package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeField(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"plain field untouched", "service", "user-service", "user-service"},
		{"empty value", "password", "", ""},
		{"long secret", "api_key", "abcd1234efgh5678", "abcd********5678"},
		{"short secret", "token", "abcdef", "a****f"},
		{"tiny secret", "pwd", "ab", "**"},
		{"dsn masked", "mysql_dsn", "user:pass@tcp(db)/x", "user***********b)/x"},
		{"case insensitive key", "Authorization", "Bearer abcdefgh", "Bear*******efgh"},
		{"email", "user_email", "alice@example.com", "ali***@example.com"},
		{"short email", "email", "bo@example.com", "b*@example.com"},
		{"not an email", "email", "nobody", "******"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeField(tt.key, tt.value))
		})
	}
}
