package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/pkg/logger"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"standard", "user@example.com", "u***@*******.com"},
		{"single char local", "a@example.com", "a@*******.com"},
		{"subdomain", "user@mail.example.com", "u***@****.*******.com"},
		{"no at sign", "not-an-email", "[invalid-email]"},
		{"multiple at signs", "a@b@c.com", "[invalid-email]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.SanitizedEmail(tt.email))
		})
	}
}
