package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"clean string", "GET /orders", "GET /orders"},
		{"newline", "line1\nline2", "line1 line2"},
		{"crlf", "line1\r\nline2", "line1 line2"},
		{"control characters", "a\x00\x01\x1Fb", "a b"},
		{"del character", "a\x7Fb", "a b"},
		{"tab", "a\tb", "a b"},
		{"forged log entry", "/orders\n{\"level\":\"info\"}", "/orders {\"level\":\"info\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeForLog(tt.input))
		})
	}
}
