package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("OMS_TEST_HOST", "localhost")
	t.Setenv("OMS_TEST_PORT", "5432")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braced var", "host: ${OMS_TEST_HOST}", "host: localhost"},
		{"bare var", "host: $OMS_TEST_HOST", "host: localhost"},
		{"multiple vars", "${OMS_TEST_HOST}:${OMS_TEST_PORT}", "localhost:5432"},
		{"missing var expands empty", "token: ${OMS_TEST_MISSING}", "token: "},
		{"no vars passes through", "static: value", "static: value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}
