package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_String(t *testing.T) {
	r := NewRedactor()
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"category=antibiotic", "category=antibiotic"},
		{"notes=call+bob@clinic.org", "notes=[REDACTED:email]"},
		{"access_token=abc&x=1", "access_token=[REDACTED]&x=1"},
		{"t=ExponentPushToken[AbC123]", "t=[REDACTED:push_token]"},
		// dose ids stay readable
		{"id=3f1c9a8e-8b2a-4c1e-9d7f-0a1b2c3d4e5f", "id=3f1c9a8e-8b2a-4c1e-9d7f-0a1b2c3d4e5f"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, r.String(tc.in), tc.in)
	}
}

func TestRedactor_Headers(t *testing.T) {
	r := NewRedactor("X-Push-Token", " ")
	h := http.Header{}
	h.Set("Authorization", "Bearer x")
	h.Set("Cookie", "a=b")
	h.Set("X-Push-Token", "tok")
	h.Set("X-User-ID", "u1")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")

	got := r.Headers(h)
	assert.Equal(t, "[REDACTED]", got["Authorization"])
	assert.Equal(t, "[REDACTED]", got["Cookie"])
	assert.Equal(t, "[REDACTED]", got["X-Push-Token"])
	assert.Equal(t, "u1", got["X-User-Id"])
	assert.Equal(t, "application/json, text/plain", got["Accept"])
}
