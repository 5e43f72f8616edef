package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	t.Run("ValidToken", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer abc123")

		token, err := ExtractBearerToken(r)
		require.NoError(t, err)
		assert.Equal(t, "abc123", token)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)

		_, err := ExtractBearerToken(r)
		assert.Error(t, err)
	})

	t.Run("WrongScheme", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Basic abc123")

		_, err := ExtractBearerToken(r)
		assert.Error(t, err)
	})

	t.Run("EmptyToken", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer   ")

		_, err := ExtractBearerToken(r)
		assert.Error(t, err)
	})
}

func TestGetRequestIP(t *testing.T) {
	t.Run("ForwardedForTakesFirstEntry", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

		assert.Equal(t, "203.0.113.9", GetRequestIP(r))
	})

	t.Run("ForwardedForSingleEntry", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", " 203.0.113.9 ")

		assert.Equal(t, "203.0.113.9", GetRequestIP(r))
	})

	t.Run("RealIPHeader", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-IP", "198.51.100.4")

		assert.Equal(t, "198.51.100.4", GetRequestIP(r))
	})

	t.Run("RemoteAddrFallback", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "192.0.2.7:54321"

		assert.Equal(t, "192.0.2.7", GetRequestIP(r))
	})

	t.Run("NoAddressAvailable", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = ""

		assert.Equal(t, "unknown", GetRequestIP(r))
	})
}
