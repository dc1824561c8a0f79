package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSWithOptions(t *testing.T) {
	partner := &CORSOptions{
		AllowedOrigins:   []string{"https://transit.example.com"},
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true,
	}

	tests := []struct {
		options         *CORSOptions
		expectedHeaders map[string]string
		name            string
		method          string
		origin          string
		expectedStatus  int
	}{
		{
			name:   "nil options allow any origin",
			method: http.MethodGet,
			origin: "https://maps.example.org",
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":  "*",
				"Access-Control-Allow-Methods": "",
				"Vary":                         "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:    "read only preflight",
			method:  http.MethodOptions,
			options: ReadOnlyCORSOptions(),
			origin:  "https://maps.example.org",
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":  "*",
				"Access-Control-Allow-Methods": "GET,OPTIONS",
				"Access-Control-Allow-Headers": "Accept,Cache-Control,X-Request-Id",
				"Access-Control-Max-Age":       "600",
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:    "listed origin is echoed",
			method:  http.MethodGet,
			options: partner,
			origin:  "https://transit.example.com",
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":      "https://transit.example.com",
				"Access-Control-Allow-Credentials": "true",
				"Vary":                             "Origin",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:    "unlisted origin",
			method:  http.MethodGet,
			options: partner,
			origin:  "https://evil.example.net",
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":      "",
				"Access-Control-Allow-Credentials": "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:    "empty options",
			method:  http.MethodOptions,
			options: &CORSOptions{},
			origin:  "https://maps.example.org",
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":  "",
				"Access-Control-Allow-Methods": "",
				"Access-Control-Max-Age":       "",
			},
			expectedStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://example.com/stations", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()

			CORSWithOptions(tt.options)(statusHandler(http.StatusOK)).ServeHTTP(rr, req)

			for header, want := range tt.expectedHeaders {
				assert.Equal(t, want, rr.Header().Get(header), header)
			}
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}
