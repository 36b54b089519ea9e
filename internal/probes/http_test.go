package probes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

func TestExtractJSONValue(t *testing.T) {
	body := []byte(`{
		"system": {
			"cpu": [
				{"percentage": 45.5},
				{"percentage": 30.2}
			],
			"memory": {"used_percent": "78.9"},
			"healthy": true,
			"degraded": false,
			"name": "node-1"
		},
		"count": 12
	}`)

	tests := []struct {
		path string
		want float64
		ok   bool
	}{
		{"count", 12, true},
		{"system.cpu.[0].percentage", 45.5, true},
		{"system.cpu.[1].percentage", 30.2, true},
		{"system.memory.used_percent", 78.9, true},
		{"system.healthy", 1, true},
		{"system.degraded", 0, true},
		{"system.name", 0, false},
		{"system.missing", 0, false},
		{"system.cpu.[9].percentage", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			got, ok := extractJSONValue(body, tc.path)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestExtractJSONValueTrimsNumericStrings(t *testing.T) {
	got, ok := extractJSONValue([]byte(`{"v": "  3.5 "}`), "v")
	require.True(t, ok)
	assert.Equal(t, 3.5, got)
}

func TestHTTPProbeExtractsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"load": {"avg": [1.5, 0.9]}}`))
	}))
	defer srv.Close()

	m := &config.Monitor{
		Name: "api",
		HTTP: &config.HTTP{
			Method:  "GET",
			URL:     srv.URL,
			Headers: []map[string]string{{"Authorization": "Bearer abc"}},
			JSONPaths: map[string]string{
				"custom1": "load.avg.[0]",
			},
		},
	}

	r, err := HTTP(context.Background(), m)
	require.NoError(t, err)

	latency, ok := r.Latency()
	require.True(t, ok)
	assert.Greater(t, latency, 0.0)

	v, ok := r.Custom(1)
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestHTTPProbeDefaultsToGET(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := &config.Monitor{Name: "api", HTTP: &config.HTTP{URL: srv.URL}}
	_, err := HTTP(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestHTTPProbeNon2xxIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := &config.Monitor{Name: "api", HTTP: &config.HTTP{Method: "GET", URL: srv.URL}}
	_, err := HTTP(context.Background(), m)
	assert.ErrorContains(t, err, "503")
}

func TestHTTPProbeRejectsMethod(t *testing.T) {
	m := &config.Monitor{Name: "api", HTTP: &config.HTTP{Method: "TRACE", URL: "http://127.0.0.1:1"}}
	_, err := HTTP(context.Background(), m)
	assert.ErrorContains(t, err, "unsupported HTTP method")
}

func TestHTTPProbeInvalidJSONKeepsLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	m := &config.Monitor{
		Name: "api",
		HTTP: &config.HTTP{Method: "GET", URL: srv.URL, JSONPaths: map[string]string{"v": "a.b"}},
	}

	r, err := HTTP(context.Background(), m)
	require.NoError(t, err, "extraction failures do not fail the check")
	_, ok := r.Latency()
	assert.True(t, ok)
	_, ok = r.Get("v")
	assert.False(t, ok)
}

func TestSelectPriorityOrder(t *testing.T) {
	m := &config.Monitor{
		Name: "multi",
		HTTP: &config.HTTP{URL: "https://example.com"},
		TCP:  &config.TCP{Host: "example.com", Port: 80},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	m.HTTP.URL = srv.URL

	// HTTP outranks TCP in the fixed order
	r, err := Select(m)(context.Background(), m)
	require.NoError(t, err)
	_, ok := r.Latency()
	assert.True(t, ok)
}

func TestSelectNoopForEmptyMonitor(t *testing.T) {
	m := &config.Monitor{Name: "bare"}

	r, err := Select(m)(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, result.New(), r, "no service section means an empty result")
}
