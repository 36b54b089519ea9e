package probes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// sharedClient is reused by all HTTP probes; timeouts are applied per
// request from the monitor's configuration.
var sharedClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 256,
		IdleConnTimeout:     90 * time.Second,
	},
}

// HTTP performs the request declared by the monitor's http section and, when
// jsonPaths are configured, extracts named numeric metrics from the JSON
// response body.
func HTTP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	h := m.HTTP
	if h == nil {
		return nil, fmt.Errorf("monitor does not contain HTTP configuration")
	}

	method := strings.ToUpper(h.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
	case "":
		method = http.MethodGet
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", h.Method)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout(h.Timeout, config.DefaultHTTPTimeout))*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for _, header := range h.Headers {
		for name, value := range header {
			req.Header.Set(name, value)
		}
	}

	start := time.Now()
	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	r := result.FromLatency(latencyMs)

	if len(h.JSONPaths) > 0 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			zap.L().Warn("Reading HTTP body for jsonPath extraction failed", zap.Error(err))
			return r, nil
		}
		if !gjson.ValidBytes(body) {
			zap.L().Warn("HTTP response is not valid JSON, skipping jsonPath extraction",
				zap.String("monitor", m.Name))
			return r, nil
		}
		for name, path := range h.JSONPaths {
			if v, ok := extractJSONValue(body, path); ok {
				r.Set(name, v)
			} else {
				zap.L().Warn("jsonPath did not resolve to a numeric value",
					zap.String("name", name), zap.String("path", path))
			}
		}
	}

	return r, nil
}

// extractJSONValue walks a dot-separated path with optional [index]
// segments (e.g. "system.cpu.[0].percentage") and coerces the node to a
// float: numbers directly, numeric strings trimmed, booleans as 1/0.
func extractJSONValue(body []byte, path string) (float64, bool) {
	var parts []string
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		if idx, ok := strings.CutPrefix(segment, "["); ok {
			if idx, ok := strings.CutSuffix(idx, "]"); ok {
				if _, err := strconv.Atoi(idx); err == nil {
					parts = append(parts, idx)
					continue
				}
			}
		}
		parts = append(parts, escapeGJSONSegment(segment))
	}

	v := gjson.GetBytes(body, strings.Join(parts, "."))
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	default:
		return 0, false
	}
}

// escapeGJSONSegment neutralizes gjson wildcard syntax so path segments are
// matched literally.
func escapeGJSONSegment(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '\\', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
