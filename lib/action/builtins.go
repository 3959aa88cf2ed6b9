// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tracecathq/executor/lib/schema"
)

// maxResponseBody bounds the body core.http_request reads.
const maxResponseBody = 32 << 20

// Builtins returns a registry with the actions compiled into the
// worker.
func Builtins() *Registry {
	registry := NewRegistry()
	registry.MustRegister("core.transform.reshape", reshape)
	registry.MustRegister("core.http_request", httpRequest)
	return registry
}

// reshape returns its "value" argument. Expressions inside the value
// have already been evaluated, so this is how workflows build new
// objects out of secrets, variables, and upstream results.
func reshape(_ context.Context, call *Call) (any, error) {
	value, ok := call.Args["value"]
	if !ok {
		return nil, Errorf("ValueError", "reshape requires a value argument")
	}
	return value, nil
}

// httpRequest performs one HTTP request and returns its status,
// headers, and body. JSON bodies are decoded.
func httpRequest(ctx context.Context, call *Call) (any, error) {
	target, err := call.String("url", "")
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, Errorf("ValueError", "url is required")
	}
	method, err := call.String("method", http.MethodGet)
	if err != nil {
		return nil, err
	}
	timeoutSeconds, err := call.Float("timeout", 30)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, Errorf("ValueError", "url %q must be an absolute http or https URL", target)
	}
	if params, ok := call.Args["params"].(map[string]any); ok {
		query := parsed.Query()
		for key, value := range params {
			query.Set(key, fmt.Sprint(value))
		}
		parsed.RawQuery = query.Encode()
	}

	var body io.Reader
	contentType := ""
	if payload, ok := call.Args["payload"]; ok && payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, Errorf("ValueError", "payload is not JSON serializable: %v", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	} else if form, ok := call.Args["form_data"].(map[string]any); ok {
		values := url.Values{}
		for key, value := range form {
			values.Set(key, fmt.Sprint(value))
		}
		body = strings.NewReader(values.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	requestContext, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds*float64(time.Second)))
	defer cancel()
	request, err := http.NewRequestWithContext(requestContext, strings.ToUpper(method), parsed.String(), body)
	if err != nil {
		return nil, Errorf("ValueError", "building request: %v", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if headers, ok := call.Args["headers"].(map[string]any); ok {
		for key, value := range headers {
			request.Header.Set(key, fmt.Sprint(value))
		}
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, Errorf("HTTPRequestError", "%s %s: %v", request.Method, target, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if err != nil {
		return nil, Errorf("HTTPRequestError", "reading response: %v", err)
	}
	if response.StatusCode >= 400 {
		return nil, Errorf("HTTPStatusError", "%s %s returned %s: %s",
			request.Method, target, response.Status, truncate(string(data), 512))
	}

	headers := make(map[string]any, len(response.Header))
	for key := range response.Header {
		headers[key] = response.Header.Get(key)
	}
	var decoded any = string(data)
	if strings.Contains(response.Header.Get("Content-Type"), "json") && len(data) > 0 {
		var value any
		if err := schema.DecodeJSON(data, &value); err == nil {
			decoded = value
		}
	}
	return map[string]any{
		"status_code": response.StatusCode,
		"headers":     headers,
		"data":        decoded,
	}, nil
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
