// Package jsonapi holds the plumbing shared by the outbound JSON clients: one-shot
// requests that surface non-2xx answers as *retry.StatusError, URL templates, and
// JMESPath extraction from vendor documents.
package jsonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/ticket-enhancer/internal/retry"
)

// MaxBodyBytes bounds every response body read by the clients.
const MaxBodyBytes = 2 << 20

// Request describes one call.
type Request struct {
	Method  string
	URL     string
	Bearer  string
	Body    any
	Headers map[string]string
}

// Do sends the request and returns the raw body of a 2xx response.
// Non-2xx responses come back as *retry.StatusError with the body preserved.
func Do(ctx context.Context, hc *http.Client, r Request) ([]byte, error) {
	var body io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("encode request body: %w", err))
		}
		body = bytes.NewReader(b)
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.Bearer)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redactURL(req.URL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry.NewStatusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// Decode parses a JSON document into the generic shape JMESPath works on.
// An empty body decodes to nil.
func Decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return doc, nil
}

// Search evaluates expr against doc. An empty expression returns doc unchanged.
func Search(expr string, doc any) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return doc, nil
	}
	out, err := jmespath.Search(expr, doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return out, nil
}

// Validate reports whether expr compiles. Empty is valid.
func Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

// String extracts a scalar as text. Missing values and evaluation errors yield "".
func String(expr string, doc any) string {
	v, err := Search(expr, doc)
	if err != nil || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// Strings extracts a list of scalars as text, skipping anything else.
func Strings(expr string, doc any) []string {
	v, err := Search(expr, doc)
	if err != nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Expand substitutes {name} placeholders with path-escaped values, or query-escaped
// values when the placeholder sits in the query string.
func Expand(template string, vars map[string]string) string {
	path, query, hasQuery := strings.Cut(template, "?")
	path = expandWith(path, vars, url.PathEscape)
	if !hasQuery {
		return path
	}
	return path + "?" + expandWith(query, vars, url.QueryEscape)
}

func expandWith(s string, vars map[string]string, escape func(string) string) string {
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{"+name+"}", escape(value))
	}
	return s
}

// JoinURL joins a base URL and a path template without doubling slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
