package dispatch

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webhook-scheduler/internal/models"
)

// Response bodies are captured for the result snapshot but truncated so a
// misbehaving target cannot blow up a row.
const maxSnapshotBytes = 64 * 1024

// BuildRequest assembles the outbound HTTP request for a webhook, rendering
// the body template with the given values. Configured headers, query
// parameters, and content type are applied byte for byte.
func BuildRequest(w models.Webhook, values map[string]string) (*http.Request, string, error) {
	target, err := url.Parse(w.URL)
	if err != nil {
		return nil, "", fmt.Errorf("parse webhook url: %w", err)
	}
	if len(w.QueryParams) > 0 {
		q := target.Query()
		for k, v := range w.QueryParams {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	body := RenderTemplate(w.BodyTemplate, values)
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(w.Method, target.String(), reader)
	if err != nil {
		return nil, "", fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	if body != "" && w.ContentType != "" {
		req.Header.Set("Content-Type", w.ContentType)
	}
	return req, body, nil
}

// Outcome captures one outbound call: either a response snapshot or an
// error message, plus wall-clock duration.
type Outcome struct {
	Status     *int
	Headers    map[string]string
	Body       string
	Err        error
	DurationMs int64
}

// Success reports whether the call completed with a 2xx status.
func (o Outcome) Success() bool {
	return o.Err == nil && o.Status != nil && *o.Status >= 200 && *o.Status < 300
}

// Send issues the request and snapshots the response. Transport errors are
// returned as data inside the outcome, never propagated: one bad call must
// not abort a schedule or a load test.
func Send(client *http.Client, req *http.Request) Outcome {
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Outcome{Err: err, DurationMs: elapsed}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	elapsed = time.Since(start).Milliseconds()
	status := resp.StatusCode
	out := Outcome{
		Status:     &status,
		Headers:    flattenHeader(resp.Header),
		Body:       string(body),
		DurationMs: elapsed,
	}
	if readErr != nil {
		out.Err = fmt.Errorf("read response body: %w", readErr)
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
