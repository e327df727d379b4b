package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// HandlerFunc answers one simulated request.
type HandlerFunc func(params map[string]string, body interface{}) (interface{}, error)

// InMemoryTransport is a lightweight simulation of the portal API for unit
// tests. Endpoints without a handler answer 404.
type InMemoryTransport struct {
	mu         sync.Mutex
	handlers   map[string]HandlerFunc
	failures   map[string][]error
	RequestLog []RequestLogEntry
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Method   string
	Endpoint string
	Params   map[string]string
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		handlers:   make(map[string]HandlerFunc),
		failures:   make(map[string][]error),
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// Handle registers a handler for endpoint.
func (t *InMemoryTransport) Handle(endpoint string, h HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[endpoint] = h
}

// Respond registers a fixed JSON payload for endpoint.
func (t *InMemoryTransport) Respond(endpoint string, payload interface{}) {
	t.Handle(endpoint, func(map[string]string, interface{}) (interface{}, error) {
		return payload, nil
	})
}

// Fail makes every request to endpoint return err.
func (t *InMemoryTransport) Fail(endpoint string, err error) {
	t.Handle(endpoint, func(map[string]string, interface{}) (interface{}, error) {
		return nil, err
	})
}

// FailNext queues errors returned by the next requests to endpoint, ahead of
// its handler.
func (t *InMemoryTransport) FailNext(endpoint string, errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[endpoint] = append(t.failures[endpoint], errs...)
}

// SeedCalendar serves cal from the calendar endpoint, honoring the months
// filter parameter.
func (t *InMemoryTransport) SeedCalendar(cal Calendar) {
	t.Handle(EndpointCalendar, func(params map[string]string, _ interface{}) (interface{}, error) {
		out := make(Calendar)
		if months := params["months"]; months != "" {
			for _, m := range strings.Split(months, ",") {
				if days, ok := cal[m]; ok {
					out[m] = days
				}
			}
		} else {
			for m, days := range cal {
				out[m] = days
			}
		}
		return calendarResponse{Calendar: out}, nil
	})
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RequestLog)
}

// RequestsTo returns the number of requests made to endpoint.
func (t *InMemoryTransport) RequestsTo(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.RequestLog {
		if r.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// Requests returns a copy of the request log.
func (t *InMemoryTransport) Requests() []RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RequestLogEntry, len(t.RequestLog))
	copy(out, t.RequestLog)
	return out
}

// Request simulates a portal API request.
func (t *InMemoryTransport) Request(ctx context.Context, method, endpoint string, params map[string]string, body interface{}) ([]byte, error) {
	t.mu.Lock()
	t.RequestLog = append(t.RequestLog, RequestLogEntry{
		Method:   method,
		Endpoint: endpoint,
		Params:   copyParams(params),
	})
	var queued error
	if errs := t.failures[endpoint]; len(errs) > 0 {
		queued = errs[0]
		t.failures[endpoint] = errs[1:]
	}
	h, ok := t.handlers[endpoint]
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if queued != nil {
		return nil, queued
	}
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "no handler for " + endpoint}
	}

	payload, err := h(params, body)
	if err != nil {
		return nil, err
	}
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// copyParams creates a copy of the params map.
func copyParams(params map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range params {
		result[k] = v
	}
	return result
}
