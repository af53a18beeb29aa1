// Package testutil provides testing utilities for the KoboToolbox exporter.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPage is one page served by SetPages. Results is a raw JSON array; when
// Response is set it replaces the generated page entirely.
type MockPage struct {
	Results  string
	Response *MockResponse
}

// MockKobo is a configurable mock KoboToolbox API server for testing.
type MockKobo struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	requests          []string
}

// NewMockKobo creates a new mock API server.
func NewMockKobo() *MockKobo {
	mock := &MockKobo{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.requests = append(mock.requests, r.URL.RequestURI())
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Not found."}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockKobo) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockKobo) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockKobo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockKobo) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockKobo) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// AssetsPath returns the assets listing path of a project view.
func AssetsPath(projectViewUID string) string {
	return fmt.Sprintf("/api/v2/project-views/%s/assets/", projectViewUID)
}

// SetPages serves pages in order on the assets path of projectViewUID. Page
// i is addressed with ?page=i (the first page needs no query) and links to
// page i+1; the last page has "next": null.
func (m *MockKobo) SetPages(projectViewUID string, pages ...MockPage) {
	path := AssetsPath(projectViewUID)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if p := r.URL.Query().Get("page"); p != "" {
			parsed, err := strconv.Atoi(p)
			if err != nil || parsed < 1 || parsed > len(pages) {
				writeResponse(w, NewNotFoundResponse())
				return
			}
			n = parsed
		}

		page := pages[n-1]
		if page.Response != nil {
			writeResponse(w, *page.Response)
			return
		}

		next := "null"
		if n < len(pages) {
			next = fmt.Sprintf("%q", fmt.Sprintf("%s%s?page=%d", m.server.URL, path, n+1))
		}
		results := page.Results
		if results == "" {
			results = "[]"
		}

		writeResponse(w, NewHealthyResponse(fmt.Sprintf(
			`{"count": %d, "next": %s, "previous": null, "results": %s}`, len(pages), next, results)))
	})
}

// Requests returns the request URIs received, in order.
func (m *MockKobo) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockKobo) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the latest request.
func (m *MockKobo) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response as sent for a bad token.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"detail": "Invalid token."}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"detail": "Not found."}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}
