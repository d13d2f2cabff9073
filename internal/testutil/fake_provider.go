package testutil

import (
	"net/http"
	"net/http/httptest"

	"github.com/dynamoworks/gateway/internal/provider/anthropic"
)

// FakeAnthropic starts an httptest server standing in for the Anthropic
// Messages API and returns an *anthropic.Client pointed at it, since
// anthropic.Client has no interface seam to fake behind -- it is the
// gateway's single fixed upstream. The caller owns the returned
// *httptest.Server and must Close it.
func FakeAnthropic(handler http.HandlerFunc) (*anthropic.Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := anthropic.New("test-key", srv.URL, srv.Client(), 0)
	return client, srv
}

// StaticMessageResponse returns a handler that always answers a fixed
// non-streaming Messages API response body with the given status code.
func StaticMessageResponse(status int, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}
}

// SSEResponse returns a handler that streams the given raw SSE frames
// verbatim, for exercising CreateMessageStream.
func SSEResponse(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			w.Write([]byte(f))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
