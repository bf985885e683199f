package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const redacted = "[REDACTED]"

// redactedParams lists query parameters that carry credentials in the
// authorization-code and refresh grants, or in service API calls.
var redactedParams = map[string]bool{
	"code":          true,
	"state":         true,
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"client_secret": true,
	"code_verifier": true,
	"token":         true,
	"api_key":       true,
	"password":      true,
}

// TraceWriter prints operation and request lines to stderr, stamped with
// the seconds elapsed since the writer was created.
type TraceWriter struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
}

// NewTraceWriter returns a TraceWriter on stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo returns a TraceWriter on w.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{out: w, start: time.Now()}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "[%.3fs] ", time.Since(t.start).Seconds())
	fmt.Fprintf(t.out, format, args...)
	fmt.Fprintln(t.out)
}

// WriteOperationStart prints "[0.012s] Calling auth.login".
func (t *TraceWriter) WriteOperationStart(op OperationInfo) {
	t.printf("Calling %s", op.Name)
}

// WriteOperationEnd prints the completion or failure of op.
func (t *TraceWriter) WriteOperationEnd(op OperationInfo, err error, d time.Duration) {
	if err != nil {
		t.printf("Failed %s: %v", op.Name, err)
		return
	}
	t.printf("Completed %s (%dms)", op.Name, d.Milliseconds())
}

// WriteRequestStart prints the request line with credentials scrubbed
// from the URL.
func (t *TraceWriter) WriteRequestStart(info RequestInfo) {
	t.printf("  -> %s %s", info.Method, scrubURL(info.URL))
}

// WriteRequestEnd prints the response status or transport error.
func (t *TraceWriter) WriteRequestEnd(_ RequestInfo, result RequestResult) {
	if result.Error != nil {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
}

// scrubURL removes userinfo and redacts credential query parameters.
// Unparseable input is never echoed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[unparseable URL]"
	}

	changed := false
	if u.User != nil {
		u.User = url.User(redacted)
		changed = true
	}

	query := u.Query()
	for key := range query {
		if redactedParams[strings.ToLower(key)] {
			query.Set(key, redacted)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
