package observability

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// CLIHooks routes operation and request events to the session collector
// and the trace writer. It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Operations only
//   - 2: Operations + requests
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnOperationStart is called when a CLI operation begins.
func (h *CLIHooks) OnOperationStart(ctx context.Context, op OperationInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 1 && writer != nil {
		writer.WriteOperationStart(op)
	}
	return ctx
}

// OnOperationEnd is called when a CLI operation completes.
func (h *CLIHooks) OnOperationEnd(ctx context.Context, op OperationInfo, err error, duration time.Duration) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordOperation(op, err)
	}
	if level >= 1 && writer != nil {
		writer.WriteOperationEnd(op, err, duration)
	}
}

// OnRequestStart is called before an HTTP request is sent.
func (h *CLIHooks) OnRequestStart(ctx context.Context, info RequestInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after an HTTP request completes.
func (h *CLIHooks) OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRequest(info, result)
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}

// Transport is an http.RoundTripper that reports every request to hooks.
type Transport struct {
	Base  http.RoundTripper
	Hooks *CLIHooks
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, hooks *CLIHooks) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Hooks: hooks}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Hooks == nil {
		return t.Base.RoundTrip(req)
	}

	info := RequestInfo{Method: req.Method, URL: req.URL.String()}
	ctx := t.Hooks.OnRequestStart(req.Context(), info)

	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	result := RequestResult{Duration: time.Since(start), Error: err}
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}

	t.Hooks.OnRequestEnd(ctx, info, result)
	return resp, err
}
