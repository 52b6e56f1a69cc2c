// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug logger writing through t.Log, so output only
// shows for failing tests or with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Records collects log records for assertions.
type Records struct {
	mu      sync.Mutex
	records []slog.Record
}

// Messages returns the message of every record at level or above, in order.
func (r *Records) Messages(level slog.Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range r.records {
		if rec.Level >= level {
			out = append(out, rec.Message)
		}
	}
	return out
}

// Attr returns the value of key on the first record with the given message.
func (r *Records) Attr(msg, key string) (slog.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Message != msg {
			continue
		}
		var (
			val   slog.Value
			found bool
		)
		rec.Attrs(func(a slog.Attr) bool {
			if a.Key == key {
				val, found = a.Value, true
				return false
			}
			return true
		})
		return val, found
	}
	return slog.Value{}, false
}

// NewRecordingLogger returns a test logger that also keeps every record.
// Attributes added with With are not recorded.
func NewRecordingLogger(t testing.TB) (*slog.Logger, *Records) {
	t.Helper()
	recs := &Records{}
	return slog.New(recordingHandler{Handler: NewTestLogger(t).Handler(), recs: recs}), recs
}

type recordingHandler struct {
	slog.Handler
	recs *Records
}

func (h recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.recs.mu.Lock()
	h.recs.records = append(h.recs.records, r.Clone())
	h.recs.mu.Unlock()
	return h.Handler.Handle(ctx, r)
}

func (h recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return recordingHandler{Handler: h.Handler.WithAttrs(attrs), recs: h.recs}
}

func (h recordingHandler) WithGroup(name string) slog.Handler {
	return recordingHandler{Handler: h.Handler.WithGroup(name), recs: h.recs}
}
