// Package applog writes one-line JSON records for audit and security events.
package applog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// LevelAudit sits between info and warn so audit records survive an info filter.
const LevelAudit = slog.LevelInfo + 2

var logger atomic.Pointer[slog.Logger]

func init() { SetOutput(os.Stderr) }

// SetOutput sends records to w.
func SetOutput(w io.Writer) {
	logger.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: replaceAttr,
	})))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
	case slog.MessageKey:
		a.Key = "action"
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelAudit {
			a.Value = slog.StringValue("audit")
		} else {
			a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
		}
	}
	return a
}

// UserFunc extracts the authenticated user id from a request, zero when anonymous.
var UserFunc = func(*http.Request) int64 { return 0 }

// forRequest binds the request id, client and user to the logger.
func forRequest(r *http.Request) *slog.Logger {
	l := logger.Load()
	if r == nil {
		return l
	}
	l = l.With("ip", r.RemoteAddr, "method", r.Method, "path", r.URL.Path)
	if id := middleware.GetReqID(r.Context()); id != "" {
		l = l.With("req_id", id)
	}
	if uid := UserFunc(r); uid != 0 {
		l = l.With("user_id", uid)
	}
	return l
}

func write(level slog.Level, r *http.Request, action string, err error, fields map[string]any) {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	args := make([]any, 0, 4)
	if err != nil {
		args = append(args, "err", err.Error())
	}
	if len(fields) > 0 {
		args = append(args, "fields", fields)
	}
	forRequest(r).Log(ctx, level, action, args...)
}

func Info(r *http.Request, action string, fields map[string]any) {
	write(slog.LevelInfo, r, action, nil, fields)
}
func Audit(r *http.Request, action string, fields map[string]any) {
	write(LevelAudit, r, action, nil, fields)
}
func Security(r *http.Request, action string, fields map[string]any) {
	write(slog.LevelWarn, r, action, nil, fields)
}
func Error(r *http.Request, action string, err error, fields map[string]any) {
	write(slog.LevelError, r, action, err, fields)
}
