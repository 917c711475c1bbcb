package main

import (
	"log/slog"
	"net/http"
	"time"
)

// responseLogger wraps an http.ResponseWriter just long enough to capture
// the status code and byte count for one access-log line; it never touches
// the proxy engine's own internal recorder.
type responseLogger struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *responseLogger) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseLogger) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// accessLogMiddleware logs one structured line per request: newline-delimited
// JSON, separate from the process's own operational log stream.
func accessLogMiddleware(access *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rl := &responseLogger{ResponseWriter: w}
		next.ServeHTTP(rl, r)
		access.Info("request",
			"method", r.Method,
			"host", r.Host,
			"path", r.URL.Path,
			"status", rl.status,
			"bytes", rl.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
