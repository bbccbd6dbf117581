package middleware

import "net/http"

// statusWriter captures the status code and written-byte count so after
// hooks and access logging can see the request outcome.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
	wrote   bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.wrote = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Status returns the response status, defaulting to 200.
func (w *statusWriter) Status() int { return w.status }

// Wrote reports whether anything has been written yet.
func (w *statusWriter) Wrote() bool { return w.wrote }
