// Package httpserver constructs the process's HTTP server. Timeouts are
// tuned for the casting endpoint: requests are small JSON bodies and the
// slowest path is one database transaction plus a bounded geo lookup.
package httpserver

import (
	"net/http"
	"time"
)

func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
