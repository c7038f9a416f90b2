// Package httpserver centralizes http.Server construction so every entry
// point gets the same timeout posture.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server for the given address and handler. Handler-level
// timeouts cover request bodies; the header timeout here blocks slow-loris
// connections before they reach a handler.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
