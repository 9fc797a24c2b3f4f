// Package server builds the HTTP server that fronts the platform handler.
package server

import (
	"net/http"

	"github.com/txn2/karaoke-live/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// NewHTTPServer returns an http.Server for handler bound to the configured
// address.
func NewHTTPServer(cfg platform.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
