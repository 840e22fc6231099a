// Package web holds the embedded assets of the public site.
package web

import (
	"embed"
	"net/http"
)

// TemplatesFS contains the public page templates. layout.html defines the
// page shell; each page file defines "content".
//
//go:embed templates/*.html
var TemplatesFS embed.FS

//go:embed robots.txt
var robotsTxt []byte

// RobotsTxtHandler serves the robots.txt file.
func RobotsTxtHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(robotsTxt)
	})
}
