package server

import (
	"net/http"
	"strings"
)

const (
	apiMethods   = "GET, POST, PUT, DELETE, OPTIONS"
	mediaMethods = "GET, HEAD, OPTIONS"
)

func (s *Server) allowedOrigin(origin string) bool {
	return origin != "" && (s.origins["*"] || s.origins[origin])
}

// cors answers preflights and sets the allow headers for allow-listed origins. Media responses
// expose the range headers so players can read them.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.allowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if strings.HasPrefix(r.URL.Path, "/api/") {
				h.Set("Access-Control-Allow-Methods", apiMethods)
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			} else {
				h.Set("Access-Control-Allow-Methods", mediaMethods)
				h.Set("Access-Control-Allow-Headers", "Range")
				h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
			}
			h.Set("Access-Control-Max-Age", "600")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !s.allowedOrigin(origin) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
