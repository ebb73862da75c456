package auth

import (
	"net/http"
	"slices"
)

// HTTPMiddleware applies the API key check to REST requests. Paths listed in
// open are served without a key.
func HTTPMiddleware(mode, header, key string, next http.Handler, open ...string) http.Handler {
	kc := newKeyCheck(mode, header, key)
	if kc == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(open, r.URL.Path) && !kc.accepts(r.Header.Get(kc.header)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
