package api

import (
	"net/http"
	"strings"
)

// CORSPolicy computes response headers from the request Origin and a
// configured allow-list. An empty or wildcard list reflects "*"; with a
// concrete list, a non-member Origin falls back to the first configured
// entry so browsers still get a definite answer.
type CORSPolicy struct {
	allowedOrigins []string
}

func NewCORSPolicy(allowList string) CORSPolicy {
	allowList = strings.TrimSpace(allowList)
	if allowList == "" || allowList == "*" {
		return CORSPolicy{}
	}

	var origins []string
	for _, entry := range strings.Split(allowList, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			origins = append(origins, entry)
		}
	}
	return CORSPolicy{allowedOrigins: origins}
}

// Headers is a pure function of the request's Origin and requested
// headers.
func (p CORSPolicy) Headers(origin, requestedHeaders string) map[string]string {
	allowOrigin := "*"
	if len(p.allowedOrigins) > 0 {
		allowOrigin = p.allowedOrigins[0]
		for _, allowed := range p.allowedOrigins {
			if allowed == origin {
				allowOrigin = origin
				break
			}
		}
	}

	if requestedHeaders == "" {
		requestedHeaders = "content-type"
	}

	return map[string]string{
		"Access-Control-Allow-Origin":  allowOrigin,
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": requestedHeaders,
		"Access-Control-Max-Age":       "86400",
		"Vary":                         "Origin",
	}
}

// Middleware applies the policy to every response and short-circuits
// preflight requests with a bare 204.
func (p CORSPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := p.Headers(r.Header.Get("Origin"), r.Header.Get("Access-Control-Request-Headers"))
		for key, value := range headers {
			w.Header().Set(key, value)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
