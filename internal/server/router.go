package server

import (
	"net/http"
)

// Handler returns an http.Handler serving the warden API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleHealth(ctx, w)
	})

	// Either scheme
	mux.Handle("GET /v1/whoami", s.compound.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleWhoAmI(ctx, w)
	})))

	// Key management requires the account password
	mux.Handle("POST /v1/keys", s.basic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleKeyCreate(ctx, w)
	})))
	mux.Handle("GET /v1/keys", s.basic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleKeyList(ctx, w)
	})))
	mux.Handle("DELETE /v1/keys/{id}", s.basic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		s.handleKeyDelete(ctx, w, id)
	})))

	// Signed requests only
	mux.Handle("POST /v1/echo", s.hmac.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleEcho(w, r)
	})))

	// Add middleware
	handler := s.LogRequest(mux)
	handler = s.Recoverer(handler)
	handler = s.RequestID(handler)
	return handler
}
