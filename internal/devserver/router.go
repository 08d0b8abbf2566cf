package devserver

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires HTTP routes. Fixed /sessions paths are registered before /sessions/{id}.
func NewRouter(h *Handlers, authMiddleware func(http.Handler) http.Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/lots", h.Lots).Methods(http.MethodGet)
	r.HandleFunc("/files/{id}", h.File).Methods(http.MethodGet)
	r.HandleFunc("/checkout/{id}", h.Checkout).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/admin/sessions/{id}/close", h.CloseSession).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(mux.MiddlewareFunc(authMiddleware))
	authed.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)
	authed.HandleFunc("/sessions", h.StartSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/active", h.ActiveSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/history", h.History).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/ws/sessions/{id}", h.Live).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}/exit", h.ExitSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/pay", h.PaymentLink).Methods(http.MethodPost)

	return r
}
