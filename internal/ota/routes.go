package ota

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *Handler) {
	sub := r.PathPrefix("/deviceapi").Subrouter()
	sub.HandleFunc("/check", h.Check).Methods(http.MethodGet)
	sub.HandleFunc("/manifest.json", h.Manifest).Methods(http.MethodGet)
	sub.HandleFunc("/download", h.Download).Methods(http.MethodGet)
	sub.HandleFunc("/firmware.bin", h.LegacyDownload).Methods(http.MethodGet)

	// Легаси-маршрут старого парка.
	r.HandleFunc("/api/firmware/check", h.LegacyCheck).Methods(http.MethodGet)
}
