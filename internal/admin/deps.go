package admin

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"otahub/internal/artifact"
	"otahub/internal/ota"
)

type Dependencies struct {
	Devices ota.DeviceStore
	Groups  ota.GroupStore
	Log     ota.ActivityStore
	Eng     *ota.Engine
	Art     *artifact.Store
}

// Attach вешает админский JSON API под /api/admin за Bearer-токеном.
func Attach(r *mux.Router, d Dependencies, v TokenVerifier) {
	h := &Handler{d: d, v: validator.New()}
	sub := r.PathPrefix("/api/admin").Subrouter()
	sub.Use(v.Middleware())

	sub.HandleFunc("/groups", h.GroupsList).Methods(http.MethodGet)
	sub.HandleFunc("/groups", h.GroupCreate).Methods(http.MethodPost)
	sub.HandleFunc("/groups/{id}", h.GroupDelete).Methods(http.MethodDelete)

	sub.HandleFunc("/devices", h.DevicesList).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id}/approve", h.DeviceApprove).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id}/blacklist", h.DeviceBlacklist).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id}/unblacklist", h.DeviceUnblacklist).Methods(http.MethodPost)

	sub.HandleFunc("/logs", h.LogsList).Methods(http.MethodGet)
	sub.HandleFunc("/connection-requests", h.ConnectionRequests).Methods(http.MethodGet)

	sub.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)
}
