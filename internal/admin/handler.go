package admin

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"otahub/internal/models"
	"otahub/internal/ota"
)

type Handler struct {
	d Dependencies
	v *validator.Validate
}

// ---------- Groups ----------

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=1024"`
}

type groupRow struct {
	models.Group
	HasFirmware bool `json:"hasFirmware"`
}

func (h *Handler) GroupsList(w http.ResponseWriter, r *http.Request) {
	groups, err := h.d.Groups.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load groups", nil)
		return
	}
	rows := make([]groupRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, groupRow{Group: g, HasFirmware: g.HasFirmware()})
	}
	models.WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) GroupCreate(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}
	if err := h.v.Struct(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}

	g := &models.Group{
		GroupID:     uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		APIKey:      newAPIKey(),
	}
	err := h.d.Groups.Create(r.Context(), g)
	if errors.Is(err, ota.ErrDuplicateName) {
		models.WriteProblem(w, http.StatusConflict, "Conflict", "group already exists", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to create group", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"message": "group created", "group": g})
}

func (h *Handler) GroupDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g, err := h.d.Groups.Find(r.Context(), id)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	if g == nil {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "group not found", nil)
		return
	}
	if err := h.d.Groups.Delete(r.Context(), id); err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	// Устройства не удаляем — только отвязываем от группы.
	if err := h.d.Devices.DetachGroup(r.Context(), id); err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"message": "group deleted"})
}

// ---------- Devices ----------

type deviceRow struct {
	models.Device
	GroupName string `json:"groupName"`
}

func (h *Handler) DevicesList(w http.ResponseWriter, r *http.Request) {
	devices, err := h.d.Devices.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load devices", nil)
		return
	}
	groups, err := h.d.Groups.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load groups", nil)
		return
	}
	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.GroupID] = g.Name
	}
	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		row := deviceRow{Device: d, GroupName: "Unknown"}
		if d.GroupID != nil {
			if n, ok := names[*d.GroupID]; ok {
				row.GroupName = n
			}
		}
		rows = append(rows, row)
	}
	models.WriteJSON(w, http.StatusOK, rows)
}

type approveRequest struct {
	GroupID string `json:"group_id" validate:"required"`
}

func (h *Handler) DeviceApprove(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}
	if err := h.v.Struct(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "group_id required for approval", nil)
		return
	}
	switch err := h.d.Eng.Approve(r.Context(), deviceID, req.GroupID, actor(r)); {
	case errors.Is(err, ota.ErrDeviceNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "device not found", nil)
	case errors.Is(err, ota.ErrGroupNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "group not found", nil)
	case err != nil:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to approve device", nil)
	default:
		models.WriteJSON(w, http.StatusOK, map[string]any{"message": "device approved"})
	}
}

type blacklistRequest struct {
	Reason        string `json:"reason" validate:"max=1024"`
	DurationHours int    `json:"duration" validate:"gte=0"` // 0 = бессрочно
}

func (h *Handler) DeviceBlacklist(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	var req blacklistRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // пустое тело допустимо
	}
	if err := h.v.Struct(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	err := h.d.Eng.Blacklist(r.Context(), deviceID, req.Reason, req.DurationHours, actor(r))
	if errors.Is(err, ota.ErrDeviceNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "device not found", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to blacklist device", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"message": "device blacklisted"})
}

func (h *Handler) DeviceUnblacklist(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	err := h.d.Eng.Unblacklist(r.Context(), deviceID, actor(r))
	if errors.Is(err, ota.ErrDeviceNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "device not found", nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to unblacklist device", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"message": "device unblacklisted"})
}

// ---------- Logs ----------

func (h *Handler) LogsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid limit", nil)
			return
		}
		limit = n
	}
	entries, err := h.d.Log.List(r.Context(), q.Get("device_id"), limit)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load logs", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, entries)
}

// ConnectionRequests — последние connection_attempt устройств, ждущих одобрения.
func (h *Handler) ConnectionRequests(w http.ResponseWriter, r *http.Request) {
	devices, err := h.d.Devices.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load devices", nil)
		return
	}
	pending := make(map[string]bool)
	for _, d := range devices {
		if !d.Approved && !d.Blacklisted {
			pending[d.DeviceID] = true
		}
	}
	entries, err := h.d.Log.List(r.Context(), "", models.ActivityLogLimit)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to load logs", nil)
		return
	}
	out := make([]models.ActivityEntry, 0, 50)
	for _, e := range entries {
		if e.Action == models.ActionConnectionAttempt && pending[e.DeviceID] {
			out = append(out, e)
			if len(out) == 50 {
				break
			}
		}
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// ---------- Upload ----------

// Upload принимает multipart (поле firmware + version, опционально group_id)
// и публикует артефакт атомарно: бинарь и маркер версии меняются вместе.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid multipart form", nil)
		return
	}
	version := r.FormValue("version")
	if version == "" {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "version required", nil)
		return
	}
	groupID := r.FormValue("group_id")

	var g *models.Group
	if groupID != "" {
		var err error
		g, err = h.d.Groups.Find(r.Context(), groupID)
		if err != nil {
			models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
			return
		}
		if g == nil {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "group not found", nil)
			return
		}
	}

	file, _, err := r.FormFile("firmware")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "firmware file required", nil)
		return
	}
	defer file.Close()

	size, err := h.d.Art.Publish(groupID, file, version)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to store firmware", nil)
		return
	}

	if g != nil {
		now := time.Now().UTC()
		g.FirmwareVersion = &version
		g.FirmwareSize = &size
		g.FirmwareUploadedAt = &now
		if err := h.d.Groups.Save(r.Context(), g); err != nil {
			models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to update group", nil)
			return
		}
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "firmware uploaded",
		"version": version,
		"size":    size,
	})
}

// ---------- utils ----------

// 16 случайных байт в hex — совместимо с ключами, которые раздавал старый сервер.
func newAPIKey() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	return hex.EncodeToString(raw[:])
}
