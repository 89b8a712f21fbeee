package ota

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"otahub/internal/artifact"
	"otahub/internal/logs"
	"otahub/internal/models"
)

// Handler — девайсовая часть API (check-in, манифест, скачивание).
type Handler struct {
	eng *Engine
	art *artifact.Store

	// Легаси-путь без групп (совместимость со старым парком).
	legacyAPIKey string
	allowAnon    bool

	// Проверка админского токена для admin_download (предпросмотр артефакта).
	adminOK func(*http.Request) bool
}

func NewHandler(eng *Engine, art *artifact.Store, legacyAPIKey string, allowAnon bool, adminOK func(*http.Request) bool) *Handler {
	return &Handler{eng: eng, art: art, legacyAPIKey: legacyAPIKey, allowAnon: allowAnon, adminOK: adminOK}
}

// Ключ берём из заголовка x-api-key либо из query api_key.
func apiKeyFrom(r *http.Request) string {
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

type checkResponse struct {
	Version string `json:"version"`
	MD5     string `json:"md5"`
	Size    int64  `json:"size,omitempty"`
	URL     string `json:"url"`
}

// GET /deviceapi/check?device_id=...
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	dec, err := h.eng.CheckIn(r.Context(), r.URL.Query().Get("device_id"), apiKeyFrom(r))
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	if dec.Outcome != OutcomeAllowed {
		writeDecision(w, dec)
		return
	}
	models.WriteJSON(w, http.StatusOK, checkResponse{
		Version: dec.Version,
		MD5:     dec.Digest,
		Size:    dec.Size,
		URL:     dec.URL,
	})
}

// GET /deviceapi/manifest.json?device_id=... — машинный вариант check без size.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	dec, err := h.eng.CheckIn(r.Context(), r.URL.Query().Get("device_id"), apiKeyFrom(r))
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	if dec.Outcome != OutcomeAllowed {
		writeDecision(w, dec)
		return
	}
	models.WriteJSON(w, http.StatusOK, checkResponse{
		Version: dec.Version,
		MD5:     dec.Digest,
		URL:     dec.URL,
	})
}

// GET /deviceapi/download?group_id=...&device_id=...[&admin_download=true]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupID := q.Get("group_id")
	deviceID := q.Get("device_id")

	if q.Get("admin_download") == "true" {
		// Операторский предпросмотр: мимо девайсового шлюза и мимо журнала.
		if h.adminOK == nil || !h.adminOK(r) {
			models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "admin token required", nil)
			return
		}
		h.serveArtifact(w, r, groupID, "", false)
		return
	}

	dec, err := h.eng.AuthorizeDownload(r.Context(), deviceID, groupID, apiKeyFrom(r))
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	if dec.Outcome != OutcomeAllowed {
		writeDecision(w, dec)
		return
	}
	h.serveArtifact(w, r, groupID, deviceID, true)
}

// serveArtifact отдаёт байты с поддержкой одиночного Range.
// Авторизация проверена один раз на входе; блокировок во время передачи нет,
// бан посреди передачи соединение не рвёт.
func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, groupID, deviceID string, logEvents bool) {
	f, total, err := h.art.Open(groupID)
	if errors.Is(err, artifact.ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", ReasonNoFirmware, nil)
		return
	}
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	defer f.Close()
	version, _ := h.art.Version(groupID)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Accept-Ranges", "bytes")

	start, end := int64(0), total-1
	status := http.StatusOK
	if rh := r.Header.Get("Range"); rh != "" {
		s, e, perr := parseRange(rh, total)
		if perr != nil || !satisfiable(s, e, total) {
			// 416 несёт общий размер, чтобы клиент мог поправить запрос.
			w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(total, 10))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start, end = s, e
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", contentRange(start, end, total))
	}
	length := end - start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	if logEvents {
		h.eng.LogActivity(r.Context(), deviceID, models.ActionDownloadStart, map[string]any{
			"group":   groupID,
			"version": version,
			"range":   r.Header.Get("Range"),
			"length":  length,
		})
	}

	w.WriteHeader(status)
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return // заголовки уже ушли
	}

	pw := &progressWriter{length: length}
	if logEvents {
		pw.onQuartile = func(percent int, written int64) {
			h.eng.LogActivity(r.Context(), deviceID, models.ActionDownloadProgress, map[string]any{
				"group":   groupID,
				"percent": percent,
				"bytes":   written,
			})
		}
	}

	if err := copyRange(w, f, length, pw); err != nil {
		// Обрыв клиента — штатное досрочное завершение, download_complete не пишем.
		if logEvents {
			logs.Device(deviceID, models.ActionDownloadStart).
				Debugf("transfer aborted at %d/%d: %v", pw.written, length, err)
		}
		return
	}
	if logEvents && pw.written == length {
		h.eng.LogActivity(r.Context(), deviceID, models.ActionDownloadComplete, map[string]any{
			"group":   groupID,
			"version": version,
			"bytes":   length,
		})
	}
}

// copyRange копирует ровно n байт, уведомляя progressWriter.
func copyRange(dst io.Writer, src io.Reader, n int64, pw *progressWriter) error {
	buf := make([]byte, 32*1024)
	var written int64
	for written < n {
		chunk := int64(len(buf))
		if rem := n - written; rem < chunk {
			chunk = rem
		}
		rn, rerr := src.Read(buf[:chunk])
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			pw.add(wn)
			written += int64(wn)
			if werr != nil {
				return werr
			}
			if wn < rn {
				return io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if written < n {
					return io.ErrUnexpectedEOF
				}
				return nil
			}
			return rerr
		}
	}
	return nil
}

// ---------- Легаси-эндпоинты (один артефакт без групп) ----------

func (h *Handler) legacyKeyOK(r *http.Request) bool {
	if h.allowAnon || h.legacyAPIKey == "" {
		return true
	}
	return apiKeyFrom(r) == h.legacyAPIKey
}

// GET /api/firmware/check — глобальный check старого парка.
func (h *Handler) LegacyCheck(w http.ResponseWriter, r *http.Request) {
	if !h.legacyKeyOK(r) {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key", nil)
		return
	}
	version, err := h.art.Version("")
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	size, ok := h.art.Stat("")
	if version == "" || !ok {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "no firmware uploaded yet", nil)
		return
	}
	digest, err := h.art.Digest("")
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, checkResponse{
		Version: version,
		MD5:     digest,
		Size:    size,
		URL:     "/deviceapi/firmware.bin",
	})
}

// GET /deviceapi/firmware.bin — легаси-скачивание, без журнала устройств.
func (h *Handler) LegacyDownload(w http.ResponseWriter, r *http.Request) {
	if !h.legacyKeyOK(r) {
		models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key", nil)
		return
	}
	h.serveArtifact(w, r, "", "", false)
}

func writeDecision(w http.ResponseWriter, dec *Decision) {
	var title string
	switch dec.Outcome {
	case OutcomePending, OutcomeDenied:
		title = "Forbidden"
	case OutcomeUnauthorized:
		title = "Unauthorized"
	case OutcomeNotFound:
		title = "Not Found"
	default:
		title = "Bad Request"
	}
	models.WriteProblem(w, dec.HTTPStatus(), title, dec.Reason, nil)
}
