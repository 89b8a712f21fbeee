package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"otahub/internal/artifact"
	"otahub/internal/logs"
	"otahub/internal/models"
	"otahub/internal/ota"
)

const testToken = "admin-test-token"

func TestMain(m *testing.M) {
	logs.Init(logs.Options{Level: "error"})
	os.Exit(m.Run())
}

type env struct {
	srv     *httptest.Server
	devices *ota.MemDeviceStore
	groups  *ota.MemGroupStore
	alog    *ota.MemActivityStore
	art     *artifact.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	art, err := artifact.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	devices := ota.NewMemDeviceStore()
	groups := ota.NewMemGroupStore()
	alog := ota.NewMemActivityStore()
	eng := ota.NewEngine(devices, groups, alog, art)

	r := mux.NewRouter()
	Attach(r, Dependencies{Devices: devices, Groups: groups, Log: alog, Eng: eng, Art: art},
		TokenVerifier{Token: testToken})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{srv: srv, devices: devices, groups: groups, alog: alog, art: art}
}

func (e *env) do(t *testing.T, method, path string, body io.Reader, opts ...func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatal(err)
	}
}

func TestRequiresToken(t *testing.T) {
	e := newEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/admin/groups"},
		{http.MethodGet, "/api/admin/devices"},
		{http.MethodPost, "/api/admin/devices/d1/approve"},
		{http.MethodGet, "/api/admin/logs"},
	} {
		req, _ := http.NewRequest(tc.method, e.srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: %d", tc.method, tc.path, resp.StatusCode)
		}
	}

	// Неверный токен — тоже мимо.
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/admin/groups", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", resp.StatusCode)
	}
}

func TestHashedTokenAccepted(t *testing.T) {
	v := TokenVerifier{HashHex: HashToken("s3cret")}
	if !v.OK("s3cret") {
		t.Fatal("hashed token rejected")
	}
	if v.OK("not-it") || v.OK("") {
		t.Fatal("bad token accepted")
	}
}

func TestGroupLifecycle(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/groups",
		strings.NewReader(`{"name":"production","description":"основной парк"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	var created struct {
		Group models.Group `json:"group"`
	}
	decode(t, resp, &created)
	if created.Group.GroupID == "" || created.Group.APIKey == "" {
		t.Fatalf("group missing id or key: %+v", created.Group)
	}
	if len(created.Group.APIKey) != 32 {
		t.Fatalf("api key length = %d, want 32 hex chars", len(created.Group.APIKey))
	}

	// Повтор имени — конфликт.
	resp = e.do(t, http.MethodPost, "/api/admin/groups", strings.NewReader(`{"name":"production"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate name: %d", resp.StatusCode)
	}

	// Пустое имя не проходит валидацию.
	resp = e.do(t, http.MethodPost, "/api/admin/groups", strings.NewReader(`{"name":""}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name: %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/api/admin/groups", nil)
	var list []struct {
		Name        string `json:"name"`
		HasFirmware bool   `json:"hasFirmware"`
	}
	decode(t, resp, &list)
	if len(list) != 1 || list[0].Name != "production" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].HasFirmware {
		t.Fatal("fresh group reports firmware")
	}

	resp = e.do(t, http.MethodDelete, "/api/admin/groups/"+created.Group.GroupID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodDelete, "/api/admin/groups/"+created.Group.GroupID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing: %d", resp.StatusCode)
	}
}

// Имя удалённой группы сразу свободно для пересоздания.
func TestGroupRecreateAfterDelete(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/groups", strings.NewReader(`{"name":"prod"}`))
	var created struct {
		Group models.Group `json:"group"`
	}
	decode(t, resp, &created)

	resp = e.do(t, http.MethodDelete, "/api/admin/groups/"+created.Group.GroupID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/admin/groups", strings.NewReader(`{"name":"prod"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recreate after delete: %d", resp.StatusCode)
	}
	var recreated struct {
		Group models.Group `json:"group"`
	}
	decode(t, resp, &recreated)
	if recreated.Group.GroupID == created.Group.GroupID {
		t.Fatal("recreated group reused old id")
	}
}

func TestGroupDeleteDetachesDevices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	g := &models.Group{GroupID: "g1", Name: "lab", APIKey: "k"}
	if err := e.groups.Create(ctx, g); err != nil {
		t.Fatal(err)
	}
	gid := g.GroupID
	if err := e.devices.Create(ctx, &models.Device{DeviceID: "d1", GroupID: &gid, Approved: true}); err != nil {
		t.Fatal(err)
	}

	resp := e.do(t, http.MethodDelete, "/api/admin/groups/g1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}

	d, err := e.devices.Find(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.GroupID != nil {
		t.Fatalf("device still attached to %q", *d.GroupID)
	}
	if !d.Approved {
		t.Fatal("approval must survive group deletion")
	}
}

func TestDeviceApproveFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.groups.Create(ctx, &models.Group{GroupID: "g1", Name: "lab", APIKey: "k"}); err != nil {
		t.Fatal(err)
	}
	if err := e.devices.Create(ctx, &models.Device{DeviceID: "d1"}); err != nil {
		t.Fatal(err)
	}

	// Без group_id одобрение не принимается.
	resp := e.do(t, http.MethodPost, "/api/admin/devices/d1/approve", strings.NewReader(`{}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("approve without group: %d", resp.StatusCode)
	}

	// Несуществующее устройство и несуществующая группа — 404.
	resp = e.do(t, http.MethodPost, "/api/admin/devices/ghost/approve", strings.NewReader(`{"group_id":"g1"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("approve ghost device: %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/api/admin/devices/d1/approve", strings.NewReader(`{"group_id":"ghost"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("approve into ghost group: %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/admin/devices/d1/approve",
		strings.NewReader(`{"group_id":"g1"}`),
		func(r *http.Request) { r.Header.Set("X-Admin-User", "ops") })
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d", resp.StatusCode)
	}

	d, _ := e.devices.Find(ctx, "d1")
	if !d.Approved || d.GroupID == nil || *d.GroupID != "g1" || d.ApprovedAt == nil {
		t.Fatalf("device after approve: %+v", d)
	}

	entries, _ := e.alog.List(ctx, "d1", 10)
	if len(entries) != 1 || entries[0].Action != models.ActionApproved {
		t.Fatalf("audit entries = %+v", entries)
	}
	var details map[string]any
	if err := json.Unmarshal(entries[0].Details, &details); err != nil {
		t.Fatal(err)
	}
	if details["approvedBy"] != "ops" {
		t.Fatalf("approvedBy = %v", details["approvedBy"])
	}
}

func TestDeviceBlacklistFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.devices.Create(ctx, &models.Device{DeviceID: "d1", Approved: true}); err != nil {
		t.Fatal(err)
	}

	// Пустое тело — бессрочный бан с причиной по умолчанию.
	resp := e.do(t, http.MethodPost, "/api/admin/devices/d1/blacklist", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blacklist: %d", resp.StatusCode)
	}
	d, _ := e.devices.Find(ctx, "d1")
	if !d.Blacklisted || d.BlacklistUntil != nil {
		t.Fatalf("device after blacklist: %+v", d)
	}
	if d.BlacklistReason == nil || *d.BlacklistReason != "Manual blacklist" {
		t.Fatalf("reason = %v", d.BlacklistReason)
	}

	resp = e.do(t, http.MethodPost, "/api/admin/devices/d1/unblacklist", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unblacklist: %d", resp.StatusCode)
	}
	d, _ = e.devices.Find(ctx, "d1")
	if d.Blacklisted || d.BlacklistReason != nil {
		t.Fatalf("device after unblacklist: %+v", d)
	}

	// Срочный бан выставляет дедлайн.
	resp = e.do(t, http.MethodPost, "/api/admin/devices/d1/blacklist",
		strings.NewReader(`{"reason":"flapping","duration":24}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timed blacklist: %d", resp.StatusCode)
	}
	d, _ = e.devices.Find(ctx, "d1")
	if d.BlacklistUntil == nil || !d.BlacklistUntil.After(time.Now()) {
		t.Fatalf("blacklist until = %v", d.BlacklistUntil)
	}

	resp = e.do(t, http.MethodPost, "/api/admin/devices/ghost/blacklist", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("blacklist ghost: %d", resp.StatusCode)
	}
}

func TestDevicesListGroupName(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.groups.Create(ctx, &models.Group{GroupID: "g1", Name: "lab", APIKey: "k"}); err != nil {
		t.Fatal(err)
	}
	gid := "g1"
	ghost := "deleted-group"
	_ = e.devices.Create(ctx, &models.Device{DeviceID: "a", GroupID: &gid})
	_ = e.devices.Create(ctx, &models.Device{DeviceID: "b", GroupID: &ghost})
	_ = e.devices.Create(ctx, &models.Device{DeviceID: "c"})

	resp := e.do(t, http.MethodGet, "/api/admin/devices", nil)
	var rows []struct {
		DeviceID  string `json:"id"`
		GroupName string `json:"groupName"`
	}
	decode(t, resp, &rows)
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	byID := map[string]string{}
	for _, r := range rows {
		byID[r.DeviceID] = r.GroupName
	}
	if byID["a"] != "lab" || byID["b"] != "Unknown" || byID["c"] != "Unknown" {
		t.Fatalf("group names = %v", byID)
	}
}

func TestLogsQuery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = e.alog.Append(ctx, models.NewActivity("d1", models.ActionFirmwareCheck, nil))
	}
	_ = e.alog.Append(ctx, models.NewActivity("d2", models.ActionConnectionAttempt, nil))

	resp := e.do(t, http.MethodGet, "/api/admin/logs?device_id=d1&limit=3", nil)
	var entries []models.ActivityEntry
	decode(t, resp, &entries)
	if len(entries) != 3 {
		t.Fatalf("entries = %d", len(entries))
	}
	for _, en := range entries {
		if en.DeviceID != "d1" {
			t.Fatalf("foreign entry: %+v", en)
		}
	}

	resp = e.do(t, http.MethodGet, "/api/admin/logs?limit=zero", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", resp.StatusCode)
	}
}

func TestConnectionRequests(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_ = e.devices.Create(ctx, &models.Device{DeviceID: "pending"})
	_ = e.devices.Create(ctx, &models.Device{DeviceID: "ok", Approved: true})
	_ = e.alog.Append(ctx, models.NewActivity("pending", models.ActionConnectionAttempt, nil))
	_ = e.alog.Append(ctx, models.NewActivity("ok", models.ActionConnectionAttempt, nil))
	_ = e.alog.Append(ctx, models.NewActivity("pending", models.ActionFirmwareCheck, nil))

	resp := e.do(t, http.MethodGet, "/api/admin/connection-requests", nil)
	var entries []models.ActivityEntry
	decode(t, resp, &entries)
	if len(entries) != 1 || entries[0].DeviceID != "pending" {
		t.Fatalf("entries = %+v", entries)
	}
}

func multipartBody(t *testing.T, fields map[string]string, firmware []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("firmware", "firmware.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(firmware); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.groups.Create(ctx, &models.Group{GroupID: "g1", Name: "lab", APIKey: "k"}); err != nil {
		t.Fatal(err)
	}

	payload := []byte("firmware image v2")
	body, ctype := multipartBody(t, map[string]string{"version": "2.0", "group_id": "g1"}, payload)
	resp := e.do(t, http.MethodPost, "/api/admin/upload", body,
		func(r *http.Request) { r.Header.Set("Content-Type", ctype) })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d", resp.StatusCode)
	}
	var out struct {
		Version string `json:"version"`
		Size    int64  `json:"size"`
	}
	decode(t, resp, &out)
	if out.Version != "2.0" || out.Size != int64(len(payload)) {
		t.Fatalf("upload reply = %+v", out)
	}

	// Артефакт опубликован, метаданные группы обновлены.
	if v, _ := e.art.Version("g1"); v != "2.0" {
		t.Fatalf("artifact version = %q", v)
	}
	g, _ := e.groups.Find(ctx, "g1")
	if g.FirmwareVersion == nil || *g.FirmwareVersion != "2.0" ||
		g.FirmwareSize == nil || *g.FirmwareSize != int64(len(payload)) ||
		g.FirmwareUploadedAt == nil {
		t.Fatalf("group metadata = %+v", g)
	}

	// Листинг групп теперь показывает наличие прошивки.
	resp = e.do(t, http.MethodGet, "/api/admin/groups", nil)
	var list []struct {
		HasFirmware bool `json:"hasFirmware"`
	}
	decode(t, resp, &list)
	if len(list) != 1 || !list[0].HasFirmware {
		t.Fatalf("group list after upload = %+v", list)
	}

	// Без версии не принимаем.
	body, ctype = multipartBody(t, map[string]string{"group_id": "g1"}, payload)
	resp = e.do(t, http.MethodPost, "/api/admin/upload", body,
		func(r *http.Request) { r.Header.Set("Content-Type", ctype) })
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload without version: %d", resp.StatusCode)
	}

	// Несуществующая группа — 404, ничего не публикуем.
	body, ctype = multipartBody(t, map[string]string{"version": "3.0", "group_id": "ghost"}, payload)
	resp = e.do(t, http.MethodPost, "/api/admin/upload", body,
		func(r *http.Request) { r.Header.Set("Content-Type", ctype) })
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("upload to ghost group: %d", resp.StatusCode)
	}

	// Без group_id публикуем легаси-артефакт в корень.
	body, ctype = multipartBody(t, map[string]string{"version": "0.9"}, []byte("legacy"))
	resp = e.do(t, http.MethodPost, "/api/admin/upload", body,
		func(r *http.Request) { r.Header.Set("Content-Type", ctype) })
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("legacy upload: %d", resp.StatusCode)
	}
	if v, _ := e.art.Version(""); v != "0.9" {
		t.Fatalf("legacy version = %q", v)
	}
}
