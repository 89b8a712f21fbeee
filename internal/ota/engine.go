package ota

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"otahub/internal/artifact"
	"otahub/internal/logs"
	"otahub/internal/models"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrGroupNotFound  = errors.New("group not found")
)

// Engine — машина состояний авторизации устройств.
// Одно и то же ядро решает и check-in, и повторную проверку на download:
// две точки входа обязаны сходиться к одному правилу (см. gate).
type Engine struct {
	devices DeviceStore
	groups  GroupStore
	alog    ActivityStore
	art     *artifact.Store

	locks *keyMutex
	now   func() time.Time // подменяется в тестах
}

func NewEngine(devices DeviceStore, groups GroupStore, alog ActivityStore, art *artifact.Store) *Engine {
	return &Engine{
		devices: devices,
		groups:  groups,
		alog:    alog,
		art:     art,
		locks:   newKeyMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CheckIn — устройство спрашивает, есть ли для него прошивка.
//
// Порядок шагов фиксированный, каждый шаг терминальный:
// пустой id → BadRequest; неизвестное устройство → регистрация + Pending;
// затем безусловный liveness-инкремент; бан (с самоистечением); ожидание
// одобрения; группа; ключ; наличие прошивки; Allowed с метаданными.
func (e *Engine) CheckIn(ctx context.Context, deviceID, presentedKey string) (*Decision, error) {
	if deviceID == "" {
		return badRequest(ReasonNoDeviceID), nil
	}

	unlock := e.locks.Lock("device:" + deviceID)
	defer unlock()

	now := e.now()
	d, err := e.devices.Find(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if d == nil {
		// Первое появление: регистрируем, но никогда не авто-одобряем.
		d = &models.Device{
			DeviceID:        deviceID,
			FirstSeen:       now,
			LastSeen:        now,
			ConnectionCount: 1,
			ProvidedAPIKey:  presentedKey, // аудит; для решения не используется
		}
		if err := e.devices.Create(ctx, d); err != nil {
			return nil, err
		}
		e.logActivity(ctx, deviceID, models.ActionConnectionAttempt, map[string]any{
			"providedApiKey": presentedKey,
		})
		return pending(), nil
	}

	// Liveness-сигнал не зависит от исхода авторизации.
	d.LastSeen = now
	d.ConnectionCount++

	g, dec, gerr := e.gate(ctx, d, presentedKey, now)
	if err := e.devices.Save(ctx, d); err != nil {
		return nil, err
	}
	if gerr != nil {
		return nil, gerr
	}
	if dec != nil {
		return dec, nil
	}

	version, size, dec2, err := e.resolveArtifact(g.GroupID)
	if err != nil {
		return nil, err
	}
	if dec2 != nil {
		return dec2, nil
	}
	digest, err := e.art.Digest(g.GroupID)
	if err != nil {
		return nil, err
	}

	e.logActivity(ctx, deviceID, models.ActionFirmwareCheck, map[string]any{
		"group":   g.GroupID,
		"version": version,
	})
	return allowed(g.GroupID, version, digest, size, downloadURL(g.GroupID, deviceID)), nil
}

// AuthorizeDownload — независимый второй шлюз перед отдачей байтов.
// Check-in и download не связаны транзакционно: состояние могло измениться,
// а запрос мог вообще прийти мимо check-in.
func (e *Engine) AuthorizeDownload(ctx context.Context, deviceID, claimedGroupID, presentedKey string) (*Decision, error) {
	if deviceID == "" {
		return badRequest(ReasonNoDeviceID), nil
	}
	if claimedGroupID == "" {
		return badRequest("group_id required"), nil
	}

	unlock := e.locks.Lock("device:" + deviceID)
	defer unlock()

	now := e.now()
	d, err := e.devices.Find(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return notFound(ReasonNoDevice), nil
	}

	wasBlacklisted := d.Blacklisted
	g, dec, gerr := e.gate(ctx, d, presentedKey, now)
	if wasBlacklisted && !d.Blacklisted {
		// Самоистёкший бан снят — фиксируем.
		if err := e.devices.Save(ctx, d); err != nil {
			return nil, err
		}
	}
	if gerr != nil {
		return nil, gerr
	}
	if dec != nil {
		return dec, nil
	}
	if g.GroupID != claimedGroupID {
		return denied(ReasonBadGroup), nil
	}

	version, size, dec2, err := e.resolveArtifact(g.GroupID)
	if err != nil {
		return nil, err
	}
	if dec2 != nil {
		return dec2, nil
	}
	return allowed(g.GroupID, version, "", size, ""), nil
}

// gate — общее правило для шагов «бан → одобрение → группа → ключ».
// Побочный эффект один: сброс истёкшего бана прямо на d (сохраняет вызывающий).
func (e *Engine) gate(ctx context.Context, d *models.Device, presentedKey string, now time.Time) (*models.Group, *Decision, error) {
	if d.Blacklisted {
		if !d.BlacklistExpired(now) {
			return nil, denied(ReasonBlacklisted), nil
		}
		d.Blacklisted = false
		d.BlacklistReason = nil
		d.BlacklistUntil = nil
	}
	if !d.Approved {
		return nil, pending(), nil
	}
	if d.GroupID == nil {
		return nil, notFound(ReasonNoGroup), nil
	}
	g, err := e.groups.Find(ctx, *d.GroupID)
	if err != nil {
		return nil, nil, err
	}
	if g == nil {
		// Устройство одобрено, но группа с тех пор удалена — не падаем.
		return nil, notFound(ReasonNoGroup), nil
	}
	if presentedKey != g.APIKey {
		return nil, unauthorized(), nil
	}
	return g, nil, nil
}

func (e *Engine) resolveArtifact(groupID string) (version string, size int64, dec *Decision, err error) {
	// Версия и размер — одним снимком, чтобы публикация между чтениями
	// не склеила старую версию с новым бинарём.
	version, size, ok, err := e.art.Current(groupID)
	if err != nil {
		return "", 0, nil, err
	}
	if !ok {
		return "", 0, notFound(ReasonNoFirmware), nil
	}
	return version, size, nil, nil
}

// ---------- Административные операции ----------

// Approve одобряет устройство и привязывает его к группе.
func (e *Engine) Approve(ctx context.Context, deviceID, groupID, actor string) error {
	unlock := e.locks.Lock("device:" + deviceID)
	defer unlock()

	d, err := e.devices.Find(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDeviceNotFound
	}
	g, err := e.groups.Find(ctx, groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return ErrGroupNotFound
	}

	now := e.now()
	d.Approved = true
	d.ApprovedAt = &now
	d.GroupID = &g.GroupID
	if err := e.devices.Save(ctx, d); err != nil {
		return err
	}
	e.logActivity(ctx, deviceID, models.ActionApproved, map[string]any{
		"approvedBy": actor,
		"groupId":    g.GroupID,
		"groupName":  g.Name,
	})
	return nil
}

// Blacklist банит устройство; durationHours == 0 — бессрочно.
func (e *Engine) Blacklist(ctx context.Context, deviceID, reason string, durationHours int, actor string) error {
	unlock := e.locks.Lock("device:" + deviceID)
	defer unlock()

	d, err := e.devices.Find(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDeviceNotFound
	}

	if reason == "" {
		reason = "Manual blacklist"
	}
	d.Blacklisted = true
	d.BlacklistReason = &reason
	d.BlacklistUntil = nil
	if durationHours > 0 {
		until := e.now().Add(time.Duration(durationHours) * time.Hour)
		d.BlacklistUntil = &until
	}
	if err := e.devices.Save(ctx, d); err != nil {
		return err
	}
	e.logActivity(ctx, deviceID, models.ActionBlacklisted, map[string]any{
		"reason":        reason,
		"duration":      durationHours,
		"blacklistedBy": actor,
	})
	return nil
}

// Unblacklist снимает бан безусловно.
func (e *Engine) Unblacklist(ctx context.Context, deviceID, actor string) error {
	unlock := e.locks.Lock("device:" + deviceID)
	defer unlock()

	d, err := e.devices.Find(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDeviceNotFound
	}
	d.Blacklisted = false
	d.BlacklistReason = nil
	d.BlacklistUntil = nil
	if err := e.devices.Save(ctx, d); err != nil {
		return err
	}
	e.logActivity(ctx, deviceID, models.ActionUnblacklisted, map[string]any{
		"unblacklistedBy": actor,
	})
	return nil
}

// LogActivity — журнал для стриминга (download_start и т.п.).
func (e *Engine) LogActivity(ctx context.Context, deviceID, action string, details map[string]any) {
	e.logActivity(ctx, deviceID, action, details)
}

// Ошибка журнала не должна ронять основную операцию.
func (e *Engine) logActivity(ctx context.Context, deviceID, action string, details map[string]any) {
	if err := e.alog.Append(ctx, models.NewActivity(deviceID, action, details)); err != nil {
		logs.Device(deviceID, action).Warnf("activity log append failed: %v", err)
	}
}

func downloadURL(groupID, deviceID string) string {
	return fmt.Sprintf("/deviceapi/download?group_id=%s&device_id=%s",
		url.QueryEscape(groupID), url.QueryEscape(deviceID))
}
