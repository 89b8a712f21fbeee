package ota

import (
	"context"
	"fmt"
	"testing"

	"otahub/internal/models"
)

func TestMemActivityStoreBound(t *testing.T) {
	s := NewMemActivityStore()
	ctx := context.Background()

	total := models.ActivityLogLimit + 250
	for i := 0; i < total; i++ {
		e := models.NewActivity(fmt.Sprintf("d%d", i), models.ActionConnectionAttempt, nil)
		if err := s.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != models.ActivityLogLimit {
		t.Fatalf("log size = %d, want %d", len(all), models.ActivityLogLimit)
	}
	// Вытесняются старейшие по порядку вставки: первой в журнале (новые сверху)
	// идёт последняя запись, последней — запись номер total-limit.
	if all[0].DeviceID != fmt.Sprintf("d%d", total-1) {
		t.Fatalf("newest = %s", all[0].DeviceID)
	}
	if oldest := all[len(all)-1].DeviceID; oldest != fmt.Sprintf("d%d", total-models.ActivityLogLimit) {
		t.Fatalf("oldest kept = %s, want d%d", oldest, total-models.ActivityLogLimit)
	}
}

func TestMemActivityStoreFilterAndLimit(t *testing.T) {
	s := NewMemActivityStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		dev := "a"
		if i%2 == 1 {
			dev = "b"
		}
		_ = s.Append(ctx, models.NewActivity(dev, models.ActionFirmwareCheck, map[string]any{"i": i}))
	}

	got, err := s.List(ctx, "a", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for _, e := range got {
		if e.DeviceID != "a" {
			t.Fatalf("filter leak: %+v", e)
		}
	}
	// Новые первыми.
	if got[0].ID < got[1].ID {
		t.Fatal("entries not newest-first")
	}
}

func TestMemDeviceStoreCopies(t *testing.T) {
	s := NewMemDeviceStore()
	ctx := context.Background()
	d := &models.Device{DeviceID: "d1", ConnectionCount: 1}
	if err := s.Create(ctx, d); err != nil {
		t.Fatal(err)
	}

	// Мутация прочитанной копии не видна до Save — как с настоящей БД.
	got, _ := s.Find(ctx, "d1")
	got.ConnectionCount = 42
	again, _ := s.Find(ctx, "d1")
	if again.ConnectionCount != 1 {
		t.Fatalf("store leaked mutation: %d", again.ConnectionCount)
	}
	if err := s.Save(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, _ = s.Find(ctx, "d1")
	if again.ConnectionCount != 42 {
		t.Fatalf("save lost: %d", again.ConnectionCount)
	}
}

func TestMemGroupStoreDuplicateName(t *testing.T) {
	s := NewMemGroupStore()
	ctx := context.Background()
	if err := s.Create(ctx, &models.Group{GroupID: "g1", Name: "prod"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, &models.Group{GroupID: "g2", Name: "prod"}); err != ErrDuplicateName {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
}
