package ota

import (
	"context"
	"errors"
	"sort"
	"sync"

	"otahub/internal/models"
)

// ErrDuplicateName — конфликт уникальности имени группы.
var ErrDuplicateName = errors.New("group name already exists")

// In-memory реализации хранилищ — режим без БД (database.driver == "")
// и юнит-тесты движка. Find/List отдают копии, как это делала бы БД.

type MemDeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*models.Device
	nextID  uint
}

func NewMemDeviceStore() *MemDeviceStore {
	return &MemDeviceStore{devices: make(map[string]*models.Device)}
}

func (s *MemDeviceStore) Find(_ context.Context, deviceID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemDeviceStore) Create(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.DeviceID]; ok {
		return errors.New("device already exists")
	}
	s.nextID++
	d.ID = s.nextID
	cp := *d
	s.devices[d.DeviceID] = &cp
	return nil
}

func (s *MemDeviceStore) Save(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.devices[d.DeviceID] = &cp
	return nil
}

func (s *MemDeviceStore) List(_ context.Context) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *MemDeviceStore) DetachGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.GroupID != nil && *d.GroupID == groupID {
			d.GroupID = nil
		}
	}
	return nil
}

type MemGroupStore struct {
	mu     sync.RWMutex
	groups map[string]*models.Group
	nextID uint
}

func NewMemGroupStore() *MemGroupStore {
	return &MemGroupStore{groups: make(map[string]*models.Group)}
}

func (s *MemGroupStore) Find(_ context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *MemGroupStore) FindByName(_ context.Context, name string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemGroupStore) Create(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.groups {
		if have.Name == g.Name {
			return ErrDuplicateName
		}
	}
	s.nextID++
	g.ID = s.nextID
	cp := *g
	s.groups[g.GroupID] = &cp
	return nil
}

func (s *MemGroupStore) List(_ context.Context) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemGroupStore) Delete(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
	return nil
}

func (s *MemGroupStore) Save(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.GroupID] = &cp
	return nil
}

type MemActivityStore struct {
	mu      sync.Mutex
	entries []models.ActivityEntry
	nextID  uint
}

func NewMemActivityStore() *MemActivityStore { return &MemActivityStore{} }

func (s *MemActivityStore) Append(_ context.Context, e models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	// FIFO по порядку вставки, не по таймстемпу.
	if over := len(s.entries) - models.ActivityLogLimit; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

func (s *MemActivityStore) List(_ context.Context, deviceID string, limit int) ([]models.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ActivityEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if deviceID != "" && s.entries[i].DeviceID != deviceID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
