package artifact

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

const (
	binName     = "firmware.bin"
	versionName = "version.txt"
)

// Store — файловое хранилище прошивок: на группу пара firmware.bin + version.txt,
// плюс легаси-пара без группы в корне каталога (groupID == "").
//
// Публикация заменяет оба файла через tmp+rename; RWMutex гарантирует, что
// конкурентный check-in не увидит «бинарь новый, версия старая» и наоборот.
// Уже открытые файловые дескрипторы переживают rename, так что стриминг
// идёт без блокировок.
type Store struct {
	root string

	mu    sync.RWMutex
	cache map[string]digestEntry // ключ — groupID
}

// Кэш дайджеста валиден, пока совпадает тройка (версия, размер, mtime).
type digestEntry struct {
	version string
	size    int64
	mtime   time.Time
	sum     string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &Store{root: root, cache: make(map[string]digestEntry)}, nil
}

func (s *Store) dir(groupID string) string {
	if groupID == "" {
		return s.root // легаси-раскладка
	}
	return filepath.Join(s.root, "groups", groupID)
}

// Publish атомарно заменяет бинарь и маркер версии группы.
// Возвращает размер записанного бинаря.
func (s *Store) Publish(groupID string, r io.Reader, version string) (int64, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return 0, errors.New("version required")
	}
	dir := s.dir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	binTmp, err := os.CreateTemp(dir, ".firmware-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(binTmp.Name())
	size, err := io.Copy(binTmp, r)
	if err != nil {
		binTmp.Close()
		return 0, err
	}
	if err := binTmp.Close(); err != nil {
		return 0, err
	}

	verTmp, err := os.CreateTemp(dir, ".version-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(verTmp.Name())
	if _, err := io.WriteString(verTmp, version+"\n"); err != nil {
		verTmp.Close()
		return 0, err
	}
	if err := verTmp.Close(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(binTmp.Name(), filepath.Join(dir, binName)); err != nil {
		return 0, err
	}
	if err := os.Rename(verTmp.Name(), filepath.Join(dir, versionName)); err != nil {
		return 0, err
	}
	delete(s.cache, groupID) // инвалидация дайджеста
	return size, nil
}

// Version читает маркер версии; "" — прошивки нет.
func (s *Store) Version(groupID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(groupID)
}

func (s *Store) versionLocked(groupID string) (string, error) {
	b, err := os.ReadFile(filepath.Join(s.dir(groupID), versionName))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Current — версия и размер текущего бинаря одним снимком под общей
// блокировкой: конкурентный Publish не смешает старую версию с новым размером.
// ok=false — опубликованной прошивки нет.
func (s *Store) Current(groupID string) (version string, size int64, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, err = s.versionLocked(groupID)
	if err != nil {
		return "", 0, false, err
	}
	fi, err := os.Stat(filepath.Join(s.dir(groupID), binName))
	if errors.Is(err, os.ErrNotExist) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	if version == "" {
		return "", 0, false, nil
	}
	return version, fi.Size(), true, nil
}

// Stat — размер текущего бинаря; ok=false, если бинаря нет.
func (s *Store) Stat(groupID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, err := os.Stat(filepath.Join(s.dir(groupID), binName))
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

// Digest — MD5 текущего бинаря (hex). Контроль целостности рекомендательный,
// не криптографический. Полный проход по файлу делается только при смене
// тройки (версия, размер, mtime).
func (s *Store) Digest(groupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir(groupID), binName)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	version, err := s.versionLocked(groupID)
	if err != nil {
		return "", err
	}

	if e, ok := s.cache[groupID]; ok &&
		e.version == version && e.size == fi.Size() && e.mtime.Equal(fi.ModTime()) {
		return e.sum, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	s.cache[groupID] = digestEntry{version: version, size: fi.Size(), mtime: fi.ModTime(), sum: sum}
	return sum, nil
}

// Open отдаёт бинарь для стриминга. Дескриптор валиден и после Publish.
func (s *Store) Open(groupID string) (io.ReadSeekCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := os.Open(filepath.Join(s.dir(groupID), binName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}
