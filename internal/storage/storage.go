// Package storage описывает бэкенды объектного хранилища, на которых
// лежат записи и загруженные файлы.
package storage

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound объект не существует
	ErrNotFound = errors.New("object not found")
	// ErrPreconditionFailed условие записи (generation / not exists) не выполнено
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidKey ключ пустой или выходит за пределы хранилища
	ErrInvalidKey = errors.New("invalid object key")
)

// Object содержимое и метаданные объекта
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	// Generation непрозрачный маркер версии для условной записи
	Generation string
	Public     bool
	UpdatedAt  time.Time
}

// ObjectInfo элемент листинга
type ObjectInfo struct {
	Key        string
	Size       int64
	Generation string
	UpdatedAt  time.Time
}

// WriteOptions параметры записи объекта
type WriteOptions struct {
	ContentType string
	// Public объект доступен по PublicURL
	Public bool
	// IfGenerationMatch записать только если текущая версия совпадает
	IfGenerationMatch string
	// IfNotExists записать только если объекта нет
	IfNotExists bool
}

// Backend хранилище объектов по ключу
type Backend interface {
	Name() string
	GetObject(ctx context.Context, key string) (*Object, error)
	// PutObject возвращает generation записанного объекта
	PutObject(ctx context.Context, key string, data []byte, opts WriteOptions) (string, error)
	// DeleteObject возвращает ErrNotFound, если объекта не было
	DeleteObject(ctx context.Context, key string) error
	// ListObjects возвращает объекты с префиксом, отсортированные по ключу
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	PublicURL(key string) string
	Ping(ctx context.Context) error
}

// CleanKey нормализует ключ и отбрасывает ключи с выходом вверх по дереву
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// JoinURL склеивает базовый адрес и ключ объекта
func JoinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}

// SortInfos сортирует листинг по ключу
func SortInfos(items []ObjectInfo) {
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
}
