// Package local хранит объекты в файловой системе. Используется как
// основной бэкенд в разработке и как резервный при недоступности облака.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"neuralnexus/internal/storage"
)

const (
	lockStripes = 64
	tmpPrefix   = ".tmp-"
)

// Config каталоги локального хранилища
type Config struct {
	// DataDir записи и приватные объекты
	DataDir string
	// PublicDir публичные файлы, раздаются по PublicURLPrefix
	PublicDir       string
	PublicURLPrefix string
}

// Store бэкенд на файловой системе. Запись атомарна (temp + rename),
// запись одного ключа сериализуется внутри процесса.
type Store struct {
	dataDir   string
	publicDir string
	urlPrefix string
	locks     [lockStripes]sync.Mutex
}

var _ storage.Backend = (*Store)(nil)

// New создает каталоги и возвращает хранилище
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if cfg.PublicDir == "" {
		cfg.PublicDir = filepath.Join(cfg.DataDir, "public")
	}
	if cfg.PublicURLPrefix == "" {
		cfg.PublicURLPrefix = "/uploads"
	}

	for _, dir := range []string{cfg.DataDir, cfg.PublicDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}

	return &Store{
		dataDir:   cfg.DataDir,
		publicDir: cfg.PublicDir,
		urlPrefix: cfg.PublicURLPrefix,
	}, nil
}

func (s *Store) Name() string {
	return "local"
}

func (s *Store) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Store) pathFor(root, key string) string {
	return filepath.Join(root, filepath.FromSlash(key))
}

func generation(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// ContentTypeFor тип содержимого по расширению файла
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == ".json" {
		return "application/json"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// read ищет объект сначала среди данных, затем среди публичных файлов
func (s *Store) read(key string) (*storage.Object, error) {
	for _, root := range []string{s.dataDir, s.publicDir} {
		p := s.pathFor(root, key)
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", key, err)
		}
		return &storage.Object{
			Key:         key,
			Data:        data,
			ContentType: ContentTypeFor(key),
			Generation:  generation(data),
			Public:      root == s.publicDir,
			UpdatedAt:   info.ModTime().UTC(),
		}, nil
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(key)
}

func (s *Store) PutObject(ctx context.Context, key string, data []byte, opts storage.WriteOptions) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if opts.IfNotExists || opts.IfGenerationMatch != "" {
		cur, err := s.read(key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if opts.IfGenerationMatch != "" {
				return "", storage.ErrPreconditionFailed
			}
		case err != nil:
			return "", err
		case opts.IfNotExists:
			return "", storage.ErrPreconditionFailed
		case cur.Generation != opts.IfGenerationMatch:
			return "", storage.ErrPreconditionFailed
		}
	}

	root, other := s.dataDir, s.publicDir
	if opts.Public {
		root, other = s.publicDir, s.dataDir
	}

	if err := writeAtomic(s.pathFor(root, key), data); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	// копия с другой видимостью больше не актуальна
	if err := os.Remove(s.pathFor(other, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to remove stale copy of %s: %w", key, err)
	}

	return generation(data), nil
}

func writeAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	removed := false
	for _, root := range []string{s.dataDir, s.publicDir} {
		err := os.Remove(s.pathFor(root, key))
		if err == nil {
			removed = true
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	if !removed {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	for _, part := range strings.Split(prefix, "/") {
		if part == ".." {
			return nil, storage.ErrInvalidKey
		}
	}

	startDir := prefix
	if !strings.HasSuffix(prefix, "/") {
		startDir = path.Dir(prefix)
	}

	seen := make(map[string]struct{})
	var items []storage.ObjectInfo

	for _, root := range []string{s.dataDir, s.publicDir} {
		start := s.pathFor(root, startDir)
		err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
				return nil
			}

			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if !strings.HasPrefix(key, prefix) {
				return nil
			}
			if _, dup := seen[key]; dup {
				return nil
			}
			// публичный каталог может лежать внутри каталога данных
			if root == s.dataDir && isWithin(p, s.publicDir) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			seen[key] = struct{}{}
			items = append(items, storage.ObjectInfo{
				Key:       key,
				Size:      info.Size(),
				UpdatedAt: info.ModTime().UTC(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
		}
	}

	storage.SortInfos(items)
	return items, nil
}

func isWithin(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// PublicURL адрес файла для маршрута раздачи локальных загрузок
func (s *Store) PublicURL(key string) string {
	return storage.JoinURL(s.urlPrefix, key)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.dataDir); err != nil {
		return fmt.Errorf("data dir unavailable: %w", err)
	}
	return nil
}

// ResolvePublic путь к публичному файлу на диске. Выход за пределы
// публичного каталога и каталоги дают ErrNotFound / ErrInvalidKey.
func (s *Store) ResolvePublic(key string) (string, fs.FileInfo, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", nil, err
	}
	p := s.pathFor(s.publicDir, key)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, storage.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, storage.ErrNotFound
	}
	return p, info, nil
}
