package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/metrics"
	"neuralnexus/internal/storage"
)

const (
	jsonContentType   = "application/json"
	maxMutateAttempts = 20
	queryConcurrency  = 16
)

// ErrContention read-modify-write не удался за maxMutateAttempts попыток
var ErrContention = fmt.Errorf("too many concurrent writers: %w", domain.ErrConflict)

// ItemStore хранит JSON записи по ключу <collection>/<id>.json поверх
// storage.Backend. Изменения выполняются через условную запись по
// generation, поэтому конкурентные обновления не теряются.
type ItemStore struct {
	backend storage.Backend
	now     func() time.Time
}

// NewItemStore создает хранилище записей
func NewItemStore(backend storage.Backend) *ItemStore {
	return &ItemStore{
		backend: backend,
		now:     time.Now,
	}
}

// Backend нижележащее хранилище объектов
func (s *ItemStore) Backend() storage.Backend {
	return s.backend
}

func objectKey(collection, id string) string {
	return path.Join(collection, id+".json")
}

func storageError(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, key, domain.ErrStorage, err)
}

func (s *ItemStore) timestamp() string {
	return formatTimestamp(s.now())
}

func (s *ItemStore) write(ctx context.Context, key string, doc Document, opts storage.WriteOptions) (string, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", key, err)
	}
	opts.ContentType = jsonContentType
	return s.backend.PutObject(ctx, key, data, opts)
}

// load читает запись вместе с generation
func (s *ItemStore) load(ctx context.Context, collection, id string) (Document, string, error) {
	key := objectKey(collection, id)

	obj, err := s.backend.GetObject(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("%s %q: %w", collection, id, domain.ErrNotFound)
	}
	if err != nil {
		logging.Error().Err(err).Str("key", key).Msg("[ItemStore] Failed to read record")
		return nil, "", storageError("get", key, err)
	}

	doc, err := decodeDocument(obj.Data)
	if err != nil {
		logging.Error().Err(err).Str("key", key).Msg("[ItemStore] Failed to parse record")
		return nil, "", fmt.Errorf("parse %s: %w: %w", key, domain.ErrCorrupt, err)
	}
	return doc, obj.Generation, nil
}

func (s *ItemStore) prepare(collection string, item any) (Document, string, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, "", err
	}
	doc, err := ToDocument(item)
	if err != nil {
		return nil, "", err
	}
	id := doc.ID()
	if err := validateName("id", id); err != nil {
		return nil, "", err
	}

	now := s.timestamp()
	if isUnsetTimestamp(doc[fieldCreatedAt]) {
		doc[fieldCreatedAt] = now
	}
	if isUnsetTimestamp(doc[fieldUpdatedAt]) {
		doc[fieldUpdatedAt] = now
	}
	return doc, id, nil
}

// Store безусловно записывает запись. createdAt и updatedAt заполняются,
// только если их нет.
func (s *ItemStore) Store(ctx context.Context, collection string, item any) (Document, error) {
	doc, id, err := s.prepare(collection, item)
	if err != nil {
		return nil, err
	}

	key := objectKey(collection, id)
	if _, err := s.write(ctx, key, doc, storage.WriteOptions{}); err != nil {
		logging.Error().Err(err).Str("key", key).Msg("[ItemStore] Failed to store record")
		return nil, storageError("store", key, err)
	}
	return doc, nil
}

// Create записывает запись, только если записи с таким id нет
func (s *ItemStore) Create(ctx context.Context, collection string, item any) (Document, error) {
	doc, id, err := s.prepare(collection, item)
	if err != nil {
		return nil, err
	}

	key := objectKey(collection, id)
	_, err = s.write(ctx, key, doc, storage.WriteOptions{IfNotExists: true})
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return nil, fmt.Errorf("%s %q: %w", collection, id, domain.ErrConflict)
	}
	if err != nil {
		logging.Error().Err(err).Str("key", key).Msg("[ItemStore] Failed to create record")
		return nil, storageError("create", key, err)
	}
	return doc, nil
}

// Get возвращает запись или domain.ErrNotFound
func (s *ItemStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}
	if err := validateName("id", id); err != nil {
		return nil, fmt.Errorf("%s %q: %w", collection, id, domain.ErrNotFound)
	}
	doc, _, err := s.load(ctx, collection, id)
	return doc, err
}

// Query загружает всю коллекцию и возвращает записи, подходящие под фильтр,
// в порядке ключей. Нечитаемые записи пропускаются.
func (s *ItemStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}

	prefix := collection + "/"
	objects, err := s.backend.ListObjects(ctx, prefix)
	if err != nil {
		logging.Error().Err(err).Str("collection", collection).Msg("[ItemStore] Failed to list collection")
		return nil, storageError("list", prefix, err)
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, obj.Key)
	}

	docs := make([]Document, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryConcurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			obj, err := s.backend.GetObject(gctx, key)
			if errors.Is(err, storage.ErrNotFound) {
				// удалена между листингом и чтением
				return nil
			}
			if err != nil {
				return storageError("get", key, err)
			}

			doc, err := decodeDocument(obj.Data)
			if err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("[ItemStore] Skipping unparsable record")
				return nil
			}
			if filter.Match(doc) {
				docs[i] = doc
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Error().Err(err).Str("collection", collection).Msg("[ItemStore] Query failed")
		return nil, err
	}

	result := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc != nil {
			result = append(result, doc)
		}
	}
	return result, nil
}

// Mutate атомарно читает запись, применяет fn и записывает результат при
// неизменной generation. При конкурентной записи повторяет с новым чтением.
// fn может вызываться несколько раз. id и createdAt сохраняются, updatedAt обновляется.
func (s *ItemStore) Mutate(ctx context.Context, collection, id string, fn func(Document) error) (Document, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}
	if err := validateName("id", id); err != nil {
		return nil, fmt.Errorf("%s %q: %w", collection, id, domain.ErrNotFound)
	}

	key := objectKey(collection, id)
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		doc, gen, err := s.load(ctx, collection, id)
		if err != nil {
			return nil, err
		}

		createdAt := doc[fieldCreatedAt]
		if err := fn(doc); err != nil {
			return nil, err
		}
		doc[fieldID] = id
		if createdAt != nil {
			doc[fieldCreatedAt] = createdAt
		}
		doc[fieldUpdatedAt] = s.timestamp()

		_, err = s.write(ctx, key, doc, storage.WriteOptions{IfGenerationMatch: gen})
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, storage.ErrPreconditionFailed) {
			logging.Error().Err(err).Str("key", key).Msg("[ItemStore] Failed to write record")
			return nil, storageError("update", key, err)
		}

		metrics.ItemStoreRetries.WithLabelValues(collection).Inc()
		if err := backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}

	logging.Warn().Str("key", key).Int("attempts", maxMutateAttempts).Msg("[ItemStore] Giving up after concurrent writes")
	return nil, fmt.Errorf("%s: %w", key, ErrContention)
}

func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt+1)*2*time.Millisecond + time.Duration(rand.Intn(3000))*time.Microsecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Update поверхностно сливает patch с записью и обновляет updatedAt.
// id и createdAt из patch игнорируются.
func (s *ItemStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error) {
	normalized, err := toPatch(patch)
	if err != nil {
		return nil, err
	}
	return s.Mutate(ctx, collection, id, func(doc Document) error {
		mergePatch(doc, normalized)
		return nil
	})
}

func mergePatch(doc, patch Document) {
	for k, v := range patch {
		switch k {
		case fieldID, fieldCreatedAt:
			continue
		}
		doc[k] = v
	}
}

// Delete удаляет запись. true, если запись существовала.
func (s *ItemStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := validateName("collection", collection); err != nil {
		return false, err
	}
	if err := validateName("id", id); err != nil {
		return false, nil
	}

	key := objectKey(collection, id)
	err := s.backend.DeleteObject(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		logging.Error().Err(err).Str("key", key).Msg("[ItemStore] Failed to delete record")
		return false, storageError("delete", key, err)
	}
	return true, nil
}

// UploadFile записывает публичный файл и возвращает его адрес
func (s *ItemStore) UploadFile(ctx context.Context, filePath string, data []byte, contentType string) (string, error) {
	key, err := storage.CleanKey(filePath)
	if err != nil {
		return "", domain.NewValidationError("path", "invalid file path")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.backend.PutObject(ctx, key, data, storage.WriteOptions{
		ContentType: contentType,
		Public:      true,
	}); err != nil {
		logging.Error().Err(err).Str("path", key).Msg("[ItemStore] Failed to upload file")
		return "", storageError("upload", key, err)
	}

	return s.backend.PublicURL(key), nil
}

// StatFile размер и generation загруженного файла
func (s *ItemStore) StatFile(ctx context.Context, filePath string) (*storage.ObjectInfo, error) {
	key, err := storage.CleanKey(filePath)
	if err != nil {
		return nil, domain.NewValidationError("path", "invalid file path")
	}
	infos, err := s.backend.ListObjects(ctx, key)
	if err != nil {
		return nil, storageError("stat", key, err)
	}
	for i := range infos {
		if infos[i].Key == key {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("file %q: %w", key, domain.ErrNotFound)
}

// DeleteFile удаляет загруженный файл. Отсутствие файла не ошибка.
func (s *ItemStore) DeleteFile(ctx context.Context, filePath string) error {
	key, err := storage.CleanKey(filePath)
	if err != nil {
		return domain.NewValidationError("path", "invalid file path")
	}
	err = s.backend.DeleteObject(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storageError("delete", key, err)
	}
	return nil
}
