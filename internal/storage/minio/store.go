// Package minio бэкенд хранилища поверх MinIO.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"neuralnexus/internal/storage"
)

const lockStripes = 64

// Config параметры подключения к MinIO
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Store бэкенд MinIO. Условная запись проверяется по ETag под
// блокировкой ключа и гарантирована только в пределах одного процесса.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	locks         [lockStripes]sync.Mutex
}

var _ storage.Backend = (*Store)(nil)

// New подключается к MinIO и создает бакет, если его нет
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	if cfg.PublicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cfg.PublicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return NewStore(client, cfg.Bucket, cfg.PublicBaseURL), nil
}

// NewStore оборачивает готовый клиент
func NewStore(client *minio.Client, bucket, publicBaseURL string) *Store {
	return &Store{
		client:        client,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
	}
}

func (s *Store) Name() string {
	return "minio"
}

func (s *Store) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *Store) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get minio object %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat minio object %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read minio object %s: %w", key, err)
	}

	return &storage.Object{
		Key:         key,
		Data:        data,
		ContentType: info.ContentType,
		Generation:  info.ETag,
		UpdatedAt:   info.LastModified,
	}, nil
}

func (s *Store) PutObject(ctx context.Context, key string, data []byte, opts storage.WriteOptions) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}

	if opts.IfNotExists || opts.IfGenerationMatch != "" {
		mu := s.lock(key)
		mu.Lock()
		defer mu.Unlock()

		info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		switch {
		case err != nil && isNotFound(err):
			if opts.IfGenerationMatch != "" {
				return "", storage.ErrPreconditionFailed
			}
		case err != nil:
			return "", fmt.Errorf("failed to stat minio object %s: %w", key, err)
		case opts.IfNotExists:
			return "", storage.ErrPreconditionFailed
		case info.ETag != opts.IfGenerationMatch:
			return "", storage.ErrPreconditionFailed
		}
	}

	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.Public {
		putOpts.CacheControl = "public, max-age=3600"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), putOpts)
	if err != nil {
		return "", fmt.Errorf("failed to put minio object %s: %w", key, err)
	}
	return info.ETag, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	// RemoveObject не сообщает об отсутствии объекта
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to stat minio object %s: %w", key, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete minio object %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var items []storage.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list minio objects %q: %w", prefix, obj.Err)
		}
		items = append(items, storage.ObjectInfo{
			Key:        obj.Key,
			Size:       obj.Size,
			Generation: obj.ETag,
			UpdatedAt:  obj.LastModified,
		})
	}

	storage.SortInfos(items)
	return items, nil
}

func (s *Store) PublicURL(key string) string {
	return storage.JoinURL(s.publicBaseURL, key)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("unable to access bucket %s: %w", s.bucket, err)
	}
	return nil
}
