// Package gcs бэкенд хранилища поверх Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	nstorage "neuralnexus/internal/storage"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultPublicBaseURL = "https://storage.googleapis.com"
)

// Config параметры подключения к GCS
type Config struct {
	ProjectID       string
	Bucket          string
	CredentialsFile string
	// Endpoint для эмулятора (fake-gcs-server), отключает авторизацию
	Endpoint string
	// UniformAccess бакет с uniform bucket-level access, ACL объектов не ставятся
	UniformAccess bool
	PublicBaseURL string
}

// Store бэкенд GCS. Generation объекта используется для условной записи.
type Store struct {
	client        *storage.Client
	bucket        *storage.BucketHandle
	bucketName    string
	publicBaseURL string
	uniformAccess bool
}

var _ nstorage.Backend = (*Store)(nil)

// New создает клиента и проверяет доступ к бакету
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	s := NewWithClient(client, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		client.Close()
		return nil, err
	}

	return s, nil
}

// NewWithClient оборачивает готовый клиент без проверки бакета
func NewWithClient(client *storage.Client, cfg Config) *Store {
	base := cfg.PublicBaseURL
	if base == "" {
		base = defaultPublicBaseURL
	}
	return &Store{
		client:        client,
		bucket:        client.Bucket(cfg.Bucket),
		bucketName:    cfg.Bucket,
		publicBaseURL: base,
		uniformAccess: cfg.UniformAccess,
	}
}

func (s *Store) Name() string {
	return "gcs"
}

func (s *Store) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}

func (s *Store) GetObject(ctx context.Context, key string) (*nstorage.Object, error) {
	key, err := nstorage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nstorage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open gcs object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gcs object %s: %w", key, err)
	}

	return &nstorage.Object{
		Key:         key,
		Data:        data,
		ContentType: r.Attrs.ContentType,
		Generation:  strconv.FormatInt(r.Attrs.Generation, 10),
		UpdatedAt:   r.Attrs.LastModified,
	}, nil
}

func (s *Store) PutObject(ctx context.Context, key string, data []byte, opts nstorage.WriteOptions) (string, error) {
	key, err := nstorage.CleanKey(key)
	if err != nil {
		return "", err
	}

	obj := s.bucket.Object(key)
	switch {
	case opts.IfNotExists:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	case opts.IfGenerationMatch != "":
		gen, err := strconv.ParseInt(opts.IfGenerationMatch, 10, 64)
		if err != nil {
			return "", nstorage.ErrPreconditionFailed
		}
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType
	if opts.Public && !s.uniformAccess {
		w.PredefinedACL = "publicRead"
	}
	if opts.Public {
		w.CacheControl = "public, max-age=3600"
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		if isPreconditionFailed(err) {
			return "", nstorage.ErrPreconditionFailed
		}
		return "", fmt.Errorf("failed to write gcs object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return "", nstorage.ErrPreconditionFailed
		}
		return "", fmt.Errorf("failed to write gcs object %s: %w", key, err)
	}

	return strconv.FormatInt(w.Attrs().Generation, 10), nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	key, err := nstorage.CleanKey(key)
	if err != nil {
		return err
	}

	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nstorage.ErrNotFound
		}
		return fmt.Errorf("failed to delete gcs object %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string) ([]nstorage.ObjectInfo, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var items []nstorage.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gcs objects %q: %w", prefix, err)
		}
		items = append(items, nstorage.ObjectInfo{
			Key:        attrs.Name,
			Size:       attrs.Size,
			Generation: strconv.FormatInt(attrs.Generation, 10),
			UpdatedAt:  attrs.Updated,
		})
	}

	nstorage.SortInfos(items)
	return items, nil
}

// PublicURL https://storage.googleapis.com/<bucket>/<path>
func (s *Store) PublicURL(key string) string {
	return nstorage.JoinURL(s.publicBaseURL, s.bucketName+"/"+key)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("unable to access bucket %s: %w", s.bucketName, err)
	}
	return nil
}
