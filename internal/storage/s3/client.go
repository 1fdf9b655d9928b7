// Package s3 бэкенд хранилища поверх S3-совместимого API
// (Yandex Object Storage, AWS S3).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"neuralnexus/internal/logging"
	"neuralnexus/internal/storage"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultChunkSize   = 5 * 1024 * 1024 // 5MB
	multipartThreshold = 4 * defaultChunkSize
)

// API подмножество методов s3.Client, которые использует хранилище
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Client бэкенд хранилища для S3-совместимого API.
// Generation объекта это его ETag.
type Client struct {
	client        API
	bucket        string
	publicBaseURL string
}

var _ storage.Backend = (*Client)(nil)

// NewClient создает новый экземпляр клиента S3 и проверяет доступ к бакету
func NewClient(conf *Config) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("missing required configuration: %w", err)
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	client := s3.New(s3.Options{
		BaseEndpoint:     aws.String(conf.Endpoint),
		Region:           conf.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
		UsePathStyle:     conf.UsePathStyle,
	})

	s3Client := NewWithAPI(client, conf.Bucket, conf.PublicBaseURL)

	// Проверяем подключение к бакету
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := s3Client.Ping(ctx); err != nil {
		return nil, err
	}

	return s3Client, nil
}

// NewWithAPI создает клиента поверх готовой реализации API
func NewWithAPI(api API, bucket, publicBaseURL string) *Client {
	return &Client{
		client:        api,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
	}
}

func (h *Client) Name() string {
	return "s3"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// GetObject получает объект из S3
func (h *Client) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	result, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return &storage.Object{
		Key:         key,
		Data:        data,
		ContentType: aws.ToString(result.ContentType),
		Generation:  aws.ToString(result.ETag),
		UpdatedAt:   aws.ToTime(result.LastModified),
	}, nil
}

// PutObject загружает байты в S3. Условная запись через If-Match / If-None-Match.
func (h *Client) PutObject(ctx context.Context, key string, data []byte, opts storage.WriteOptions) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}

	conditional := opts.IfNotExists || opts.IfGenerationMatch != ""
	if !conditional && len(data) > multipartThreshold {
		return h.putMultipart(ctx, key, data, opts)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.Public {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if opts.IfNotExists {
		input.IfNoneMatch = aws.String("*")
	} else if opts.IfGenerationMatch != "" {
		input.IfMatch = aws.String(opts.IfGenerationMatch)
	}

	out, err := h.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) || (opts.IfGenerationMatch != "" && isNotFound(err)) {
			return "", storage.ErrPreconditionFailed
		}
		return "", fmt.Errorf("failed to upload data to S3: %w", err)
	}

	return aws.ToString(out.ETag), nil
}

// putMultipart загружает большой объект по частям
func (h *Client) putMultipart(ctx context.Context, key string, data []byte, opts storage.WriteOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.Public {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	created, err := h.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := aws.ToString(created.UploadId)

	var parts []types.CompletedPart
	for partNumber, offset := int32(1), 0; offset < len(data); partNumber, offset = partNumber+1, offset+defaultChunkSize {
		end := min(offset+defaultChunkSize, len(data))

		result, err := h.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(h.bucket),
			Key:        aws.String(key),
			PartNumber: aws.Int32(partNumber),
			UploadId:   aws.String(uploadID),
			Body:       bytes.NewReader(data[offset:end]),
		})
		if err != nil {
			h.abortMultipart(key, uploadID)
			return "", fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		parts = append(parts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(partNumber),
		})
	}

	out, err := h.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(h.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		h.abortMultipart(key, uploadID)
		return "", fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return aws.ToString(out.ETag), nil
}

// abortMultipart отменяет загрузку по частям, ошибки только логируются
func (h *Client) abortMultipart(key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	_, err := h.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(h.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("[S3] Failed to abort multipart upload")
	}
}

// DeleteObject удаляет объект из S3
func (h *Client) DeleteObject(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	// S3 не сообщает об отсутствии объекта при удалении
	_, err = h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to check object existence: %w", err)
	}

	_, err = h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}

	return nil
}

// ListObjects возвращает все объекты с префиксом
func (h *Client) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(h.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(h.bucket),
		Prefix: aws.String(prefix),
	})

	var items []storage.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			items = append(items, storage.ObjectInfo{
				Key:        aws.ToString(obj.Key),
				Size:       aws.ToInt64(obj.Size),
				Generation: aws.ToString(obj.ETag),
				UpdatedAt:  aws.ToTime(obj.LastModified),
			})
		}
	}

	storage.SortInfos(items)
	return items, nil
}

func (h *Client) PublicURL(key string) string {
	return storage.JoinURL(h.publicBaseURL, key)
}

func (h *Client) Ping(ctx context.Context) error {
	_, err := h.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(h.bucket),
	})
	if err != nil {
		return fmt.Errorf("unable to access bucket %s: %w", h.bucket, err)
	}
	return nil
}
