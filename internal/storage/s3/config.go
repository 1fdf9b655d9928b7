package s3

import "fmt"

const (
	defaultEndpoint = "https://storage.yandexcloud.net"
	defaultRegion   = "ru-central1"
)

type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Endpoint        string
	// PublicBaseURL адрес, от которого строятся публичные ссылки.
	// По умолчанию <Endpoint>/<Bucket>.
	PublicBaseURL string
	// UsePathStyle для MinIO и других S3-совместимых хранилищ
	UsePathStyle bool
}

// Validate проверяет обязательные поля и проставляет значения по умолчанию
func (c *Config) Validate() error {
	if c.AccessKeyID == "" {
		return fmt.Errorf("AccessKeyID is required")
	}
	if c.SecretAccessKey == "" {
		return fmt.Errorf("SecretAccessKey is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("Bucket is required")
	}
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.Region == "" {
		c.Region = defaultRegion
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = c.Endpoint + "/" + c.Bucket
	}
	return nil
}
