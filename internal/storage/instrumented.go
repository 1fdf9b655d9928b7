package storage

import (
	"context"
	"errors"
	"time"

	"neuralnexus/internal/metrics"
)

// Instrumented пишет метрики prometheus для каждой операции бэкенда
type Instrumented struct {
	Backend
}

// Instrument оборачивает бэкенд метриками
func Instrument(b Backend) *Instrumented {
	return &Instrumented{Backend: b}
}

func countsAsFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrPreconditionFailed) &&
		!errors.Is(err, context.Canceled)
}

func (i *Instrumented) GetObject(ctx context.Context, key string) (*Object, error) {
	start := time.Now()
	obj, err := i.Backend.GetObject(ctx, key)
	metrics.ObserveStorage(i.Name(), "get", start, countsAsFailure(err))
	return obj, err
}

func (i *Instrumented) PutObject(ctx context.Context, key string, data []byte, opts WriteOptions) (string, error) {
	start := time.Now()
	gen, err := i.Backend.PutObject(ctx, key, data, opts)
	metrics.ObserveStorage(i.Name(), "put", start, countsAsFailure(err))
	return gen, err
}

func (i *Instrumented) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Backend.DeleteObject(ctx, key)
	metrics.ObserveStorage(i.Name(), "delete", start, countsAsFailure(err))
	return err
}

func (i *Instrumented) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	items, err := i.Backend.ListObjects(ctx, prefix)
	metrics.ObserveStorage(i.Name(), "list", start, countsAsFailure(err))
	return items, err
}
