package storage

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"neuralnexus/internal/logging"
	"neuralnexus/internal/metrics"
)

// FailoverSettings параметры circuit breaker основного хранилища
type FailoverSettings struct {
	// MaxFailures подряд идущих ошибок до размыкания
	MaxFailures uint32
	// Timeout в состоянии open до пробного запроса
	Timeout time.Duration
	// OnStateChange вызывается после логирования и метрик
	OnStateChange func(from, to gobreaker.State)
}

const fallbackLockStripes = 64

// Failover направляет операции в основной (облачный) бэкенд, а при его
// недоступности в резервный (локальный). Ключи, записанные в резервный
// бэкенд, запоминаются и читаются оттуда до следующей успешной записи
// в основной. После перезапуска набор таких ключей восстанавливается
// через LoadFallbackKeys.
type Failover struct {
	primary   Backend
	secondary Backend
	cb        *gobreaker.CircuitBreaker[any]
	name      string

	mu           sync.RWMutex
	fallbackKeys map[string]struct{}

	// условная запись ключа из резервного хранилища: проверка и запись под одной блокировкой
	keyLocks [fallbackLockStripes]sync.Mutex
}

// NewFailover создает фасад над парой бэкендов
func NewFailover(primary, secondary Backend, settings FailoverSettings) *Failover {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}

	f := &Failover{
		primary:      primary,
		secondary:    secondary,
		name:         "storage-" + primary.Name(),
		fallbackKeys: make(map[string]struct{}),
	}

	metrics.CircuitBreakerState.WithLabelValues(f.name).Set(0)

	f.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        f.name,
		MaxRequests: 1,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[Storage] Circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()

			if settings.OnStateChange != nil {
				settings.OnStateChange(from, to)
			}
		},
	})

	return f
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (f *Failover) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

// State текущее состояние breaker: closed, half-open, open
func (f *Failover) State() string {
	return f.cb.State().String()
}

// Degraded true, пока основной бэкенд считается недоступным
func (f *Failover) Degraded() bool {
	return f.cb.State() == gobreaker.StateOpen
}

// callPrimary выполняет операцию на основном бэкенде. unavailable = true,
// когда стоит переключиться на резервный бэкенд.
func (f *Failover) callPrimary(ctx context.Context, fn func() (any, error)) (res any, unavailable bool, err error) {
	res, err = f.cb.Execute(fn)
	if err == nil {
		return res, false, nil
	}
	if ctx.Err() != nil {
		return nil, false, err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, true, err
	}
	return nil, countsAsFailure(err), err
}

func (f *Failover) isFallbackKey(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.fallbackKeys[key]
	return ok
}

func (f *Failover) hasFallbackKeys(prefix string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for k := range f.fallbackKeys {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (f *Failover) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &f.keyLocks[h.Sum32()%fallbackLockStripes]
}

// LoadFallbackKeys запоминает все ключи, оставшиеся в резервном бэкенде
// после прошлого простоя. Вызывается один раз при старте.
func (f *Failover) LoadFallbackKeys(ctx context.Context) (int, error) {
	items, err := f.secondary.ListObjects(ctx, "")
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	for _, it := range items {
		f.fallbackKeys[it.Key] = struct{}{}
	}
	f.mu.Unlock()
	return len(items), nil
}

func (f *Failover) remember(key string) {
	f.mu.Lock()
	f.fallbackKeys[key] = struct{}{}
	f.mu.Unlock()
}

// forget убирает резервную копию ключа после успешной записи в основной бэкенд
func (f *Failover) forget(ctx context.Context, key string) {
	f.mu.Lock()
	_, ok := f.fallbackKeys[key]
	delete(f.fallbackKeys, key)
	f.mu.Unlock()

	if !ok {
		return
	}
	if err := f.secondary.DeleteObject(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		logging.Warn().Err(err).Str("key", key).Msg("[Storage] Failed to drop secondary copy")
	}
}

func (f *Failover) fallback(op, key string, cause error) {
	metrics.StorageFallbackTotal.WithLabelValues(op).Inc()
	logging.Warn().
		Err(cause).
		Str("operation", op).
		Str("key", key).
		Str("secondary", f.secondary.Name()).
		Msg("[Storage] Primary backend unavailable, using secondary")
}

func (f *Failover) GetObject(ctx context.Context, key string) (*Object, error) {
	if f.isFallbackKey(key) {
		obj, err := f.secondary.GetObject(ctx, key)
		if err == nil {
			return obj, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	res, unavailable, err := f.callPrimary(ctx, func() (any, error) {
		return f.primary.GetObject(ctx, key)
	})
	switch {
	case err == nil:
		return res.(*Object), nil
	case unavailable:
		f.fallback("get", key, err)
		return f.secondary.GetObject(ctx, key)
	case errors.Is(err, ErrNotFound):
		// объект мог остаться в резервном хранилище после прошлого простоя,
		// дальнейшие записи по нему проверяют версию там же
		if obj, serr := f.secondary.GetObject(ctx, key); serr == nil {
			f.remember(key)
			return obj, nil
		}
		return nil, err
	default:
		return nil, err
	}
}

func (f *Failover) PutObject(ctx context.Context, key string, data []byte, opts WriteOptions) (string, error) {
	if opts.IfGenerationMatch != "" && f.isFallbackKey(key) {
		// версия прочитана из резервного хранилища, условие проверяем там.
		// Запись в основной бэкенд безусловная, поэтому конкурирующие
		// писатели в этом процессе сериализуются блокировкой ключа.
		l := f.lockFor(key)
		l.Lock()
		defer l.Unlock()

		cur, err := f.secondary.GetObject(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return "", ErrPreconditionFailed
		}
		if err != nil {
			return "", err
		}
		if cur.Generation != opts.IfGenerationMatch {
			return "", ErrPreconditionFailed
		}
		if !f.Degraded() {
			opts.IfGenerationMatch = ""
		}
	}

	res, unavailable, err := f.callPrimary(ctx, func() (any, error) {
		return f.primary.PutObject(ctx, key, data, opts)
	})
	if err == nil {
		f.forget(ctx, key)
		return res.(string), nil
	}
	if !unavailable {
		return "", err
	}

	f.fallback("put", key, err)
	gen, err := f.secondary.PutObject(ctx, key, data, opts)
	if err != nil {
		return "", err
	}
	f.remember(key)
	return gen, nil
}

func (f *Failover) DeleteObject(ctx context.Context, key string) error {
	deletedSecondary := false
	if f.isFallbackKey(key) {
		err := f.secondary.DeleteObject(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		deletedSecondary = err == nil
		f.mu.Lock()
		delete(f.fallbackKeys, key)
		f.mu.Unlock()
	}

	_, unavailable, err := f.callPrimary(ctx, func() (any, error) {
		return nil, f.primary.DeleteObject(ctx, key)
	})
	switch {
	case err == nil:
		return nil
	case unavailable:
		f.fallback("delete", key, err)
		if deletedSecondary {
			return nil
		}
		return f.secondary.DeleteObject(ctx, key)
	case errors.Is(err, ErrNotFound) && deletedSecondary:
		return nil
	case errors.Is(err, ErrNotFound):
		// ключ мог остаться только в резервном бэкенде
		return f.secondary.DeleteObject(ctx, key)
	default:
		return err
	}
}

func (f *Failover) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	res, unavailable, err := f.callPrimary(ctx, func() (any, error) {
		return f.primary.ListObjects(ctx, prefix)
	})
	if err != nil {
		if !unavailable {
			return nil, err
		}
		f.fallback("list", prefix, err)
		return f.secondary.ListObjects(ctx, prefix)
	}

	items := res.([]ObjectInfo)
	if !f.hasFallbackKeys(prefix) {
		return items, nil
	}

	local, err := f.secondary.ListObjects(ctx, prefix)
	if err != nil {
		logging.Warn().Err(err).Str("prefix", prefix).Msg("[Storage] Failed to list secondary backend")
		return items, nil
	}
	return mergeListings(items, local), nil
}

// mergeListings объединяет листинги по ключу, дубликаты берутся из второго
func mergeListings(primary, secondary []ObjectInfo) []ObjectInfo {
	byKey := make(map[string]ObjectInfo, len(primary)+len(secondary))
	for _, it := range primary {
		byKey[it.Key] = it
	}
	for _, it := range secondary {
		byKey[it.Key] = it
	}
	out := make([]ObjectInfo, 0, len(byKey))
	for _, it := range byKey {
		out = append(out, it)
	}
	SortInfos(out)
	return out
}

func (f *Failover) PublicURL(key string) string {
	if f.isFallbackKey(key) {
		return f.secondary.PublicURL(key)
	}
	return f.primary.PublicURL(key)
}

func (f *Failover) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

// Primary основной бэкенд
func (f *Failover) Primary() Backend {
	return f.primary
}
