// Package postgres хранит объекты в таблице PostgreSQL. Версия строки
// (generation) используется для условной записи.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"neuralnexus/internal/logging"
	"neuralnexus/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store бэкенд на PostgreSQL
type Store struct {
	db            *sqlx.DB
	publicBaseURL string
}

var _ storage.Backend = (*Store)(nil)

type objectRow struct {
	Key         string    `db:"key"`
	Data        []byte    `db:"data"`
	ContentType string    `db:"content_type"`
	IsPublic    bool      `db:"is_public"`
	Generation  int64     `db:"generation"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type infoRow struct {
	Key        string    `db:"key"`
	Size       int64     `db:"size"`
	Generation int64     `db:"generation"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Connect подключается к базе с повторами
func Connect(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			return db, nil
		}

		logging.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", maxAttempts).Msg("[Postgres] Failed to connect to database")
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

// RunMigrations применяет встроенные миграции. Грязное состояние
// принудительно сбрасывается на текущую версию.
func RunMigrations(db *sqlx.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		logging.Warn().Uint("version", version).Msg("[Postgres] Found dirty database state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// New оборачивает подключение. Миграции должны быть применены заранее.
func New(db *sqlx.DB, publicBaseURL string) *Store {
	if publicBaseURL == "" {
		publicBaseURL = "/files"
	}
	return &Store{db: db, publicBaseURL: publicBaseURL}
}

func (s *Store) Name() string {
	return "postgres"
}

func (s *Store) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	var row objectRow
	err = s.db.GetContext(ctx, &row,
		`SELECT key, data, content_type, is_public, generation, updated_at FROM objects WHERE key = $1`,
		key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	return &storage.Object{
		Key:         row.Key,
		Data:        row.Data,
		ContentType: row.ContentType,
		Generation:  strconv.FormatInt(row.Generation, 10),
		Public:      row.IsPublic,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (s *Store) PutObject(ctx context.Context, key string, data []byte, opts storage.WriteOptions) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var gen int64
	switch {
	case opts.IfNotExists:
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO objects (key, data, content_type, is_public)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO NOTHING
			RETURNING generation`,
			key, data, contentType, opts.Public,
		).Scan(&gen)

	case opts.IfGenerationMatch != "":
		expected, perr := strconv.ParseInt(opts.IfGenerationMatch, 10, 64)
		if perr != nil {
			return "", storage.ErrPreconditionFailed
		}
		err = s.db.QueryRowContext(ctx, `
			UPDATE objects
			SET data = $2, content_type = $3, is_public = $4,
			    generation = generation + 1, updated_at = CURRENT_TIMESTAMP
			WHERE key = $1 AND generation = $5
			RETURNING generation`,
			key, data, contentType, opts.Public, expected,
		).Scan(&gen)

	default:
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO objects (key, data, content_type, is_public)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE
			SET data = EXCLUDED.data,
			    content_type = EXCLUDED.content_type,
			    is_public = EXCLUDED.is_public,
			    generation = objects.generation + 1,
			    updated_at = CURRENT_TIMESTAMP
			RETURNING generation`,
			key, data, contentType, opts.Public,
		).Scan(&gen)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrPreconditionFailed
	}
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return strconv.FormatInt(gen, 10), nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// escapeLike экранирует спецсимволы LIKE в префиксе
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var rows []infoRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT key, octet_length(data) AS size, generation, updated_at
		FROM objects
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list objects %q: %w", prefix, err)
	}

	items := make([]storage.ObjectInfo, 0, len(rows))
	for _, r := range rows {
		items = append(items, storage.ObjectInfo{
			Key:        r.Key,
			Size:       r.Size,
			Generation: strconv.FormatInt(r.Generation, 10),
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return items, nil
}

// PublicURL адрес маршрута раздачи публичных объектов
func (s *Store) PublicURL(key string) string {
	return storage.JoinURL(s.publicBaseURL, key)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
