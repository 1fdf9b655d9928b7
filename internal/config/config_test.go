package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// unsetAfter убирает переменные, которые godotenv выставил в процессе
func unsetAfter(t *testing.T, keys ...string) {
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	assert.Equal(t, "2525", cfg.Server.Port)
	assert.Equal(t, "50051", cfg.Server.GRPCPort)
	assert.False(t, cfg.Server.IsProduction())
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "/uploads", cfg.Storage.PublicURLPrefix)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.TrashRetention)
	assert.Equal(t, uint32(5), cfg.Storage.BreakerFailures)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)
	assert.False(t, cfg.SMTP.IsConfigured())
}

func TestNewConfig_EnvFile(t *testing.T) {
	unsetAfter(t, "HTTP_PORT", "STORAGE_DRIVER", "STORAGE_BREAKER_TIMEOUT", "STORAGE_FAILOVER", "MINIO_BUCKET")
	t.Setenv("HTTP_PORT", "9000")

	p := writeFile(t, ".app.env", "HTTP_PORT=8081\nSTORAGE_DRIVER=minio\nSTORAGE_BREAKER_TIMEOUT=5s\nSTORAGE_FAILOVER=true\nMINIO_BUCKET=models\n")
	cfg, err := NewConfig(p)
	require.NoError(t, err)

	// окружение важнее файла
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.BreakerTimeout)
	assert.True(t, cfg.Storage.Failover)
	assert.Equal(t, "models", cfg.Minio.Bucket)
}

func TestNewConfig_YAMLFile(t *testing.T) {
	p := writeFile(t, "config.yaml", "Server:\n  Port: \"7000\"\nLog:\n  Level: debug\n")
	cfg, err := NewConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestNewConfig_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "2525", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "ftp")
		_, err := NewConfig("")
		assert.ErrorContains(t, err, "unknown storage driver")
	})

	t.Run("postgres requires database", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "postgres")
		_, err := NewConfig("")
		assert.ErrorContains(t, err, "database configuration is incomplete")
	})

	t.Run("production requires secret", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		t.Setenv("JWT_SECRET", "")
		_, err := NewConfig("")
		assert.ErrorContains(t, err, "JWTSecret")
	})

	t.Run("production with secret", func(t *testing.T) {
		t.Setenv("APP_ENV", "Production")
		t.Setenv("JWT_SECRET", "s3cret")
		cfg, err := NewConfig("")
		require.NoError(t, err)
		assert.True(t, cfg.Server.IsProduction())
		assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	})
}

func TestDatabaseConfig(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "nn", Password: "pw", Name: "nexus", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=nn password=pw dbname=nexus sslmode=disable", c.GetDSN())
	assert.Equal(t, "postgres://nn:pw@db:5432/nexus?sslmode=disable", c.GetURL())
}
