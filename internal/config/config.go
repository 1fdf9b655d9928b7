package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Log      LogConfig      `mapstructure:"Log"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	GCS      GCSConfig      `mapstructure:"GCS"`
	S3       S3Config       `mapstructure:"S3"`
	Minio    MinioConfig    `mapstructure:"Minio"`
	Database DatabaseConfig `mapstructure:"Database"`
	Auth     AuthConfig     `mapstructure:"Auth"`
	SMTP     SMTPConfig     `mapstructure:"SMTP"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"Port"`
	GRPCPort       string        `mapstructure:"GRPCPort"`
	BaseURL        string        `mapstructure:"BaseURL"`
	Env            string        `mapstructure:"Env"`
	RequestTimeout time.Duration `mapstructure:"RequestTimeout"`
}

// IsProduction true для окружения production
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

type LogConfig struct {
	Level  string `mapstructure:"Level"`
	Format string `mapstructure:"Format"`
}

type StorageConfig struct {
	// Driver: local, gcs, s3, minio, postgres
	Driver          string        `mapstructure:"Driver"`
	Failover        bool          `mapstructure:"Failover"`
	DataDir         string        `mapstructure:"DataDir"`
	PublicDir       string        `mapstructure:"PublicDir"`
	PublicURLPrefix string        `mapstructure:"PublicURLPrefix"`
	TrashRetention  time.Duration `mapstructure:"TrashRetention"`
	BreakerFailures uint32        `mapstructure:"BreakerFailures"`
	BreakerTimeout  time.Duration `mapstructure:"BreakerTimeout"`
}

type GCSConfig struct {
	ProjectID       string `mapstructure:"ProjectID"`
	Bucket          string `mapstructure:"Bucket"`
	CredentialsFile string `mapstructure:"CredentialsFile"`
	Endpoint        string `mapstructure:"Endpoint"`
	UniformAccess   bool   `mapstructure:"UniformAccess"`
	PublicBaseURL   string `mapstructure:"PublicBaseURL"`
}

type S3Config struct {
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	Bucket          string `mapstructure:"Bucket"`
	Region          string `mapstructure:"Region"`
	Endpoint        string `mapstructure:"Endpoint"`
	PublicBaseURL   string `mapstructure:"PublicBaseURL"`
	UsePathStyle    bool   `mapstructure:"UsePathStyle"`
}

type MinioConfig struct {
	Endpoint      string `mapstructure:"Endpoint"`
	AccessKey     string `mapstructure:"AccessKey"`
	SecretKey     string `mapstructure:"SecretKey"`
	Bucket        string `mapstructure:"Bucket"`
	UseSSL        bool   `mapstructure:"UseSSL"`
	PublicBaseURL string `mapstructure:"PublicBaseURL"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"JWTSecret"`
	TokenTTL  time.Duration `mapstructure:"TokenTTL"`
}

type SMTPConfig struct {
	Host         string        `mapstructure:"Host"`
	Port         int           `mapstructure:"Port"`
	Username     string        `mapstructure:"Username"`
	Password     string        `mapstructure:"Password"`
	From         string        `mapstructure:"From"`
	FallbackHost string        `mapstructure:"FallbackHost"`
	FallbackPort int           `mapstructure:"FallbackPort"`
	Timeout      time.Duration `mapstructure:"Timeout"`
}

// envBindings ключ конфигурации -> переменная окружения
var envBindings = map[string]string{
	"Server.Port":              "HTTP_PORT",
	"Server.GRPCPort":          "GRPC_PORT",
	"Server.BaseURL":           "BASE_URL",
	"Server.Env":               "APP_ENV",
	"Server.RequestTimeout":    "REQUEST_TIMEOUT",
	"Log.Level":                "LOG_LEVEL",
	"Log.Format":               "LOG_FORMAT",
	"Storage.Driver":           "STORAGE_DRIVER",
	"Storage.Failover":         "STORAGE_FAILOVER",
	"Storage.DataDir":          "STORAGE_DATA_DIR",
	"Storage.PublicDir":        "STORAGE_PUBLIC_DIR",
	"Storage.PublicURLPrefix":  "STORAGE_PUBLIC_URL_PREFIX",
	"Storage.TrashRetention":   "STORAGE_TRASH_RETENTION",
	"Storage.BreakerFailures":  "STORAGE_BREAKER_FAILURES",
	"Storage.BreakerTimeout":   "STORAGE_BREAKER_TIMEOUT",
	"GCS.ProjectID":            "GCS_PROJECT_ID",
	"GCS.Bucket":               "GCS_BUCKET",
	"GCS.CredentialsFile":      "GOOGLE_APPLICATION_CREDENTIALS",
	"GCS.Endpoint":             "GCS_ENDPOINT",
	"GCS.UniformAccess":        "GCS_UNIFORM_ACCESS",
	"GCS.PublicBaseURL":        "GCS_PUBLIC_BASE_URL",
	"S3.AccessKeyID":           "S3_ACCESS_KEY_ID",
	"S3.SecretAccessKey":       "S3_SECRET_ACCESS_KEY",
	"S3.Bucket":                "S3_BUCKET",
	"S3.Region":                "S3_REGION",
	"S3.Endpoint":              "S3_ENDPOINT",
	"S3.PublicBaseURL":         "S3_PUBLIC_BASE_URL",
	"S3.UsePathStyle":          "S3_USE_PATH_STYLE",
	"Minio.Endpoint":           "MINIO_ENDPOINT",
	"Minio.AccessKey":          "MINIO_ACCESS_KEY",
	"Minio.SecretKey":          "MINIO_SECRET_KEY",
	"Minio.Bucket":             "MINIO_BUCKET",
	"Minio.UseSSL":             "MINIO_USE_SSL",
	"Minio.PublicBaseURL":      "MINIO_PUBLIC_BASE_URL",
	"Database.Host":            "DATABASE_HOST",
	"Database.Port":            "DATABASE_PORT",
	"Database.User":            "DATABASE_USER",
	"Database.Password":        "DATABASE_PASSWORD",
	"Database.Name":            "DATABASE_NAME",
	"Database.SSLMode":         "DATABASE_SSLMODE",
	"Auth.JWTSecret":           "JWT_SECRET",
	"Auth.TokenTTL":            "JWT_TOKEN_TTL",
	"SMTP.Host":                "SMTP_HOST",
	"SMTP.Port":                "SMTP_PORT",
	"SMTP.Username":            "SMTP_USERNAME",
	"SMTP.Password":            "SMTP_PASSWORD",
	"SMTP.From":                "SMTP_FROM",
	"SMTP.FallbackHost":        "SMTP_FALLBACK_HOST",
	"SMTP.FallbackPort":        "SMTP_FALLBACK_PORT",
	"SMTP.Timeout":             "SMTP_TIMEOUT",
}

// NewConfig читает конфигурацию из файла и переменных окружения.
// Отсутствующий файл не является ошибкой.
func NewConfig(path string) (*Config, error) {
	// .env из рабочей директории, если он есть
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: failed to load .env: %v\n", err)
	}

	v := viper.New()
	setDefaults(v)

	// Привязываем переменные окружения
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	switch {
	case path == "":
	case strings.HasSuffix(path, ".env"):
		// файл в формате KEY=VALUE дополняет окружение, уже заданные переменные не перетираются
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("Warning: using only environment variables: %v\n", err)
		}
	default:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Printf("Warning: using only environment variables: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.GRPCPort", "50051")
	v.SetDefault("Server.Env", "development")
	v.SetDefault("Server.RequestTimeout", 60*time.Second)
	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Format", "json")
	v.SetDefault("Storage.Driver", "local")
	v.SetDefault("Storage.DataDir", "./data")
	v.SetDefault("Storage.PublicDir", "./public/uploads")
	v.SetDefault("Storage.PublicURLPrefix", "/uploads")
	v.SetDefault("Storage.TrashRetention", 30*24*time.Hour)
	v.SetDefault("Storage.BreakerFailures", 5)
	v.SetDefault("Storage.BreakerTimeout", 30*time.Second)
	v.SetDefault("S3.Region", "ru-central1")
	v.SetDefault("S3.Endpoint", "https://storage.yandexcloud.net")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Auth.TokenTTL", 24*time.Hour)
	v.SetDefault("SMTP.Port", 587)
	v.SetDefault("SMTP.FallbackHost", "localhost")
	v.SetDefault("SMTP.FallbackPort", 1025)
	v.SetDefault("SMTP.Timeout", 10*time.Second)
}

// Validate проверяет обязательные поля выбранного драйвера
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "local", "gcs", "s3", "minio":
	case "postgres":
		if c.Database.Host == "" || c.Database.Port == "" || c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Auth.JWTSecret == "" {
		if c.Server.IsProduction() {
			return fmt.Errorf("Auth.JWTSecret is required in production")
		}
		c.Auth.JWTSecret = "dev-secret-change-me"
	}

	return nil
}

// IsConfigured true, если для SMTP задан хост
func (c SMTPConfig) IsConfigured() bool {
	return c.Host != ""
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL адрес базы в формате postgres:// для миграций
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
