package config

import (
	"os"
	"strconv"
)

type Config struct {
	DB      DBConfig
	Storage StorageConfig
	JWT     JWTConfig
	Server  ServerConfig
	Upload  UploadConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// StorageBackend selects the process-wide storage variant. It is resolved
// once at startup and never changes per call.
type StorageBackend string

const (
	StorageBackendLocal StorageBackend = "local"
	StorageBackendMinIO StorageBackend = "minio"
)

type StorageConfig struct {
	Backend StorageBackend
	Local   LocalStorageConfig
	MinIO   MinIOConfig
}

type LocalStorageConfig struct {
	RootDir string
	BaseURL string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port string
}

type UploadConfig struct {
	MaxPhotoBytes  int64
	MaxAvatarBytes int64
	MaxBatchFiles  int
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "snapvault"),
			Password: getEnv("DB_PASSWORD", "snapvault_secret"),
			Name:     getEnv("DB_NAME", "snapvault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			Backend: StorageBackend(getEnv("STORAGE_BACKEND", string(StorageBackendLocal))),
			Local: LocalStorageConfig{
				RootDir: getEnv("STORAGE_LOCAL_ROOT", "uploads"),
				BaseURL: getEnv("STORAGE_LOCAL_BASE_URL", "/uploads"),
			},
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MINIO_ACCESS_KEY", "snapvault"),
				SecretKey: getEnv("MINIO_SECRET_KEY", "snapvault_secret"),
				Bucket:    getEnv("MINIO_BUCKET", "snapvault"),
				UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			},
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Upload: UploadConfig{
			MaxPhotoBytes:  getEnvAsInt64("UPLOAD_MAX_PHOTO_BYTES", 10*1024*1024),
			MaxAvatarBytes: getEnvAsInt64("UPLOAD_MAX_AVATAR_BYTES", 5*1024*1024),
			MaxBatchFiles:  getEnvAsInt("UPLOAD_MAX_BATCH_FILES", 20),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
