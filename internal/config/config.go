package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

type Config struct {
	Port        int
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string
	LogLevel    string

	DatabaseDriver string
	DatabaseDSN    string

	StorageDriver    string
	StorageRoot      string
	StoragePublicURL string
	S3               S3Config

	ImageMaxKB int

	AuthSecret         string
	TokenExpiry        time.Duration
	RateLimitPerMinute int
	CORSOrigins        []string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// LoadConfig reads CONFIG_FILE (if set) and the process environment.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return LoadConfigFromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 3000)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("STORAGE_DRIVER", "local")
	v.SetDefault("STORAGE_ROOT", "storage/app")
	v.SetDefault("STORAGE_PUBLIC_URL", "/storage")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("IMAGE_MAX_KB", 2048)
	v.SetDefault("TOKEN_EXPIRY_SECONDS", int((7 * 24 * time.Hour).Seconds()))
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("CORS_ORIGINS", "*")
}

func LoadConfigFromViper(v *viper.Viper) (Config, error) {
	setDefaults(v)

	cfg := Config{
		Port:             v.GetInt("PORT"),
		GinMode:          strings.ToLower(v.GetString("GIN_MODE")),
		TLSCertFile:      v.GetString("TLS_CERT_FILE"),
		TLSKeyFile:       v.GetString("TLS_KEY_FILE"),
		LogLevel:         strings.ToLower(v.GetString("LOG_LEVEL")),
		DatabaseDriver:   strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseDSN:      v.GetString("DATABASE_DSN"),
		StorageDriver:    strings.ToLower(v.GetString("STORAGE_DRIVER")),
		StorageRoot:      v.GetString("STORAGE_ROOT"),
		StoragePublicURL: v.GetString("STORAGE_PUBLIC_URL"),
		S3: S3Config{
			Bucket:    v.GetString("S3_BUCKET"),
			Region:    v.GetString("S3_REGION"),
			Endpoint:  v.GetString("S3_ENDPOINT"),
			AccessKey: v.GetString("S3_ACCESS_KEY"),
			SecretKey: v.GetString("S3_SECRET_KEY"),
		},
		ImageMaxKB:         v.GetInt("IMAGE_MAX_KB"),
		AuthSecret:         v.GetString("AUTH_SECRET"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}

	switch cfg.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return Config{}, fmt.Errorf("unsupported GIN_MODE %q", cfg.GinMode)
	}

	switch cfg.DatabaseDriver {
	case "sqlite", "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDSN == "" {
		switch cfg.DatabaseDriver {
		case "sqlite":
			cfg.DatabaseDSN = "data/users.db"
		case "postgres":
			return Config{}, fmt.Errorf("DATABASE_DSN is required for postgres")
		}
	}

	switch cfg.StorageDriver {
	case "local":
		if cfg.StorageRoot == "" {
			return Config{}, fmt.Errorf("STORAGE_ROOT is required")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET is required for s3 storage")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.ImageMaxKB <= 0 {
		return Config{}, fmt.Errorf("invalid IMAGE_MAX_KB")
	}

	seconds := v.GetInt("TOKEN_EXPIRY_SECONDS")
	if seconds <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
	}
	cfg.TokenExpiry = time.Duration(seconds) * time.Second

	if cfg.RateLimitPerMinute < 0 {
		return Config{}, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
