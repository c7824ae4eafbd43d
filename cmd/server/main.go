package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"users-api/internal/auth"
	"users-api/internal/config"
	"users-api/internal/hub"
	"users-api/internal/logger"
	"users-api/internal/middleware"
	"users-api/internal/server"
	"users-api/internal/storage"
	"users-api/internal/store"
	"users-api/internal/validation"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func tokenConfig(cfg config.Config) auth.TokenConfig {
	return auth.TokenConfig{
		Secret: cfg.AuthSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: auth.DefaultIssuer,
	}
}

// issueToken prints a write token for the subject in args, valid for
// TOKEN_EXPIRY_SECONDS.
func issueToken(cfg config.Config, args []string, out io.Writer) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return errors.New("usage: server token <subject>")
	}
	tc := tokenConfig(cfg)
	if !tc.Enabled() {
		return errors.New("AUTH_SECRET is not set")
	}
	tok, err := auth.IssueToken(strings.TrimSpace(args[0]), tc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)

	users, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	deps := server.Deps{
		Users:       users,
		Validator:   validation.New(cfg.ImageMaxKB),
		Hub:         hub.New(),
		Logger:      log,
		TokenConfig: tokenConfig(cfg),
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
	}

	switch cfg.StorageDriver {
	case "s3":
		files, err := storage.NewS3(ctx, storage.S3Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PublicURL: cfg.StoragePublicURL,
		})
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		deps.Files = files
	default:
		files, err := storage.NewLocal(cfg.StorageRoot, cfg.StoragePublicURL)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		deps.Files = files
		if strings.HasPrefix(cfg.StoragePublicURL, "/") {
			deps.StaticPath = cfg.StoragePublicURL
			deps.StaticRoot = cfg.StorageRoot
		}
	}

	if cfg.RateLimitPerMinute > 0 {
		rl := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		defer rl.Stop()
		deps.RateLimiter = rl
	}

	log.Info("starting users-api",
		zap.String("version", version),
		zap.String("database", cfg.DatabaseDriver),
		zap.String("storage", cfg.StorageDriver),
		zap.Bool("auth", deps.TokenConfig.Enabled()),
	)
	return server.Run(ctx, cfg, server.NewRouter(deps), log)
}
