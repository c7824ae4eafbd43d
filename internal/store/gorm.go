package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"users-api/internal/model"
)

// GormStore persists users through gorm (sqlite or postgres).
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

var _ Users = (*GormStore)(nil)

// OpenDB connects to the given driver and migrates the users table.
func OpenDB(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&model.User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate users table: %w", err)
	}
	if err := backfillSearchColumns(db); err != nil {
		return nil, fmt.Errorf("failed to backfill search columns: %w", err)
	}
	return db, nil
}

// searchKey folds s for the search columns. sqlite's LOWER only folds ASCII.
func searchKey(s string) string {
	return strings.ToLower(s)
}

// backfillSearchColumns fills the search columns of rows written before they
// existed.
func backfillSearchColumns(db *gorm.DB) error {
	var stale []model.User
	if err := db.Where("name_search IS NULL OR name_search = ''").Find(&stale).Error; err != nil {
		return err
	}
	for _, u := range stale {
		err := db.Model(&model.User{}).Where("id = ?", u.ID).UpdateColumns(map[string]interface{}{
			"name_search":    searchKey(u.Name),
			"address_search": searchKey(u.Address),
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}

func NewGorm(db *gorm.DB, log *zap.Logger) *GormStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormStore{db: db, log: log}
}

// likePattern builds a lower-cased LIKE pattern matching search anywhere,
// with LIKE metacharacters escaped by backslash.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(searchKey(search)) + "%"
}

func (s *GormStore) List(ctx context.Context, search string) ([]model.User, error) {
	query := s.db.WithContext(ctx)
	if search != "" {
		pattern := likePattern(search)
		query = query.Where(`name_search LIKE ? ESCAPE '\' OR address_search LIKE ? ESCAPE '\'`, pattern, pattern)
	}

	users := []model.User{}
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *GormStore) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.NameSearch = searchKey(u.Name)
	u.AddressSearch = searchKey(u.Address)
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	s.log.Debug("user created", zap.String("id", u.ID))
	return nil
}

func (s *GormStore) Update(ctx context.Context, u *model.User) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
		"name":           u.Name,
		"address":        u.Address,
		"image":          u.Image,
		"name_search":    searchKey(u.Name),
		"address_search": searchKey(u.Address),
		"updated_at":     time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	updated, err := s.Get(ctx, u.ID)
	if err != nil {
		return err
	}
	*u = updated
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.User{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Open returns the Users implementation for driver. For "memory" the DSN is
// the optional snapshot file.
func Open(driver, dsn string, log *zap.Logger) (Users, error) {
	if driver == "memory" {
		return NewMemoryWithOptions(Options{SnapshotFile: dsn, Logger: log}), nil
	}
	db, err := OpenDB(driver, dsn, log)
	if err != nil {
		return nil, err
	}
	return NewGorm(db, log), nil
}
