package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"users-api/internal/model"
)

var ErrNotFound = errors.New("user not found")

// Users is the persistence boundary for the user resource.
type Users interface {
	// List returns every user, or only those whose name or address contains
	// search (case-insensitive) when search is non-empty.
	List(ctx context.Context, search string) ([]model.User, error)
	Get(ctx context.Context, id string) (model.User, error)
	// Create assigns the ID when empty and sets both timestamps.
	Create(ctx context.Context, u *model.User) error
	// Update overwrites name, address and image of an existing user.
	Update(ctx context.Context, u *model.User) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps users in memory, optionally mirrored to a JSON snapshot file.
type MemoryStore struct {
	mu sync.RWMutex

	snapshotFile string
	persistMu    sync.Mutex

	usersByID map[string]model.User

	log *zap.Logger
	now func() time.Time
}

var _ Users = (*MemoryStore)(nil)

type Options struct {
	SnapshotFile string
	Logger       *zap.Logger
	Now          func() time.Time
}

func NewMemory() *MemoryStore {
	return NewMemoryWithOptions(Options{})
}

func NewMemoryWithOptions(opts Options) *MemoryStore {
	s := &MemoryStore{
		usersByID:    make(map[string]model.User),
		snapshotFile: opts.SnapshotFile,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.snapshotFile != "" {
		if err := s.loadFromFile(s.snapshotFile); err != nil {
			s.log.Warn("users snapshot: load failed", zap.String("path", s.snapshotFile), zap.Error(err))
		}
	}

	return s
}

type persistedUsersFile struct {
	Version int          `json:"version"`
	Users   []model.User `json:"users"`
	SavedAt int64        `json:"savedAt"`
}

func (s *MemoryStore) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedUsersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported users snapshot version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range file.Users {
		if u.ID == "" {
			continue
		}
		s.usersByID[u.ID] = u
	}
	return nil
}

// snapshotLocked returns users ordered by creation time, then ID.
func (s *MemoryStore) snapshotLocked() []model.User {
	result := make([]model.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		result = append(result, u.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *MemoryStore) persist(users []model.User) error {
	path := s.snapshotFile
	if path == "" {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	file := persistedUsersFile{Version: 1, Users: users, SavedAt: s.now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// commit writes the snapshot outside the data lock. A failed write is logged,
// the in-memory state stays authoritative.
func (s *MemoryStore) commit(users []model.User) {
	if err := s.persist(users); err != nil {
		s.log.Error("users snapshot: write failed", zap.String("path", s.snapshotFile), zap.Error(err))
	}
}

func (s *MemoryStore) List(_ context.Context, search string) ([]model.User, error) {
	s.mu.RLock()
	all := s.snapshotLocked()
	s.mu.RUnlock()

	if search == "" {
		return all, nil
	}
	needle := strings.ToLower(search)
	result := make([]model.User, 0, len(all))
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Name), needle) || strings.Contains(strings.ToLower(u.Address), needle) {
			result = append(result, u)
		}
	}
	return result, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.usersByID[u.ID]; exists {
		s.mu.Unlock()
		return errors.New("user already exists")
	}
	s.usersByID[u.ID] = u.Clone()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(snapshot)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, u *model.User) error {
	s.mu.Lock()
	existing, ok := s.usersByID[u.ID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	existing.Name = u.Name
	existing.Address = u.Address
	existing.Image = u.Clone().Image
	existing.UpdatedAt = s.now().UTC()
	s.usersByID[u.ID] = existing
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	*u = existing.Clone()
	s.commit(snapshot)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.usersByID[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.usersByID, id)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(snapshot)
	return nil
}
