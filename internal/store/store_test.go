package store

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"users-api/internal/model"
)

func strPtr(s string) *string { return &s }

func implementations(t *testing.T) map[string]func(t *testing.T) Users {
	return map[string]func(t *testing.T) Users{
		"memory": func(t *testing.T) Users { return NewMemory() },
		"sqlite": func(t *testing.T) Users {
			db, err := OpenDB("sqlite", filepath.Join(t.TempDir(), "users.db"), zap.NewNop())
			require.NoError(t, err)
			return NewGorm(db, zap.NewNop())
		},
	}
}

func names(users []model.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Name)
	}
	sort.Strings(out)
	return out
}

func TestUsers_CRUD(t *testing.T) {
	for name, newStore := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			u := &model.User{Name: "Ada", Address: "12 Analytical St"}
			require.NoError(t, s.Create(ctx, u))
			require.NotEmpty(t, u.ID)
			assert.Nil(t, u.Image)
			assert.False(t, u.CreatedAt.IsZero())

			got, err := s.Get(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Name)
			assert.Nil(t, got.Image)

			got.Name = "Ada L."
			got.Image = strPtr("images/user_abc.png")
			require.NoError(t, s.Update(ctx, &got))
			assert.Equal(t, "Ada L.", got.Name)

			reloaded, err := s.Get(ctx, u.ID)
			require.NoError(t, err)
			require.NotNil(t, reloaded.Image)
			assert.Equal(t, "images/user_abc.png", *reloaded.Image)

			require.NoError(t, s.Delete(ctx, u.ID))
			_, err = s.Get(ctx, u.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, u.ID), ErrNotFound)
		})
	}
}

func TestUsers_TimestampsAreUTC(t *testing.T) {
	for name, newStore := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			u := &model.User{Name: "Ada", Address: "x"}
			require.NoError(t, s.Create(ctx, u))
			_, offset := u.CreatedAt.Zone()
			assert.Equal(t, 0, offset)

			u.Name = "Ada L."
			require.NoError(t, s.Update(ctx, u))
			_, offset = u.UpdatedAt.Zone()
			assert.Equal(t, 0, offset)
			assert.False(t, u.UpdatedAt.Before(u.CreatedAt))
		})
	}
}

func TestOpenDB_BackfillsSearchColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	db, err := OpenDB("sqlite", path, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, db.Exec("INSERT INTO users (id, name, address, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		"legacy", "Élodie", "Rue Ä", now, now).Error)

	db, err = OpenDB("sqlite", path, nil)
	require.NoError(t, err)
	got, err := NewGorm(db, nil).List(context.Background(), "élodie")
	require.NoError(t, err)
	assert.Equal(t, []string{"Élodie"}, names(got))
}

func TestUsers_UpdateMissing(t *testing.T) {
	for name, newStore := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			err := s.Update(context.Background(), &model.User{ID: "missing", Name: "x", Address: "y"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUsers_Search(t *testing.T) {
	for name, newStore := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			for _, u := range []model.User{
				{Name: "Alice", Address: "Baker Street"},
				{Name: "Bob", Address: "alice lane"},
				{Name: "Carol", Address: "Main Road"},
				{Name: "100% Dan", Address: "Under_score Ave"},
				{Name: "Émile", Address: "Straße 5"},
			} {
				u := u
				require.NoError(t, s.Create(ctx, &u))
			}

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 5)

			got, err := s.List(ctx, "ALIC")
			require.NoError(t, err)
			assert.Equal(t, []string{"Alice", "Bob"}, names(got))

			got, err = s.List(ctx, "road")
			require.NoError(t, err)
			assert.Equal(t, []string{"Carol"}, names(got))

			got, err = s.List(ctx, "%")
			require.NoError(t, err)
			assert.Equal(t, []string{"100% Dan"}, names(got))

			// "_" is literal: "Baker Street" must not match.
			got, err = s.List(ctx, "r_s")
			require.NoError(t, err)
			assert.Equal(t, []string{"100% Dan"}, names(got))

			got, err = s.List(ctx, "émile")
			require.NoError(t, err)
			assert.Equal(t, []string{"Émile"}, names(got))

			got, err = s.List(ctx, "STRAßE")
			require.NoError(t, err)
			assert.Equal(t, []string{"Émile"}, names(got))

			got, err = s.List(ctx, "nobody")
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%abc%", likePattern("ABC"))
	assert.Equal(t, "%émile%", likePattern("ÉMILE"))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}

func TestOpen_Drivers(t *testing.T) {
	u, err := Open("memory", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, u)

	u, err = Open("sqlite", filepath.Join(t.TempDir(), "nested", "users.db"), nil)
	require.NoError(t, err)
	assert.IsType(t, &GormStore{}, u)

	_, err = Open("oracle", "", nil)
	assert.Error(t, err)
}
