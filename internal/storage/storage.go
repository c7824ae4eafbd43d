package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"path"
	"strings"
)

var ErrNotExist = errors.New("stored file does not exist")

// Storage holds uploaded blobs addressed by slash-separated relative paths
// such as "images/user_Ab3dE6gH9k.png".
type Storage interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	// Delete removes name; it returns ErrNotExist when nothing was stored there.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	URL(name string) string
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomString(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	limit := big.NewInt(int64(len(alphanumeric)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(alphanumeric[idx.Int64()])
	}
	return sb.String(), nil
}

// RandomName returns dir/prefix<10 random alphanumerics>.ext.
func RandomName(dir, prefix, ext string) (string, error) {
	suffix, err := randomString(10)
	if err != nil {
		return "", err
	}
	name := prefix + suffix
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return path.Join(dir, name), nil
}

// cleanName rejects absolute and parent-escaping names.
func cleanName(name string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if cleaned == "." || cleaned == "" || strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid storage path: " + name)
	}
	return cleaned, nil
}
