package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BlobStore хранит содержимое file-полей под непрозрачными ключами.
// Ключ минтится хранилищем при записи; наружу он попадает только в документ
// сущности и в sidecar-коллекцию _files.
type BlobStore interface {
	Put(r io.Reader) (key string, size int64, sha256hex string, err error)
	Delete(key string) error
	Path(key string) (string, error) // локальный путь (для local-драйвера)
}

// LocalBlobStore пишет блобы на диск, раскладывая по Root/ГГГГ/ММ/<hex>.
type LocalBlobStore struct {
	Root string // например, "./uploads"
}

// newKey: месячный префикс, чтобы каталоги не разрастались бесконечно.
func (s *LocalBlobStore) newKey() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	now := time.Now().UTC()
	return fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()), hex.EncodeToString(buf))
}

func (s *LocalBlobStore) Put(r io.Reader) (string, int64, string, error) {
	key := s.newKey()
	full := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", 0, "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	// хэш считаем на лету, второй проход по содержимому не нужен
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		return "", 0, "", err
	}
	return key, n, hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalBlobStore) Delete(key string) error {
	return os.Remove(filepath.Join(s.Root, filepath.FromSlash(key)))
}

func (s *LocalBlobStore) Path(key string) (string, error) {
	return filepath.Join(s.Root, filepath.FromSlash(key)), nil
}
