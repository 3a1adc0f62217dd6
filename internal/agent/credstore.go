// Package agent реализует локального агента аутентификации десктопного
// клиента: хранение учётных данных, приём callback-URI из браузера и
// прозрачное обновление access-токена для исходящих запросов.
package agent

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrNoSession возвращается, когда сохранённой сессии нет.
var ErrNoSession = errors.New("no stored session")

const (
	appDirName  = "codeai"
	keyFileName = "agent.key"
	credsName   = "credentials"

	saltLen = 16
)

// Session — сохраняемая пара токенов.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// CredStore шифрует пару токенов ключом, производным от локального
// ключевого файла. Ключевой файл создаётся при первом обращении с
// правами 0600 — доступ к токенам ограничен владельцем.
type CredStore struct {
	dir string
}

// NewCredStore размещает хранилище в пользовательской конфигурационной
// директории (os.UserConfigDir()/codeai).
func NewCredStore() (*CredStore, error) {
	const op = "agent.credstore.NewCredStore"

	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &CredStore{dir: dir}, nil
}

// Save шифрует и записывает сессию атомарно (через временный файл).
func (s *CredStore) Save(sess *Session) error {
	const op = "agent.credstore.Save"

	plain, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	secret, err := s.keyMaterial()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Формат: salt || nonce || ciphertext.
	blob := make([]byte, 0, saltLen+len(nonce)+len(plain)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plain, nil)

	tmp := s.credsPath() + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmp, s.credsPath()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Load читает и расшифровывает сессию. Отсутствие файла — ErrNoSession;
// повреждённый или нечитаемый файл тоже трактуется как отсутствие сессии,
// пользователю в этом случае нужен повторный вход.
func (s *CredStore) Load() (*Session, error) {
	const op = "agent.credstore.Load"

	blob, err := os.ReadFile(s.credsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	secret, err := s.keyMaterial()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(blob) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrNoSession
	}

	salt := blob[:saltLen]
	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	nonce := blob[saltLen : saltLen+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, blob[saltLen+aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrNoSession
	}

	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, ErrNoSession
	}

	return &sess, nil
}

// Clear удаляет сохранённую сессию. Отсутствие файла — не ошибка.
func (s *CredStore) Clear() error {
	const op = "agent.credstore.Clear"

	if err := os.Remove(s.credsPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *CredStore) credsPath() string {
	return filepath.Join(s.dir, credsName)
}

// keyMaterial читает ключевой файл, создавая его при первом обращении.
func (s *CredStore) keyMaterial() ([]byte, error) {
	path := filepath.Join(s.dir, keyFileName)

	key, err := os.ReadFile(path)
	if err == nil && len(key) == chacha20poly1305.KeySize {
		return key, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}

	return key, nil
}

// newAEAD производит рабочий ключ из ключевого файла и соли записи.
func newAEAD(secret, salt []byte) (cipher.AEAD, error) {
	derived, err := scrypt.Key(secret, salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	return chacha20poly1305.NewX(derived)
}
