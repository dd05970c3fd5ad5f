// Package secrets реализует конвертное шифрование чувствительных полей
// (приватные ключи интерфейсов, preshared-ключи пиров) перед записью в БД.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrEncrypt = errors.New("encryption failed")
	ErrDecrypt = errors.New("decryption failed")
)

// Cipher — AES-256-GCM поверх base64-ключа. Экземпляр не имеет
// изменяемого состояния и безопасен для одновременного использования
// из всех триггеров.
type Cipher struct {
	aead cipher.AEAD
}

// New создаёт Cipher из base64-ключа (urlsafe или стандартный алфавит).
// После декодирования ключ обязан быть 32-байтным.
func New(keyB64 string) (*Cipher, error) {
	raw, err := base64.URLEncoding.DecodeString(keyB64)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt шифрует непустое значение и возвращает base64-шифротекст.
// Пустой/пробельный вход даёт nil без ошибки: пустой шифротекст никогда
// не используется как маркер «секрета нет».
func (c *Cipher) Encrypt(plaintext string) (*string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	out := base64.StdEncoding.EncodeToString(sealed)
	return &out, nil
}

// Decrypt расшифровывает base64-шифротекст. Невалидный вход — ErrDecrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// DecryptLenient возвращает расшифрованное значение, а если вход не
// является валидным шифротекстом — сам вход без изменений. Это явный
// контракт обратной совместимости: в базе могут лежать значения,
// записанные до включения шифрования. Обратная сторона — повреждённый
// шифротекст будет молча принят за plaintext; принятый риск, менять
// поведение нельзя без миграции данных.
func (c *Cipher) DecryptLenient(value string) string {
	plain, err := c.Decrypt(value)
	if err != nil {
		return value
	}
	return plain
}
