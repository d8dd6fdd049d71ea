package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// SecretBox seals settings secrets (the runtime DB password) with
// AES-256-GCM. Sealed values are base64 of nonce followed by ciphertext.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox keys the box with the first 32 bytes of the app key.
func NewSecretBox(appKey string) (*SecretBox, error) {
	if len(appKey) < 32 {
		return nil, errors.New("app key must be at least 32 characters")
	}
	block, err := aes.NewCipher([]byte(appKey)[:32])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: aead}, nil
}

func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *SecretBox) Decrypt(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	n := b.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("sealed secret too short")
	}
	plain, err := b.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(plain), nil
}
